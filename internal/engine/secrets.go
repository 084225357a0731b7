package engine

import (
	"context"
	"fmt"
	"strings"
)

// CloudCredentials are registered as DuckDB secrets on every DuckDB session
// so that queries can read s3://, gs:// and az:// paths directly.
type CloudCredentials struct {
	S3KeyID          string
	S3Secret         string
	S3Endpoint       string
	S3Region         string
	S3URLStyle       string
	GCSKeyFile       string
	AzureAccountName string
	AzureAccountKey  string
}

// Secret names registered on DuckDB sessions.
const (
	s3SecretName    = "querydeck_s3"
	gcsSecretName   = "querydeck_gcs"
	azureSecretName = "querydeck_azure"
)

// secretStatements returns one CREATE SECRET statement per configured
// provider. Providers with incomplete credentials are skipped.
func (c CloudCredentials) secretStatements() []string {
	var stmts []string
	if c.S3KeyID != "" && c.S3Secret != "" {
		opts := []string{
			"TYPE S3",
			"KEY_ID " + quoteLiteral(c.S3KeyID),
			"SECRET " + quoteLiteral(c.S3Secret),
		}
		if c.S3Region != "" {
			opts = append(opts, "REGION "+quoteLiteral(c.S3Region))
		}
		if c.S3Endpoint != "" {
			opts = append(opts, "ENDPOINT "+quoteLiteral(stripScheme(c.S3Endpoint)))
			if strings.HasPrefix(c.S3Endpoint, "http://") {
				opts = append(opts, "USE_SSL false")
			}
		}
		if c.S3URLStyle != "" {
			opts = append(opts, "URL_STYLE "+quoteLiteral(c.S3URLStyle))
		}
		stmts = append(stmts, createSecret(s3SecretName, opts))
	}
	if c.GCSKeyFile != "" {
		stmts = append(stmts, createSecret(gcsSecretName, []string{
			"TYPE GCS",
			"KEY_FILE_PATH " + quoteLiteral(c.GCSKeyFile),
		}))
	}
	if c.AzureAccountName != "" && c.AzureAccountKey != "" {
		conn := fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
			c.AzureAccountName, c.AzureAccountKey)
		stmts = append(stmts, createSecret(azureSecretName, []string{
			"TYPE AZURE",
			"CONNECTION_STRING " + quoteLiteral(conn),
		}))
	}
	return stmts
}

// registerSecrets runs the secret statements on a fresh DuckDB session. A
// failure is logged and the session stays usable for local queries.
func (c *SQLConn) registerSecrets(ctx context.Context, creds CloudCredentials) {
	for _, stmt := range creds.secretStatements() {
		if _, err := c.conn.ExecContext(ctx, stmt); err != nil {
			c.logger.Warn("register cloud secret failed", "error", err)
		}
	}
}

func createSecret(name string, opts []string) string {
	return fmt.Sprintf("CREATE OR REPLACE TEMPORARY SECRET %s (%s)", quoteIdentifier(name), strings.Join(opts, ", "))
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}

// quoteIdentifier wraps s in double quotes, doubling embedded quotes.
func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// quoteLiteral wraps s in single quotes, doubling embedded quotes.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
