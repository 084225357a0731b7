package export

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Remote target schemes.
const (
	SchemeS3    = "s3"
	SchemeGCS   = "gs"
	SchemeAzure = "azblob"
)

// Target is an object in remote storage.
type Target struct {
	Scheme string
	// Bucket is the S3 or GCS bucket, or the Azure container.
	Bucket string
	Key    string
}

func (t Target) String() string {
	return t.Scheme + "://" + t.Bucket + "/" + t.Key
}

// Uploader copies a finished local export file to remote storage.
// Implemented by S3Uploader, GCSUploader and AzureUploader.
type Uploader interface {
	Upload(ctx context.Context, localPath string, target Target) error
}

// IsRemote reports whether path names a remote export target.
func IsRemote(path string) bool {
	i := strings.Index(path, "://")
	if i <= 0 {
		return false
	}
	switch path[:i] {
	case SchemeS3, SchemeGCS, SchemeAzure, "az", "abfss":
		return true
	}
	return false
}

// ParseTarget parses a remote export path.
func ParseTarget(path string) (Target, error) {
	u, err := url.Parse(path)
	if err != nil {
		return Target{}, fmt.Errorf("parse target %q: %w", path, err)
	}
	switch u.Scheme {
	case SchemeS3:
		bucket, key, err := ParseS3Path(path)
		if err != nil {
			return Target{}, err
		}
		return Target{Scheme: SchemeS3, Bucket: bucket, Key: key}, nil
	case SchemeGCS:
		bucket, key, err := parseGCSPath(path)
		if err != nil {
			return Target{}, err
		}
		return Target{Scheme: SchemeGCS, Bucket: bucket, Key: key}, nil
	case SchemeAzure, "az", "abfss":
		container, key, err := parseAzurePath(path)
		if err != nil {
			return Target{}, err
		}
		return Target{Scheme: SchemeAzure, Bucket: container, Key: key}, nil
	default:
		return Target{}, fmt.Errorf("unsupported target scheme %q in %q", u.Scheme, path)
	}
}

// ParseS3Path extracts bucket and key from an "s3://bucket/path/to/file" URI.
func ParseS3Path(s3Path string) (bucket, key string, err error) {
	u, err := url.Parse(s3Path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", s3Path, err)
	}
	if u.Scheme != SchemeS3 {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, s3Path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("empty key in S3 path %q", s3Path)
	}
	return bucket, key, nil
}

// parseGCSPath extracts bucket and key from a "gs://bucket/path/to/file" URI.
func parseGCSPath(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse GCS path %q: %w", path, err)
	}
	if u.Scheme != SchemeGCS {
		return "", "", fmt.Errorf("expected gs:// scheme, got %q in %q", u.Scheme, path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("empty key in GCS path %q", path)
	}
	return bucket, key, nil
}

// parseAzurePath extracts container and blob name from an Azure storage URI.
//
// Supported formats:
//
//	azblob://container/path/to/file
//	az://container/path/to/file
//	abfss://container@account.dfs.core.windows.net/path/to/file
func parseAzurePath(path string) (container, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse Azure path %q: %w", path, err)
	}

	switch u.Scheme {
	case SchemeAzure, "az":
		container = u.Host
	case "abfss":
		// url.Parse reads the container as userinfo.
		if u.User == nil {
			return "", "", fmt.Errorf("abfss path %q missing container@account component", path)
		}
		container = u.User.Username()
	default:
		return "", "", fmt.Errorf("unrecognized Azure path scheme %q in %q", u.Scheme, path)
	}
	key = strings.TrimPrefix(u.Path, "/")

	if container == "" {
		return "", "", fmt.Errorf("empty container in Azure path %q", path)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty blob name in Azure path %q", path)
	}
	return container, key, nil
}
