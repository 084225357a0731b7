package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydeck/internal/config"
	"querydeck/internal/domain"
	"querydeck/internal/jsonrpc"
	"querydeck/internal/service/query"
)

type stdioClient struct {
	t    *testing.T
	w    *jsonrpc.Writer
	msgs chan jsonrpc.Message
}

func newStdioClient(t *testing.T, in io.Writer, out io.Reader) *stdioClient {
	c := &stdioClient{t: t, w: jsonrpc.NewWriter(in), msgs: make(chan jsonrpc.Message, 256)}
	go func() {
		r := jsonrpc.NewReader(out)
		for {
			body, err := r.ReadRaw()
			if err != nil {
				close(c.msgs)
				return
			}
			var m jsonrpc.Message
			if json.Unmarshal(body, &m) == nil {
				c.msgs <- m
			}
		}
	}()
	return c
}

func (c *stdioClient) request(id int, method string, params any) {
	c.t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	rawID := json.RawMessage([]byte{byte('0' + id)})
	require.NoError(c.t, c.w.Send(&jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: &rawID, Method: method, Params: raw}))
}

func (c *stdioClient) notify(method string) {
	c.t.Helper()
	require.NoError(c.t, c.w.Send(&jsonrpc.Message{JSONRPC: jsonrpc.Version, Method: method}))
}

// until collects messages up to and including the first one matching pred.
func (c *stdioClient) until(pred func(jsonrpc.Message) bool) []jsonrpc.Message {
	c.t.Helper()
	var seen []jsonrpc.Message
	timeout := time.After(10 * time.Second)
	for {
		select {
		case m, ok := <-c.msgs:
			require.True(c.t, ok, "output closed")
			seen = append(seen, m)
			if pred(m) {
				return seen
			}
		case <-timeout:
			c.t.Fatalf("timed out; saw %d messages", len(seen))
		}
	}
}

func responseTo(id int) func(jsonrpc.Message) bool {
	want := string([]byte{byte('0' + id)})
	return func(m jsonrpc.Message) bool {
		return m.Method == "" && m.ID != nil && string(*m.ID) == want
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		SpillDir:      filepath.Join(dir, "spill"),
		HistoryDBPath: filepath.Join(dir, "state", "history.sqlite"),
	}
	require.NoError(t, cfg.Normalize())
	return cfg
}

func TestApp_StdioSession(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	a, err := New(ctx, Deps{Cfg: cfg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	runErr := make(chan error, 1)
	go func() {
		runErr <- a.Run(ctx, inR, outW)
		_ = outW.Close()
	}()
	c := newStdioClient(t, inW, outR)

	c.request(1, "connection/connect", map[string]any{
		"ownerUri":   "file:///q.sql",
		"connection": map[string]string{"driver": "sqlite3", "dsn": filepath.Join(t.TempDir(), "target.db")},
	})
	msgs := c.until(responseTo(1))
	require.Nil(t, msgs[len(msgs)-1].Error)

	c.request(2, query.MethodExecuteString, map[string]string{"ownerUri": "file:///q.sql", "query": "select 1 as a; select 2 as b"})
	msgs = c.until(func(m jsonrpc.Message) bool { return m.Method == query.NotifyQueryComplete })
	var methods []string
	for _, m := range msgs {
		if m.Method != "" {
			methods = append(methods, m.Method)
		} else {
			require.Nil(t, m.Error)
		}
	}
	assert.Equal(t, 2, countOf(methods, query.NotifyBatchStart))
	assert.Equal(t, 2, countOf(methods, query.NotifyBatchComplete))

	c.request(3, query.MethodSubset, query.SubsetParams{OwnerURI: "file:///q.sql", BatchIndex: 1, RowsCount: 10})
	msgs = c.until(responseTo(3))
	var subset query.SubsetResult
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Result, &subset))
	require.Equal(t, 1, subset.ResultSubset.RowCount)
	assert.Equal(t, "2", subset.ResultSubset.Rows[0][0].DisplayValue)

	c.request(4, query.MethodHistory, map[string]any{"ownerUri": "file:///q.sql"})
	msgs = c.until(responseTo(4))
	var history query.HistoryResult
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Result, &history))
	assert.Equal(t, int64(2), history.Total)
	assert.Equal(t, domain.HistoryStatusSucceeded, history.Entries[0].Status)

	c.request(5, jsonrpc.MethodShutdown, nil)
	c.until(responseTo(5))
	_, ok := a.Queries.Query("file:///q.sql")
	assert.False(t, ok, "shutdown disposes queries")

	c.notify(jsonrpc.MethodExit)
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after exit")
	}
}

func TestApp_HistoryDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.HistoryDBPath = ""
	a, err := New(context.Background(), Deps{Cfg: cfg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	assert.Nil(t, a.history)
	assert.Contains(t, a.Registry.Methods(), query.MethodExecuteString)
	assert.Contains(t, a.Registry.Methods(), "connection/connect")
}

func TestApp_BadProfilesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProfilesPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), Deps{Cfg: cfg})
	require.Error(t, err)
}

func TestApp_RunStopsOnContext(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), Deps{Cfg: cfg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	inR, _ := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, inR, io.Discard) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func countOf(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}

func TestCloudCredentials(t *testing.T) {
	t.Parallel()

	key, secret, region := "AK", "SK", "us-east-1"
	cfg := &config.Config{
		S3KeyID:          &key,
		S3Secret:         &secret,
		S3Region:         &region,
		GCSKeyFile:       "/keys/gcs.json",
		AzureAccountName: "acct",
	}
	creds := cloudCredentials(cfg)
	assert.Equal(t, "AK", creds.S3KeyID)
	assert.Equal(t, "SK", creds.S3Secret)
	assert.Equal(t, "us-east-1", creds.S3Region)
	assert.Empty(t, creds.S3Endpoint)
	assert.Equal(t, "/keys/gcs.json", creds.GCSKeyFile)
	assert.Equal(t, "acct", creds.AzureAccountName)
	assert.Empty(t, creds.AzureAccountKey)
}
