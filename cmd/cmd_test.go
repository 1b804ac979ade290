package cmd

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditlog/config"
	"auditlog/opensearch"
	"auditlog/opensearchtest"
)

func testEnv(t *testing.T, host string) {
	t.Helper()
	t.Setenv("AUDITLOG_CONFIG", "")
	t.Setenv("AUDIT_HOST", host)
	t.Setenv("AUDIT_INDEX", "mocked")
	t.Setenv("AUDIT_TYPE", "mocked")
	t.Setenv("AUDIT_BASIC_AUTH", "false")
	t.Setenv("AUDIT_USE_CERT", "false")
	t.Setenv("AUDIT_ASYNC", "false")
	t.Setenv("AUDIT_QUEUE_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSetupCreatesIndexAndAlias(t *testing.T) {
	srv := opensearchtest.NewServer()
	defer srv.Close()
	testEnv(t, srv.URL)

	out, err := run(t, "setup")
	require.NoError(t, err)
	assert.Equal(t, "Index: mocked created!\n", out)
	assert.True(t, srv.HasIndex("mocked"))

	target, ok := srv.Alias("mocked_write")
	require.True(t, ok)
	assert.Equal(t, "mocked", target)
}

func TestSetupIsIdempotent(t *testing.T) {
	srv := opensearchtest.NewServer()
	defer srv.Close()
	testEnv(t, srv.URL)

	_, err := run(t, "setup")
	require.NoError(t, err)
	out, err := run(t, "setup")
	require.NoError(t, err)
	assert.Equal(t, "Index: mocked created!\n", out)
	assert.Equal(t, 1, srv.Calls("indices.create"))
}

func TestSetupFailsOnEngineError(t *testing.T) {
	srv := opensearchtest.NewServer()
	defer srv.Close()
	testEnv(t, srv.URL)
	srv.FailWith("indices.create", http.StatusBadRequest)

	_, err := run(t, "setup")
	require.Error(t, err)
	assert.False(t, srv.HasIndex("mocked"))
}

func TestSetupRejectsMissingPassword(t *testing.T) {
	srv := opensearchtest.NewServer()
	defer srv.Close()
	testEnv(t, srv.URL)
	t.Setenv("AUDIT_BASIC_AUTH", "true")
	t.Setenv("ELASTIC_AUDIT_PASSWORD", "")

	_, err := run(t, "setup")
	var cfgErr *opensearch.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 0, srv.Calls("indices.exists"))
}

func TestSetupReadsConfigFile(t *testing.T) {
	srv := opensearchtest.NewServer()
	defer srv.Close()
	testEnv(t, srv.URL)
	require.NoError(t, os.Unsetenv("AUDIT_INDEX"))

	path := filepath.Join(t.TempDir(), "auditlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("elastic:\n  index: from_file\n"), 0o600))

	out, err := run(t, "setup", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "Index: from_file created!\n", out)
	assert.True(t, srv.HasIndex("from_file"))
}

func TestWorkerRequiresQueue(t *testing.T) {
	srv := opensearchtest.NewServer()
	defer srv.Close()
	testEnv(t, srv.URL)

	_, err := run(t, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is not enabled")
}

func TestStartWorkerRejectsUnknownConnection(t *testing.T) {
	srv := opensearchtest.NewServer()
	defer srv.Close()

	cfg := config.Default()
	cfg.Elastic.Hosts = []string{srv.URL}
	cfg.Queue = config.QueueConfig{Enabled: true, Name: "audits", Connection: "sqs"}

	a, err := newApp(context.Background(), cfg, false)
	require.NoError(t, err)
	defer a.Close()

	var wg sync.WaitGroup
	err = a.startWorker(context.Background(), &wg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqs")
}

func TestNewAppRejectsUnknownQueueConnection(t *testing.T) {
	srv := opensearchtest.NewServer()
	defer srv.Close()

	cfg := config.Default()
	cfg.Elastic.Hosts = []string{srv.URL}
	cfg.Queue = config.QueueConfig{Enabled: true, Name: "audits", Connection: "sqs"}

	_, err := newApp(context.Background(), cfg, true)
	var cfgErr *opensearch.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "queue.connection", cfgErr.Key)
}

func TestServerRoutes(t *testing.T) {
	srv := opensearchtest.NewServer()
	defer srv.Close()

	cfg := config.Default()
	cfg.Elastic.Hosts = []string{srv.URL}
	cfg.Elastic.Index = "mocked"

	a, err := newApp(context.Background(), cfg, true)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.service.CreateIndex(context.Background())
	require.NoError(t, err)

	e := newServer(a)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "auditlog_engine_requests_total")
}

func TestServeFailsWhenPortTaken(t *testing.T) {
	srv := opensearchtest.NewServer()
	defer srv.Close()

	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.App.Port = port
	cfg.Elastic.Hosts = []string{srv.URL}
	cfg.Elastic.Index = "mocked"

	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), cfg, false) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start server")
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after a failed start")
	}
	assert.True(t, srv.HasIndex("mocked"))
}

func TestRetry(t *testing.T) {
	calls := 0
	err := retry(3, 0, func() error {
		calls++
		if calls < 2 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = retry(3, 0, func() error {
		calls++
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 3, calls)
}
