package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"http://0.0.0.0:9200"}, cfg.Elastic.Hosts)
	assert.Equal(t, "elastic", cfg.Elastic.UserName)
	assert.Equal(t, "laravel_auditing", cfg.Elastic.Index)
	assert.Equal(t, "audits", cfg.Elastic.Type)
	assert.Equal(t, "yyyy-MM-dd HH:mm:ss", cfg.Elastic.DateFormat)
	assert.Equal(t, 0, cfg.Elastic.Threshold)
	assert.Equal(t, 5, cfg.Elastic.Shards)
	assert.Equal(t, "audits", cfg.Queue.Name)
	assert.False(t, cfg.Queue.QueueActive())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auditlog.yaml")
	yamlDoc := `
elastic:
  hosts: ["http://from-file:9200"]
  index: file_index
  threshold: 3
queue:
  enabled: true
  connection: kafka
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	t.Setenv("AUDIT_HOST", "http://a:9200, http://b:9200")
	t.Setenv("AUDIT_QUEUE_CONNECTION", "redis")
	t.Setenv("AUDIT_BASIC_AUTH", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"http://a:9200", "http://b:9200"}, cfg.Elastic.Hosts)
	assert.Equal(t, "file_index", cfg.Elastic.Index)
	assert.Equal(t, 3, cfg.Elastic.Threshold)
	assert.True(t, cfg.Elastic.UseBasicAuth)
	assert.Equal(t, "redis", cfg.Queue.Connection)
	assert.True(t, cfg.Queue.QueueActive())
	// untouched defaults survive a partial file
	assert.Equal(t, "audits", cfg.Elastic.Type)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad bool", "AUDIT_USE_CERT", "maybe"},
		{"bad int", "AUDIT_THRESHOLD", "five"},
		{"negative threshold", "AUDIT_THRESHOLD", "-1"},
		{"zero shards", "AUDIT_SHARDS", "0"},
		{"unsupported date format", "AUDIT_DATE_FORMAT", "epoch_millis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestQueueActive(t *testing.T) {
	tests := []struct {
		name string
		q    QueueConfig
		want bool
	}{
		{"disabled", QueueConfig{Enabled: false, Name: "audits", Connection: "redis"}, false},
		{"no name", QueueConfig{Enabled: true, Connection: "redis"}, false},
		{"no connection", QueueConfig{Enabled: true, Name: "audits"}, false},
		{"active", QueueConfig{Enabled: true, Name: "audits", Connection: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.QueueActive())
		})
	}
}
