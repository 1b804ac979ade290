package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDisk_Path(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ca.pem"), []byte("pem"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "certs"), 0o700))

	disk := LocalDisk{Root: root}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"relative file", "ca.pem", filepath.Join(root, "ca.pem")},
		{"absolute file", filepath.Join(root, "ca.pem"), filepath.Join(root, "ca.pem")},
		{"missing", "missing.pem", ""},
		{"directory", "certs", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := disk.Path(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
