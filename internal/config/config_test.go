package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "key.key")

	sealer, err := LoadSealer(keyPath)
	require.NoError(t, err)
	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	sealed, err := sealer.Seal("hunter2")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "hunter2")

	again, err := LoadSealer(keyPath)
	require.NoError(t, err)
	plain, err := again.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	other, err := LoadSealer(filepath.Join(t.TempDir(), "other.key"))
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrBadSecret)
}

func TestLoadFileSealsPlaintextPassword(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.key")
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  host: https://orders.example
  apikey: abc
client:
  type: qbittorrent
  port: 8081
  username: admin
  password: hunter2
agent:
  interval: 30s
secret:
  keypath: `+keyPath+`
`), 0o600))

	cfg, err := LoadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "https://orders.example", cfg.Server.Host)
	assert.Equal(t, "abc", cfg.Server.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "qbittorrent", cfg.Client.Type)
	assert.Equal(t, "127.0.0.1", cfg.Client.Host)
	assert.Equal(t, 8081, cfg.Client.Port)
	assert.Equal(t, "hunter2", cfg.Client.Password)
	assert.Equal(t, 30*time.Second, cfg.Agent.Interval)

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.Contains(t, string(raw), sealedPrefix)

	cfg, err = LoadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Client.Password)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
