package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	// viper treats an explicitly named missing file as an error
	require.Error(t, err)

	settings, err = Load("")
	require.NoError(t, err)
	require.Equal(t, 3, settings.Retry.MaxAttempts)
	require.Equal(t, time.Second, settings.Retry.InitialBackoff)
	require.Equal(t, 10*time.Second, settings.Upload.WaitTimeout)
	require.Equal(t, 200*time.Millisecond, settings.Upload.PollInterval)
}

func TestLoad_FromConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
base-url: https://assistant.example.com
model: m-test
retry:
  max-attempts: 5
  initial-backoff: 500ms
upload:
  wait-timeout: 2s
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	settings, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://assistant.example.com", settings.BaseURL)
	require.Equal(t, "m-test", settings.Model)
	require.Equal(t, 5, settings.Retry.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, settings.Retry.InitialBackoff)
	require.Equal(t, 2*time.Second, settings.Upload.WaitTimeout)
	// unset values keep their defaults
	require.Equal(t, 200*time.Millisecond, settings.Upload.PollInterval)
}

func TestDump_RedactsAuthToken(t *testing.T) {
	settings := Default()
	settings.AuthToken = "secret-token"

	out, err := settings.Dump()
	require.NoError(t, err)
	require.NotContains(t, out, "secret-token")
	require.Contains(t, out, "***")
}
