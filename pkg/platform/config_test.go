package platform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ORACLE_CONNECTION_STRING", "hr/secret@db:1521/svc")
	// Keep ambient settings from leaking into assertions.
	for _, key := range []string{"TARGET_SCHEMA", "CACHE_DIR", "THICK_MODE",
		"ORACLE_CLIENT_LIB_DIR", "POOL_SIZE", "POOL_ACQUIRE_TIMEOUT_MS",
		"TOOL_DEADLINE_MS", "STALENESS_PROBE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "hr/secret@db:1521/svc", cfg.ConnectionString)
	assert.Equal(t, "", cfg.TargetSchema)
	assert.Equal(t, ".cache", cfg.CacheDir)
	assert.False(t, cfg.ThickMode)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.AcquireTimeout())
	assert.Equal(t, 30*time.Second, cfg.ToolDeadline())
	assert.Equal(t, "oracle-mcp-server", cfg.Server.Name)
	assert.Equal(t, "stdio", cfg.Server.Transport)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TARGET_SCHEMA", "SALES")
	t.Setenv("CACHE_DIR", "/tmp/idx")
	t.Setenv("THICK_MODE", "1")
	t.Setenv("POOL_SIZE", "16")
	t.Setenv("POOL_ACQUIRE_TIMEOUT_MS", "2500")
	t.Setenv("TOOL_DEADLINE_MS", "60000")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "SALES", cfg.TargetSchema)
	assert.Equal(t, "/tmp/idx", cfg.CacheDir)
	assert.True(t, cfg.ThickMode)
	assert.Equal(t, 16, cfg.PoolSize)
	assert.Equal(t, 2500*time.Millisecond, cfg.AcquireTimeout())
	assert.Equal(t, time.Minute, cfg.ToolDeadline())
}

func TestLoadConfigMissingConnectionString(t *testing.T) {
	t.Setenv("ORACLE_CONNECTION_STRING", "")
	os.Unsetenv("ORACLE_CONNECTION_STRING")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))
}

func TestLoadConfigServerFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SRV_NAME", "schema-context")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  name: ${SRV_NAME}
  transport: streamable
  address: ":9090"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "schema-context", cfg.Server.Name, "env vars expand in the file")
	assert.Equal(t, "streamable", cfg.Server.Transport)
	assert.Equal(t, ":9090", cfg.Server.Address)
}

func TestLoadConfigBadTransport(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  transport: carrier-pigeon\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))
}

func TestLoadConfigMissingFile(t *testing.T) {
	setRequiredEnv(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))
}
