package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/hybrid"
)

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(Options{EnvFile: noEnvFile(t)})
	require.NoError(t, err)

	assert.Equal(t, "hybrid", cfg.StorageBackend)
	assert.Equal(t, 5, cfg.QuotaMax)
	assert.Equal(t, RemoteNone, cfg.RemoteDriver)
	assert.Equal(t, LocalSQLite, cfg.LocalDriver)
	assert.Equal(t, 8*time.Second, cfg.RemoteTimeout)
	assert.Equal(t, "chat:", cfg.RedisPrefix)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "chatsync.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
storage_backend: local
quota_max: 3
local_driver: memory
remote_timeout: 5s
time_zone: UTC
`), 0o600))

	t.Setenv("CHATSYNC_QUOTA_MAX", "7")

	cfg, err := Load(Options{ConfigFile: file, EnvFile: noEnvFile(t)})
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.StorageBackend)
	assert.Equal(t, 7, cfg.QuotaMax, "environment overrides the file")
	assert.Equal(t, LocalMemory, cfg.LocalDriver)
	assert.Equal(t, 5*time.Second, cfg.RemoteTimeout)

	hc, err := cfg.Hybrid()
	require.NoError(t, err)
	assert.Equal(t, hybrid.BackendLocal, hc.StorageBackend)
	assert.Equal(t, time.UTC, hc.Location)
	assert.Equal(t, 7, hc.QuotaMax)
}

func TestLoadDotEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CHATSYNC_REDIS_PREFIX=device-1:\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CHATSYNC_REDIS_PREFIX") })

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "device-1:", cfg.RedisPrefix)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "chatsync.yaml")
	require.NoError(t, os.WriteFile(file, []byte("quota_max: [oops"), 0o600))

	_, err := Load(Options{ConfigFile: file, EnvFile: noEnvFile(t)})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StorageBackend: "hybrid",
			QuotaMax:       5,
			RemoteTimeout:  time.Second,
			RemoteDriver:   RemoteNone,
			LocalDriver:    LocalMemory,
			TimeZone:       "UTC",
			LogLevel:       "info",
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"backend":        func(c *Config) { c.StorageBackend = "cloud" },
		"quota":          func(c *Config) { c.QuotaMax = 0 },
		"timeout":        func(c *Config) { c.RemoteTimeout = 0 },
		"local driver":   func(c *Config) { c.LocalDriver = "leveldb" },
		"sqlite path":    func(c *Config) { c.LocalDriver = LocalSQLite },
		"redis addr":     func(c *Config) { c.LocalDriver = LocalRedis },
		"remote driver":  func(c *Config) { c.RemoteDriver = "cosmos" },
		"supabase creds": func(c *Config) { c.RemoteDriver = RemoteSupabase },
		"postgres dsn":   func(c *Config) { c.RemoteDriver = RemotePostgres },
		"time zone":      func(c *Config) { c.TimeZone = "Mars/Olympus" },
		"context limits": func(c *Config) { c.ContextTokenLimit = -1 },
		"log level":      func(c *Config) { c.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), chatsync.ErrInvalidConfig)
		})
	}
}
