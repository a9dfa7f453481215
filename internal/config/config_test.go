package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, "general", cfg.RoomID)
	assert.Equal(t, 20, cfg.MessageRule().Limit)
	assert.Equal(t, time.Minute, cfg.MessageRule().Window)
	assert.Equal(t, 10, cfg.AuthRule().Limit)
	assert.Equal(t, 15*time.Minute, cfg.AuthRule().Window)
	assert.Equal(t, 30*time.Second, cfg.ClientRule().Window)
}

func TestLoadFile_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  listen_addr: ":9090"
  heartbeat_interval: 45s
auth:
  secret: from-file
storage:
  driver: postgres
  dsn: postgres://localhost/chat
limits:
  messages_per_window: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.Server.HeartbeatTimeout)
	assert.Equal(t, "from-file", cfg.Auth.Secret)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, 5, cfg.Limits.MessagesPerWindow)
	assert.Equal(t, time.Minute, cfg.Limits.MessageWindow)
}

func TestLoadFile_Errors(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
	assert.Error(t, cfg.LoadFile(path))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"LISTEN_ADDR":        ":7000",
		"MAX_CONNECTIONS":    "50",
		"HEARTBEAT_TIMEOUT":  "3s",
		"TRUST_PROXY":        "true",
		"JWT_SECRET":         "s3cret",
		"REDIS_ADDR":         "redis:6379",
		"NATS_URL":           "nats://nats:4222",
		"AUTH_FAILURE_LIMIT": "4",
		"PURGE_CRON":         "0 * * * *",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, 50, cfg.Server.MaxConnections)
	assert.Equal(t, 3*time.Second, cfg.Server.HeartbeatTimeout)
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, 4, cfg.AuthRule().Limit)
	assert.Equal(t, "0 * * * *", cfg.PurgeCron)
}

func TestApplyEnv_ReportsEveryBadValue(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"WORKER_POOL_SIZE": "many",
		"READ_TIMEOUT":     "soon",
		"TRUST_PROXY":      "maybe",
	}))
	require.Error(t, err)
	for _, key := range []string{"WORKER_POOL_SIZE", "READ_TIMEOUT", "TRUST_PROXY"} {
		assert.Contains(t, err.Error(), key)
	}
	assert.Equal(t, 256, cfg.Server.WorkerPoolSize)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = StoragePostgres; c.Auth.Secret = "x" }, "storage.dsn"},
		{"postgres without secret", func(c *Config) { c.Storage.Driver = StoragePostgres; c.Storage.DSN = "x" }, "auth.secret"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "unknown storage driver"},
		{"bad cron", func(c *Config) { c.PurgeCron = "every ten minutes" }, "purge_cron"},
		{"zero message limit", func(c *Config) { c.Limits.MessagesPerWindow = 0 }, "message limit"},
		{"zero auth window", func(c *Config) { c.Limits.AuthWindow = 0 }, "auth failure limit"},
		{"zero heartbeat", func(c *Config) { c.Server.HeartbeatInterval = 0 }, "heartbeat"},
		{"empty room", func(c *Config) { c.RoomID = "" }, "room_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("room_id: lounge\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LISTEN_ADDR", ":6000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "lounge", cfg.RoomID)
	assert.Equal(t, ":6000", cfg.Server.ListenAddr)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Format: "text", Level: "warn"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "k=v")

	buf.Reset()
	LogConfig{Format: "json", Level: "bogus"}.NewLogger(&buf).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}
