package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "numberguess.hcl")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "absent.hcl"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig(), cfg)
}

func TestLoadServerConfig(t *testing.T) {
	path := writeConfigFile(t, `
server {
  address     = "0.0.0.0"
  port        = 9090
  log_level   = "debug"
  admin_token = "s3cret"
}

game {
  min_number         = 1
  max_number         = 50
  draw_delay_seconds = 5
  claim_wait_ms      = 250
}

store {
  backend    = "redis"
  redis_addr = "redis.internal:6379"
  redis_db   = 2
}
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddress())
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "s3cret", cfg.Server.AdminToken)
	assert.Equal(t, 50, cfg.Game.MaxNumber)
	assert.Equal(t, 5*time.Second, cfg.Game.DrawDelay())
	assert.Equal(t, 250*time.Millisecond, cfg.Game.ClaimWait())
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Store.RedisAddr)
	assert.Equal(t, 2, cfg.Store.RedisDB)
}

// Omitted attributes fall back to the shipped defaults.
func TestLoadServerConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server {}
game {}
store {}
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "localhost:8080", cfg.ListenAddress())
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 1, cfg.Game.MinNumber)
	assert.Equal(t, 100, cfg.Game.MaxNumber)
	assert.Equal(t, 10*time.Second, cfg.Game.DrawDelay())
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadServerConfigParseError(t *testing.T) {
	path := writeConfigFile(t, `server { port = `)
	_, err := LoadServerConfig(path)
	require.Error(t, err)
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{"defaults valid", func(c *ServerConfig) {}, ""},
		{"bad port", func(c *ServerConfig) { c.Server.Port = 70000 }, "invalid port"},
		{"min below one", func(c *ServerConfig) { c.Game.MinNumber = 0 }, "min_number"},
		{"max not above min", func(c *ServerConfig) { c.Game.MaxNumber = 1 }, "max_number"},
		{"zero delay", func(c *ServerConfig) { c.Game.DrawDelaySeconds = 0 }, "draw_delay_seconds"},
		{"unknown backend", func(c *ServerConfig) { c.Store.Backend = "etcd" }, "unknown store backend"},
		{"redis without addr", func(c *ServerConfig) {
			c.Store.Backend = "redis"
			c.Store.RedisAddr = ""
		}, "redis_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
