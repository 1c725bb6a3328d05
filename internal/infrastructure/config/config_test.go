package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Auction.SweepInterval)
	assert.False(t, cfg.Auction.ExplicitRejections)
	assert.False(t, cfg.Auction.StrictCustomBids)
	assert.Equal(t, "file", cfg.Persistence.Driver)
	assert.Equal(t, "log", cfg.Notifier.Driver)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
server:
  port: 8080
auction:
  sweep_interval: 2s
  explicit_rejections: true
`), 0o600))

	t.Setenv("AUCTION_SERVER__PORT", "9090")
	t.Setenv("AUCTION_AUCTION__STRICT_CUSTOM_BIDS", "true")
	t.Setenv("AUCTION_SECURITY__JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port, "environment overrides the file")
	assert.Equal(t, 2*time.Second, cfg.Auction.SweepInterval)
	assert.True(t, cfg.Auction.ExplicitRejections)
	assert.True(t, cfg.Auction.StrictCustomBids)
	assert.Equal(t, "s3cret", cfg.Security.JWTSecret)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.Persistence.Driver = "postgres" },
			wantErr: "database.url",
		},
		{
			name:    "unknown persistence driver",
			mutate:  func(c *Config) { c.Persistence.Driver = "s3" },
			wantErr: "persistence.driver",
		},
		{
			name:    "redis notifier without url",
			mutate:  func(c *Config) { c.Notifier.Driver = "redis" },
			wantErr: "redis.url",
		},
		{
			name:    "kafka notifier without brokers",
			mutate:  func(c *Config) { c.Notifier.Driver = "kafka" },
			wantErr: "kafka.brokers",
		},
		{
			name:    "zero sweep interval",
			mutate:  func(c *Config) { c.Auction.SweepInterval = 0 },
			wantErr: "sweep_interval",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
