package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hammer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8088", cfg.Server.Addr)
	assert.Equal(t, "hammer.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Auction.BidWindow)
	assert.Equal(t, time.Second, cfg.Auction.TickInterval)
	assert.Equal(t, 20, cfg.Auction.SnapshotWindow)
	assert.Equal(t, 256, cfg.Auction.ChannelBuffer)
	assert.Equal(t, int64(100000000), cfg.Auction.DefaultBudget)
	assert.Equal(t, 15*time.Second, cfg.Auction.AudioTimeout)
	assert.False(t, cfg.Auth.Required)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9000"
  cors_origins: ["https://hammer.example"]
auction:
  bid_window: 20s
  default_budget: 5000000
nats:
  url: nats://localhost:4222
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://hammer.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 20*time.Second, cfg.Auction.BidWindow)
	assert.Equal(t, int64(5000000), cfg.Auction.DefaultBudget)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	// untouched keys keep their defaults
	assert.Equal(t, time.Second, cfg.Auction.TickInterval)
	assert.Equal(t, "hammer", cfg.NATS.SubjectPrefix)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "auction:\n  bid_window: 20s\n")
	t.Setenv("HAMMER_BID_WINDOW", "45s")
	t.Setenv("HAMMER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("HAMMER_AUTH_REQUIRED", "true")
	t.Setenv("HAMMER_ADMIN_NAME", "root")
	t.Setenv("HAMMER_ADMIN_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Auction.BidWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Auth.Required)
	assert.Equal(t, "root", cfg.Auth.AdminName)
}

func TestInvalidEnv(t *testing.T) {
	t.Setenv("HAMMER_BID_WINDOW", "soon")
	_, err := Load("")
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short window", func(c *Config) { c.Auction.BidWindow = 500 * time.Millisecond }},
		{"no budget", func(c *Config) { c.Auction.DefaultBudget = 0 }},
		{"auth without admin", func(c *Config) { c.Auth.Required = true }},
		{"no db", func(c *Config) { c.Database.Path = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
