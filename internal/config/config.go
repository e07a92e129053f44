package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every server setting.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auction   AuctionConfig   `yaml:"auction"`
	NATS      NATSConfig      `yaml:"nats"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"` // empty allows all, for dev
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuctionConfig struct {
	BidWindow      time.Duration `yaml:"bid_window"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	SnapshotWindow int           `yaml:"snapshot_window"`
	DefaultBudget  int64         `yaml:"default_budget"`
	ChannelBuffer  int           `yaml:"channel_buffer"`
	AudioTimeout   time.Duration `yaml:"audio_timeout"`
	RetainEnded    time.Duration `yaml:"retain_ended"`
}

// NATSConfig enables the event mirror when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// AuthConfig controls console tokens for ADMIN and AUCTIONEER connections.
type AuthConfig struct {
	Required  bool          `yaml:"required"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	AdminName string        `yaml:"admin_name"`
	AdminKey  string        `yaml:"admin_key"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8088",
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{Path: "hammer.db"},
		Auction: AuctionConfig{
			BidWindow:      30 * time.Second,
			TickInterval:   time.Second,
			SnapshotWindow: 20,
			DefaultBudget:  100000000,
			ChannelBuffer:  256,
			AudioTimeout:   15 * time.Second,
			RetainEnded:    30 * time.Minute,
		},
		NATS: NATSConfig{SubjectPrefix: "hammer"},
		Auth: AuthConfig{TokenTTL: 12 * time.Hour},
		RateLimit: RateLimitConfig{
			PerSecond: 20,
			Burst:     40,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads .env, then the YAML file at path if one is given, then HAMMER_*
// environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	setString(&c.Server.Addr, "HAMMER_ADDR")
	setString(&c.Database.Path, "HAMMER_DB")
	setString(&c.NATS.URL, "HAMMER_NATS_URL")
	setString(&c.NATS.SubjectPrefix, "HAMMER_NATS_PREFIX")
	setString(&c.Auth.AdminName, "HAMMER_ADMIN_NAME")
	setString(&c.Auth.AdminKey, "HAMMER_ADMIN_KEY")
	setString(&c.Log.Level, "HAMMER_LOG_LEVEL")

	if v := os.Getenv("HAMMER_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if err = setDuration(&c.Auction.BidWindow, "HAMMER_BID_WINDOW"); err != nil {
		return err
	}
	if err = setDuration(&c.Auction.TickInterval, "HAMMER_TICK_INTERVAL"); err != nil {
		return err
	}
	if err = setDuration(&c.Auction.AudioTimeout, "HAMMER_AUDIO_TIMEOUT"); err != nil {
		return err
	}
	if err = setInt64(&c.Auction.DefaultBudget, "HAMMER_DEFAULT_BUDGET"); err != nil {
		return err
	}
	if err = setBool(&c.Auth.Required, "HAMMER_AUTH_REQUIRED"); err != nil {
		return err
	}
	if err = setBool(&c.Log.Pretty, "HAMMER_LOG_PRETTY"); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Auction.BidWindow < time.Second {
		return fmt.Errorf("auction.bid_window must be at least 1s, got %v", c.Auction.BidWindow)
	}
	if c.Auction.TickInterval <= 0 {
		return errors.New("auction.tick_interval must be positive")
	}
	if c.Auction.DefaultBudget <= 0 {
		return errors.New("auction.default_budget must be positive")
	}
	if c.Auction.SnapshotWindow < 0 || c.Auction.ChannelBuffer < 0 {
		return errors.New("auction.snapshot_window and auction.channel_buffer must not be negative")
	}
	if c.Auth.Required && (c.Auth.AdminName == "" || c.Auth.AdminKey == "") {
		return errors.New("auth.required needs auth.admin_name and auth.admin_key")
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
