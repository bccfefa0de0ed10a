package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/xtrntr/auctionhouse/internal/models"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the auction service. Load reads it from a
// YAML or TOML file and then lets AUCTION_* environment variables override
// the sensitive values.
type Config struct {
	Server struct {
		Addr              string        `yaml:"addr" toml:"addr"`
		CORSOrigins       []string      `yaml:"cors_origins" toml:"cors_origins"`
		BroadcastInterval time.Duration `yaml:"broadcast_interval" toml:"broadcast_interval"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	} `yaml:"server" toml:"server"`

	Database struct {
		Driver string `yaml:"driver" toml:"driver"` // postgres or sqlite
		URL    string `yaml:"url" toml:"url"`
	} `yaml:"database" toml:"database"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl" toml:"token_ttl"`
	} `yaml:"auth" toml:"auth"`

	Auction struct {
		Owner string `yaml:"owner" toml:"owner"`
	} `yaml:"auction" toml:"auction"`

	RateLimit struct {
		PerSecond float64 `yaml:"per_second" toml:"per_second"`
		Burst     int     `yaml:"burst" toml:"burst"`
	} `yaml:"ratelimit" toml:"ratelimit"`

	Logging struct {
		Level      string `yaml:"level" toml:"level"`
		File       string `yaml:"file" toml:"file"`
		Env        string `yaml:"env" toml:"env"`
		MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	} `yaml:"logging" toml:"logging"`
}

// Default returns the configuration used for anything a file leaves unset.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.CORSOrigins = []string{"*"}
	cfg.Server.BroadcastInterval = 5 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Database.Driver = "sqlite"
	cfg.Database.URL = "auction.db"
	cfg.Auth.TokenTTL = 24 * time.Hour
	cfg.RateLimit.PerSecond = 5
	cfg.RateLimit.Burst = 10
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads the file at path (an empty path means defaults only), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return nil
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("AUCTION_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AUCTION_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("AUCTION_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("AUCTION_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("AUCTION_OWNER"); v != "" {
		cfg.Auction.Owner = v
	}
	if v := os.Getenv("AUCTION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("jwt secret must be at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if c.Auction.Owner == "" {
		return fmt.Errorf("auction owner is required")
	}
	if c.Auction.Owner == models.EscrowAccount {
		return fmt.Errorf("auction owner cannot be the %q custody account", models.EscrowAccount)
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("broadcast interval must be positive")
	}
	return nil
}
