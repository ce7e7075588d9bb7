// Package config loads the server configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shopfloor/isos/pkg/asset"
	"github.com/shopfloor/isos/pkg/database"
	"github.com/shopfloor/isos/pkg/directory"
)

// Config is the complete server configuration.
type Config struct {
	Listen      string               `yaml:"listen"`
	Database    database.Config      `yaml:"database"`
	LockTimeout time.Duration        `yaml:"lockTimeout"`
	Session     SessionConfig        `yaml:"session"`
	CORS        CORSConfig           `yaml:"cors"`
	Seed        directory.SeedConfig `yaml:"seed"`
	BcryptCost  int                  `yaml:"bcryptCost"`
	// AssetTypes replaces the built-in pallet and stencil descriptors when set.
	AssetTypes []*asset.Descriptor `yaml:"assetTypes"`
}

// SessionConfig controls login tokens.
type SessionConfig struct {
	// Secret signs session tokens. Empty generates a per-process key.
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Database: database.Config{
			Type: database.TypeSQLite,
			DSN:  database.DefaultSQLiteDSN,
		},
		LockTimeout: 5 * time.Second,
		Session: SessionConfig{
			TTL: 12 * time.Hour,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Seed: directory.DefaultSeedConfig(),
	}
}

// Load reads configuration from a YAML file on top of the defaults.
// If the file does not exist, the default configuration is returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides values from environment variables:
// ISOS_LISTEN, ISOS_DB_TYPE, ISOS_DB_DSN, ISOS_DB_MAX_OPEN_CONNS, ISOS_LOCK_TIMEOUT,
// ISOS_SESSION_SECRET, ISOS_SESSION_TTL, ISOS_CORS_ORIGINS, ISOS_SEED_ADMIN_PASSWORD,
// ISOS_BCRYPT_COST. Durations use time.ParseDuration syntax; invalid values are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ISOS_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("ISOS_DB_TYPE"); v != "" {
		c.Database.Type = v
	}
	if v := os.Getenv("ISOS_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ISOS_DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Database.MaxOpenConns = n
		}
	}
	if v := os.Getenv("ISOS_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.LockTimeout = d
		}
	}
	if v := os.Getenv("ISOS_SESSION_SECRET"); v != "" {
		c.Session.Secret = v
	}
	if v := os.Getenv("ISOS_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Session.TTL = d
		}
	}
	if v := os.Getenv("ISOS_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORS.AllowedOrigins = origins
	}
	if v := os.Getenv("ISOS_SEED_ADMIN_PASSWORD"); v != "" {
		c.Seed.AdminPassword = v
	}
	if v := os.Getenv("ISOS_BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BcryptCost = n
		}
	}
}

// FromEnv returns the default configuration with environment overrides applied.
func FromEnv() *Config {
	cfg := Default()
	cfg.ApplyEnv()
	return cfg
}

// Registry builds the asset type registry, falling back to pallet and stencil.
func (c *Config) Registry() (*asset.Registry, error) {
	if len(c.AssetTypes) == 0 {
		return asset.DefaultRegistry(), nil
	}
	reg, err := asset.NewRegistry(c.AssetTypes...)
	if err != nil {
		return nil, fmt.Errorf("asset types: %w", err)
	}
	return reg, nil
}

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lockTimeout must be positive, got %s", c.LockTimeout)
	}
	if c.Seed.Users < 0 || c.Seed.Operators < 0 {
		return fmt.Errorf("seed counts must not be negative")
	}
	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}
