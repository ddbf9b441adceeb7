// internal/config/config.go
//
// Environment configuration for both binary modes. A .env file, when present,
// is loaded by main before Load runs.

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Client configures `photoguess play`.
type Client struct {
	AuthorityURL     string        `env:"AUTHORITY_URL" envDefault:"http://localhost:8000"`
	StateDB          string        `env:"STATE_DB" envDefault:"data/client.db"`
	PhotoAddr        string        `env:"PHOTO_ADDR" envDefault:"127.0.0.1:0"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LeaderboardLimit int           `env:"LEADERBOARD_LIMIT" envDefault:"10"`
}

// Authority configures `photoguess serve`.
type Authority struct {
	Port           string        `env:"PORT" envDefault:"8000"`
	DatabasePath   string        `env:"DATABASE_PATH" envDefault:"data/authority.db"`
	JWTSecret      string        `env:"JWT_SECRET" envDefault:"dev_secret_change_me"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"720h"`
	RoundsPerGame  int           `env:"ROUNDS_PER_GAME" envDefault:"5"`
	MaxPoints      int           `env:"MAX_POINTS" envDefault:"5000"`
	CatalogFile    string        `env:"PHOTO_CATALOG_FILE"`
	PhotoDir       string        `env:"PHOTO_DIR"`
	LibraryURL     string        `env:"PHOTO_LIBRARY_URL"`
}

// Config is the full environment.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	Client    Client
	Authority Authority
}

// Load parses the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Authority.RoundsPerGame < 1:
		return fmt.Errorf("ROUNDS_PER_GAME must be positive, got %d", c.Authority.RoundsPerGame)
	case c.Authority.MaxPoints < 1:
		return fmt.Errorf("MAX_POINTS must be positive, got %d", c.Authority.MaxPoints)
	case c.Client.LeaderboardLimit < 1:
		return fmt.Errorf("LEADERBOARD_LIMIT must be positive, got %d", c.Client.LeaderboardLimit)
	case c.Authority.AccessTokenTTL <= 0:
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive, got %s", c.Authority.AccessTokenTTL)
	}
	return nil
}
