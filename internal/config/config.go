package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port            int    `envconfig:"PORT" default:"8080"`
	AllowedOrigin   string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL     string `envconfig:"DATABASE_URL"`
	DefaultOutletID string `envconfig:"DEFAULT_OUTLET_ID" default:"main-outlet"`
	// Terminals lists accepted terminal IDs, comma separated. Empty accepts any.
	Terminals    []string `envconfig:"TERMINALS"`
	MaxTerminals int      `envconfig:"MAX_TERMINALS" default:"64"`

	Redis struct {
		Addr            string        `envconfig:"REDIS_ADDR"`
		Password        string        `envconfig:"REDIS_PASSWORD"`
		DB              int           `envconfig:"REDIS_DB" default:"0"`
		CatalogCacheTTL time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"30s"`
	}

	Auth struct {
		Secret         string        `envconfig:"AUTH_SECRET"`
		AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
		ManagerPIN     string        `envconfig:"MANAGER_PIN"`
	}

	Gateway struct {
		BaseURL      string        `envconfig:"GATEWAY_BASE_URL"`
		ServerKey    string        `envconfig:"GATEWAY_SERVER_KEY"`
		PollInterval time.Duration `envconfig:"GATEWAY_POLL_INTERVAL" default:"3s"`
		MaxWait      time.Duration `envconfig:"GATEWAY_MAX_WAIT" default:"15m"`
		Timeout      time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
	}

	Log struct {
		Mode string `envconfig:"LOG_MODE" default:"development"`
		File string `envconfig:"LOG_FILE"`
	}

	Loyalty struct {
		SpendPerPoint int64 `envconfig:"LOYALTY_SPEND_PER_POINT" default:"10000"`
	}

	Housekeeping struct {
		HeldRetention time.Duration `envconfig:"HELD_ORDER_RETENTION" default:"72h"`
		Spec          string        `envconfig:"HOUSEKEEPING_SPEC" default:"@daily"`
		Location      string        `envconfig:"TZ_LOCATION" default:"Asia/Jakarta"`
	}
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)
	cfg.Auth.ManagerPIN = strings.TrimSpace(cfg.Auth.ManagerPIN)
	terminals := cfg.Terminals[:0]
	for _, id := range cfg.Terminals {
		if id = strings.TrimSpace(id); id != "" {
			terminals = append(terminals, id)
		}
	}
	cfg.Terminals = terminals
	return &cfg, nil
}

func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}
