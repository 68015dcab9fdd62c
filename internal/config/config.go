package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	Port                    int    `env:"PORT" envDefault:"8080"`
	AdminPassword           string `env:"ADMIN_PASSWORD" envDefault:"athletes2000admin"`
	GameDurationMinutes     int    `env:"GAME_DURATION_MINUTES" envDefault:"120"`
	Goal                    int    `env:"GOAL" envDefault:"2000"`
	SessionRetentionMinutes int    `env:"SESSION_RETENTION_MINUTES" envDefault:"10"`
	ReconnectGraceMinutes   int    `env:"RECONNECT_GRACE_MINUTES" envDefault:"5"`
	ResolverTimeoutSeconds  int    `env:"RESOLVER_TIMEOUT_SECONDS" envDefault:"15"`
	LogLevel                string `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins          string `env:"ALLOWED_ORIGINS" envDefault:"*"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) GameDuration() time.Duration {
	return time.Duration(c.GameDurationMinutes) * time.Minute
}

func (c *Config) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionMinutes) * time.Minute
}

func (c *Config) ReconnectGrace() time.Duration {
	return time.Duration(c.ReconnectGraceMinutes) * time.Minute
}

func (c *Config) ResolverTimeout() time.Duration {
	return time.Duration(c.ResolverTimeoutSeconds) * time.Second
}

// Origins splits ALLOWED_ORIGINS into the list the CORS middleware expects.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.AdminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD must not be empty")
	}
	if c.GameDurationMinutes <= 0 {
		return fmt.Errorf("GAME_DURATION_MINUTES must be positive, got %d", c.GameDurationMinutes)
	}
	if c.Goal <= 0 {
		return fmt.Errorf("GOAL must be positive, got %d", c.Goal)
	}
	if c.SessionRetentionMinutes <= 0 {
		return fmt.Errorf("SESSION_RETENTION_MINUTES must be positive, got %d", c.SessionRetentionMinutes)
	}
	if c.ReconnectGraceMinutes <= 0 {
		return fmt.Errorf("RECONNECT_GRACE_MINUTES must be positive, got %d", c.ReconnectGraceMinutes)
	}
	if c.ResolverTimeoutSeconds <= 0 {
		return fmt.Errorf("RESOLVER_TIMEOUT_SECONDS must be positive, got %d", c.ResolverTimeoutSeconds)
	}
	return nil
}
