package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("GameDuration converts minutes to duration", func(t *testing.T) {
		cfg := &Config{GameDurationMinutes: 120}
		assert.Equal(t, 2*time.Hour, cfg.GameDuration())
	})

	t.Run("ReconnectGrace converts minutes to duration", func(t *testing.T) {
		cfg := &Config{ReconnectGraceMinutes: 5}
		assert.Equal(t, 5*time.Minute, cfg.ReconnectGrace())
	})

	t.Run("Origins splits and trims", func(t *testing.T) {
		cfg := &Config{AllowedOrigins: "https://a.example, https://b.example ,"}
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Origins())
	})
}

func TestLoad(t *testing.T) {
	t.Run("loads defaults", func(t *testing.T) {
		for _, key := range []string{"PORT", "GOAL", "GAME_DURATION_MINUTES", "RESOLVER_TIMEOUT_SECONDS"} {
			t.Setenv(key, os.Getenv(key)) // register restore
			os.Unsetenv(key)
		}
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, 2000, cfg.Goal)
		assert.Equal(t, 2*time.Hour, cfg.GameDuration())
		assert.Equal(t, 15*time.Second, cfg.ResolverTimeout())
	})

	t.Run("overrides from environment", func(t *testing.T) {
		t.Setenv("PORT", "9000")
		t.Setenv("GOAL", "50")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Port)
		assert.Equal(t, 50, cfg.Goal)
	})
}

func TestValidate(t *testing.T) {
	valid := Config{
		Port:                    8080,
		AdminPassword:           "secret",
		GameDurationMinutes:     120,
		Goal:                    2000,
		SessionRetentionMinutes: 10,
		ReconnectGraceMinutes:   5,
		ResolverTimeoutSeconds:  15,
	}

	t.Run("valid config passes", func(t *testing.T) {
		cfg := valid
		require.NoError(t, cfg.Validate())
	})

	t.Run("rejects bad port", func(t *testing.T) {
		cfg := valid
		cfg.Port = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects empty admin password", func(t *testing.T) {
		cfg := valid
		cfg.AdminPassword = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive goal", func(t *testing.T) {
		cfg := valid
		cfg.Goal = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive session retention", func(t *testing.T) {
		cfg := valid
		cfg.SessionRetentionMinutes = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive reconnect grace", func(t *testing.T) {
		cfg := valid
		cfg.ReconnectGraceMinutes = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive resolver timeout", func(t *testing.T) {
		cfg := valid
		cfg.ResolverTimeoutSeconds = 0
		assert.Error(t, cfg.Validate())
	})
}
