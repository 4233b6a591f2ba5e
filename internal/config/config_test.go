package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func noEnvFile(t *testing.T) []string {
	return []string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(noEnvFile(t), envOf(map[string]string{
		"JWT_SECRET":              "jwt",
		"CHECKOUT_WEBHOOK_SECRET": "whsec",
	}))

	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Address())
	require.True(t, cfg.Development())
	require.Empty(t, cfg.DatabaseURL, "development runs on the memory store")
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, 10*time.Second, cfg.ShutdownPeriod)
	require.Equal(t, 30, cfg.RateLimitPerMinute)
	require.Equal(t, "escrow.notifications", cfg.KafkaTopic)
}

func TestLoadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9000\nLOG_LEVEL=DEBUG\nJWT_SECRET=from-file\nCHECKOUT_WEBHOOK_SECRET=whsec\n"), 0o600))

	cfg, err := Load([]string{"--env-file", path, "--port", "7000"}, envOf(map[string]string{
		"JWT_SECRET":               "from-env",
		"IDEMPOTENCY_TTL":          "90m",
		"SHUTDOWN_TIMEOUT_SECONDS": "3",
		"RATE_LIMIT_PER_MINUTE":    "5",
	}))

	require.NoError(t, err)
	require.Equal(t, "7000", cfg.Port, "flags win")
	require.Equal(t, "from-env", cfg.JWTSecret, "environment beats .env")
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "whsec", cfg.CheckoutWebhookSecret)
	require.Equal(t, 90*time.Minute, cfg.IdempotencyTTL)
	require.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	require.Equal(t, 5, cfg.RateLimitPerMinute)
}

func TestLoadRequired(t *testing.T) {
	base := map[string]string{"JWT_SECRET": "jwt", "CHECKOUT_WEBHOOK_SECRET": "whsec"}
	with := func(kv ...string) map[string]string {
		m := make(map[string]string, len(base))
		for k, v := range base {
			m[k] = v
		}
		for i := 0; i < len(kv); i += 2 {
			m[kv[i]] = kv[i+1]
		}
		return m
	}

	tests := []struct {
		name string
		env  map[string]string
	}{
		{"jwt secret", with("JWT_SECRET", "")},
		{"webhook secret", with("CHECKOUT_WEBHOOK_SECRET", "")},
		{"production database", with("APP_ENV", "production", "REDIS_URL", "redis://localhost:6379")},
		{"production redis", with("APP_ENV", "production", "DATABASE_URL", "postgres://localhost/escrow")},
		{"bad ttl", with("IDEMPOTENCY_TTL_SECONDS", "soon")},
		{"bad rate limit", with("RATE_LIMIT_PER_MINUTE", "-1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(noEnvFile(t), envOf(tt.env))
			require.Error(t, err)
		})
	}

	cfg, err := Load(noEnvFile(t), envOf(with("APP_ENV", "production", "DATABASE_URL", "postgres://localhost/escrow", "REDIS_URL", "redis://localhost:6379")))
	require.NoError(t, err)
	require.False(t, cfg.Development())
}
