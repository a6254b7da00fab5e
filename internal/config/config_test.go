package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	for _, k := range []string{"TOKEN_TTL", "PROFILE_COOLDOWN", "BCRYPT_COST", "CORS_ALLOWED_ORIGINS", "EXPOSE_ERROR_DETAILS", "HTTP_ADDR"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 7*24*time.Hour, cfg.TokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.ProfileCooldown)
	require.Equal(t, 10, cfg.BcryptCost)
	require.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	require.True(t, cfg.ExposeErrorDetails)
	require.Equal(t, "0.0.0.0:8431", cfg.HTTPAddr)
	require.GreaterOrEqual(t, cfg.HashConcurrency, 1)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("PROFILE_COOLDOWN", "48h")
	t.Setenv("BCRYPT_COST", "99")
	t.Setenv("HASH_CONCURRENCY", "0")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://aksihijau.id, https://admin.aksihijau.id ,")
	t.Setenv("EXPOSE_ERROR_DETAILS", "off")
	t.Setenv("DB_ENSURE_SCHEMA", "yes")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, time.Hour, cfg.TokenTTL)
	require.Equal(t, 48*time.Hour, cfg.ProfileCooldown)
	require.Equal(t, 10, cfg.BcryptCost)
	require.Equal(t, 1, cfg.HashConcurrency)
	require.Equal(t, []string{"https://aksihijau.id", "https://admin.aksihijau.id"}, cfg.CORSAllowedOrigins)
	require.False(t, cfg.ExposeErrorDetails)
	require.True(t, cfg.EnsureSchema)
}

func TestLoadDatabaseSettings(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/aksihijau")
	t.Setenv("DATABASE_MAX_CONNS", "20")
	t.Setenv("DATABASE_TIMEZONE", "Asia/Jakarta")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@db:5432/aksihijau", cfg.Database.DSN)
	require.Equal(t, 20, cfg.Database.MaxConns)
	require.Equal(t, "Asia/Jakarta", cfg.Database.TimeZone)
}
