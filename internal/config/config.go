package config

import (
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/aksihijau/service-core/pkg/database"
)

// Config holds the process-wide settings. It is built once in main and
// passed to the components that need it.
type Config struct {
	Env                string
	HTTPAddr           string
	JWTSecret          string
	JWTIssuer          string
	TokenTTL           time.Duration
	ProfileCooldown    time.Duration
	BcryptCost         int
	HashConcurrency    int
	SnowflakeNode      int64
	CORSAllowedOrigins []string
	ExposeErrorDetails bool
	EnsureSchema       bool
	Database           database.Config
}

var ErrMissingSecret = errors.New("JWT_SECRET is required")

// Load reads configuration from environment variables. Call godotenv.Load
// before it if a .env file should be honoured.
func Load() (Config, error) {
	cfg := Config{
		Env:                getEnv("APP_ENV", "development"),
		HTTPAddr:           getEnv("HTTP_ADDR", "0.0.0.0:8431"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTIssuer:          getEnv("JWT_ISSUER", "aksihijau"),
		TokenTTL:           getDuration("TOKEN_TTL", 7*24*time.Hour),
		ProfileCooldown:    getDuration("PROFILE_COOLDOWN", 7*24*time.Hour),
		BcryptCost:         getInt("BCRYPT_COST", 10),
		HashConcurrency:    getInt("HASH_CONCURRENCY", runtime.NumCPU()),
		SnowflakeNode:      int64(getInt("SNOWFLAKE_NODE", 1)),
		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		ExposeErrorDetails: getBool("EXPOSE_ERROR_DETAILS", true),
		EnsureSchema:       getBool("DB_ENSURE_SCHEMA", false),
		Database:           database.ConfigFromEnv(),
	}
	if cfg.JWTSecret == "" {
		return Config{}, ErrMissingSecret
	}
	// bcrypt rejects costs outside [4, 31]
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		cfg.BcryptCost = 10
	}
	if cfg.HashConcurrency < 1 {
		cfg.HashConcurrency = 1
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		var cleaned []string
		for _, p := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
