package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	CORSOrigin    string
	AuditTrailMax int
	// Redis Configuration
	RedisURL     string
	RecordCacheTTL time.Duration
}

func Load() Config {
	return Config{
		Addr:          getenv("API_ADDR", ":8790"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("DOCVAULT_MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:    getenv("DOCVAULT_CORS_ORIGIN", "*"),
		AuditTrailMax: getenvInt("DOCVAULT_AUDIT_TRAIL_MAX", 50),
		// Redis - empty by default, record cache disabled if not configured
		RedisURL:       getenv("REDIS_URL", ""),
		RecordCacheTTL: time.Duration(getenvInt("DOCVAULT_RECORD_CACHE_TTL_SECONDS", 300)) * time.Second,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
