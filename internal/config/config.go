package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the binaries need from the environment.
type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string
	JWTSecret   string

	// HeartbeatInterval is how often the realtime registry pings each open
	// stream to keep intermediary proxies from timing it out.
	HeartbeatInterval time.Duration

	// ExpiryWarnDays is the exact days-remaining mark at which the sweeper
	// sends the "expiring soon" notification.
	ExpiryWarnDays int
}

// Load reads .env if present, then the environment, applying defaults.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:              getenv("PORT", "8080"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		JWTSecret:         getenv("JWT_SECRET", "supersecret"),
		HeartbeatInterval: durationEnv("HEARTBEAT_INTERVAL", 30*time.Second),
		ExpiryWarnDays:    intEnv("EXPIRY_WARN_DAYS", 7),
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "postgres://" + getenv("DB_USER", "postgres") +
			":" + getenv("DB_PASSWORD", "postgres") +
			"@" + getenv("DB_HOST", "localhost") +
			":" + getenv("DB_PORT", "5432") +
			"/" + getenv("DB_NAME", "skillhub")
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
