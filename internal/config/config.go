package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	Logger LoggerConfig

	StripeAPIKey        string
	StripeWebhookSecret string

	// TierNamespace prefixes the product naming convention used for tier
	// discovery, e.g. "searchleads" matches "searchleads_recurring_tier_10k".
	TierNamespace       string
	TierCacheTTLSeconds int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RegistrationCredits       int64
	RegistrationSearchCredits float64

	// EventRetentionSeconds bounds webhook replay protection to the
	// provider's own redelivery window.
	EventRetentionSeconds int

	// PendingUpgradeTTLSeconds is kept shorter than a day to pre-empt the
	// provider's retry window.
	PendingUpgradeTTLSeconds int

	CancelRetryAttempts     int
	CancelRetryDelaySeconds int

	UpgradeLockLeaseSeconds int

	CouponRateLimitWindowSeconds int
	CouponRateLimitMax           int
}

type LoggerConfig struct {
	Level string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "billing"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},

		StripeAPIKey:        strings.TrimSpace(getenv("STRIPE_API_KEY", "")),
		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),

		TierNamespace:       getenv("TIER_NAMESPACE", "searchleads"),
		TierCacheTTLSeconds: getenvInt("TIER_CACHE_TTL_SECONDS", 3600),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       getenvInt("REDIS_DB", 0),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "billing"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		RegistrationCredits:       getenvInt64("REGISTRATION_CREDITS", 100),
		RegistrationSearchCredits: getenvFloat("REGISTRATION_SEARCH_CREDITS", 25),

		EventRetentionSeconds:    getenvInt("EVENT_RETENTION_SECONDS", 86400),
		PendingUpgradeTTLSeconds: getenvInt("PENDING_UPGRADE_TTL_SECONDS", 23*3600),

		CancelRetryAttempts:     getenvInt("CANCEL_RETRY_ATTEMPTS", 6),
		CancelRetryDelaySeconds: getenvInt("CANCEL_RETRY_DELAY_SECONDS", 10),

		UpgradeLockLeaseSeconds: getenvInt("UPGRADE_LOCK_LEASE_SECONDS", 3600),

		CouponRateLimitWindowSeconds: getenvInt("COUPON_RATE_LIMIT_WINDOW_SECONDS", 60),
		CouponRateLimitMax:           getenvInt("COUPON_RATE_LIMIT_MAX", 5),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using default %d", key, value, def)
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using default %d", key, value, def)
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using default %v", key, value, def)
		return def
	}
	return parsed
}
