package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database. DatabaseURL, when set, wins over the DB_* fields.
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Redis config. RedisURL, when set, wins over the REDIS_* fields.
	RedisURL       string
	RedisKeyPrefix string
	RedisHost      string
	RedisPort      int
	RedisPassword  string
	RedisDB        int

	// AWS services
	AWSRegion          string
	SQSOrderQueueURL   string // order status events; empty disables the worker
	SNSAuditTopicARN   string // dispatch audit events; empty disables auditing
	SESFromEmail       string
	OperatorAlertEmail string // degraded-mode alerts; empty logs only

	// Web push
	VAPIDPublicKey     string
	VAPIDPrivateKey    string
	VAPIDEmail         string
	ForceHighUrgency   bool
	PushSendTimeout    time.Duration
	PushTTL            int // seconds the push service keeps an undelivered message
	PushMaxConcurrency int // 0 means one goroutine per subscription

	// Admin API rate limit per operator
	RateLimit       int
	RateLimitWindow time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present; real
// environment variables always win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "canteen",
		DBName:    "canteen",
		DBSSLMode: "disable",

		RedisKeyPrefix: "canteen",
		RedisHost:      "localhost",
		RedisPort:      6379,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@canteen.local",

		VAPIDEmail:         "admin@canteen.local",
		ForceHighUrgency:   true,
		PushSendTimeout:    5 * time.Second,
		PushTTL:            86400,
		PushMaxConcurrency: 0,

		RateLimit:       60,
		RateLimitWindow: time.Minute,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = stringEnv("ENV", cfg.Env)

	cfg.DatabaseURL = stringEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBHost = stringEnv("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = stringEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = stringEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = stringEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = stringEnv("DB_SSLMODE", cfg.DBSSLMode)

	cfg.RedisURL = stringEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisKeyPrefix = stringEnv("REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)
	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	cfg.AWSRegion = stringEnv("AWS_REGION", cfg.AWSRegion)
	cfg.SQSOrderQueueURL = stringEnv("SQS_ORDER_QUEUE_URL", cfg.SQSOrderQueueURL)
	cfg.SNSAuditTopicARN = stringEnv("SNS_AUDIT_TOPIC_ARN", cfg.SNSAuditTopicARN)
	cfg.SESFromEmail = stringEnv("SES_FROM_EMAIL", cfg.SESFromEmail)
	cfg.OperatorAlertEmail = stringEnv("OPERATOR_ALERT_EMAIL", cfg.OperatorAlertEmail)

	// Keys are read once here; there is no hot reload.
	cfg.VAPIDPublicKey = stringEnv("VAPID_PUBLIC_KEY", cfg.VAPIDPublicKey)
	cfg.VAPIDPrivateKey = stringEnv("VAPID_PRIVATE_KEY", cfg.VAPIDPrivateKey)
	cfg.VAPIDEmail = stringEnv("VAPID_EMAIL", cfg.VAPIDEmail)

	if v := os.Getenv("FORCE_HIGH_URGENCY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FORCE_HIGH_URGENCY: %w", err)
		}
		cfg.ForceHighUrgency = b
	}

	if v := os.Getenv("PUSH_SEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_SEND_TIMEOUT: %w", err)
		}
		cfg.PushSendTimeout = d
	}
	if cfg.PushTTL, err = intEnv("PUSH_TTL", cfg.PushTTL); err != nil {
		return nil, err
	}
	if cfg.PushMaxConcurrency, err = intEnv("PUSH_MAX_CONCURRENCY", cfg.PushMaxConcurrency); err != nil {
		return nil, err
	}

	if cfg.RateLimit, err = intEnv("ADMIN_RATE_LIMIT", cfg.RateLimit); err != nil {
		return nil, err
	}
	if v := os.Getenv("ADMIN_RATE_LIMIT_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_RATE_LIMIT_WINDOW: %w", err)
		}
		cfg.RateLimitWindow = d
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
