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

	// Preference storage: "postgres" or "memory"
	StoreBackend string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Digest worker
	DigestPollInterval time.Duration
	// DigestSender picks the delivery backend: "log", "ses" or "sqs"
	DigestSender string

	// AWS Services
	AWSRegion               string
	SESFromEmail            string
	DigestRecipientTemplate string // e.g. "{user_id}@users.example.com"

	// SQS hand-off queue
	SQSRegion   string
	SQSQueueURL string

	// Unsubscribe endpoint rate limit (requests per window, per client IP)
	UnsubscribeRateLimit  int
	UnsubscribeRateWindow time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		StoreBackend: "memory",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "lalithlochan",
		DBPassword: "",
		DBName:     "cirrus",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		DigestPollInterval: time.Minute,
		DigestSender:       "log",

		AWSRegion:    "us-east-1",
		SESFromEmail: "digests@cirrus.local",

		UnsubscribeRateLimit:  30,
		UnsubscribeRateWindow: time.Minute,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		if backend != "postgres" && backend != "memory" {
			return nil, fmt.Errorf("invalid STORE_BACKEND: %q (want postgres or memory)", backend)
		}
		cfg.StoreBackend = backend
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Digest worker
	if interval := os.Getenv("DIGEST_POLL_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid DIGEST_POLL_INTERVAL: %w", err)
		}
		cfg.DigestPollInterval = d
	}

	if sender := os.Getenv("DIGEST_SENDER"); sender != "" {
		if sender != "log" && sender != "ses" && sender != "sqs" {
			return nil, fmt.Errorf("invalid DIGEST_SENDER: %q (want log, ses or sqs)", sender)
		}
		cfg.DigestSender = sender
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if tmpl := os.Getenv("DIGEST_RECIPIENT_TEMPLATE"); tmpl != "" {
		cfg.DigestRecipientTemplate = tmpl
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// Unsubscribe rate limit
	if limit := os.Getenv("UNSUBSCRIBE_RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid UNSUBSCRIBE_RATE_LIMIT: %w", err)
		}
		cfg.UnsubscribeRateLimit = l
	}

	if window := os.Getenv("UNSUBSCRIBE_RATE_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid UNSUBSCRIBE_RATE_WINDOW: %w", err)
		}
		cfg.UnsubscribeRateWindow = d
	}

	return cfg, nil
}
