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

	// Auth
	JWTSecret string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Delivery queue. Backend is "postgres" (default), "sqs", or
	// "memory" (development only).
	QueueBackend string
	SQSRegion    string
	SQSQueueURL  string

	// Dispatch engine
	DispatchWorkers     int
	DispatchMaxAttempts int
	DispatchBaseBackoff time.Duration
	DispatchMaxBackoff  time.Duration

	// AWS providers
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string
	PushTopicARN string

	// Rate limiting
	RateLimit       int
	RateLimitWindow time.Duration
}

// Load reads configuration from the environment with sensible
// defaults. A local .env file, if present, is loaded first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "herald",
		DBName:    "herald",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		QueueBackend: "postgres",

		DispatchWorkers:     4,
		DispatchMaxAttempts: 5,
		DispatchBaseBackoff: 30 * time.Second,
		DispatchMaxBackoff:  15 * time.Minute,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@herald.local",

		RateLimit:       100,
		RateLimitWindow: 1 * time.Minute,
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

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" && cfg.Env != "development" {
		return nil, fmt.Errorf("JWT_SECRET is required outside development")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "herald-dev-secret"
	}

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

	if backend := os.Getenv("QUEUE_BACKEND"); backend != "" {
		switch backend {
		case "postgres", "sqs", "memory":
			cfg.QueueBackend = backend
		default:
			return nil, fmt.Errorf("invalid QUEUE_BACKEND: %q", backend)
		}
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}
	if cfg.QueueBackend == "sqs" && cfg.SQSQueueURL == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL is required with QUEUE_BACKEND=sqs")
	}

	if workers := os.Getenv("DISPATCH_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_WORKERS: %q", workers)
		}
		cfg.DispatchWorkers = n
	}

	if attempts := os.Getenv("DISPATCH_MAX_ATTEMPTS"); attempts != "" {
		n, err := strconv.Atoi(attempts)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_MAX_ATTEMPTS: %q", attempts)
		}
		cfg.DispatchMaxAttempts = n
	}

	if backoff := os.Getenv("DISPATCH_BASE_BACKOFF"); backoff != "" {
		d, err := time.ParseDuration(backoff)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_BASE_BACKOFF: %w", err)
		}
		cfg.DispatchBaseBackoff = d
	}

	if backoff := os.Getenv("DISPATCH_MAX_BACKOFF"); backoff != "" {
		d, err := time.ParseDuration(backoff)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_MAX_BACKOFF: %w", err)
		}
		cfg.DispatchMaxBackoff = d
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	cfg.PushTopicARN = os.Getenv("PUSH_TOPIC_ARN")

	if limit := os.Getenv("RATE_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT: %q", limit)
		}
		cfg.RateLimit = n
	}

	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
		}
		cfg.RateLimitWindow = d
	}

	return cfg, nil
}
