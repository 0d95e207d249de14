package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns int
	DBMinConns int

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Worker config
	PollIntervalSec   int
	BatchSize         int
	ReclaimTimeoutSec int

	// Per-channel hourly quotas
	PushPerHour  int
	EmailPerHour int
	SMSPerHour   int

	// AWS transports
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string
	PushQueueURL string // SQS push relay queue; empty disables the adapter
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "herald",
		DBPassword: "",
		DBName:     "herald",
		DBSSLMode:  "disable",
		DBMaxConns: 25,
		DBMinConns: 5,

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		PollIntervalSec:   5,
		BatchSize:         10,
		ReclaimTimeoutSec: 300,

		PushPerHour:  10,
		EmailPerHour: 10,
		SMSPerHour:   3,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@coinpulse.local",
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

	if conns := os.Getenv("DB_MAX_CONNS"); conns != "" {
		c, err := strconv.Atoi(conns)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
		}
		cfg.DBMaxConns = c
	}

	if conns := os.Getenv("DB_MIN_CONNS"); conns != "" {
		c, err := strconv.Atoi(conns)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
		}
		cfg.DBMinConns = c
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

	// Worker config
	if interval := os.Getenv("POLL_INTERVAL_SEC"); interval != "" {
		i, err := strconv.Atoi(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_SEC: %w", err)
		}
		cfg.PollIntervalSec = i
	}

	if size := os.Getenv("BATCH_SIZE"); size != "" {
		s, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = s
	}

	if timeout := os.Getenv("RECLAIM_TIMEOUT_SEC"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid RECLAIM_TIMEOUT_SEC: %w", err)
		}
		cfg.ReclaimTimeoutSec = t
	}

	// Quotas
	if quota := os.Getenv("PUSH_PER_HOUR"); quota != "" {
		q, err := strconv.Atoi(quota)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_PER_HOUR: %w", err)
		}
		cfg.PushPerHour = q
	}

	if quota := os.Getenv("EMAIL_PER_HOUR"); quota != "" {
		q, err := strconv.Atoi(quota)
		if err != nil {
			return nil, fmt.Errorf("invalid EMAIL_PER_HOUR: %w", err)
		}
		cfg.EmailPerHour = q
	}

	if quota := os.Getenv("SMS_PER_HOUR"); quota != "" {
		q, err := strconv.Atoi(quota)
		if err != nil {
			return nil, fmt.Errorf("invalid SMS_PER_HOUR: %w", err)
		}
		cfg.SMSPerHour = q
	}

	// AWS transports
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("PUSH_QUEUE_URL"); url != "" {
		cfg.PushQueueURL = url
	}

	return cfg, nil
}
