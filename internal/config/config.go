package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	DatabaseURL string   `env:"DATABASE_URL,required"`
	Port        int      `env:"PORT,default=8080"`
	LogLevel    string   `env:"LOG_LEVEL,default=info"`
	CORSOrigins []string `env:"CORS_ORIGINS"`

	// HTTP server timeouts
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`

	// Rate limiting
	RateLimitFailOpen         bool `env:"RATE_LIMIT_FAIL_OPEN,default=true"`
	DefaultRateLimitPerMinute int  `env:"DEFAULT_RATE_LIMIT_PER_MINUTE,default=100"`
	DefaultRateLimitPerDay    int  `env:"DEFAULT_RATE_LIMIT_PER_DAY,default=10000"`

	// Bulk operations: when true, a batch with any validation failure is
	// rejected wholesale before any record is written.
	BulkAtomic bool `env:"BULK_ATOMIC,default=false"`

	// Webhook delivery
	WebhookTimeout       time.Duration `env:"WEBHOOK_TIMEOUT,default=10s"`
	WebhookWorkers       int           `env:"WEBHOOK_WORKERS,default=4"`
	WebhookQueueSize     int           `env:"WEBHOOK_QUEUE_SIZE,default=256"`
	WebhookMaxAttempts   int           `env:"WEBHOOK_MAX_ATTEMPTS,default=5"`
	WebhookRetryInterval time.Duration `env:"WEBHOOK_RETRY_INTERVAL,default=1m"`

	// Retention
	UsageRetentionDays   int           `env:"USAGE_RETENTION_DAYS,default=30"`
	UsageCleanupInterval time.Duration `env:"USAGE_CLEANUP_INTERVAL,default=1h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DefaultRateLimitPerMinute < 1 {
		return fmt.Errorf("DEFAULT_RATE_LIMIT_PER_MINUTE must be positive, got %d", c.DefaultRateLimitPerMinute)
	}
	if c.DefaultRateLimitPerDay < c.DefaultRateLimitPerMinute {
		return fmt.Errorf("DEFAULT_RATE_LIMIT_PER_DAY must be at least the per-minute limit")
	}
	if c.WebhookWorkers < 1 {
		return fmt.Errorf("WEBHOOK_WORKERS must be positive, got %d", c.WebhookWorkers)
	}
	if c.WebhookQueueSize < 1 {
		return fmt.Errorf("WEBHOOK_QUEUE_SIZE must be positive, got %d", c.WebhookQueueSize)
	}
	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be positive, got %d", c.WebhookMaxAttempts)
	}
	if c.UsageRetentionDays < 1 {
		return fmt.Errorf("USAGE_RETENTION_DAYS must be positive, got %d", c.UsageRetentionDays)
	}
	return nil
}
