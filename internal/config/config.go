package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	GatewayFCM     = "fcm"
	GatewayWebhook = "webhook"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=json"`

	PushGateway             string `env:"PUSH_GATEWAY,default=fcm"`
	FirebaseEnabled         bool   `env:"FIREBASE_ENABLED,default=true"`
	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`
	WebhookURL              string `env:"WEBHOOK_URL"`
	GatewayTimeoutMS        int    `env:"GATEWAY_TIMEOUT_MS,default=10000"`
	BreakerFailureThreshold int    `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	BreakerOpenTimeoutMS    int    `env:"BREAKER_OPEN_TIMEOUT_MS,default=30000"`
	RateLimitPerSecond      int    `env:"RATE_LIMIT_PER_SECOND,default=50"`

	OutboxPollingEnabled bool `env:"OUTBOX_POLLING_ENABLED,default=true"`
	OutboxPollIntervalMS int  `env:"OUTBOX_POLL_INTERVAL_MS,default=1000"`
	OutboxBatchSize      int  `env:"OUTBOX_BATCH_SIZE,default=10"`
	OutboxMaxAttempts    int  `env:"OUTBOX_MAX_ATTEMPTS,default=5"`
	OutboxRetryBaseMS    int  `env:"OUTBOX_RETRY_BASE_MS,default=2000"`
	OutboxRetryMaxMS     int  `env:"OUTBOX_RETRY_MAX_MS,default=300000"`
	OutboxLockTTLMS      int  `env:"OUTBOX_LOCK_TTL_MS,default=30000"`

	DirectDispatchGraceMS int `env:"DIRECT_DISPATCH_GRACE_MS,default=30000"`
	DispatchConcurrency   int `env:"DISPATCH_CONCURRENCY,default=4"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.PushGateway = strings.ToLower(strings.TrimSpace(cfg.PushGateway))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.PushGateway {
	case GatewayFCM:
	case GatewayWebhook:
		if strings.TrimSpace(c.WebhookURL) == "" {
			return fmt.Errorf("WEBHOOK_URL is required when PUSH_GATEWAY=%s", GatewayWebhook)
		}
	default:
		return fmt.Errorf("unsupported PUSH_GATEWAY %q", c.PushGateway)
	}

	positive := []struct {
		name  string
		value int
	}{
		{name: "GATEWAY_TIMEOUT_MS", value: c.GatewayTimeoutMS},
		{name: "OUTBOX_POLL_INTERVAL_MS", value: c.OutboxPollIntervalMS},
		{name: "OUTBOX_BATCH_SIZE", value: c.OutboxBatchSize},
		{name: "OUTBOX_MAX_ATTEMPTS", value: c.OutboxMaxAttempts},
		{name: "OUTBOX_RETRY_BASE_MS", value: c.OutboxRetryBaseMS},
		{name: "OUTBOX_RETRY_MAX_MS", value: c.OutboxRetryMaxMS},
		{name: "OUTBOX_LOCK_TTL_MS", value: c.OutboxLockTTLMS},
		{name: "DISPATCH_CONCURRENCY", value: c.DispatchConcurrency},
		{name: "RATE_LIMIT_PER_SECOND", value: c.RateLimitPerSecond},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}
	if c.OutboxRetryMaxMS < c.OutboxRetryBaseMS {
		return fmt.Errorf("OUTBOX_RETRY_MAX_MS (%d) must not be lower than OUTBOX_RETRY_BASE_MS (%d)", c.OutboxRetryMaxMS, c.OutboxRetryBaseMS)
	}
	if c.DirectDispatchGraceMS < 0 {
		return fmt.Errorf("DIRECT_DISPATCH_GRACE_MS must not be negative, got %d", c.DirectDispatchGraceMS)
	}

	return nil
}

func (c *Config) GatewayTimeout() time.Duration { return millis(c.GatewayTimeoutMS) }

func (c *Config) BreakerOpenTimeout() time.Duration { return millis(c.BreakerOpenTimeoutMS) }

func (c *Config) OutboxPollInterval() time.Duration { return millis(c.OutboxPollIntervalMS) }

func (c *Config) OutboxRetryBase() time.Duration { return millis(c.OutboxRetryBaseMS) }

func (c *Config) OutboxRetryMax() time.Duration { return millis(c.OutboxRetryMaxMS) }

func (c *Config) OutboxLockTTL() time.Duration { return millis(c.OutboxLockTTLMS) }

func (c *Config) DirectDispatchGrace() time.Duration { return millis(c.DirectDispatchGraceMS) }

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
