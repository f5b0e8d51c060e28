package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	WebhookGatewayURL string `env:"WEBHOOK_GATEWAY_URL,required=true"`
	IncidentAPIURL    string `env:"INCIDENT_API_URL,required=true"`
	DirectoryFile     string `env:"DIRECTORY_FILE,default=directory.json"`
	TemplatesFile     string `env:"TEMPLATES_FILE,default=templates.json"`
	RulesFile         string `env:"RULES_FILE"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=16"`
	SweepIntervalSecs int    `env:"SWEEP_INTERVAL_SECONDS,default=30"`
	SendTimeoutSecs   int    `env:"SEND_TIMEOUT_SECONDS,default=10"`
	ScanIntervalSecs  int    `env:"SCHEDULER_SCAN_SECONDS,default=15"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RateLimitPerSec < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must be positive, got %d", c.RateLimitPerSec)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}
	if c.SweepIntervalSecs < 1 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive, got %d", c.SweepIntervalSecs)
	}
	if c.SendTimeoutSecs < 1 {
		return fmt.Errorf("SEND_TIMEOUT_SECONDS must be positive, got %d", c.SendTimeoutSecs)
	}
	return nil
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSecs) * time.Second
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSecs) * time.Second
}
