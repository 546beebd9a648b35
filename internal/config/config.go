// Package config loads service settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/neomorfeo/orderdesk/internal/dispatch"
)

// TaskOptions is the execution policy applied to every order task.
type TaskOptions struct {
	MaxRetries int           `env:"TASK_MAX_RETRIES" envDefault:"1"`
	RetryDelay time.Duration `env:"TASK_RETRY_DELAY" envDefault:"10s"`
	Timeout    time.Duration `env:"TASK_TIMEOUT" envDefault:"60s"`
	Workers    int           `env:"TASK_WORKERS" envDefault:"10"`
}

// RetryPolicy converts the options into a dispatch retry policy.
func (t TaskOptions) RetryPolicy() dispatch.RetryPolicy {
	return dispatch.RetryPolicy{MaxRetries: t.MaxRetries, Delay: t.RetryDelay}
}

// AMQPOptions configures the optional "amqp" reply channel. It is disabled
// while URL is empty.
type AMQPOptions struct {
	URL           string        `env:"AMQP_URL"`
	Exchange      string        `env:"AMQP_EXCHANGE" envDefault:"orderdesk.responses"`
	RoutingPrefix string        `env:"AMQP_ROUTING_PREFIX" envDefault:"order.result"`
	DialTimeout   time.Duration `env:"AMQP_DIAL_TIMEOUT" envDefault:"30s"`
}

// Enabled reports whether a broker is configured.
func (a AMQPOptions) Enabled() bool {
	return a.URL != ""
}

// Config holds all service settings.
type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"orderdesk.db"`
	// LogLevel accepts slog level names such as "debug", "WARN" or "info+2".
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	// AuthzPolicyPath overrides the embedded role policy when set.
	AuthzPolicyPath string `env:"AUTHZ_POLICY_PATH"`

	Task TaskOptions
	AMQP AMQPOptions
}

// Load reads the given .env files, skipping missing ones, then parses the
// environment. Variables already set in the environment win over file values.
func Load(envFiles ...string) (Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}
	return nil
}

// Validate checks settings that parse but make no sense.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH must not be empty"))
	}
	if c.Task.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("TASK_MAX_RETRIES must be non-negative, got %d", c.Task.MaxRetries))
	}
	if c.Task.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("TASK_RETRY_DELAY must be non-negative, got %s", c.Task.RetryDelay))
	}
	if c.Task.Workers < 1 {
		errs = append(errs, fmt.Errorf("TASK_WORKERS must be at least 1, got %d", c.Task.Workers))
	}
	return errors.Join(errs...)
}
