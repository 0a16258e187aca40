package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type WorkshopAPIOptions struct {
	URL     string        `env:"WORKSHOP_API_URL,required"`
	Timeout time.Duration `env:"WORKSHOP_API_TIMEOUT" envDefault:"10s"`

	BreakerFailures    uint32        `env:"WORKSHOP_API_BREAKER_FAILURES" envDefault:"5"`
	BreakerOpenTimeout time.Duration `env:"WORKSHOP_API_BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
}

type BoardOptions struct {
	RefreshInterval     time.Duration `env:"REFRESH_INTERVAL" envDefault:"30s"`
	ManualRefreshPerSec float64       `env:"MANUAL_REFRESH_RATE" envDefault:"1"`
	ManualRefreshBurst  int           `env:"MANUAL_REFRESH_BURST" envDefault:"1"`
	// YAML transition field table replacing the built-in one
	TransitionFieldsFile string `env:"TRANSITION_FIELDS_FILE"`
}

type ReconciliationOptions struct {
	PollAttempts int           `env:"POLL_ATTEMPTS" envDefault:"4"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
}

type IdempotencyOptions struct {
	Retention   time.Duration `env:"IDEMPOTENCY_RETENTION" envDefault:"24h"`
	CleanupSpec string        `env:"IDEMPOTENCY_CLEANUP_CRON" envDefault:"0 0 * * * *"`
}

type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"workshop-board"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// jaeger reads its own JAEGER_* variables
	TracingEnabled bool          `env:"TRACING_ENABLED" envDefault:"false"`
	ToastTTL       time.Duration `env:"TOAST_TTL" envDefault:"5s"`

	WorkshopAPI    WorkshopAPIOptions
	Board          BoardOptions
	Reconciliation ReconciliationOptions
	Idempotency    IdempotencyOptions
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the given variables only.
func LoadFrom(environment map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (*Config, error) {
	c := &Config{}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.WorkshopAPI.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("WORKSHOP_API_TIMEOUT must be positive, got %s", c.WorkshopAPI.Timeout))
	}
	if c.Board.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", c.Board.RefreshInterval))
	}
	if c.Board.ManualRefreshPerSec <= 0 || c.Board.ManualRefreshBurst < 1 {
		errs = append(errs, errors.New("MANUAL_REFRESH_RATE must be positive and MANUAL_REFRESH_BURST at least 1"))
	}
	if c.Reconciliation.PollAttempts < 1 {
		errs = append(errs, fmt.Errorf("POLL_ATTEMPTS must be at least 1, got %d", c.Reconciliation.PollAttempts))
	}
	if c.Reconciliation.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Reconciliation.PollInterval))
	}
	if c.ToastTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOAST_TTL must be positive, got %s", c.ToastTTL))
	}
	if c.Idempotency.Retention <= 0 {
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_RETENTION must be positive, got %s", c.Idempotency.Retention))
	}
	return errors.Join(errs...)
}
