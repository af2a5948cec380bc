package orchestrator

import (
	"log/slog"
	"time"

	"github.com/mkrausse/routeopt/pkg/clock"
)

// Defaults for the orchestrator configuration.
const (
	DefaultMaxConcurrentJobs     = 3
	DefaultStaleRunningThreshold = 10 * time.Minute
	DefaultConfirmationWindow    = 5 * time.Minute
	DefaultJobTimeout            = 60 * time.Second
	DefaultMaintenanceSchedule   = "@every 5m"
)

// Config holds orchestrator configuration.
type Config struct {
	// MaxConcurrentJobs bounds solver invocations across all
	// companies.
	MaxConcurrentJobs int

	// StaleRunningThreshold is how long a lock holder may stay
	// running before it is presumed hung and its lock reassigned.
	StaleRunningThreshold time.Duration

	// ConfirmationWindow is how long a completed job retains its
	// company lock awaiting plan confirmation.
	ConfirmationWindow time.Duration

	// DefaultTimeout applies when the caller supplies no budget.
	// Caller-supplied budgets are clamped by pkg/security either way.
	DefaultTimeout time.Duration

	// MaintenanceSchedule is a cron spec for the expired-lock sweep.
	// Empty disables the sweep.
	MaintenanceSchedule string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Option modifies Config.
type Option func(*Config)

// MaxConcurrent sets the global concurrency ceiling.
func MaxConcurrent(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxConcurrentJobs = n
		}
	}
}

// StaleRunningThreshold sets the lock staleness window.
func StaleRunningThreshold(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.StaleRunningThreshold = d
		}
	}
}

// ConfirmationWindow sets the post-completion lock retention window.
func ConfirmationWindow(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ConfirmationWindow = d
		}
	}
}

// DefaultTimeout sets the fallback solver budget.
func DefaultTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.DefaultTimeout = d
		}
	}
}

// MaintenanceSchedule sets the cron spec for the expired-lock sweep.
// An empty spec disables it.
func MaintenanceSchedule(spec string) Option {
	return func(c *Config) { c.MaintenanceSchedule = spec }
}

// WithClock injects a clock, letting tests simulate time.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		if clk != nil {
			c.Clock = clk
		}
	}
}

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

func defaultConfig() Config {
	return Config{
		MaxConcurrentJobs:     DefaultMaxConcurrentJobs,
		StaleRunningThreshold: DefaultStaleRunningThreshold,
		ConfirmationWindow:    DefaultConfirmationWindow,
		DefaultTimeout:        DefaultJobTimeout,
		MaintenanceSchedule:   DefaultMaintenanceSchedule,
		Clock:                 clock.New(),
		Logger:                slog.Default(),
	}
}
