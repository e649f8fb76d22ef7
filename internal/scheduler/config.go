package scheduler

import (
	"time"

	"github.com/smallbiznis/fortuna/internal/config"
)

// Config controls scheduler intervals and batch sizes. StuckUsageAfter must
// exceed the worker job timeout.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	JobTimeout        time.Duration
	StaleUsageAfter   time.Duration
	StuckUsageAfter   time.Duration
	StalePaymentAfter time.Duration
	LockTTL           time.Duration
	// EnabledJobs limits the run to the named jobs; empty runs all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		JobTimeout:        30 * time.Second,
		StaleUsageAfter:   5 * time.Minute,
		StuckUsageAfter:   10 * time.Minute,
		StalePaymentAfter: 15 * time.Minute,
		LockTTL:           2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	if cfg.Pipeline.StalePendingSeconds > 0 {
		c.StaleUsageAfter = time.Duration(cfg.Pipeline.StalePendingSeconds) * time.Second
	}
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.StaleUsageAfter <= 0 {
		c.StaleUsageAfter = defaults.StaleUsageAfter
	}
	if c.StuckUsageAfter <= 0 {
		c.StuckUsageAfter = defaults.StuckUsageAfter
	}
	if c.StalePaymentAfter <= 0 {
		c.StalePaymentAfter = defaults.StalePaymentAfter
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
