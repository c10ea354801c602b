package scheduler

import (
	"time"

	"github.com/smallbiznis/storefront/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	// ReplayAfter is how long a recorded webhook delivery may stay unprocessed
	// before the replay job picks it up.
	ReplayAfter  time.Duration
	ReplayWindow time.Duration
	EnabledJobs  []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  time.Minute,
		BatchSize:    50,
		JobTimeout:   30 * time.Second,
		ReplayAfter:  5 * time.Minute,
		ReplayWindow: 24 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:  cfg.Scheduler.RunInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
		ReplayAfter:  cfg.Scheduler.ReplayAfter,
		ReplayWindow: cfg.Scheduler.ReplayWindow,
		EnabledJobs:  cfg.Scheduler.Jobs,
	}
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
	if c.ReplayAfter <= 0 {
		c.ReplayAfter = defaults.ReplayAfter
	}
	if c.ReplayWindow <= c.ReplayAfter {
		c.ReplayWindow = c.ReplayAfter + defaults.ReplayWindow
	}
	return c
}
