package scheduler

import (
	"time"
)

// Config controls scheduler intervals and job timeouts.
type Config struct {
	RunInterval     time.Duration
	JobTimeout      time.Duration
	PayoutInterval  time.Duration
	ReconcileMinAge time.Duration
	EnabledJobs     []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     time.Minute,
		JobTimeout:      30 * time.Second,
		PayoutInterval:  7 * 24 * time.Hour,
		ReconcileMinAge: 15 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.PayoutInterval <= 0 {
		c.PayoutInterval = defaults.PayoutInterval
	}
	if c.ReconcileMinAge <= 0 {
		c.ReconcileMinAge = defaults.ReconcileMinAge
	}
	return c
}
