package service

import "time"

type Config struct {
	// MaxAttempts bounds calls against the provider per document.
	MaxAttempts int
	// AttemptTimeout applies to each provider call individually.
	AttemptTimeout time.Duration
	// BackoffBase and BackoffCap shape the exponential delay between attempts.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// ConfidenceThreshold flags, but never fails, low quality extractions.
	ConfidenceThreshold float64
	// TotalsTolerance is the allowed drift in subtotal + tax vs total.
	TotalsTolerance float64
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 45 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Second
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.TotalsTolerance <= 0 {
		c.TotalsTolerance = 0.05
	}
	return c
}
