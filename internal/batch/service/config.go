package service

// Config controls batch admission and worker pool sizing.
type Config struct {
	// MaxBatchSize caps documents accepted per Submit call.
	MaxBatchSize int
	// DefaultConcurrency is used when Options leave MaxConcurrency unset.
	DefaultConcurrency int
	// ConcurrencyCeiling is the hard upper bound for requested concurrency.
	ConcurrencyCeiling int
}

func DefaultConfig() Config {
	return Config{
		MaxBatchSize:       20,
		DefaultConcurrency: 3,
		ConcurrencyCeiling: 10,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaults.MaxBatchSize
	}
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = defaults.DefaultConcurrency
	}
	if c.ConcurrencyCeiling <= 0 {
		c.ConcurrencyCeiling = defaults.ConcurrencyCeiling
	}
	if c.DefaultConcurrency > c.ConcurrencyCeiling {
		c.DefaultConcurrency = c.ConcurrencyCeiling
	}
	return c
}

// clampConcurrency resolves the effective worker count for one batch.
func (c Config) clampConcurrency(requested int) int {
	if requested <= 0 {
		return c.DefaultConcurrency
	}
	if requested > c.ConcurrencyCeiling {
		return c.ConcurrencyCeiling
	}
	return requested
}
