package resilience

import "time"

// Config tunes retries, the circuit breaker and the call rate of an external dependency
type Config struct {
	RetryMaxAttempts    int           `mapstructure:"retry_max_attempts"`
	RetryInitialBackoff time.Duration `mapstructure:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `mapstructure:"retry_max_backoff"`
	RetryMultiplier     float64       `mapstructure:"retry_multiplier"`

	BreakerEnabled          bool          `mapstructure:"breaker_enabled"`
	BreakerMinRequests      uint32        `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio     float64       `mapstructure:"breaker_failure_ratio"`
	BreakerOpenTimeout      time.Duration `mapstructure:"breaker_open_timeout"`
	BreakerHalfOpenMaxCalls uint32        `mapstructure:"breaker_half_open_max_calls"`

	// RatePerMinute caps outgoing calls; 0 disables the limiter
	RatePerMinute int `mapstructure:"rate_per_minute"`
	Burst         int `mapstructure:"burst"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 200 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Second,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,

		RatePerMinute: 30,
		Burst:         5,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	if out.RatePerMinute > 0 && out.Burst <= 0 {
		out.Burst = 1
	}

	return out
}
