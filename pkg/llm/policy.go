package llm

import (
	"fmt"
	"time"
)

// RetryPolicy bounds how a Caller retries. It is shared read-only by all sessions.
type RetryPolicy struct {
	MaxAttempts            int           `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay              time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay               time.Duration `json:"max_delay" mapstructure:"max_delay"`
	PerAttemptTimeout      time.Duration `json:"per_attempt_timeout" mapstructure:"per_attempt_timeout"`
	MaxConsecutiveTimeouts int           `json:"max_consecutive_timeouts" mapstructure:"max_consecutive_timeouts"`
	ParseRetries           int           `json:"parse_retries" mapstructure:"parse_retries"`
}

// DefaultRetryPolicy returns the stock policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:            3,
		BaseDelay:              time.Second,
		MaxDelay:               time.Minute,
		PerAttemptTimeout:      240 * time.Second,
		MaxConsecutiveTimeouts: 3,
		ParseRetries:           0,
	}
}

// Delay returns the wait after the given failed attempt (1-based): base * 2^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("retry base_delay must not be negative")
	}
	if p.PerAttemptTimeout <= 0 {
		return fmt.Errorf("retry per_attempt_timeout must be positive")
	}
	if p.MaxConsecutiveTimeouts < 1 {
		return fmt.Errorf("retry max_consecutive_timeouts must be at least 1")
	}
	// The timeout breaker must be reachable within a single call.
	if p.MaxAttempts < p.MaxConsecutiveTimeouts {
		return fmt.Errorf("retry max_attempts (%d) must be at least max_consecutive_timeouts (%d)",
			p.MaxAttempts, p.MaxConsecutiveTimeouts)
	}
	if p.ParseRetries < 0 {
		return fmt.Errorf("retry parse_retries must not be negative")
	}
	return nil
}
