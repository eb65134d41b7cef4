package durable

import "time"

// RetryPolicy controls how a failed external call is reattempted.
// Intervals grow geometrically from InitialInterval by BackoffCoefficient,
// capped at MaxInterval.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`

	// InitialInterval is the delay before the second attempt.
	InitialInterval time.Duration `json:"initial_interval" mapstructure:"initial_interval"`

	// BackoffCoefficient multiplies the interval after each failure.
	BackoffCoefficient float64 `json:"backoff_coefficient" mapstructure:"backoff_coefficient"`

	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration `json:"max_interval" mapstructure:"max_interval"`
}

// DefaultRetryPolicy returns the policy applied to every external call
// unless overridden: 3 attempts, 1s initial backoff doubling to a 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        3,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        30 * time.Second,
	}
}

// Interval returns the delay to wait after the given failed attempt
// (1-indexed) before the next one.
func (p RetryPolicy) Interval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialInterval
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffCoefficient)
		if p.MaxInterval > 0 && d >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}
