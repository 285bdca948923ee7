package utils

import "time"

const (
	DefaultReconnectBase = 500 * time.Millisecond
	DefaultReconnectMax  = 5 * time.Second
)

type ReconnectStrategy interface {
	NextDelay() time.Duration
	Reset()
	Attempt() int
}

// ExponentialBackoff yields min(max, base*2^attempt) and then increments
// attempt. The counter keeps growing after the delay saturates.
type ExponentialBackoff struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	attempt   int
}

func NewExponentialBackoff() *ExponentialBackoff {
	return NewExponentialBackoffWith(DefaultReconnectBase, DefaultReconnectMax)
}

func NewExponentialBackoffWith(base, max time.Duration) *ExponentialBackoff {
	if base <= 0 {
		base = DefaultReconnectBase
	}
	if max < base {
		max = base
	}
	return &ExponentialBackoff{
		baseDelay: base,
		maxDelay:  max,
	}
}

func (e *ExponentialBackoff) NextDelay() time.Duration {
	delay := e.baseDelay
	for i := 0; i < e.attempt && delay < e.maxDelay; i++ {
		delay *= 2
	}
	if delay > e.maxDelay {
		delay = e.maxDelay
	}
	e.attempt++
	return delay
}

func (e *ExponentialBackoff) Reset() {
	e.attempt = 0
}

func (e *ExponentialBackoff) Attempt() int {
	return e.attempt
}
