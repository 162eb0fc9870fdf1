package forwarder

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines the backoff strategy interface
type BackoffStrategy interface {
	// NextDelay calculates the delay before the given retry attempt,
	// counted from 1.
	NextDelay(attempt int) time.Duration
}

// JitterFunc jitter function type
type JitterFunc func(time.Duration) time.Duration

// FullJitter returns a random delay within [0, delay)
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)))
}

// FixedBackoff implements fixed backoff strategy
type FixedBackoff struct {
	delay  time.Duration
	jitter JitterFunc
}

// NewFixedBackoff creates a fixed backoff strategy
func NewFixedBackoff(delay time.Duration) *FixedBackoff {
	return &FixedBackoff{delay: delay}
}

// WithJitter sets the jitter function
func (b *FixedBackoff) WithJitter(jitter JitterFunc) *FixedBackoff {
	b.jitter = jitter
	return b
}

// NextDelay calculates the delay for the next retry
func (b *FixedBackoff) NextDelay(attempt int) time.Duration {
	delay := b.delay
	if b.jitter != nil {
		delay = b.jitter(delay)
	}
	return delay
}

// ExponentialBackoff implements exponential backoff strategy
type ExponentialBackoff struct {
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
	jitter       JitterFunc
}

// NewExponentialBackoff creates an exponential backoff strategy with a
// doubling multiplier.
func NewExponentialBackoff(initialDelay, maxDelay time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		initialDelay: initialDelay,
		multiplier:   2.0,
		maxDelay:     maxDelay,
	}
}

// WithJitter sets the jitter function
func (b *ExponentialBackoff) WithJitter(jitter JitterFunc) *ExponentialBackoff {
	b.jitter = jitter
	return b
}

// NextDelay calculates the delay for the next retry
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	delay := time.Duration(float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt-1)))

	// limit maximum delay
	if delay > b.maxDelay || delay <= 0 {
		delay = b.maxDelay
	}

	if b.jitter != nil {
		delay = b.jitter(delay)
	}

	return delay
}
