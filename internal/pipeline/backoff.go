package pipeline

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds retries of transient remote failures.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	JitterFrac   float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFrac:   0.2,
	}
}

// ShouldRetry reports whether another attempt is allowed after `failures` failed attempts
// of one phase. MaxAttempts counts the first call.
func (r RetryPolicy) ShouldRetry(failures int) bool {
	max := r.MaxAttempts
	if max < 1 {
		max = 1
	}
	return failures < max
}

// RunBudget caps the retries of a whole run across all phases.
func (r RetryPolicy) RunBudget() int {
	max := r.MaxAttempts
	if max < 1 {
		max = 1
	}
	return (max - 1) * len(Phases)
}

// Backoff returns the jittered exponential delay before retry number `retry` (1-based).
func (r RetryPolicy) Backoff(retry int) time.Duration {
	minB := r.InitialDelay
	maxB := r.MaxDelay
	j := r.JitterFrac
	if minB <= 0 {
		minB = time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	if j < 0 {
		j = 0
	}
	if retry < 1 {
		retry = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(retry-1)))
	if d > maxB || d <= 0 {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	out := time.Duration(low + rand.Float64()*(high-low))
	if out > maxB {
		out = maxB
	}
	return out
}
