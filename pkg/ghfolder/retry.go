// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"math/rand"
	"time"
)

// RetryPolicy decides whether a failed attempt is retried and after what
// delay. It performs no waiting itself.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; it doubles per
	// attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// RateLimitMin is the minimum delay after a rate-limited attempt.
	RateLimitMin time.Duration

	// Jitter returns a random duration in [0, d). Nil uses math/rand;
	// tests pass a deterministic function.
	Jitter func(d time.Duration) time.Duration
}

// Decision is the outcome of RetryPolicy.Decide: Stop, or RetryAfter(Delay).
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Stop is the Decision that ends the retry loop.
var Stop = Decision{}

// NewRetryPolicy builds the policy described by cfg.
func NewRetryPolicy(cfg Settings) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  cfg.MaxRetries,
		BaseDelay:    cfg.BackoffInitial,
		MaxDelay:     cfg.BackoffMax,
		RateLimitMin: cfg.RateLimitMin,
	}
}

// Decide is called after attempt number attempt (1-based) failed with kind.
func (p RetryPolicy) Decide(attempt int, kind FailureKind) Decision {
	if !kind.Retryable() || attempt >= p.MaxAttempts {
		return Stop
	}

	d := p.backoff(attempt)
	if kind == KindRateLimit && d < p.RateLimitMin {
		d = p.RateLimitMin
	}
	return Decision{Retry: true, Delay: d}
}

// backoff returns min(base*2^(attempt-1) + jitter, MaxDelay).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > 0 {
		d += p.jitter(d)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) jitter(d time.Duration) time.Duration {
	if p.Jitter != nil {
		return p.Jitter(d)
	}
	return time.Duration(rand.Int63n(int64(d)))
}
