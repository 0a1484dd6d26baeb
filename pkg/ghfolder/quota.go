// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"context"
	"sync"
	"time"
)

// QuotaOptions configures a QuotaTracker.
type QuotaOptions struct {
	// Disabled makes Reserve always grant immediately.
	Disabled bool

	// Buffer is the remaining count at or below which requests are held.
	Buffer int

	// LowBand is the width of the band above Buffer in which permits are
	// granted with a proportional delay. Zero uses Buffer.
	LowBand int

	// MaxDelay caps the proportional delay in the low band.
	MaxDelay time.Duration

	// PollInterval is the wait when the quota is exhausted but the reset
	// time is unknown.
	PollInterval time.Duration

	// MaxWait is the hard ceiling for the total wait of one Wait call.
	// Zero means no ceiling.
	MaxWait time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultQuotaOptions returns the options used by Download.
func DefaultQuotaOptions() QuotaOptions {
	return QuotaOptions{
		Buffer:       100,
		MaxDelay:     2 * time.Second,
		PollInterval: 30 * time.Second,
		MaxWait:      time.Hour,
	}
}

// Reservation is the answer to Reserve: a permit (Granted, possibly with a
// pacing Delay) or a MustWait of Delay before asking again.
type Reservation struct {
	Granted bool
	Delay   time.Duration
}

// QuotaTracker keeps the remote API budget shared by all workers.
// It is safe for concurrent use.
type QuotaTracker struct {
	opts QuotaOptions

	mu         sync.Mutex
	known      bool
	remaining  int
	limit      int
	resetAt    time.Time
	probeAfter time.Time
}

// NewQuotaTracker creates a tracker with no observed state; until the
// first Observe every Reserve is granted.
func NewQuotaTracker(opts QuotaOptions) *QuotaTracker {
	if opts.LowBand <= 0 {
		opts.LowBand = opts.Buffer
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &QuotaTracker{opts: opts}
}

// Observe records the quota reported by the latest response.
func (q *QuotaTracker) Observe(remaining int, resetAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// Responses can arrive out of order; inside one window the count only falls.
	if q.known && !resetAt.IsZero() && resetAt.Equal(q.resetAt) && remaining > q.remaining {
		return
	}
	q.known = true
	q.remaining = remaining
	q.resetAt = resetAt
	q.probeAfter = time.Time{}
}

// ObserveInfo is Observe for a QuotaInfo; unknown infos are ignored.
func (q *QuotaTracker) ObserveInfo(info QuotaInfo) {
	if !info.Known {
		return
	}
	if info.Limit > 0 {
		q.mu.Lock()
		q.limit = info.Limit
		q.mu.Unlock()
	}
	q.Observe(info.Remaining, info.ResetAt)
}

// Remaining returns the tracked remaining count, or -1 if unknown.
func (q *QuotaTracker) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.known {
		return -1
	}
	return q.remaining
}

// Snapshot returns the tracked state.
func (q *QuotaTracker) Snapshot() QuotaInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QuotaInfo{Known: q.known, Limit: q.limit, Remaining: q.remaining, ResetAt: q.resetAt}
}

// Reserve asks for permission to make one remote call.
func (q *QuotaTracker) Reserve() Reservation {
	if q.opts.Disabled {
		return Reservation{Granted: true}
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.known {
		return Reservation{Granted: true}
	}

	now := q.opts.Now()
	if q.remaining <= q.opts.Buffer {
		switch {
		case q.resetAt.IsZero():
			// No reset time: one call per poll interval checks for recovery;
			// everyone else keeps waiting for its response.
			if q.probeAfter.IsZero() {
				q.probeAfter = now.Add(q.opts.PollInterval)
			}
			if now.Before(q.probeAfter) {
				return Reservation{Delay: q.probeAfter.Sub(now)}
			}
			q.probeAfter = now.Add(q.opts.PollInterval)
			return Reservation{Granted: true}
		case !now.Before(q.resetAt):
			// The window rolled over; the next response tells us the new count.
			q.known = false
			return Reservation{Granted: true}
		default:
			return Reservation{Delay: q.resetAt.Sub(now) + time.Second}
		}
	}

	var delay time.Duration
	if above := q.remaining - q.opts.Buffer; above <= q.opts.LowBand && q.opts.MaxDelay > 0 {
		delay = time.Duration(int64(q.opts.MaxDelay) * int64(q.opts.LowBand-above+1) / int64(q.opts.LowBand+1))
	}
	q.remaining--
	return Reservation{Granted: true, Delay: delay}
}

// Wait blocks until a permit is granted. It returns ErrQuotaExhausted when
// the accumulated wait would exceed MaxWait, and ctx.Err() when ctx ends
// first. onWait, if non-nil, is called before each MustWait sleep.
func (q *QuotaTracker) Wait(ctx context.Context, onWait func(time.Duration)) error {
	var waited time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r := q.Reserve()
		if r.Granted {
			if r.Delay > 0 && !sleepCtx(ctx, r.Delay) {
				return ctx.Err()
			}
			return nil
		}
		waited += r.Delay
		if q.opts.MaxWait > 0 && waited > q.opts.MaxWait {
			return ErrQuotaExhausted
		}
		if onWait != nil {
			onWait(r.Delay)
		}
		if !sleepCtx(ctx, r.Delay) {
			return ctx.Err()
		}
	}
}
