// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock for the tracker.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(buffer int) (*QuotaTracker, *fakeClock) {
	clk := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQuotaTracker(QuotaOptions{
		Buffer:       buffer,
		MaxDelay:     2 * time.Second,
		PollInterval: 30 * time.Second,
		Now:          clk.Now,
	})
	return q, clk
}

func TestQuota_UnknownGrants(t *testing.T) {
	q, _ := newTestTracker(100)
	r := q.Reserve()
	assert.True(t, r.Granted)
	assert.Zero(t, r.Delay)
	assert.Equal(t, -1, q.Remaining())
}

func TestQuota_AtOrBelowBufferMustWait(t *testing.T) {
	for _, rem := range []int{5, 99, 100} {
		q, clk := newTestTracker(100)
		q.Observe(rem, clk.Now().Add(10*time.Minute))
		r := q.Reserve()
		assert.False(t, r.Granted, "remaining=%d", rem)
		assert.Equal(t, 10*time.Minute+time.Second, r.Delay)
	}
}

func TestQuota_PlentyGrantsWithoutDelay(t *testing.T) {
	q, clk := newTestTracker(100)
	q.Observe(5000, clk.Now().Add(time.Hour))

	r := q.Reserve()
	assert.True(t, r.Granted)
	assert.Zero(t, r.Delay)
	assert.Equal(t, 4999, q.Remaining())
}

func TestQuota_LowBandDelayGrowsAsBudgetShrinks(t *testing.T) {
	q, clk := newTestTracker(100)
	reset := clk.Now().Add(time.Hour)

	var last time.Duration
	for rem := 200; rem > 100; rem -= 20 {
		q.Observe(rem, reset.Add(time.Duration(rem)*time.Second)) // new window each time
		r := q.Reserve()
		require.True(t, r.Granted)
		assert.GreaterOrEqual(t, r.Delay, last)
		assert.LessOrEqual(t, r.Delay, 2*time.Second)
		last = r.Delay
	}
	assert.Greater(t, last, time.Duration(0))
}

func TestQuota_ReservesNeverGoBelowBuffer(t *testing.T) {
	q, clk := newTestTracker(10)
	q.Observe(15, clk.Now().Add(time.Hour))

	granted := 0
	for i := 0; i < 20; i++ {
		if q.Reserve().Granted {
			granted++
		}
	}
	assert.Equal(t, 5, granted)
	assert.Equal(t, 10, q.Remaining())
}

func TestQuota_SameWindowNeverRaisesCount(t *testing.T) {
	q, clk := newTestTracker(100)
	reset := clk.Now().Add(time.Hour)

	q.Observe(500, reset)
	q.Observe(800, reset)
	assert.Equal(t, 500, q.Remaining())

	q.Observe(5000, reset.Add(time.Hour))
	assert.Equal(t, 5000, q.Remaining())
}

func TestQuota_ResetPassedAllowsProbe(t *testing.T) {
	q, clk := newTestTracker(100)
	q.Observe(0, clk.Now().Add(time.Minute))
	assert.False(t, q.Reserve().Granted)

	clk.Advance(2 * time.Minute)
	assert.True(t, q.Reserve().Granted)
	assert.Equal(t, -1, q.Remaining())
}

func TestQuota_UnknownResetProbesAfterPoll(t *testing.T) {
	q, clk := newTestTracker(100)
	q.Observe(0, time.Time{})

	r := q.Reserve()
	require.False(t, r.Granted)
	assert.Equal(t, 30*time.Second, r.Delay)

	clk.Advance(31 * time.Second)
	assert.True(t, q.Reserve().Granted)

	// Only one call goes out per interval; the rest wait for its answer.
	for i := 0; i < 5; i++ {
		r = q.Reserve()
		assert.False(t, r.Granted)
		assert.Equal(t, 30*time.Second, r.Delay)
	}
	assert.Equal(t, 0, q.Remaining(), "state stays known while exhausted")

	clk.Advance(30 * time.Second)
	assert.True(t, q.Reserve().Granted)
	assert.False(t, q.Reserve().Granted)

	// A recovered count lifts the hold for everyone.
	q.Observe(5000, time.Time{})
	for i := 0; i < 5; i++ {
		assert.True(t, q.Reserve().Granted)
	}
}

func TestQuota_UnknownResetConcurrentWaiters(t *testing.T) {
	q, clk := newTestTracker(100)
	q.Observe(0, time.Time{})
	require.False(t, q.Reserve().Granted)
	clk.Advance(31 * time.Second)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if q.Reserve().Granted {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), granted.Load())
}

func TestQuota_Disabled(t *testing.T) {
	q := NewQuotaTracker(QuotaOptions{Disabled: true, Buffer: 100})
	q.Observe(0, time.Now().Add(time.Hour))
	assert.True(t, q.Reserve().Granted)
}

func TestQuota_WaitExhausted(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	q := NewQuotaTracker(QuotaOptions{Buffer: 100, MaxWait: time.Minute, Now: clk.Now})
	q.Observe(5, clk.Now().Add(time.Hour))

	var waits int
	err := q.Wait(context.Background(), func(time.Duration) { waits++ })
	assert.True(t, errors.Is(err, ErrQuotaExhausted))
	assert.Zero(t, waits)
}

func TestQuota_WaitCanceled(t *testing.T) {
	q := NewQuotaTracker(QuotaOptions{Buffer: 100})
	q.Observe(5, time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := q.Wait(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestQuota_ObserveInfoIgnoresUnknown(t *testing.T) {
	q, _ := newTestTracker(100)
	q.ObserveInfo(QuotaInfo{})
	assert.Equal(t, -1, q.Remaining())

	q.ObserveInfo(QuotaInfo{Known: true, Limit: 5000, Remaining: 4000})
	snap := q.Snapshot()
	assert.Equal(t, 5000, snap.Limit)
	assert.Equal(t, 4000, snap.Remaining)
}
