// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

// blobSHA returns the git object id of content.
func blobSHA(content string) string {
	h := newBlobHash(int64(len(content)))
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// descFor builds a descriptor whose Ref is its path.
func descFor(path, content string) FileDescriptor {
	return FileDescriptor{Path: path, Token: blobSHA(content), Size: int64(len(content)), Ref: path}
}

// fakeTransport serves files by ref and can fail the first calls of a ref.
type fakeTransport struct {
	mu       sync.Mutex
	files    map[string]string
	failures map[string][]error
	calls    map[string]int
	total    atomic.Int64

	// inflight tracks concurrent fetches; peak is the maximum seen.
	inflight atomic.Int64
	peak     atomic.Int64
	hold     time.Duration

	quota QuotaInfo
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		files:    make(map[string]string),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeTransport) add(d FileDescriptor, content string) {
	f.mu.Lock()
	f.files[d.Ref] = content
	f.mu.Unlock()
}

func (f *fakeTransport) failFirst(ref string, errs ...error) {
	f.mu.Lock()
	f.failures[ref] = append(f.failures[ref], errs...)
	f.mu.Unlock()
}

func (f *fakeTransport) callsFor(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ref]
}

func (f *fakeTransport) Fetch(ctx context.Context, ref string) (io.ReadCloser, QuotaInfo, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.total.Add(1)

	f.mu.Lock()
	f.calls[ref]++
	var err error
	if errs := f.failures[ref]; len(errs) > 0 {
		err = errs[0]
		f.failures[ref] = errs[1:]
	}
	content, ok := f.files[ref]
	f.mu.Unlock()

	if f.hold > 0 && !sleepCtx(ctx, f.hold) {
		return nil, f.quota, ctx.Err()
	}
	if err != nil {
		return nil, f.quota, err
	}
	if !ok {
		return nil, f.quota, &APIError{StatusCode: http.StatusNotFound, Status: "404 Not Found"}
	}
	return io.NopCloser(bytes.NewReader([]byte(content))), f.quota, nil
}

// fakeResolver returns a fixed resolution.
type fakeResolver struct {
	res   *Resolution
	err   error
	calls atomic.Int64
}

func (r *fakeResolver) Resolve(_ context.Context, t Target) (*Resolution, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	out := *r.res
	out.Target = t
	return &out, nil
}

// eventLog collects progress events.
type eventLog struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (l *eventLog) add(ev ProgressEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Event == name {
			n++
		}
	}
	return n
}

func (l *eventLog) byName(name string) []ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ProgressEvent
	for _, ev := range l.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

// fastPolicy retries quickly and deterministically.
func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  attempts,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		RateLimitMin: time.Millisecond,
		Jitter:       func(time.Duration) time.Duration { return 0 },
	}
}

// newMemCache opens an in-memory cache store.
func newMemCache(t *testing.T) (*CacheStore, *blob.Bucket) {
	t.Helper()
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })
	c, err := NewCacheStore(ctx, bucket)
	require.NoError(t, err)
	return c, bucket
}

// assertNoTempFiles fails if dir still holds an in-progress download.
func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	left, err := filepath.Glob(filepath.Join(dir, "*.part"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

var errReset = errors.New("connection reset by peer")
