// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"context"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"os"
	"path/filepath"
	"time"
)

// progressReader wraps an io.Reader and emits progress events during reads.
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	path       string
	emit       func(ProgressEvent)
	lastEmit   time.Time
	interval   time.Duration
}

func newProgressReader(r io.Reader, total int64, path string, emit func(ProgressEvent)) *progressReader {
	return &progressReader{
		reader:   r,
		total:    total,
		path:     path,
		emit:     emit,
		lastEmit: time.Now(),
		interval: 200 * time.Millisecond,
	}
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	pr.downloaded += int64(n)
	if (n > 0 && time.Since(pr.lastEmit) >= pr.interval) || err == io.EOF {
		pr.emit(ProgressEvent{
			Event:      "file_progress",
			Path:       pr.path,
			Downloaded: pr.downloaded,
			Total:      pr.total,
		})
		pr.lastEmit = time.Now()
	}
	return n, err
}

// fileWriter tags write failures as local I/O errors so they are not retried.
type fileWriter struct {
	f *os.File
}

func (w fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, &localIOError{Op: "write", Err: err}
	}
	return n, nil
}

// Worker transfers single files. Workers share only the quota tracker and
// the cache store, both of which are synchronized.
type Worker struct {
	Transport Transport

	// Quota gates every fetch; nil disables gating.
	Quota *QuotaTracker

	// Cache receives verified downloads; nil disables recording.
	Cache *CacheStore

	// Repo is the repository identity used for cache keys.
	Repo string

	Policy RetryPolicy

	// Verify is VerifyNone, VerifySize or VerifyHash.
	Verify string

	// Emit receives file_start, file_progress, retry and quota_wait events.
	Emit func(ProgressEvent)
}

func (w *Worker) emit(ev ProgressEvent) {
	if w.Emit != nil {
		w.Emit(ev)
	}
}

// Transfer downloads d to dst, retrying per the policy. The destination is
// only ever replaced by a complete, verified file.
func (w *Worker) Transfer(ctx context.Context, d FileDescriptor, dst string) TransferResult {
	start := time.Now()
	res := TransferResult{Descriptor: d, LocalPath: dst}

	fail := func(kind FailureKind, err error) TransferResult {
		res.Outcome = Failed
		res.Kind = kind
		res.Err = &TransferError{Path: d.Path, Kind: kind, Attempts: res.Attempts, Err: err}
		res.Duration = time.Since(start)
		return res
	}

	if w.Transport == nil {
		return fail(KindFatal, ErrNoTransport)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fail(KindFatal, &localIOError{Op: "mkdir", Err: err})
	}

	w.emit(ProgressEvent{Event: "file_start", Path: d.Path, Total: d.Size})

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		n, binary, err := w.attempt(ctx, d, dst)
		if err == nil {
			res.Outcome = Downloaded
			res.Bytes = n
			res.Binary = binary
			res.Duration = time.Since(start)
			return res
		}

		kind := Classify(err)
		if ctx.Err() != nil {
			kind = KindCanceled
		}
		if errors.Is(err, ErrQuotaExhausted) {
			return fail(kind, err)
		}

		dec := w.Policy.Decide(attempt, kind)
		if !dec.Retry {
			return fail(kind, err)
		}
		delay := dec.Delay
		var apiErr *APIError
		if kind == KindRateLimit && errors.As(err, &apiErr) && apiErr.RetryAfter > delay {
			delay = apiErr.RetryAfter
		}

		w.emit(ProgressEvent{
			Level:    "warn",
			Event:    "retry",
			Path:     d.Path,
			Attempt:  attempt,
			Kind:     kind,
			Duration: delay,
			Message:  err.Error(),
		})
		if !sleepCtx(ctx, delay) {
			return fail(KindCanceled, ctx.Err())
		}
	}
}

// attempt performs one permit, fetch, write, verify and rename cycle.
func (w *Worker) attempt(ctx context.Context, d FileDescriptor, dst string) (int64, bool, error) {
	if w.Quota != nil {
		err := w.Quota.Wait(ctx, func(wait time.Duration) {
			w.emit(ProgressEvent{Level: "warn", Event: "quota_wait", Path: d.Path, Duration: wait,
				QuotaRemaining: w.Quota.Remaining(), Message: "waiting for API quota"})
		})
		if err != nil {
			return 0, false, err
		}
	}

	body, info, err := w.Transport.Fetch(ctx, d.Ref)
	if w.Quota != nil {
		w.Quota.ObserveInfo(info)
	}
	if err != nil {
		return 0, false, err
	}
	defer body.Close()

	// A unique hidden name: "x.part" may itself be a file of the folder.
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, false, &localIOError{Op: "create", Err: err}
	}
	tmp := f.Name()
	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}
	if err := f.Chmod(0o644); err != nil {
		cleanup()
		return 0, false, &localIOError{Op: "chmod", Err: err}
	}

	sniff := &headSniffer{}
	writers := []io.Writer{fileWriter{f}, sniff}
	var h hash.Hash
	if w.Verify == VerifyHash {
		h = newBlobHash(d.Size)
		writers = append(writers, h)
	}

	pr := newProgressReader(body, d.Size, d.Path, w.emit)
	n, err := io.Copy(io.MultiWriter(writers...), pr)
	if err != nil {
		cleanup()
		return n, false, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return n, false, &localIOError{Op: "close", Err: err}
	}

	var sum string
	if h != nil {
		sum = hex.EncodeToString(h.Sum(nil))
	}
	if err := verifyWritten(w.Verify, d, n, sum); err != nil {
		os.Remove(tmp)
		return n, false, err
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return n, false, &localIOError{Op: "rename", Err: err}
	}

	if w.Cache != nil && w.Verify != VerifyNone {
		if err := w.Cache.Record(context.WithoutCancel(ctx), w.Repo, d.Path, d.Token, n, dst); err != nil {
			w.emit(ProgressEvent{Level: "warn", Event: "cache_error", Path: d.Path, Message: err.Error()})
		}
	}
	return n, looksBinary(sniff.buf), nil
}
