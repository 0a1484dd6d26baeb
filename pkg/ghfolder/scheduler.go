// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Scheduler dispatches descriptors to a bounded pool of transfers.
type Scheduler struct {
	// Worker performs the transfers; its Transport must be set.
	Worker *Worker

	// Cache is consulted before dispatch; nil disables skipping.
	Cache *CacheStore

	// MaxConcurrency bounds simultaneous transfers; values below 1 mean 1.
	MaxConcurrency int

	// OutputDir is joined with each descriptor path to form its destination.
	OutputDir string

	// Emit receives one terminal event per descriptor: file_done,
	// file_skip or file_error.
	Emit func(ProgressEvent)
}

func (s *Scheduler) emit(ev ProgressEvent) {
	if s.Emit != nil {
		s.Emit(ev)
	}
}

// Destination returns the local path for a repository-relative path.
func (s *Scheduler) Destination(rel string) string {
	return filepath.Join(s.OutputDir, filepath.FromSlash(rel))
}

// Run transfers descs and returns once every descriptor has a result.
// A single failed file never stops the run. The returned error is non-nil
// only for run-level conditions: cancellation of ctx, ErrNoTransport, or
// ErrQuotaExhausted. Stats are returned in every case.
func (s *Scheduler) Run(ctx context.Context, descs []FileDescriptor) (*SessionStats, error) {
	stats := newSessionStats(len(descs))
	defer stats.finish()

	if s.Worker == nil || s.Worker.Transport == nil {
		for _, d := range descs {
			s.record(stats, TransferResult{Descriptor: d, Outcome: Failed, Kind: KindFatal,
				Err: &TransferError{Path: d.Path, Kind: KindFatal, Err: ErrNoTransport}})
		}
		return stats, ErrNoTransport
	}

	n := s.MaxConcurrency
	if n < 1 {
		n = 1
	}
	sem := semaphore.NewWeighted(int64(n))

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	var wg sync.WaitGroup
	seen := make(map[string]struct{}, len(descs))
	repo := s.Worker.Repo

	for i, d := range descs {
		if runCtx.Err() != nil {
			s.cancelRest(stats, descs[i:], context.Cause(runCtx))
			break
		}

		rel := cleanRelPath(d.Path)
		if rel == "" || d.Ref == "" {
			s.record(stats, fatalResult(d, fmt.Errorf("%w: path %q ref %q", ErrMalformedDescriptor, d.Path, d.Ref)))
			continue
		}
		dst := s.Destination(rel)
		if _, dup := seen[dst]; dup {
			s.record(stats, fatalResult(d, fmt.Errorf("%w: %s", ErrDuplicatePath, d.Path)))
			continue
		}
		seen[dst] = struct{}{}

		if s.Cache != nil && s.Cache.Lookup(repo, d.Path, d.Token, dst) == CacheHit {
			s.record(stats, TransferResult{Descriptor: d, Outcome: Skipped, LocalPath: dst})
			continue
		}

		// Blocks the dispatch loop, not the workers, while the pool is full.
		if err := sem.Acquire(runCtx, 1); err != nil {
			s.cancelRest(stats, descs[i:], context.Cause(runCtx))
			break
		}

		wg.Add(1)
		go func(d FileDescriptor, dst string) {
			defer wg.Done()
			defer sem.Release(1)

			r := s.Worker.Transfer(runCtx, d, dst)
			s.record(stats, r)
			if errors.Is(r.Err, ErrQuotaExhausted) {
				abort(ErrQuotaExhausted)
			}
		}(d, dst)
	}

	wg.Wait()

	if cause := context.Cause(runCtx); errors.Is(cause, ErrQuotaExhausted) {
		return stats, ErrQuotaExhausted
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func fatalResult(d FileDescriptor, err error) TransferResult {
	return TransferResult{
		Descriptor: d,
		Outcome:    Failed,
		Kind:       KindFatal,
		Err:        &TransferError{Path: d.Path, Kind: KindFatal, Err: err},
	}
}

// cancelRest records a canceled result for every descriptor not dispatched.
func (s *Scheduler) cancelRest(stats *SessionStats, rest []FileDescriptor, cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	for _, d := range rest {
		s.record(stats, TransferResult{
			Descriptor: d,
			Outcome:    Failed,
			Kind:       KindCanceled,
			Err:        &TransferError{Path: d.Path, Kind: KindCanceled, Err: cause},
		})
	}
}

func (s *Scheduler) record(stats *SessionStats, r TransferResult) {
	stats.add(r)

	ev := ProgressEvent{
		Path:     r.Descriptor.Path,
		Total:    r.Descriptor.Size,
		Attempt:  r.Attempts,
		Duration: r.Duration,
	}
	switch r.Outcome {
	case Downloaded:
		ev.Event = "file_done"
		ev.Bytes = r.Bytes
		ev.Binary = r.Binary
	case Skipped:
		ev.Event = "file_skip"
		ev.Message = "skip (cache hit)"
	default:
		ev.Event = "file_error"
		ev.Level = "error"
		ev.Kind = r.Kind
		ev.Message = r.Error()
	}
	s.emit(ev)
}
