// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Components overrides the collaborators Download builds from Settings.
// Nil fields are built from Settings.
type Components struct {
	Resolver  Resolver
	Transport Transport
	Cache     *CacheStore
	Quota     *QuotaTracker
}

// Plan is the filtered file set for a job.
type Plan struct {
	Target    Target           `json:"target"`
	Commit    string           `json:"commit"`
	Items     []FileDescriptor `json:"items"`
	Excluded  int              `json:"excluded"`
	TotalSize int64            `json:"totalSize"`
}

// ResolveTarget turns a Job into a Target.
func ResolveTarget(job Job) (Target, error) {
	var t Target
	if job.URL != "" {
		parsed, err := ParseURL(job.URL)
		if err != nil {
			return Target{}, err
		}
		t = parsed
	} else {
		if job.Owner == "" || job.Repo == "" {
			return Target{}, ErrMissingRepo
		}
		t = Target{Owner: job.Owner, Repo: job.Repo}
	}
	if job.Ref != "" {
		t.Ref = job.Ref
	}
	if job.Path != "" {
		t.Path = strings.Trim(job.Path, "/")
	}
	return t, nil
}

// NewQuotaTrackerFor builds the tracker described by cfg.
func NewQuotaTrackerFor(cfg Settings) *QuotaTracker {
	opts := DefaultQuotaOptions()
	opts.Disabled = !cfg.RateLimit
	if cfg.RateLimitBuffer > 0 {
		opts.Buffer = cfg.RateLimitBuffer
	}
	opts.MaxWait = cfg.MaxQuotaWait
	return NewQuotaTracker(opts)
}

// fill builds the missing collaborators.
func (c Components) fill(cfg Settings) Components {
	if c.Quota == nil {
		c.Quota = NewQuotaTrackerFor(cfg)
	}
	if c.Resolver == nil || c.Transport == nil {
		gh := NewGitHubClient(ClientOptions{
			Token:    cfg.Token,
			Endpoint: cfg.Endpoint,
			Timeout:  cfg.Timeout,
			Quota:    c.Quota,
		})
		if c.Resolver == nil {
			c.Resolver = gh
		}
		if c.Transport == nil {
			c.Transport = gh
		}
	}
	return c
}

// PlanRepo resolves and filters a job without downloading.
func PlanRepo(ctx context.Context, job Job, cfg Settings) (*Plan, error) {
	return planWith(ctx, job, Components{}.fill(cfg))
}

func planWith(ctx context.Context, job Job, comp Components) (*Plan, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	t, err := ResolveTarget(job)
	if err != nil {
		return nil, err
	}
	res, err := comp.Resolver.Resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	items, err := Apply(res.Files, job.Filter)
	if err != nil {
		return nil, err
	}
	p := &Plan{Target: res.Target, Commit: res.Commit, Items: items, Excluded: len(res.Files) - len(items)}
	for _, it := range items {
		p.TotalSize += it.Size
	}
	return p, nil
}

// ScanPlan resolves a job and emits a plan_item event per file.
// This is useful for dry-run/preview functionality.
func ScanPlan(ctx context.Context, job Job, cfg Settings, progress ProgressFunc) (*Plan, error) {
	p, err := PlanRepo(ctx, job, cfg)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		for _, it := range p.Items {
			progress(ProgressEvent{
				Time:  time.Now().UTC(),
				Event: "plan_item",
				Repo:  p.Target.FullName(),
				Ref:   p.Target.Ref,
				Path:  it.Path,
				Total: it.Size,
			})
		}
	}
	return p, nil
}

// Download resolves, filters and downloads a job.
//
// Stats are returned whenever the scheduler ran, even together with a
// run-level error (cancellation or quota exhaustion). Individual file
// failures are reported in the stats, not as an error.
func Download(ctx context.Context, job Job, cfg Settings, progress ProgressFunc) (*SessionStats, error) {
	return DownloadWith(ctx, job, cfg, Components{}, progress)
}

// DownloadWith is Download with caller-provided collaborators.
func DownloadWith(ctx context.Context, job Job, cfg Settings, comp Components, progress ProgressFunc) (*SessionStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	t, err := ResolveTarget(job)
	if err != nil {
		return nil, err
	}
	comp = comp.fill(cfg)
	quota := comp.Quota

	emit := func(ev ProgressEvent) {
		if progress == nil {
			return
		}
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		if ev.Repo == "" {
			ev.Repo = t.FullName()
		}
		if ev.Ref == "" {
			ev.Ref = t.Ref
		}
		if ev.QuotaRemaining == 0 {
			ev.QuotaRemaining = quota.Remaining()
		}
		progress(ev)
	}

	emit(ProgressEvent{Event: "scan_start", Message: "resolving " + t.String()})
	plan, err := planWith(ctx, job, comp)
	if err != nil {
		emit(ProgressEvent{Level: "error", Event: "error", Message: err.Error()})
		return nil, err
	}
	t = plan.Target
	for _, it := range plan.Items {
		emit(ProgressEvent{Event: "plan_item", Path: it.Path, Total: it.Size})
	}

	cache := comp.Cache
	if cache == nil && cfg.UseCache {
		cache, err = OpenCache(ctx, cfg.CacheURL)
		if err != nil {
			emit(ProgressEvent{Level: "error", Event: "error", Message: err.Error()})
			return nil, err
		}
		defer cache.Close()
	}
	if !cfg.UseCache {
		cache = nil
	}

	outDir := defaultString(cfg.OutputDir, ".")
	if cfg.Force && t.Path != "" {
		if err := os.RemoveAll(filepath.Join(outDir, filepath.FromSlash(t.Path))); err != nil {
			return nil, fmt.Errorf("remove existing output: %w", err)
		}
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	conc := cfg.MaxConcurrency
	if cfg.Sequential {
		conc = 1
	}
	worker := &Worker{
		Transport: comp.Transport,
		Quota:     quota,
		Cache:     cache,
		Repo:      t.FullName(),
		Policy:    NewRetryPolicy(cfg),
		Verify:    cfg.Verify,
		Emit:      emit,
	}
	sched := &Scheduler{
		Worker:         worker,
		MaxConcurrency: conc,
		OutputDir:      outDir,
		Emit:           emit,
	}
	if !cfg.Force {
		sched.Cache = cache
	}

	stats, runErr := sched.Run(ctx, plan.Items)

	if cache != nil {
		flushCtx := context.WithoutCancel(ctx)
		if err := cache.Flush(flushCtx); err != nil {
			emit(ProgressEvent{Level: "warn", Event: "cache_error", Message: err.Error()})
		}
		if cfg.AutoPruneCache && runErr == nil {
			if _, err := cache.Prune(flushCtx, cfg.CacheMaxAge, cfg.CacheMaxSize); err != nil {
				emit(ProgressEvent{Level: "warn", Event: "cache_error", Message: err.Error()})
			}
		}
	}

	if runErr != nil {
		emit(ProgressEvent{Level: "error", Event: "error", Message: runErr.Error()})
	}
	emit(ProgressEvent{
		Event:    "done",
		Duration: stats.Duration(),
		Bytes:    stats.BytesDownloaded,
		Message: fmt.Sprintf("downloaded %d, skipped %d, failed %d",
			stats.Downloaded, stats.Skipped, stats.Failed),
	})
	return stats, runErr
}
