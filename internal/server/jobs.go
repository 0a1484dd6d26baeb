// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bodaay/GitHubFolderDownloader/internal/logging"
	"github.com/bodaay/GitHubFolderDownloader/internal/metrics"
	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

// JobStatus represents the state of a download job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// progressInterval throttles job updates caused by file_progress events.
const progressInterval = 250 * time.Millisecond

// Job represents a download job.
type Job struct {
	ID        string                `json:"id"`
	URL       string                `json:"url"`
	Repo      string                `json:"repo"`
	Ref       string                `json:"ref,omitempty"`
	Path      string                `json:"path,omitempty"`
	Filter    ghfolder.FilterConfig `json:"filter"`
	Force     bool                  `json:"force,omitempty"`
	OutputDir string                `json:"outputDir"`
	Status    JobStatus             `json:"status"`
	Progress  JobProgress           `json:"progress"`
	Error     string                `json:"error,omitempty"`
	CreatedAt time.Time             `json:"createdAt"`
	StartedAt *time.Time            `json:"startedAt,omitempty"`
	EndedAt   *time.Time            `json:"endedAt,omitempty"`
	Files     []JobFileProgress     `json:"files,omitempty"`

	key           string
	cancel        context.CancelFunc
	fileIdx       map[string]int
	lastBroadcast time.Time
}

// JobProgress holds aggregate progress info.
type JobProgress struct {
	TotalFiles      int   `json:"totalFiles"`
	CompletedFiles  int   `json:"completedFiles"`
	SkippedFiles    int   `json:"skippedFiles"`
	FailedFiles     int   `json:"failedFiles"`
	TotalBytes      int64 `json:"totalBytes"`
	DownloadedBytes int64 `json:"downloadedBytes"`
	BytesPerSecond  int64 `json:"bytesPerSecond"`
	Retries         int   `json:"retries"`
	QuotaRemaining  int   `json:"quotaRemaining,omitempty"`
}

// JobFileProgress holds per-file progress.
type JobFileProgress struct {
	Path       string `json:"path"`
	TotalBytes int64  `json:"totalBytes"`
	Downloaded int64  `json:"downloaded"`
	Status     string `json:"status"` // pending, active, complete, skipped, error
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// snapshot copies the job for readers outside the manager lock.
func (j *Job) snapshot() *Job {
	c := *j
	c.Files = append([]JobFileProgress(nil), j.Files...)
	c.cancel = nil
	c.fileIdx = nil
	return &c
}

// JobEvent is a library event tagged with its job, as sent to clients.
type JobEvent struct {
	JobID string                 `json:"jobId"`
	Event ghfolder.ProgressEvent `json:"event"`
}

// CacheFunc returns the cache shared by all jobs.
type CacheFunc func(ctx context.Context) (*ghfolder.CacheStore, error)

// JobManager manages download jobs.
type JobManager struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	cfgMu      sync.RWMutex
	config     Config
	listeners  []chan *Job
	listenerMu sync.RWMutex
	wsHub      *WSHub
	cache      CacheFunc
	quota      *ghfolder.QuotaTracker
	sem        *semaphore.Weighted
	log        *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewJobManager creates a new job manager. All jobs share one quota
// tracker, since they spend the same token's quota. cache may be nil.
func NewJobManager(cfg Config, wsHub *WSHub, cache CacheFunc) *JobManager {
	active := cfg.MaxActiveJobs
	if active <= 0 {
		active = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &JobManager{
		jobs:    make(map[string]*Job),
		config:  cfg,
		wsHub:   wsHub,
		cache:   cache,
		quota:   ghfolder.NewQuotaTrackerFor(cfg.settings()),
		sem:     semaphore.NewWeighted(int64(active)),
		log:     logging.L().Named("jobs"),
		baseCtx: ctx,
		stop:    stop,
	}
}

// Config returns the current job configuration.
func (m *JobManager) Config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.config
}

// UpdateConfig applies fn to the configuration used by new jobs.
func (m *JobManager) UpdateConfig(fn func(*Config)) Config {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	fn(&m.config)
	return m.config
}

// Quota returns the tracker shared by all jobs.
func (m *JobManager) Quota() *ghfolder.QuotaTracker {
	return m.quota
}

// CreateJob creates a new download job.
// Returns the existing job if the same target is already queued or running.
func (m *JobManager) CreateJob(req DownloadRequest) (*Job, bool, error) {
	dl := req.job()
	target, err := ghfolder.ResolveTarget(dl)
	if err != nil {
		return nil, false, err
	}
	if _, err := ghfolder.NewFilter(dl.Filter); err != nil {
		return nil, false, err
	}
	cfg := m.Config()
	if err := ghfolder.ValidateToken(cfg.Token); err != nil {
		return nil, false, err
	}
	if err := ghfolder.CheckOutputDir(cfg.OutputDir); err != nil {
		return nil, false, err
	}
	key := target.String()

	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.key == key && existing.Status.active() {
			snap := existing.snapshot()
			m.mu.Unlock()
			return snap, true, nil
		}
	}

	job := &Job{
		ID:        uuid.NewString(),
		URL:       dl.URL,
		Repo:      target.FullName(),
		Ref:       target.Ref,
		Path:      target.Path,
		Filter:    dl.Filter,
		Force:     req.Force,
		OutputDir: cfg.OutputDir, // Server-controlled, not from request
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
		key:       key,
		fileIdx:   map[string]int{},
	}
	m.jobs[job.ID] = job
	snap := job.snapshot()
	m.mu.Unlock()

	m.notifyListeners(snap)

	m.wg.Add(1)
	go m.runJob(job)

	return snap, false, nil
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns all jobs, oldest first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// CancelJob cancels a running or queued job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || !job.Status.active() {
		m.mu.Unlock()
		return false
	}
	if job.cancel != nil {
		job.cancel()
	}
	job.Status = JobStatusCancelled
	now := time.Now()
	job.EndedAt = &now
	snap := job.snapshot()
	m.mu.Unlock()

	m.notifyListeners(snap)
	return true
}

// DeleteJob removes a finished job from the list.
func (m *JobManager) DeleteJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status.active() {
		return false
	}
	delete(m.jobs, id)
	return true
}

// Shutdown cancels every job and waits for them to stop.
func (m *JobManager) Shutdown() {
	m.stop()
	m.wg.Wait()
}

// Subscribe adds a listener for job updates.
func (m *JobManager) Subscribe() chan *Job {
	ch := make(chan *Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *JobManager) Unsubscribe(ch chan *Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *JobManager) notifyListeners(job *Job) {
	// Notify channel listeners
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- job:
		default:
			// Listener is slow, skip
		}
	}
	m.listenerMu.RUnlock()

	// Broadcast to WebSocket clients
	if m.wsHub != nil {
		m.wsHub.BroadcastJob(job)
	}
}

// runJob waits for a run slot and executes the download job.
func (m *JobManager) runJob(job *Job) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(m.baseCtx)
	defer cancel()

	m.mu.Lock()
	if job.Status != JobStatusQueued {
		m.mu.Unlock()
		return
	}
	job.cancel = cancel
	m.mu.Unlock()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(ctx, job, nil, err)
		return
	}
	defer m.sem.Release(1)

	m.mu.Lock()
	if job.Status != JobStatusQueued {
		m.mu.Unlock()
		return
	}
	job.Status = JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	snap := job.snapshot()
	m.mu.Unlock()
	m.notifyListeners(snap)

	metrics.JobStarted()
	defer metrics.JobFinished()

	cfg := m.Config().settings()
	cfg.Force = job.Force
	comp := ghfolder.Components{Quota: m.quota}
	if cfg.UseCache && m.cache != nil {
		store, err := m.cache(ctx)
		if err != nil {
			m.log.Warn("cache unavailable, downloading without it", zap.Error(err))
			cfg.UseCache = false
		} else {
			comp.Cache = store
		}
	}

	dl := ghfolder.Job{URL: job.URL, Ref: job.Ref, Path: job.Path, Filter: job.Filter}
	log := m.log.With(zap.String("job", job.ID), zap.String("target", job.key))
	log.Info("job started")
	stats, err := ghfolder.DownloadWith(ctx, dl, cfg, comp, metrics.Wrap(m.progressFunc(job)))
	m.finish(ctx, job, stats, err)
	log.Info("job finished", zap.String("status", string(m.status(job.ID))))
}

func (m *JobManager) status(id string) JobStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if j, ok := m.jobs[id]; ok {
		return j.Status
	}
	return ""
}

// finish records the final state of a job.
func (m *JobManager) finish(ctx context.Context, job *Job, stats *ghfolder.SessionStats, err error) {
	m.mu.Lock()
	if job.Status == JobStatusCancelled {
		m.mu.Unlock()
		return
	}
	endTime := time.Now()
	job.EndedAt = &endTime
	switch {
	case ctx.Err() != nil:
		job.Status = JobStatusCancelled
	case err != nil:
		job.Status = JobStatusFailed
		job.Error = err.Error()
	case stats.Status() == ghfolder.ExitPartial:
		job.Status = JobStatusPartial
		job.Error = fmt.Sprintf("%d of %d files failed", stats.Failed, stats.Total)
	case stats.Status() == ghfolder.ExitAllFailed:
		job.Status = JobStatusFailed
		job.Error = fmt.Sprintf("all %d files failed", stats.Failed)
	default:
		job.Status = JobStatusCompleted
	}
	snap := job.snapshot()
	m.mu.Unlock()

	m.notifyListeners(snap)
}

// progressFunc maps library events onto the job.
// NOTE: must not hold the lock when calling notifyListeners.
func (m *JobManager) progressFunc(job *Job) ghfolder.ProgressFunc {
	return func(ev ghfolder.ProgressEvent) {
		m.mu.Lock()

		p := &job.Progress
		switch ev.Event {
		case "plan_item":
			job.fileIdx[ev.Path] = len(job.Files)
			job.Files = append(job.Files, JobFileProgress{
				Path:       ev.Path,
				TotalBytes: ev.Total,
				Status:     "pending",
			})
			p.TotalFiles++
			p.TotalBytes += ev.Total

		case "file_start":
			m.updateFile(job, ev.Path, func(f *JobFileProgress) { f.Status = "active" })

		case "file_progress":
			m.updateFile(job, ev.Path, func(f *JobFileProgress) { m.setDownloaded(job, f, ev.Downloaded) })

		case "file_done":
			m.updateFile(job, ev.Path, func(f *JobFileProgress) {
				f.Status = "complete"
				m.setDownloaded(job, f, f.TotalBytes)
			})
			p.CompletedFiles++

		case "file_skip":
			m.updateFile(job, ev.Path, func(f *JobFileProgress) {
				f.Status = "skipped"
				m.setDownloaded(job, f, f.TotalBytes)
			})
			p.SkippedFiles++

		case "file_error":
			m.updateFile(job, ev.Path, func(f *JobFileProgress) {
				f.Status = "error"
				f.Kind = string(ev.Kind)
				f.Error = ev.Message
			})
			p.FailedFiles++

		case "retry":
			p.Retries++
		}
		if ev.QuotaRemaining > 0 {
			p.QuotaRemaining = ev.QuotaRemaining
		}
		if job.StartedAt != nil {
			if secs := time.Since(*job.StartedAt).Seconds(); secs > 0 {
				p.BytesPerSecond = int64(float64(p.DownloadedBytes) / secs)
			}
		}

		now := time.Now()
		if ev.Event == "file_progress" && now.Sub(job.lastBroadcast) < progressInterval {
			m.mu.Unlock()
			return
		}
		job.lastBroadcast = now
		snap := job.snapshot()
		m.mu.Unlock() // Unlock BEFORE notifying to avoid deadlock

		m.notifyListeners(snap)
		switch ev.Event {
		case "file_done", "file_skip", "file_error", "retry", "quota_wait", "error":
			if m.wsHub != nil {
				m.wsHub.BroadcastEvent(JobEvent{JobID: job.ID, Event: ev})
			}
		}
	}
}

func (m *JobManager) updateFile(job *Job, path string, fn func(*JobFileProgress)) {
	if i, ok := job.fileIdx[path]; ok {
		fn(&job.Files[i])
	}
}

func (m *JobManager) setDownloaded(job *Job, f *JobFileProgress, n int64) {
	job.Progress.DownloadedBytes += n - f.Downloaded
	f.Downloaded = n
}
