// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

func TestJobManager_CreateJob_Dedup(t *testing.T) {
	repo := newRepo()
	repo.Hold = make(chan struct{})
	srv, _ := newTestServer(t, repo)
	m := srv.jobs

	first, existing, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "docs"})
	require.NoError(t, err)
	assert.False(t, existing)

	// Same target through a different spelling.
	second, existing, err := m.CreateJob(DownloadRequest{URL: "https://github.com/o/r", Path: "docs/"})
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first.ID, second.ID)

	// A different path is a different job.
	other, existing, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "src"})
	require.NoError(t, err)
	assert.False(t, existing)
	assert.NotEqual(t, first.ID, other.ID)

	close(repo.Hold)
	assert.Equal(t, JobStatusCompleted, waitDone(t, m, first.ID).Status)
	assert.Equal(t, JobStatusCompleted, waitDone(t, m, other.ID).Status)

	// Finished jobs do not absorb new requests.
	again, existing, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "docs"})
	require.NoError(t, err)
	assert.False(t, existing)
	assert.NotEqual(t, first.ID, again.ID)
	waitDone(t, m, again.ID)
}

func TestJobManager_CreateJob_ValidatesConfig(t *testing.T) {
	srv, _ := newTestServer(t, newRepo(), func(c *Config) { c.Token = "ghp_short" })
	m := srv.jobs

	_, _, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "docs"})
	assert.ErrorIs(t, err, ghfolder.ErrInvalidToken)
	assert.Empty(t, m.ListJobs())

	m.UpdateConfig(func(c *Config) { c.Token = "" })
	job, _, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "docs"})
	require.NoError(t, err)
	waitDone(t, m, job.ID)
}

func TestJobManager_Progress(t *testing.T) {
	srv, _ := newTestServer(t, newRepo())
	m := srv.jobs

	job, _, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "docs"})
	require.NoError(t, err)
	assert.Equal(t, srv.config.OutputDir, job.OutputDir)

	done := waitDone(t, m, job.ID)
	require.Equal(t, JobStatusCompleted, done.Status, done.Error)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.EndedAt)

	p := done.Progress
	assert.Equal(t, 2, p.TotalFiles)
	assert.Equal(t, 2, p.CompletedFiles)
	assert.Equal(t, 0, p.FailedFiles)
	assert.EqualValues(t, len("alpha\n")+len("beta\n"), p.TotalBytes)
	assert.Equal(t, p.TotalBytes, p.DownloadedBytes)
	assert.Positive(t, p.QuotaRemaining)

	require.Len(t, done.Files, 2)
	for _, f := range done.Files {
		assert.Equal(t, "complete", f.Status, f.Path)
		assert.Equal(t, f.TotalBytes, f.Downloaded, f.Path)
	}
}

func TestJobManager_SharedCache(t *testing.T) {
	srv, gh := newTestServer(t, newRepo())
	m := srv.jobs

	job, _, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "docs"})
	require.NoError(t, err)
	require.Equal(t, JobStatusCompleted, waitDone(t, m, job.ID).Status)

	job, _, err = m.CreateJob(DownloadRequest{URL: "o/r", Path: "docs"})
	require.NoError(t, err)
	done := waitDone(t, m, job.ID)
	require.Equal(t, JobStatusCompleted, done.Status)

	assert.Equal(t, 2, done.Progress.SkippedFiles)
	assert.Equal(t, 1, gh.Repo.Fetches("docs/a.md"))

	// Force bypasses the cache.
	job, _, err = m.CreateJob(DownloadRequest{URL: "o/r", Path: "docs", Force: true})
	require.NoError(t, err)
	done = waitDone(t, m, job.ID)
	require.Equal(t, JobStatusCompleted, done.Status)
	assert.Equal(t, 0, done.Progress.SkippedFiles)
	assert.Equal(t, 2, gh.Repo.Fetches("docs/a.md"))
}

func TestJobManager_Partial(t *testing.T) {
	repo := newRepo()
	repo.Broken = map[string]int{"docs/b.txt": 404}
	srv, _ := newTestServer(t, repo)

	job, _, err := srv.jobs.CreateJob(DownloadRequest{URL: "o/r", Path: "docs"})
	require.NoError(t, err)

	done := waitDone(t, srv.jobs, job.ID)
	assert.Equal(t, JobStatusPartial, done.Status)
	assert.Equal(t, "1 of 2 files failed", done.Error)
	assert.Equal(t, 1, done.Progress.CompletedFiles)
	assert.Equal(t, 1, done.Progress.FailedFiles)

	var failed *JobFileProgress
	for i := range done.Files {
		if done.Files[i].Path == "docs/b.txt" {
			failed = &done.Files[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "error", failed.Status)
	assert.Equal(t, string(ghfolder.KindFatal), failed.Kind)
	assert.NotEmpty(t, failed.Error)
}

func TestJobManager_AllFailed(t *testing.T) {
	repo := newRepo()
	repo.Broken = map[string]int{"src/main.go": 404}
	srv, _ := newTestServer(t, repo)

	job, _, err := srv.jobs.CreateJob(DownloadRequest{URL: "o/r", Path: "src"})
	require.NoError(t, err)

	done := waitDone(t, srv.jobs, job.ID)
	assert.Equal(t, JobStatusFailed, done.Status)
	assert.Equal(t, "all 1 files failed", done.Error)
}

func TestJobManager_ResolveError(t *testing.T) {
	srv, _ := newTestServer(t, newRepo())

	job, _, err := srv.jobs.CreateJob(DownloadRequest{URL: "o/r", Path: "missing"})
	require.NoError(t, err)

	done := waitDone(t, srv.jobs, job.ID)
	assert.Equal(t, JobStatusFailed, done.Status)
	assert.Contains(t, done.Error, "not found")
}

func TestJobManager_QueueAndCancel(t *testing.T) {
	repo := newRepo()
	repo.Hold = make(chan struct{})
	srv, _ := newTestServer(t, repo, func(c *Config) { c.MaxActiveJobs = 1 })
	m := srv.jobs

	running, _, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "docs"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.status(running.ID) == JobStatusRunning }, 5*time.Second, 5*time.Millisecond)

	queued, _, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "src"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, JobStatusQueued, m.status(queued.ID), "only one job runs at a time")

	assert.False(t, m.DeleteJob(queued.ID), "active jobs cannot be deleted")
	assert.True(t, m.CancelJob(queued.ID))
	assert.False(t, m.CancelJob(queued.ID), "already cancelled")
	assert.Equal(t, JobStatusCancelled, m.status(queued.ID))

	assert.True(t, m.CancelJob(running.ID))
	close(repo.Hold)
	done := waitDone(t, m, running.ID)
	assert.Equal(t, JobStatusCancelled, done.Status)
	assert.NotNil(t, done.EndedAt)

	assert.True(t, m.DeleteJob(queued.ID))
	_, ok := m.GetJob(queued.ID)
	assert.False(t, ok)
	assert.Len(t, m.ListJobs(), 1)
}

func TestJobManager_ListJobsOrder(t *testing.T) {
	repo := newRepo()
	repo.Hold = make(chan struct{})
	srv, _ := newTestServer(t, repo)
	m := srv.jobs

	a, _, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "docs"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, _, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "src"})
	require.NoError(t, err)
	close(repo.Hold)

	jobs := m.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, a.ID, jobs[0].ID)
	assert.Equal(t, b.ID, jobs[1].ID)
	waitDone(t, m, a.ID)
	waitDone(t, m, b.ID)
}

func TestJobManager_Subscribe(t *testing.T) {
	srv, _ := newTestServer(t, newRepo())
	m := srv.jobs

	ch := m.Subscribe()
	job, _, err := m.CreateJob(DownloadRequest{URL: "o/r", Path: "docs"})
	require.NoError(t, err)

	deadline := time.After(10 * time.Second)
	for {
		select {
		case update := <-ch:
			assert.Equal(t, job.ID, update.ID)
			if update.Status == JobStatusCompleted {
				m.Unsubscribe(ch)
				for range ch {
					// Unsubscribe closes the channel once drained.
				}
				return
			}
		case <-deadline:
			t.Fatal("no completed update received")
		}
	}
}

func TestJobManager_UpdateConfig(t *testing.T) {
	srv, _ := newTestServer(t, newRepo())
	m := srv.jobs

	cfg := m.UpdateConfig(func(c *Config) { c.MaxRetries = 7 })
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 7, m.Config().settings().MaxRetries)
}

func TestConfig_Settings(t *testing.T) {
	s := Config{OutputDir: "/out", Token: "tok", CacheURL: "mem://"}.settings()
	def := ghfolder.DefaultSettings()

	assert.Equal(t, "/out", s.OutputDir)
	assert.Equal(t, "tok", s.Token)
	assert.Equal(t, "mem://", s.CacheURL)
	assert.Equal(t, def.MaxConcurrency, s.MaxConcurrency, "zero keeps the default")
	assert.Equal(t, def.Verify, s.Verify)
	assert.Equal(t, ghfolder.DefaultEndpoint, s.Endpoint)
}
