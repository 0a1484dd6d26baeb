// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import "time"

// Job defines what to download from GitHub.
//
// Either URL or Owner/Repo must be set. URL accepts the same forms as
// ParseURL; explicit Ref and Path fields override what the URL carries.
//
// Example:
//
//	job := ghfolder.Job{
//	    URL:    "https://github.com/golang/go/tree/master/src/net/http",
//	    Filter: ghfolder.FilterConfig{Extensions: []string{"go"}},
//	}
type Job struct {
	// URL is a github.com URL or "owner/repo" shorthand.
	URL string

	// Owner and Repo name the repository when URL is empty.
	Owner string
	Repo  string

	// Ref is the branch, tag or commit SHA. Empty means the repository's
	// default branch.
	Ref string

	// Path is the folder or file inside the repository. Empty means the
	// whole tree.
	Path string

	// Filter reduces the resolved file set before scheduling.
	Filter FilterConfig
}

// Settings configures download behavior.
//
// Start from DefaultSettings and override what you need:
//
//	cfg := ghfolder.DefaultSettings()
//	cfg.OutputDir = "./vendor-docs"
//	cfg.Token = os.Getenv("GITHUB_TOKEN")
type Settings struct {
	// OutputDir is the base directory. Files are saved as
	// <OutputDir>/<repository path>.
	OutputDir string

	// MaxConcurrency limits how many files transfer simultaneously.
	// Valid range is 1..20.
	MaxConcurrency int

	// Sequential forces a pool size of one.
	Sequential bool

	// Timeout bounds each HTTP request made by the GitHub transport.
	Timeout time.Duration

	// MaxRetries is the maximum number of attempts per file, including
	// the first one. Valid range is 1..10.
	MaxRetries int

	// BackoffInitial and BackoffMax shape the exponential retry delay.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// RateLimitMin is the minimum delay before retrying a throttled request.
	RateLimitMin time.Duration

	// Verify selects post-download verification: "none", "size" or "hash"
	// (git blob SHA-1, compared against the tree entry).
	Verify string

	// UseCache enables the persistent cache of verified files.
	UseCache bool

	// CacheURL is a gocloud.dev blob URL for cache metadata. Empty uses a
	// directory under the per-user data dir.
	CacheURL string

	// CacheMaxAge and CacheMaxSize bound the cache during pruning.
	CacheMaxAge  time.Duration
	CacheMaxSize int64

	// AutoPruneCache prunes the cache at the end of every run.
	AutoPruneCache bool

	// RateLimit enables the quota tracker.
	RateLimit bool

	// RateLimitBuffer is the number of requests kept in reserve.
	// Valid range is 10..1000.
	RateLimitBuffer int

	// MaxQuotaWait is the longest the run waits for quota to reset before
	// giving up with ErrQuotaExhausted.
	MaxQuotaWait time.Duration

	// Token is the GitHub access token. Can also be set via GITHUB_TOKEN.
	Token string

	// Endpoint is the API base URL (GitHub Enterprise or tests).
	Endpoint string

	// Force removes the existing target directory before downloading.
	Force bool
}

// FileDescriptor identifies one remote file candidate for download.
type FileDescriptor struct {
	// Path is relative to the repository root, with forward slashes.
	Path string `json:"path"`

	// Token is the content identity (the git blob SHA-1 on GitHub).
	Token string `json:"token"`

	// Size is the declared size in bytes.
	Size int64 `json:"size"`

	// Ref is the opaque fetch reference handed to the transport.
	Ref string `json:"ref"`
}

// QuotaInfo is the rate limit state reported alongside a response.
type QuotaInfo struct {
	Known     bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ProgressEvent represents a progress update during a run.
//
// The Event field indicates the type of event:
//   - "scan_start": Resolution of the remote tree has begun
//   - "plan_item": A file survived filtering
//   - "file_start": Transfer of a file has started
//   - "file_progress": Periodic progress update during transfer
//   - "file_done": File downloaded and verified
//   - "file_skip": File skipped on a cache hit
//   - "file_error": File failed (Kind and Attempts are set)
//   - "retry": A retry attempt is scheduled
//   - "quota_wait": The quota tracker is holding requests back
//   - "cache_error": Cache metadata could not be persisted
//   - "error": A run-level error occurred
//   - "done": The run finished
type ProgressEvent struct {
	Time  time.Time `json:"time"`
	Level string    `json:"level,omitempty"`
	Event string    `json:"event"`
	Repo  string    `json:"repo,omitempty"`
	Ref   string    `json:"ref,omitempty"`
	Path  string    `json:"path,omitempty"`

	// Bytes is the size written for a finished file.
	Bytes int64 `json:"bytes,omitempty"`

	// Total is the declared size in bytes.
	Total int64 `json:"total,omitempty"`

	// Downloaded is the cumulative bytes received for the file so far.
	Downloaded int64 `json:"downloaded,omitempty"`

	Attempt  int           `json:"attempt,omitempty"`
	Kind     FailureKind   `json:"kind,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Binary   bool          `json:"binary,omitempty"`

	// QuotaRemaining is the last observed remaining quota, -1 if unknown.
	QuotaRemaining int `json:"quotaRemaining,omitempty"`

	Message string `json:"message,omitempty"`
}

// ProgressFunc is a callback for receiving progress events.
// It is invoked from multiple goroutines and must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)

// DefaultSettings returns Settings with sensible defaults filled in.
func DefaultSettings() Settings {
	return Settings{
		OutputDir:       ".",
		MaxConcurrency:  5,
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		BackoffInitial:  time.Second,
		BackoffMax:      60 * time.Second,
		RateLimitMin:    60 * time.Second,
		Verify:          VerifyHash,
		UseCache:        true,
		CacheMaxAge:     30 * 24 * time.Hour,
		CacheMaxSize:    5 << 30,
		AutoPruneCache:  true,
		RateLimit:       true,
		RateLimitBuffer: 100,
		MaxQuotaWait:    time.Hour,
		Endpoint:        DefaultEndpoint,
	}
}

// Verification modes for Settings.Verify.
const (
	VerifyNone = "none"
	VerifySize = "size"
	VerifyHash = "hash"
)
