// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"sync"
	"time"
)

// Outcome is the final state of one descriptor in a session.
type Outcome string

const (
	Downloaded Outcome = "downloaded"
	Skipped    Outcome = "skipped"
	Failed     Outcome = "failed"
)

// TransferResult is produced exactly once per descriptor per session.
type TransferResult struct {
	Descriptor FileDescriptor `json:"descriptor"`
	Outcome    Outcome        `json:"outcome"`

	// LocalPath is the destination file.
	LocalPath string `json:"localPath,omitempty"`

	// Bytes written, for Downloaded results.
	Bytes    int64         `json:"bytes,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	// Kind and Err describe a Failed result.
	Kind FailureKind `json:"kind,omitempty"`
	Err  error       `json:"-"`

	Attempts int `json:"attempts,omitempty"`

	// Binary is set when the downloaded content looks binary.
	Binary bool `json:"binary,omitempty"`
}

// Error returns the failure message, or "".
func (r TransferResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ExitStatus classifies a finished session.
type ExitStatus int

const (
	// ExitOK means no descriptor failed.
	ExitOK ExitStatus = iota
	// ExitPartial means some failed and at least one succeeded.
	ExitPartial
	// ExitAllFailed means attempts were made and none succeeded.
	ExitAllFailed
)

func (s ExitStatus) String() string {
	switch s {
	case ExitOK:
		return "ok"
	case ExitPartial:
		return "partial"
	default:
		return "failed"
	}
}

// SessionStats accumulates the results of one run. It is safe for
// concurrent use while the run is in progress.
type SessionStats struct {
	mu sync.Mutex

	Total           int       `json:"total"`
	Downloaded      int       `json:"downloaded"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	BytesDownloaded int64     `json:"bytesDownloaded"`
	BytesSkipped    int64     `json:"bytesSkipped"`
	Retries         int       `json:"retries"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`

	// Results are in completion order.
	Results []TransferResult `json:"results"`
}

func newSessionStats(total int) *SessionStats {
	return &SessionStats{
		Total:     total,
		StartedAt: time.Now(),
		Results:   make([]TransferResult, 0, total),
	}
}

func (s *SessionStats) add(r TransferResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Outcome {
	case Downloaded:
		s.Downloaded++
		s.BytesDownloaded += r.Bytes
	case Skipped:
		s.Skipped++
		s.BytesSkipped += r.Descriptor.Size
	case Failed:
		s.Failed++
	}
	if r.Attempts > 1 {
		s.Retries += r.Attempts - 1
	}
	s.Results = append(s.Results, r)
}

func (s *SessionStats) finish() {
	s.mu.Lock()
	s.EndedAt = time.Now()
	s.mu.Unlock()
}

// Duration is the wall time of the run.
func (s *SessionStats) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Failures returns the Failed results.
func (s *SessionStats) Failures() []TransferResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TransferResult
	for _, r := range s.Results {
		if r.Outcome == Failed {
			out = append(out, r)
		}
	}
	return out
}

// Status classifies the run for exit code decisions.
func (s *SessionStats) Status() ExitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.Failed == 0:
		return ExitOK
	case s.Downloaded+s.Skipped > 0:
		return ExitPartial
	default:
		return ExitAllFailed
	}
}
