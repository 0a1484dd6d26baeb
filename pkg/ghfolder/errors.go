// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Common errors returned by the library.
var (
	// ErrInvalidURL is returned when a repository URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid GitHub URL")

	// ErrMissingRepo is returned when no repository is specified.
	ErrMissingRepo = errors.New("missing repository")

	// ErrUnauthorized is returned when the token is missing or lacks access.
	ErrUnauthorized = errors.New("unauthorized: this repository requires authentication")

	// ErrNotFound is returned when the repository, ref or path does not exist.
	ErrNotFound = errors.New("repository, ref or path not found")

	// ErrRateLimited is returned when the API reports throttling.
	ErrRateLimited = errors.New("rate limited: too many requests")

	// ErrQuotaExhausted aborts a run when the API quota would not recover
	// within the configured maximum wait.
	ErrQuotaExhausted = errors.New("API quota exhausted beyond maximum wait")

	// ErrNoTransport aborts a run that has no transport to fetch with.
	ErrNoTransport = errors.New("no transport configured")

	// ErrMalformedDescriptor marks a descriptor that cannot be transferred.
	ErrMalformedDescriptor = errors.New("malformed file descriptor")

	// ErrDuplicatePath marks a second descriptor for a path already in the session.
	ErrDuplicatePath = errors.New("duplicate path in session")

	// ErrUnknownPreset is returned when a filter preset name is not defined.
	ErrUnknownPreset = errors.New("unknown filter preset")

	// ErrInvalidToken is returned for a token that cannot be a GitHub token.
	ErrInvalidToken = errors.New("invalid GitHub token format: expected classic (ghp_...), fine-grained (github_pat_...) or legacy 40-char hex")

	// ErrOutputNotWritable is returned when files cannot be created in the
	// output directory.
	ErrOutputNotWritable = errors.New("output directory is not writable")
)

// FailureKind classifies why a transfer attempt failed.
type FailureKind string

const (
	KindNone      FailureKind = ""
	KindTransient FailureKind = "transient-network"
	KindServer    FailureKind = "server-error"
	KindRateLimit FailureKind = "rate-limited"
	KindCorrupt   FailureKind = "corrupt"
	KindFatal     FailureKind = "fatal"
	// KindCanceled is used for descriptors the run stopped before finishing.
	KindCanceled FailureKind = "canceled"
)

// Retryable reports whether the retry policy may schedule another attempt.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindTransient, KindServer, KindRateLimit, KindCorrupt:
		return true
	default:
		return false
	}
}

// TransferError wraps the last error of a failed transfer with file context.
type TransferError struct {
	Path     string
	Kind     FailureKind
	Attempts int
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %s after %d attempt(s): %v", e.Path, e.Kind, e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// VerificationError is returned when a downloaded file fails integrity checks.
type VerificationError struct {
	Path     string
	Expected string
	Actual   string
	Method   string // "size", "hash"
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for %s: %s mismatch (expected %s, got %s)",
		e.Path, e.Method, e.Expected, e.Actual)
}

// APIError represents a non-2xx response from the GitHub API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	URL        string

	// Quota is the rate limit state reported with the response.
	Quota QuotaInfo

	// RetryAfter is the server's Retry-After hint, if any.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Status)
}

// IsRateLimited reports whether the response signals throttling. GitHub
// answers primary rate limit exhaustion with 403 and zero remaining.
func (e *APIError) IsRateLimited() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode == http.StatusForbidden && e.Quota.Known && e.Quota.Remaining == 0
}

// IsRetryable returns true if the error might succeed on retry.
func (e *APIError) IsRetryable() bool {
	return e.Kind().Retryable()
}

// Kind maps the status code to a failure kind.
func (e *APIError) Kind() FailureKind {
	switch {
	case e.IsRateLimited():
		return KindRateLimit
	case e.StatusCode >= 500:
		return KindServer
	case e.StatusCode == http.StatusRequestTimeout:
		return KindTransient
	default:
		return KindFatal
	}
}

// Is implements errors.Is for common error comparisons.
func (e *APIError) Is(target error) bool {
	switch {
	case e.IsRateLimited():
		return target == ErrRateLimited
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return target == ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return target == ErrNotFound
	default:
		return false
	}
}

// Classify maps an error from a transfer attempt to its failure kind.
func Classify(err error) FailureKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, ErrMalformedDescriptor) || errors.Is(err, ErrDuplicatePath) {
		return KindFatal
	}
	if errors.Is(err, ErrQuotaExhausted) {
		return KindRateLimit
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	var verr *VerificationError
	if errors.As(err, &verr) {
		return KindCorrupt
	}
	var localErr *localIOError
	if errors.As(err, &localErr) {
		return KindFatal
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return KindFatal
	}
	return KindTransient
}

// localIOError tags failures of the local filesystem, which retries cannot fix.
type localIOError struct {
	Op  string
	Err error
}

func (e *localIOError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *localIOError) Unwrap() error {
	return e.Err
}
