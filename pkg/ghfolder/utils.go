// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

// validate checks settings ranges before a run.
func validate(cfg Settings) error {
	if cfg.MaxConcurrency < 1 || cfg.MaxConcurrency > 20 {
		return fmt.Errorf("max concurrency %d out of range 1..20", cfg.MaxConcurrency)
	}
	if cfg.MaxRetries < 1 || cfg.MaxRetries > 10 {
		return fmt.Errorf("max retries %d out of range 1..10", cfg.MaxRetries)
	}
	if cfg.RateLimit && (cfg.RateLimitBuffer < 10 || cfg.RateLimitBuffer > 1000) {
		return fmt.Errorf("rate limit buffer %d out of range 10..1000", cfg.RateLimitBuffer)
	}
	if cfg.BackoffInitial < 0 || cfg.BackoffMax < 0 || cfg.Timeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if err := validMode(cfg.Verify); err != nil {
		return err
	}
	if err := ValidateToken(cfg.Token); err != nil {
		return err
	}
	return CheckOutputDir(cfg.OutputDir)
}

// ValidateToken checks that token has the shape of a GitHub access token.
// The empty token is valid and means anonymous access.
func ValidateToken(token string) error {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return nil
	case strings.HasPrefix(token, "github_pat_"):
		if len(token) >= 50 {
			return nil
		}
	case strings.HasPrefix(token, "ghp_"):
		if len(token) == 40 {
			return nil
		}
	case hasAppTokenPrefix(token):
		// OAuth, app user, installation and refresh tokens.
		if len(token) >= 40 {
			return nil
		}
	case len(token) == 40 && isHex(token):
		return nil
	}
	return ErrInvalidToken
}

func hasAppTokenPrefix(token string) bool {
	for _, p := range []string{"gho_", "ghu_", "ghs_", "ghr_"} {
		if strings.HasPrefix(token, p) {
			return true
		}
	}
	return false
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// CheckOutputDir creates dir if it does not exist and makes sure a file
// can be created in it. An empty dir means the working directory.
func CheckOutputDir(dir string) error {
	if dir == "" {
		dir = "."
	}
	if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrOutputNotWritable, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputNotWritable, err)
	}
	f, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputNotWritable, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

// cleanRelPath validates a repository-relative path; it returns "" for
// empty, absolute or escaping paths.
func cleanRelPath(p string) string {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return ""
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return ""
		}
	}
	return path.Clean(p)
}

// sleepCtx waits for d or returns false if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ParseSize parses a human-readable size ("512KB", "10MiB", "1G") to bytes.
// An empty string yields def.
func ParseSize(s string, def int64) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return def, nil
	}
	var n float64
	var unit string
	if _, err := fmt.Sscanf(s, "%f%s", &n, &unit); err != nil {
		f, perr := strconv.ParseFloat(s, 64)
		if perr != nil || f < 0 {
			return 0, fmt.Errorf("invalid size %q", s)
		}
		return int64(f), nil
	}
	var mult float64
	switch unit {
	case "B", "":
		mult = 1
	case "K", "KB":
		mult = 1000
	case "M", "MB":
		mult = 1000 * 1000
	case "G", "GB":
		mult = 1000 * 1000 * 1000
	case "KIB":
		mult = 1 << 10
	case "MIB":
		mult = 1 << 20
	case "GIB":
		mult = 1 << 30
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return int64(n * mult), nil
}

// HumanBytes formats n with binary units.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
