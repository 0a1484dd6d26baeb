// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "gocloud.dev/blob/memblob"

	"github.com/bodaay/GitHubFolderDownloader/internal/ghtest"
	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

func init() {
	color.NoColor = true
}

// isolate points every config and data location at a temp dir and clears
// the variables the CLI reads.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Cleanup(xdg.Reload)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("GITHUB_TOKEN", "")
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, envPrefix+"_") {
			t.Setenv(k, "")
			os.Unsetenv(k)
		}
	}
	xdg.Reload()
	return dir
}

func newRepo() *ghtest.Repo {
	return &ghtest.Repo{
		Owner: "o",
		Name:  "r",
		Files: map[string]string{
			"docs/a.md":   "alpha\n",
			"docs/b.txt":  "beta\n",
			"src/main.go": "package main\n",
		},
	}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	code := run(ctx, "test", args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func downloadArgs(srv *ghtest.Server, out string, extra ...string) []string {
	args := []string{
		"o/r", "--path", "docs",
		"--endpoint", srv.URL,
		"-o", out,
		"--no-cache",
		"--backoff-initial", "1ms",
		"--backoff-max", "2ms",
	}
	return append(args, extra...)
}

func TestRun_DownloadJSON(t *testing.T) {
	isolate(t)
	srv := ghtest.NewServer(t, newRepo())
	out := t.TempDir()

	code, stdout, stderr := runCLI(t, downloadArgs(srv, out, "--json")...)
	require.Equal(t, ExitOK, code, stderr)

	b, err := os.ReadFile(filepath.Join(out, "docs", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "alpha\n", string(b))
	assert.NoFileExists(t, filepath.Join(out, "src", "main.go"))

	var events []ghfolder.ProgressEvent
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		var ev ghfolder.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, "scan_start", events[0].Event)
	assert.Equal(t, "done", events[len(events)-1].Event)
}

func TestRun_DownloadSubcommandPlain(t *testing.T) {
	isolate(t)
	srv := ghtest.NewServer(t, newRepo())
	out := t.TempDir()

	args := append([]string{"download"}, downloadArgs(srv, out, "--progress", "plain", "--ext", "md")...)
	code, stdout, _ := runCLI(t, args...)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "done: docs/a.md")
	assert.NotContains(t, stdout, "docs/b.txt")
	assert.Contains(t, stdout, "Download complete")
}

func TestRun_ExitCodes(t *testing.T) {
	isolate(t)

	t.Run("partial", func(t *testing.T) {
		repo := newRepo()
		repo.Broken = map[string]int{"docs/b.txt": 404}
		srv := ghtest.NewServer(t, repo)

		code, _, stderr := runCLI(t, downloadArgs(srv, t.TempDir(), "--progress", "plain")...)
		assert.Equal(t, ExitPartial, code)
		assert.Contains(t, stderr, "failed: docs/b.txt [fatal]")
	})

	t.Run("partial allowed", func(t *testing.T) {
		repo := newRepo()
		repo.Broken = map[string]int{"docs/b.txt": 404}
		srv := ghtest.NewServer(t, repo)

		code, _, _ := runCLI(t, downloadArgs(srv, t.TempDir(), "--quiet", "--allow-partial")...)
		assert.Equal(t, ExitOK, code)
	})

	t.Run("all failed", func(t *testing.T) {
		repo := newRepo()
		repo.Broken = map[string]int{"docs/a.md": 500, "docs/b.txt": 404}
		srv := ghtest.NewServer(t, repo)

		code, _, _ := runCLI(t, downloadArgs(srv, t.TempDir(), "--quiet", "--max-retries", "2")...)
		assert.Equal(t, ExitAllFailed, code)
		assert.Equal(t, 2, repo.Fetches("docs/a.md"))
		assert.Equal(t, 1, repo.Fetches("docs/b.txt"))
	})

	t.Run("invalid url", func(t *testing.T) {
		code, _, stderr := runCLI(t, "https://gitlab.com/o/r")
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "error:")
	})

	t.Run("missing url", func(t *testing.T) {
		code, _, stderr := runCLI(t, "download")
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "missing URL")
	})

	t.Run("malformed token", func(t *testing.T) {
		srv := ghtest.NewServer(t, newRepo())
		code, _, stderr := runCLI(t, downloadArgs(srv, t.TempDir(), "--token", "ghp_short")...)
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "invalid GitHub token format")
		assert.Zero(t, srv.Repo.Fetches("docs/a.md"))
	})

	t.Run("malformed token from env", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "not-a-token")
		code, _, stderr := runCLI(t, "o/r", "--dry-run")
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "--token")
	})

	t.Run("output is a file", func(t *testing.T) {
		srv := ghtest.NewServer(t, newRepo())
		out := filepath.Join(t.TempDir(), "out")
		require.NoError(t, os.WriteFile(out, []byte("x"), 0o644))

		code, _, stderr := runCLI(t, downloadArgs(srv, out)...)
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "not writable")
		assert.Zero(t, srv.Repo.Fetches("docs/a.md"))
	})

	t.Run("invalid settings", func(t *testing.T) {
		srv := ghtest.NewServer(t, newRepo())
		code, _, stderr := runCLI(t, downloadArgs(srv, t.TempDir(), "--max-concurrent", "50")...)
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "out of range")
	})
}

func TestRun_DryRun(t *testing.T) {
	isolate(t)
	srv := ghtest.NewServer(t, newRepo())
	out := t.TempDir()

	code, stdout, _ := runCLI(t, downloadArgs(srv, out, "--dry-run", "--plan-format", "json")...)
	require.Equal(t, ExitOK, code)

	var p ghfolder.Plan
	require.NoError(t, json.Unmarshal([]byte(stdout), &p))
	assert.Len(t, p.Items, 2)
	assert.Equal(t, ghtest.Commit, p.Commit)
	assert.Equal(t, 0, srv.Repo.Fetches("docs/a.md"))

	code, stdout, _ = runCLI(t, downloadArgs(srv, out, "--dry-run", "--exclude", "*.txt")...)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "1 files")
	assert.Contains(t, stdout, "1 filtered out")
	assert.Contains(t, stdout, "docs/a.md")
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		status       ghfolder.ExitStatus
		allowPartial bool
		want         int
	}{
		{ghfolder.ExitOK, false, ExitOK},
		{ghfolder.ExitPartial, false, ExitPartial},
		{ghfolder.ExitPartial, true, ExitOK},
		{ghfolder.ExitAllFailed, true, ExitAllFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCodeFor(tt.status, tt.allowPartial), "%v allow=%v", tt.status, tt.allowPartial)
	}
}

func TestVersionShort(t *testing.T) {
	isolate(t)
	code, stdout, _ := runCLI(t, "version", "--short")
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "test\n", stdout)
}

func TestVersionFull(t *testing.T) {
	isolate(t)
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.True(t, strings.HasPrefix(stdout, "ghfolder test\n"), stdout)
	assert.Contains(t, stdout, "Platform:")
	assert.Contains(t, stdout, ghfolder.DefaultEndpoint)

	code, stdout, _ = runCLI(t, "version", "--json")
	assert.Equal(t, ExitOK, code)
	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "test", info.Version)
	assert.Equal(t, ghfolder.UserAgent, info.UserAgent)
	assert.NotEmpty(t, info.Platform)
}

func TestShortRev(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortRev("0123456789abcdef0123"))
	assert.Equal(t, "abc", shortRev("abc"))
}

func TestCacheCommands(t *testing.T) {
	isolate(t)

	code, stdout, _ := runCLI(t, "cache", "stats", "--cache-url", "mem://", "--json")
	require.Equal(t, ExitOK, code)
	var st ghfolder.CacheStats
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	assert.Equal(t, 0, st.Entries)

	code, stdout, _ = runCLI(t, "cache", "prune", "--cache-url", "mem://", "--max-age", "24h")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "Removed 0 expired")

	code, stdout, _ = runCLI(t, "cache", "path")
	require.Equal(t, ExitOK, code)
	assert.Equal(t, ghfolder.DefaultCacheDir()+"\n", stdout)
}

func TestDownloadUsesCacheAcrossRuns(t *testing.T) {
	isolate(t)
	srv := ghtest.NewServer(t, newRepo())
	out := t.TempDir()
	cacheDir := "file://" + filepath.ToSlash(t.TempDir())

	args := []string{"o/r", "--path", "docs", "--endpoint", srv.URL, "-o", out, "--cache-url", cacheDir, "--quiet"}
	code, _, _ := runCLI(t, args...)
	require.Equal(t, ExitOK, code)
	code, _, _ = runCLI(t, args...)
	require.Equal(t, ExitOK, code)

	assert.Equal(t, 1, srv.Repo.Fetches("docs/a.md"))

	code, stdout, _ := runCLI(t, "cache", "stats", "--cache-url", cacheDir, "--json")
	require.Equal(t, ExitOK, code)
	var st ghfolder.CacheStats
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	assert.Equal(t, 2, st.Entries)
}
