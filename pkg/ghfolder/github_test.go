// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCommit = "0123456789abcdef0123456789abcdef01234567"

// fakeGitHub serves the subset of the REST API the client uses.
type fakeGitHub struct {
	files     map[string]string
	truncated bool
	remaining atomic.Int64
	requests  atomic.Int64
	token     string
}

func newFakeGitHub(files map[string]string) *fakeGitHub {
	g := &fakeGitHub{files: files}
	g.remaining.Store(4999)
	return g
}

func (g *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r", func(w http.ResponseWriter, r *http.Request) {
		g.writeQuota(w)
		writeJSON(w, map[string]string{"default_branch": "main"})
	})
	mux.HandleFunc("/repos/o/r/commits/", func(w http.ResponseWriter, r *http.Request) {
		g.writeQuota(w)
		if r.Header.Get("Accept") != acceptSHA {
			http.Error(w, "bad accept", http.StatusBadRequest)
			return
		}
		ref := strings.TrimPrefix(r.URL.Path, "/repos/o/r/commits/")
		if ref != "main" && ref != "feature/x" {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]string{"message": "No commit found for SHA: " + ref})
			return
		}
		io.WriteString(w, testCommit)
	})
	mux.HandleFunc("/repos/o/r/git/trees/", func(w http.ResponseWriter, r *http.Request) {
		g.writeQuota(w)
		sha := strings.TrimPrefix(r.URL.Path, "/repos/o/r/git/trees/")
		if r.URL.Query().Get("recursive") == "1" {
			var entries []treeEntry
			for p, c := range g.files {
				entries = append(entries, treeEntry{Path: p, Type: "blob", Sha: blobSHA(c), Size: int64(len(c))})
			}
			writeJSON(w, treeResponse{Sha: sha, Tree: entries, Truncated: g.truncated})
			return
		}
		// Non-recursive: sha is the directory name, or the commit for root.
		dir := ""
		if sha != testCommit {
			dir = sha
		}
		writeJSON(w, treeResponse{Sha: sha, Tree: g.level(dir)})
	})
	mux.HandleFunc("/repos/o/r/contents/", func(w http.ResponseWriter, r *http.Request) {
		g.writeQuota(w)
		if g.token != "" && r.Header.Get("Authorization") != "Bearer "+g.token {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]string{"message": "Bad credentials"})
			return
		}
		if r.URL.Query().Get("ref") != testCommit {
			http.Error(w, "unpinned", http.StatusBadRequest)
			return
		}
		c, ok := g.files[strings.TrimPrefix(r.URL.Path, "/repos/o/r/contents/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, c)
	})
	return mux
}

// level lists the direct children of dir, using the directory path as
// the subtree sha.
func (g *fakeGitHub) level(dir string) []treeEntry {
	seen := map[string]bool{}
	var out []treeEntry
	for p, c := range g.files {
		rel := p
		if dir != "" {
			if !strings.HasPrefix(p, dir+"/") {
				continue
			}
			rel = strings.TrimPrefix(p, dir+"/")
		}
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			name := rel[:i]
			if !seen[name] {
				seen[name] = true
				full := name
				if dir != "" {
					full = dir + "/" + name
				}
				out = append(out, treeEntry{Path: name, Type: "tree", Sha: full})
			}
			continue
		}
		out = append(out, treeEntry{Path: rel, Type: "blob", Sha: blobSHA(c), Size: int64(len(c))})
	}
	return out
}

func (g *fakeGitHub) writeQuota(w http.ResponseWriter) {
	g.requests.Add(1)
	rem := g.remaining.Add(-1)
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(rem, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

var repoFiles = map[string]string{
	"README.md":          "# readme\n",
	"docs/intro.md":      "intro\n",
	"docs/api/v1.md":     "v1\n",
	"docs/api/v2.md":     "v2 docs\n",
	"src/main.go":        "package main\n",
	"docsextra/other.md": "not under docs\n",
}

func newTestClient(t *testing.T, g *fakeGitHub) (*GitHubClient, *QuotaTracker) {
	t.Helper()
	srv := httptest.NewServer(g.handler())
	t.Cleanup(srv.Close)
	q := NewQuotaTracker(DefaultQuotaOptions())
	return NewGitHubClient(ClientOptions{Endpoint: srv.URL, Token: g.token, Quota: q, Timeout: 5 * time.Second}), q
}

func TestGitHubClient_ResolveFolder(t *testing.T) {
	g := newFakeGitHub(repoFiles)
	c, q := newTestClient(t, g)

	res, err := c.Resolve(context.Background(), Target{Owner: "o", Repo: "r", Path: "docs"})
	require.NoError(t, err)

	assert.Equal(t, "main", res.Target.Ref)
	assert.Equal(t, testCommit, res.Commit)
	assert.ElementsMatch(t, []string{"docs/intro.md", "docs/api/v1.md", "docs/api/v2.md"}, paths(res.Files))
	for _, f := range res.Files {
		assert.Equal(t, blobSHA(repoFiles[f.Path]), f.Token)
		assert.Contains(t, f.Ref, "ref="+testCommit)
	}
	assert.Equal(t, 3, int(g.requests.Load()))
	assert.Equal(t, 4996, q.Remaining())
}

func TestGitHubClient_ResolveTruncatedWalks(t *testing.T) {
	g := newFakeGitHub(repoFiles)
	g.truncated = true
	c, _ := newTestClient(t, g)

	res, err := c.Resolve(context.Background(), Target{Owner: "o", Repo: "r", Ref: "main", Path: "docs/api"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"docs/api/v1.md", "docs/api/v2.md"}, paths(res.Files))
}

func TestGitHubClient_ResolveMissingPath(t *testing.T) {
	c, _ := newTestClient(t, newFakeGitHub(repoFiles))
	_, err := c.Resolve(context.Background(), Target{Owner: "o", Repo: "r", Ref: "main", Path: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGitHubClient_ResolveUnknownRef(t *testing.T) {
	c, _ := newTestClient(t, newFakeGitHub(repoFiles))
	_, err := c.Resolve(context.Background(), Target{Owner: "o", Repo: "r", Ref: "ghost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Message, "No commit found")
}

func TestGitHubClient_FetchPinnedContent(t *testing.T) {
	g := newFakeGitHub(repoFiles)
	c, _ := newTestClient(t, g)

	res, err := c.Resolve(context.Background(), Target{Owner: "o", Repo: "r", Ref: "feature/x", Path: "src"})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)

	body, info, err := c.Fetch(context.Background(), res.Files[0].Ref)
	require.NoError(t, err)
	defer body.Close()
	data, _ := io.ReadAll(body)
	assert.Equal(t, "package main\n", string(data))
	assert.True(t, info.Known)
	assert.Equal(t, 5000, info.Limit)
}

func TestGitHubClient_AuthFailure(t *testing.T) {
	g := newFakeGitHub(repoFiles)
	g.token = "secret"
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	c := NewGitHubClient(ClientOptions{Endpoint: srv.URL, Token: "wrong"})
	_, _, err := c.Fetch(context.Background(), srv.URL+"/repos/o/r/contents/README.md?ref="+testCommit)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, KindFatal, Classify(err))
}

func TestGitHubClient_RateLimitResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Minute).Unix()))
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]string{"message": "API rate limit exceeded"})
	}))
	defer srv.Close()

	c := NewGitHubClient(ClientOptions{Endpoint: srv.URL})
	_, info, err := c.Fetch(context.Background(), srv.URL+"/anything")
	require.Error(t, err)
	assert.Equal(t, KindRateLimit, Classify(err))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, info.Known)
	assert.Zero(t, info.Remaining)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 7*time.Second, apiErr.RetryAfter)
}

func TestParseQuota(t *testing.T) {
	h := http.Header{}
	assert.False(t, parseQuota(h).Known)

	h.Set("X-RateLimit-Remaining", "12")
	h.Set("X-RateLimit-Reset", "1700000000")
	info := parseQuota(h)
	assert.True(t, info.Known)
	assert.Equal(t, 12, info.Remaining)
	assert.Equal(t, time.Unix(1700000000, 0), info.ResetAt)
}
