// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package ghtest serves a small in-memory GitHub REST API for tests of
// the CLI and the server.
package ghtest

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Commit is the commit every ref of the fake repository resolves to.
const Commit = "89abcdef0123456789abcdef0123456789abcdef"

// Repo is a fake repository "owner/name" on branch "main".
type Repo struct {
	Owner string
	Name  string

	// Files maps repository paths to their content.
	Files map[string]string

	// Broken paths answer content requests with the given status.
	Broken map[string]int

	// Hold blocks every content request until it is closed.
	Hold chan struct{}

	mu        sync.Mutex
	fetches   map[string]int
	remaining atomic.Int64
}

// Server is a running fake API.
type Server struct {
	*httptest.Server
	Repo *Repo
}

// NewServer starts a fake API for repo and closes it with the test.
func NewServer(t testing.TB, repo *Repo) *Server {
	t.Helper()
	repo.fetches = map[string]int{}
	repo.remaining.Store(5000)
	srv := httptest.NewServer(repo.handler())
	t.Cleanup(srv.Close)
	return &Server{Server: srv, Repo: repo}
}

// Fetches returns how often path's content was requested.
func (r *Repo) Fetches(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[path]
}

// BlobSHA is the git blob id of content.
func BlobSHA(content string) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	io.WriteString(h, content)
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Repo) handler() http.Handler {
	base := "/repos/" + r.Owner + "/" + r.Name
	mux := http.NewServeMux()
	mux.HandleFunc(base, func(w http.ResponseWriter, req *http.Request) {
		r.quota(w)
		writeJSON(w, http.StatusOK, map[string]string{"default_branch": "main"})
	})
	mux.HandleFunc(base+"/commits/", func(w http.ResponseWriter, req *http.Request) {
		r.quota(w)
		ref := strings.TrimPrefix(req.URL.Path, base+"/commits/")
		if ref != "main" && ref != Commit {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "No commit found for SHA: " + ref})
			return
		}
		io.WriteString(w, Commit)
	})
	mux.HandleFunc(base+"/git/trees/", func(w http.ResponseWriter, req *http.Request) {
		r.quota(w)
		type entry struct {
			Path string `json:"path"`
			Type string `json:"type"`
			Sha  string `json:"sha"`
			Size int64  `json:"size"`
		}
		var tree []entry
		for p, c := range r.Files {
			tree = append(tree, entry{Path: p, Type: "blob", Sha: BlobSHA(c), Size: int64(len(c))})
		}
		writeJSON(w, http.StatusOK, map[string]any{"sha": Commit, "tree": tree, "truncated": false})
	})
	mux.HandleFunc(base+"/contents/", func(w http.ResponseWriter, req *http.Request) {
		r.quota(w)
		p := strings.TrimPrefix(req.URL.Path, base+"/contents/")
		r.mu.Lock()
		r.fetches[p]++
		r.mu.Unlock()

		if r.Hold != nil {
			select {
			case <-r.Hold:
			case <-req.Context().Done():
				return
			}
		}
		if code, ok := r.Broken[p]; ok {
			writeJSON(w, code, map[string]string{"message": http.StatusText(code)})
			return
		}
		c, ok := r.Files[p]
		if !ok || req.URL.Query().Get("ref") != Commit {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		io.WriteString(w, c)
	})
	return mux
}

func (r *Repo) quota(w http.ResponseWriter) {
	rem := r.remaining.Add(-1)
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(rem, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
