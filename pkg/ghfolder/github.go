// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultEndpoint is the public GitHub REST API.
const DefaultEndpoint = "https://api.github.com"

const (
	githubAPIVersion = "2022-11-28"
	acceptJSON       = "application/vnd.github+json"
	acceptRaw        = "application/vnd.github.raw"
	acceptSHA        = "application/vnd.github.sha"
)

// UserAgent is sent with every request.
var UserAgent = "ghfolder/1"

// ClientOptions configures a GitHubClient.
type ClientOptions struct {
	Token    string
	Endpoint string

	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration

	// Quota gates and observes the listing calls made by the resolver.
	// Fetch is gated by the worker instead.
	Quota *QuotaTracker

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// GitHubClient talks to the GitHub REST API. It implements both Transport
// and Resolver.
type GitHubClient struct {
	httpc    *http.Client
	token    string
	endpoint string
	quota    *QuotaTracker
}

// NewGitHubClient builds a client from opts.
func NewGitHubClient(opts ClientOptions) *GitHubClient {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = buildHTTPClient(opts.Timeout)
	}
	return &GitHubClient{
		httpc:    httpc,
		token:    opts.Token,
		endpoint: getEndpoint(opts.Endpoint),
		quota:    opts.Quota,
	}
}

// buildHTTPClient creates an HTTP client with sensible defaults.
func buildHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

func getEndpoint(endpoint string) string {
	if endpoint == "" {
		return DefaultEndpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}

// addAuth adds authentication, API version and user-agent headers.
func addAuth(req *http.Request, token, accept string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	req.Header.Set("User-Agent", UserAgent)
}

// parseQuota reads the X-RateLimit-* headers.
func parseQuota(h http.Header) QuotaInfo {
	rem := h.Get("X-RateLimit-Remaining")
	if rem == "" {
		return QuotaInfo{}
	}
	n, err := strconv.Atoi(rem)
	if err != nil {
		return QuotaInfo{}
	}
	info := QuotaInfo{Known: true, Remaining: n}
	if l, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		info.Limit = l
	}
	if r, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil && r > 0 {
		info.ResetAt = time.Unix(r, 0)
	}
	return info
}

func parseRetryAfter(h http.Header) time.Duration {
	if s, err := strconv.Atoi(h.Get("Retry-After")); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	return 0
}

// send performs one GET without quota gating. Non-2xx responses are
// drained, closed and returned as *APIError.
func (c *GitHubClient) send(ctx context.Context, rawURL, accept string) (*http.Response, QuotaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, QuotaInfo{}, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	addAuth(req, c.token, accept)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, QuotaInfo{}, err
	}
	info := parseQuota(resp.Header)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, info, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		URL:        rawURL,
		Quota:      info,
		RetryAfter: parseRetryAfter(resp.Header),
	}
	var body struct {
		Message string `json:"message"`
	}
	if data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10)); len(data) > 0 {
		if json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Message
		}
	}
	return nil, info, apiErr
}

// call is send gated by the client's quota tracker.
func (c *GitHubClient) call(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	if c.quota != nil {
		if err := c.quota.Wait(ctx, nil); err != nil {
			return nil, err
		}
	}
	resp, info, err := c.send(ctx, rawURL, accept)
	if c.quota != nil {
		c.quota.ObserveInfo(info)
	}
	return resp, err
}

func (c *GitHubClient) getJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.call(ctx, rawURL, acceptJSON)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

// Fetch implements Transport. ref is a contents API URL.
func (c *GitHubClient) Fetch(ctx context.Context, ref string) (io.ReadCloser, QuotaInfo, error) {
	resp, info, err := c.send(ctx, ref, acceptRaw)
	if err != nil {
		return nil, info, err
	}
	return resp.Body, info, nil
}

// DefaultBranch returns the repository's default branch.
func (c *GitHubClient) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var r struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.getJSON(ctx, c.repoURL(owner, repo, ""), &r); err != nil {
		return "", fmt.Errorf("get repository %s/%s: %w", owner, repo, err)
	}
	if r.DefaultBranch == "" {
		return "", fmt.Errorf("repository %s/%s has no default branch", owner, repo)
	}
	return r.DefaultBranch, nil
}

// ResolveCommit returns the commit SHA a branch, tag or SHA points at.
func (c *GitHubClient) ResolveCommit(ctx context.Context, owner, repo, ref string) (string, error) {
	resp, err := c.call(ctx, c.repoURL(owner, repo, "/commits/"+pathEscapeAll(ref)), acceptSHA)
	if err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", ref, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	sha := strings.TrimSpace(string(data))
	if sha == "" {
		return "", fmt.Errorf("resolve ref %q: empty response", ref)
	}
	return sha, nil
}

// treeEntry is one node of a git tree listing.
type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"` // "blob" | "tree" | "commit"
	Sha  string `json:"sha"`
	Size int64  `json:"size"`
}

type treeResponse struct {
	Sha       string      `json:"sha"`
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// listTree lists the blobs under prefix in the tree of commit sha. When the
// recursive listing is truncated it walks the subtrees one level at a time.
func (c *GitHubClient) listTree(ctx context.Context, owner, repo, sha, prefix string) ([]treeEntry, error) {
	var tr treeResponse
	if err := c.getJSON(ctx, c.repoURL(owner, repo, "/git/trees/"+url.PathEscape(sha)+"?recursive=1"), &tr); err != nil {
		return nil, fmt.Errorf("list tree: %w", err)
	}
	if !tr.Truncated {
		var out []treeEntry
		for _, e := range tr.Tree {
			if e.Type == "blob" && underPrefix(e.Path, prefix) {
				out = append(out, e)
			}
		}
		return out, nil
	}

	var out []treeEntry
	err := c.walkTree(ctx, owner, repo, sha, "", prefix, func(e treeEntry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// walkTree recursively walks a tree without the recursive flag, entering
// only subtrees on the way to or below prefix.
func (c *GitHubClient) walkTree(ctx context.Context, owner, repo, sha, dir, prefix string, fn func(treeEntry) error) error {
	var tr treeResponse
	if err := c.getJSON(ctx, c.repoURL(owner, repo, "/git/trees/"+url.PathEscape(sha)), &tr); err != nil {
		return fmt.Errorf("list tree %q: %w", dir, err)
	}
	for _, e := range tr.Tree {
		full := e.Path
		if dir != "" {
			full = dir + "/" + e.Path
		}
		switch e.Type {
		case "tree":
			if underPrefix(full, prefix) || strings.HasPrefix(prefix, full+"/") {
				if err := c.walkTree(ctx, owner, repo, e.Sha, full, prefix, fn); err != nil {
					return err
				}
			}
		case "blob":
			if underPrefix(full, prefix) {
				e.Path = full
				if err := fn(e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// underPrefix reports whether p is prefix itself or inside it.
func underPrefix(p, prefix string) bool {
	return prefix == "" || p == prefix || strings.HasPrefix(p, prefix+"/")
}

// Resolve implements Resolver.
func (c *GitHubClient) Resolve(ctx context.Context, t Target) (*Resolution, error) {
	if t.Owner == "" || t.Repo == "" {
		return nil, ErrMissingRepo
	}
	if t.Ref == "" {
		branch, err := c.DefaultBranch(ctx, t.Owner, t.Repo)
		if err != nil {
			return nil, err
		}
		t.Ref = branch
	}
	commit, err := c.ResolveCommit(ctx, t.Owner, t.Repo, t.Ref)
	if err != nil {
		return nil, err
	}

	prefix := strings.Trim(t.Path, "/")
	entries, err := c.listTree(ctx, t.Owner, t.Repo, commit, prefix)
	if err != nil {
		return nil, err
	}
	if prefix != "" && len(entries) == 0 {
		return nil, fmt.Errorf("path %q at %s: %w", prefix, t.Ref, ErrNotFound)
	}

	res := &Resolution{Target: t, Commit: commit, Files: make([]FileDescriptor, 0, len(entries))}
	for _, e := range entries {
		res.Files = append(res.Files, FileDescriptor{
			Path:  e.Path,
			Token: e.Sha,
			Size:  e.Size,
			Ref:   c.contentsURL(t.Owner, t.Repo, e.Path, commit),
		})
	}
	return res, nil
}

// URL builders

func (c *GitHubClient) repoURL(owner, repo, suffix string) string {
	return fmt.Sprintf("%s/repos/%s/%s%s", c.endpoint, url.PathEscape(owner), url.PathEscape(repo), suffix)
}

func (c *GitHubClient) contentsURL(owner, repo, path, commit string) string {
	return c.repoURL(owner, repo, "/contents/"+pathEscapeAll(path)+"?ref="+url.QueryEscape(commit))
}

func pathEscapeAll(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}
