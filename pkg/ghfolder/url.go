// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseURL parses a repository location into a Target. Accepted forms:
//
//	https://github.com/owner/repo
//	https://github.com/owner/repo.git
//	https://github.com/owner/repo/tree/<ref>/<path>
//	https://github.com/owner/repo/blob/<ref>/<file>
//	owner/repo
//
// Refs containing '/' cannot be told apart from the path in a URL; the
// first segment after tree/ is taken as the ref.
func ParseURL(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, ErrMissingRepo
	}

	var rest string
	switch {
	case strings.Contains(s, "://"):
		u, err := url.Parse(s)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return Target{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
		}
		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		if host != "github.com" {
			return Target{}, fmt.Errorf("%w: host must be github.com, got %q", ErrInvalidURL, u.Host)
		}
		rest = u.EscapedPath()
	case strings.HasPrefix(s, "github.com/"):
		rest = strings.TrimPrefix(s, "github.com/")
	default:
		rest = s
	}

	rest = strings.Trim(rest, "/")
	segs := strings.Split(rest, "/")
	if len(segs) < 2 || segs[0] == "" || segs[1] == "" {
		return Target{}, fmt.Errorf("%w: must include owner and repository", ErrInvalidURL)
	}
	t := Target{Owner: segs[0], Repo: strings.TrimSuffix(segs[1], ".git")}
	if t.Repo == "" {
		return Target{}, fmt.Errorf("%w: empty repository name", ErrInvalidURL)
	}

	switch len(segs) {
	case 2:
		return t, nil
	case 3:
		return Target{}, fmt.Errorf("%w: tree path format is incorrect", ErrInvalidURL)
	}
	if segs[2] != "tree" && segs[2] != "blob" {
		return Target{}, fmt.Errorf("%w: expected /tree/<ref>/... got /%s/", ErrInvalidURL, segs[2])
	}
	if segs[3] == "" {
		return Target{}, fmt.Errorf("%w: empty ref", ErrInvalidURL)
	}
	ref, err := url.PathUnescape(segs[3])
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	t.Ref = ref
	if len(segs) > 4 {
		p, err := url.PathUnescape(strings.Join(segs[4:], "/"))
		if err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		t.Path = p
	}
	return t, nil
}

// IsValidRepoName checks that s is in "owner/repo" form.
func IsValidRepoName(s string) bool {
	parts := strings.Split(s, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}
