// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"context"
	"io"
)

// Transport retrieves file bytes by fetch reference. Implementations report
// the remote quota with every response, including failed ones, and return
// *APIError for non-success statuses.
type Transport interface {
	Fetch(ctx context.Context, ref string) (io.ReadCloser, QuotaInfo, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, ref string) (io.ReadCloser, QuotaInfo, error)

// Fetch calls f.
func (f TransportFunc) Fetch(ctx context.Context, ref string) (io.ReadCloser, QuotaInfo, error) {
	return f(ctx, ref)
}

// Target names a repository subtree to download.
type Target struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Ref   string `json:"ref,omitempty"`
	Path  string `json:"path,omitempty"`
}

// FullName returns "owner/repo".
func (t Target) FullName() string {
	return t.Owner + "/" + t.Repo
}

func (t Target) String() string {
	s := t.FullName()
	if t.Ref != "" {
		s += "@" + t.Ref
	}
	if t.Path != "" {
		s += ":" + t.Path
	}
	return s
}

// Resolution is the file set a Resolver found for a Target.
type Resolution struct {
	Target Target `json:"target"`

	// Commit is the commit SHA the descriptors are pinned to.
	Commit string `json:"commit"`

	Files []FileDescriptor `json:"files"`
}

// Resolver enumerates the files under a target.
type Resolver interface {
	Resolve(ctx context.Context, t Target) (*Resolution, error)
}
