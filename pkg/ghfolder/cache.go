// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

const (
	cacheMetadataKey   = "cache_metadata.json"
	cacheFormatVersion = 1
	cacheFlushEvery    = 5
)

// CacheEntry records one verified download.
type CacheEntry struct {
	Repo         string    `json:"repo"`
	Path         string    `json:"path"`
	Token        string    `json:"token"`
	Size         int64     `json:"size"`
	LocalPath    string    `json:"localPath"`
	DownloadedAt time.Time `json:"downloadedAt"`
	VerifiedAt   time.Time `json:"verifiedAt"`
}

// CacheResult is the answer of CacheStore.Lookup.
type CacheResult int

const (
	CacheMiss CacheResult = iota
	CacheHit
)

func (r CacheResult) String() string {
	if r == CacheHit {
		return "hit"
	}
	return "miss"
}

// CacheStats summarizes the cache contents.
type CacheStats struct {
	Entries    int       `json:"entries"`
	TotalBytes int64     `json:"totalBytes"`
	Oldest     time.Time `json:"oldest,omitempty"`
	Newest     time.Time `json:"newest,omitempty"`
}

// PruneReport describes what Prune removed.
type PruneReport struct {
	ExpiredRemoved int   `json:"expiredRemoved"`
	SizeRemoved    int   `json:"sizeRemoved"`
	BytesFreed     int64 `json:"bytesFreed"`
	Remaining      int   `json:"remaining"`
}

type cacheDocument struct {
	Version int                    `json:"version"`
	Entries map[string]*CacheEntry `json:"entries"`
}

// CacheStore maps (repository, path) to the last verified download.
// Only metadata is stored; downloaded files are never touched. It is safe
// for concurrent use.
type CacheStore struct {
	bucket     *blob.Bucket
	ownsBucket bool
	now        func() time.Time

	// writeMu orders persists so an older snapshot never overwrites a newer one.
	writeMu sync.Mutex

	mu      sync.Mutex
	entries map[string]*CacheEntry
	pending int
}

// DefaultCacheDir returns the per-user cache metadata directory.
func DefaultCacheDir() string {
	return filepath.Join(xdg.DataHome, "gh-folder-download", "cache")
}

// OpenCache opens the cache at url, or at DefaultCacheDir when url is empty.
// Any gocloud.dev blob URL with a registered driver is accepted; only file://
// is linked in by this package, other drivers are imported by the program.
func OpenCache(ctx context.Context, url string) (*CacheStore, error) {
	var (
		bucket *blob.Bucket
		err    error
	)
	if url == "" {
		dir := DefaultCacheDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		bucket, err = fileblob.OpenBucket(dir, nil)
	} else {
		bucket, err = blob.OpenBucket(ctx, url)
	}
	if err != nil {
		return nil, fmt.Errorf("open cache bucket: %w", err)
	}
	c, err := NewCacheStore(ctx, bucket)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	c.ownsBucket = true
	return c, nil
}

// NewCacheStore loads cache metadata from bucket. A missing or unreadable
// document yields an empty cache.
func NewCacheStore(ctx context.Context, bucket *blob.Bucket) (*CacheStore, error) {
	c := &CacheStore{
		bucket:  bucket,
		now:     time.Now,
		entries: make(map[string]*CacheEntry),
	}
	data, err := bucket.ReadAll(ctx, cacheMetadataKey)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return c, nil
		}
		return nil, fmt.Errorf("read cache metadata: %w", err)
	}
	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil || doc.Version != cacheFormatVersion {
		// A corrupt document only costs redundant downloads.
		return c, nil
	}
	for k, e := range doc.Entries {
		if e != nil {
			c.entries[k] = e
		}
	}
	return c, nil
}

func cacheKey(repo, path string) string {
	return repo + ":" + path
}

// Lookup reports a Hit only when the entry for (repo, path) carries token,
// was recorded for localPath, and that file still has the recorded size.
// An entry whose file is gone or changed is dropped.
func (c *CacheStore) Lookup(repo, path, token, localPath string) CacheResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(repo, path)
	e, ok := c.entries[key]
	if !ok || e.Token != token || e.LocalPath != localPath {
		return CacheMiss
	}
	fi, err := os.Stat(localPath)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() != e.Size {
		delete(c.entries, key)
		c.pending++
		return CacheMiss
	}
	return CacheHit
}

// Record stores a verified download. Metadata is persisted every few
// records and on Flush.
func (c *CacheStore) Record(ctx context.Context, repo, path, token string, size int64, localPath string) error {
	now := c.now()
	c.mu.Lock()
	key := cacheKey(repo, path)
	e, ok := c.entries[key]
	if !ok {
		e = &CacheEntry{Repo: repo, Path: path}
		c.entries[key] = e
	}
	e.Token = token
	e.Size = size
	e.LocalPath = localPath
	e.DownloadedAt = now
	e.VerifiedAt = now
	c.pending++
	flush := c.pending >= cacheFlushEvery
	c.mu.Unlock()

	if flush {
		return c.Flush(ctx)
	}
	return nil
}

// Get returns a copy of the entry for (repo, path).
func (c *CacheStore) Get(repo, path string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(repo, path)]
	if !ok {
		return CacheEntry{}, false
	}
	return *e, true
}

// Prune removes entries not verified within maxAge, then the least
// recently verified entries until the recorded total is at most maxBytes.
// Zero disables either bound.
func (c *CacheStore) Prune(ctx context.Context, maxAge time.Duration, maxBytes int64) (PruneReport, error) {
	var rep PruneReport
	cutoff := c.now().Add(-maxAge)

	c.mu.Lock()
	if maxAge > 0 {
		for k, e := range c.entries {
			if e.VerifiedAt.Before(cutoff) {
				delete(c.entries, k)
				rep.ExpiredRemoved++
				rep.BytesFreed += e.Size
			}
		}
	}

	if maxBytes > 0 {
		var total int64
		keys := make([]string, 0, len(c.entries))
		for k, e := range c.entries {
			total += e.Size
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, b := c.entries[keys[i]], c.entries[keys[j]]
			if !a.VerifiedAt.Equal(b.VerifiedAt) {
				return a.VerifiedAt.Before(b.VerifiedAt)
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			if total <= maxBytes {
				break
			}
			e := c.entries[k]
			delete(c.entries, k)
			total -= e.Size
			rep.SizeRemoved++
			rep.BytesFreed += e.Size
		}
	}
	rep.Remaining = len(c.entries)
	changed := rep.ExpiredRemoved+rep.SizeRemoved > 0
	if changed {
		c.pending++
	}
	c.mu.Unlock()

	if !changed {
		return rep, nil
	}
	return rep, c.Flush(ctx)
}

// Stats summarizes the current entries.
func (c *CacheStore) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s CacheStats
	for _, e := range c.entries {
		s.Entries++
		s.TotalBytes += e.Size
		if s.Oldest.IsZero() || e.VerifiedAt.Before(s.Oldest) {
			s.Oldest = e.VerifiedAt
		}
		if e.VerifiedAt.After(s.Newest) {
			s.Newest = e.VerifiedAt
		}
	}
	return s
}

// Clear removes every entry and the persisted document.
func (c *CacheStore) Clear(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.pending = 0
	c.mu.Unlock()

	if err := c.bucket.Delete(ctx, cacheMetadataKey); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Flush persists pending changes.
func (c *CacheStore) Flush(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.pending == 0 {
		c.mu.Unlock()
		return nil
	}
	doc := cacheDocument{Version: cacheFormatVersion, Entries: make(map[string]*CacheEntry, len(c.entries))}
	for k, e := range c.entries {
		cp := *e
		doc.Entries[k] = &cp
	}
	c.pending = 0
	c.mu.Unlock()

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return err
	}
	if err := c.bucket.WriteAll(ctx, cacheMetadataKey, data, nil); err != nil {
		c.mu.Lock()
		c.pending++
		c.mu.Unlock()
		return fmt.Errorf("write cache metadata: %w", err)
	}
	return nil
}

// Close flushes pending changes and closes the bucket if the store opened it.
func (c *CacheStore) Close() error {
	err := c.Flush(context.Background())
	if c.ownsBucket {
		if cerr := c.bucket.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
