// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package ghfolder downloads a folder (or a whole tree) of a GitHub repository
with bounded concurrency, quota-aware pacing, retries and a persistent cache
of verified files.

# Features

  - Folder downloads: any subtree of any branch, tag or commit
  - Bounded worker pool: at most MaxConcurrency transfers at a time
  - Quota tracking: requests are paced and held back before the API limit is hit
  - Retries: exponential backoff with jitter, classified by failure kind
  - Cache: files already present with the same blob SHA are skipped
  - Verification: size or git blob SHA-1 checks before a file is published
  - Filtering: extensions, globs, regular expressions, sizes and presets

# Quick Start

	job := ghfolder.Job{URL: "https://github.com/golang/go/tree/master/src/net/http"}

	cfg := ghfolder.DefaultSettings()
	cfg.OutputDir = "./out"
	cfg.Token = os.Getenv("GITHUB_TOKEN")

	stats, err := ghfolder.Download(ctx, job, cfg, func(e ghfolder.ProgressEvent) {
		fmt.Printf("[%s] %s %s\n", e.Event, e.Path, e.Message)
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(stats.Status())

# Dry-Run / Planning

PlanRepo resolves and filters without transferring anything:

	plan, err := ghfolder.PlanRepo(ctx, job, cfg)
	for _, item := range plan.Items {
		fmt.Printf("%s (%d bytes)\n", item.Path, item.Size)
	}

# Outcomes

Every descriptor ends in exactly one TransferResult: Downloaded, Skipped
or Failed. A failed file never stops the run; SessionStats.Status tells a
fully successful run from a partial or a total failure. Download returns
an error only when the run could not start or was aborted as a whole
(cancellation, ErrQuotaExhausted, ErrNoTransport).

# Custom Collaborators

DownloadWith accepts a Resolver, a Transport, a CacheStore and a
QuotaTracker. Any nil field is built from Settings, which lets tests and
embedders swap the GitHub client for something else.
*/
package ghfolder
