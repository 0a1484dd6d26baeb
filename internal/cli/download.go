// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bodaay/GitHubFolderDownloader/internal/logging"
	"github.com/bodaay/GitHubFolderDownloader/internal/tui"
	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

// downloadOpts is the flag-bound state of one download command.
type downloadOpts struct {
	job ghfolder.Job
	cfg ghfolder.Settings

	noCache      bool
	noAutoPrune  bool
	noRateLimit  bool
	minSize      string
	maxSize      string
	cacheMaxSize string
	dryRun       bool
	planFmt      string
	progressMode string
	allowPartial bool
}

func newDownloadCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download [URL]",
		Short: "Download a folder from a GitHub repository",
	}
	bindDownload(ctx, cmd, ro)
	return cmd
}

// bindDownload registers the download flags on cmd and makes it run a
// download. The root command and the download subcommand share it.
func bindDownload(ctx context.Context, cmd *cobra.Command, ro *RootOpts) {
	o := &downloadOpts{cfg: ghfolder.DefaultSettings()}
	def := ghfolder.DefaultSettings()

	cmd.Args = cobra.MaximumNArgs(1)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		job, cfg, err := o.finalize(ro, args)
		if err != nil {
			return err
		}
		if o.dryRun {
			return runPlan(ctx, cmd.OutOrStdout(), ro, o, job, cfg)
		}
		return runDownload(ctx, cmd, ro, o, job, cfg)
	}

	f := cmd.Flags()

	// Job flags
	f.StringVarP(&o.job.Ref, "ref", "r", "", "Branch, tag or commit (default: from URL, else the default branch)")
	f.StringVarP(&o.job.Path, "path", "p", "", "Folder or file inside the repository (default: from URL, else the whole tree)")

	// Filter flags
	f.StringSliceVar(&o.job.Filter.Extensions, "ext", nil, "Only download these extensions (e.g. go,md)")
	f.StringSliceVar(&o.job.Filter.ExcludeExtensions, "exclude-ext", nil, "Skip these extensions")
	f.StringSliceVar(&o.job.Filter.Include, "include", nil, "Only download paths matching these globs (/regex/ also accepted)")
	f.StringSliceVar(&o.job.Filter.Exclude, "exclude", nil, "Skip paths matching these globs")
	f.StringVar(&o.minSize, "min-size", "", "Skip files smaller than this (e.g. 1KB)")
	f.StringVar(&o.maxSize, "max-size", "", "Skip files larger than this (e.g. 10MiB)")
	f.BoolVar(&o.job.Filter.ExcludeBinary, "exclude-binary", false, "Skip files that look binary by name")
	f.BoolVar(&o.job.Filter.ExcludeLarge, "exclude-large", false, "Skip files over 10 MiB")
	f.BoolVar(&o.job.Filter.UseIgnorePatterns, "ignore-common", false, "Skip dependency, build and editor directories")
	f.StringSliceVar(&o.job.Filter.Presets, "preset", nil, "Filter presets: "+strings.Join(ghfolder.PresetNames(), ", "))

	// Settings flags
	f.StringVarP(&o.cfg.OutputDir, "output", "o", def.OutputDir, "Destination base directory")
	f.IntVarP(&o.cfg.MaxConcurrency, "max-concurrent", "c", def.MaxConcurrency, "Maximum number of files downloading at once (1-20)")
	f.BoolVar(&o.cfg.Sequential, "sequential", false, "Download one file at a time")
	f.DurationVar(&o.cfg.Timeout, "timeout", def.Timeout, "Per-request timeout")
	f.IntVar(&o.cfg.MaxRetries, "max-retries", def.MaxRetries, "Attempts per file including the first (1-10)")
	f.DurationVar(&o.cfg.BackoffInitial, "backoff-initial", def.BackoffInitial, "Initial retry backoff")
	f.DurationVar(&o.cfg.BackoffMax, "backoff-max", def.BackoffMax, "Maximum retry backoff")
	f.StringVar(&o.cfg.Verify, "verify", def.Verify, "Verification after download: none|size|hash")
	f.BoolVar(&o.noCache, "no-cache", false, "Do not consult or update the download cache")
	f.DurationVar(&o.cfg.CacheMaxAge, "cache-max-age", def.CacheMaxAge, "Drop cache entries older than this when pruning")
	f.StringVar(&o.cacheMaxSize, "cache-max-size", ghfolder.HumanBytes(def.CacheMaxSize), "Cap the cache at this many tracked bytes when pruning")
	f.BoolVar(&o.noAutoPrune, "no-auto-prune", false, "Do not prune the cache after the run")
	f.BoolVar(&o.noRateLimit, "no-rate-limit", false, "Disable the API quota tracker")
	f.IntVar(&o.cfg.RateLimitBuffer, "rate-limit-buffer", def.RateLimitBuffer, "API requests kept in reserve (10-1000)")
	f.DurationVar(&o.cfg.MaxQuotaWait, "max-quota-wait", def.MaxQuotaWait, "Longest wait for the API quota to reset")
	f.StringVar(&o.cfg.Endpoint, "endpoint", def.Endpoint, "GitHub API base URL")
	f.BoolVarP(&o.cfg.Force, "force", "f", false, "Remove the existing output folder and ignore the cache")

	// CLI-only flags
	f.BoolVar(&o.dryRun, "dry-run", false, "Plan only: print the file list and exit")
	f.StringVar(&o.planFmt, "plan-format", "table", "Plan output format for --dry-run: table|json")
	f.StringVar(&o.progressMode, "progress", "auto", "Progress display: auto|live|bar|plain|none")
	f.BoolVar(&o.allowPartial, "allow-partial", false, "Exit 0 when some files failed")
}

// finalize merges root options and arguments into the job and settings.
func (o *downloadOpts) finalize(ro *RootOpts, args []string) (ghfolder.Job, ghfolder.Settings, error) {
	j := o.job
	c := o.cfg

	tok := strings.TrimSpace(ro.Token)
	if tok == "" {
		tok = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	}
	if err := ghfolder.ValidateToken(tok); err != nil {
		return j, c, fmt.Errorf("--token: %w", err)
	}
	c.Token = tok
	c.CacheURL = ro.CacheURL
	c.UseCache = !o.noCache
	c.AutoPruneCache = !o.noAutoPrune
	c.RateLimit = !o.noRateLimit

	var err error
	if c.CacheMaxSize, err = ghfolder.ParseSize(o.cacheMaxSize, c.CacheMaxSize); err != nil {
		return j, c, fmt.Errorf("--cache-max-size: %w", err)
	}
	if j.Filter.MinSize, err = ghfolder.ParseSize(o.minSize, 0); err != nil {
		return j, c, fmt.Errorf("--min-size: %w", err)
	}
	if j.Filter.MaxSize, err = ghfolder.ParseSize(o.maxSize, 0); err != nil {
		return j, c, fmt.Errorf("--max-size: %w", err)
	}

	if len(args) == 0 {
		return j, c, fmt.Errorf("missing URL (https://github.com/owner/repo/tree/ref/path or owner/repo)")
	}
	j.URL = args[0]
	if _, err := ghfolder.ResolveTarget(j); err != nil {
		return j, c, err
	}
	if !o.dryRun {
		if err := ghfolder.CheckOutputDir(c.OutputDir); err != nil {
			return j, c, err
		}
	}
	return j, c, nil
}

func runPlan(ctx context.Context, out io.Writer, ro *RootOpts, o *downloadOpts, job ghfolder.Job, cfg ghfolder.Settings) error {
	p, err := ghfolder.PlanRepo(ctx, job, cfg)
	if err != nil {
		return err
	}
	if strings.ToLower(o.planFmt) == "json" || ro.JSONOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	commit := p.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	fmt.Fprintf(out, "Plan for %s (commit %s): %d files, %s", p.Target, commit, len(p.Items), ghfolder.HumanBytes(p.TotalSize))
	if p.Excluded > 0 {
		fmt.Fprintf(out, ", %d filtered out", p.Excluded)
	}
	fmt.Fprintln(out)
	for _, it := range p.Items {
		bin := ""
		if ghfolder.IsBinaryPath(it.Path) {
			bin = "  binary"
		}
		fmt.Fprintf(out, "  %10s  %s%s\n", ghfolder.HumanBytes(it.Size), it.Path, bin)
	}
	return nil
}

func runDownload(ctx context.Context, cmd *cobra.Command, ro *RootOpts, o *downloadOpts, job ghfolder.Job, cfg ghfolder.Settings) error {
	out := cmd.OutOrStdout()
	target, _ := ghfolder.ResolveTarget(job)

	var handlers []ghfolder.ProgressFunc
	closeUI := func() {}
	switch mode := progressMode(ro, o.progressMode); mode {
	case "json":
		handlers = append(handlers, jsonProgress(out))
	case "live":
		ui := tui.NewLiveRenderer(target, cfg)
		closeUI = ui.Close
		handlers = append(handlers, ui.Handler())
	case "bar":
		ui := tui.NewBarRenderer(cmd.ErrOrStderr())
		closeUI = ui.Close
		handlers = append(handlers, ui.Handler())
	case "plain":
		handlers = append(handlers, cliProgress(out, cmd.ErrOrStderr()))
	default:
		handlers = append(handlers, errorsOnly(cmd.ErrOrStderr()))
	}
	if ro.LogFile != "" || ro.JSONOut {
		handlers = append(handlers, logging.ProgressFunc(logging.L()))
	}

	stats, err := ghfolder.Download(ctx, job, cfg, tee(handlers...))
	closeUI()
	if stats == nil {
		return err
	}
	if !ro.JSONOut && !ro.Quiet {
		fmt.Fprintln(out)
		tui.PrintSummary(out, stats)
	}

	code := exitCodeFor(stats.Status(), o.allowPartial)
	if err != nil {
		if code == ExitOK {
			code = ExitError
		}
		return &exitError{Code: code, Err: err}
	}
	if code != ExitOK {
		return &exitError{Code: code}
	}
	return nil
}

// exitCodeFor maps a run status to the process exit code.
func exitCodeFor(s ghfolder.ExitStatus, allowPartial bool) int {
	switch s {
	case ghfolder.ExitPartial:
		if allowPartial {
			return ExitOK
		}
		return ExitPartial
	case ghfolder.ExitAllFailed:
		return ExitAllFailed
	default:
		return ExitOK
	}
}

// progressMode picks the renderer for a run.
func progressMode(ro *RootOpts, requested string) string {
	switch {
	case ro.JSONOut:
		return "json"
	case ro.Quiet:
		return "none"
	}
	switch m := strings.ToLower(requested); m {
	case "live", "bar", "plain", "none":
		return m
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return "live"
	}
	return "plain"
}

func tee(fns ...ghfolder.ProgressFunc) ghfolder.ProgressFunc {
	if len(fns) == 1 {
		return fns[0]
	}
	return func(ev ghfolder.ProgressEvent) {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// cliProgress returns a simple text-based progress handler.
func cliProgress(out, errOut io.Writer) ghfolder.ProgressFunc {
	var mu sync.Mutex
	return func(ev ghfolder.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Event {
		case "scan_start":
			fmt.Fprintf(out, "Scanning %s ...\n", strings.TrimPrefix(ev.Message, "resolving "))
		case "retry":
			fmt.Fprintf(out, "retry %s (attempt %d): %s\n", ev.Path, ev.Attempt, ev.Message)
		case "quota_wait":
			fmt.Fprintf(out, "waiting %s for API quota\n", ev.Duration)
		case "file_done":
			fmt.Fprintf(out, "done: %s (%s)\n", ev.Path, ghfolder.HumanBytes(ev.Bytes))
		case "file_skip":
			fmt.Fprintf(out, "skip: %s (cached)\n", ev.Path)
		case "file_error":
			fmt.Fprintf(errOut, "failed: %s [%s]: %s\n", ev.Path, ev.Kind, ev.Message)
		case "cache_error":
			fmt.Fprintf(errOut, "cache: %s\n", ev.Message)
		case "error":
			fmt.Fprintf(errOut, "error: %s\n", ev.Message)
		}
	}
}

// errorsOnly reports failed files and nothing else.
func errorsOnly(errOut io.Writer) ghfolder.ProgressFunc {
	var mu sync.Mutex
	return func(ev ghfolder.ProgressEvent) {
		if ev.Event != "file_error" {
			return
		}
		mu.Lock()
		fmt.Fprintf(errOut, "failed: %s [%s]: %s\n", ev.Path, ev.Kind, ev.Message)
		mu.Unlock()
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) ghfolder.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev ghfolder.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
