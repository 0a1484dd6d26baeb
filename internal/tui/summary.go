// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

// maxListedFailures caps the failure list in the summary.
const maxListedFailures = 20

// PrintSummary writes the end-of-run report: counts, bytes, duration and
// the failed files with their failure kind.
func PrintSummary(w io.Writer, stats *ghfolder.SessionStats) {
	if stats == nil {
		return
	}
	status := stats.Status()
	var head string
	switch status {
	case ghfolder.ExitOK:
		head = green("Download complete")
	case ghfolder.ExitPartial:
		head = yellow("Download finished with failures")
	default:
		head = red("Download failed")
	}
	fmt.Fprintln(w, bold(head))

	fmt.Fprintf(w, "  %-12s %d\n", "files", stats.Total)
	fmt.Fprintf(w, "  %-12s %s (%s)\n", "downloaded", green(stats.Downloaded), ghfolder.HumanBytes(stats.BytesDownloaded))
	fmt.Fprintf(w, "  %-12s %s (%s)\n", "cached", blue(stats.Skipped), ghfolder.HumanBytes(stats.BytesSkipped))
	if stats.Failed > 0 {
		fmt.Fprintf(w, "  %-12s %s\n", "failed", red(stats.Failed))
	} else {
		fmt.Fprintf(w, "  %-12s %d\n", "failed", 0)
	}
	if stats.Retries > 0 {
		fmt.Fprintf(w, "  %-12s %d\n", "retries", stats.Retries)
	}
	d := stats.Duration().Round(time.Millisecond)
	fmt.Fprintf(w, "  %-12s %s", "duration", d)
	if secs := d.Seconds(); secs > 0 && stats.BytesDownloaded > 0 {
		fmt.Fprintf(w, " (%s/s)", ghfolder.HumanBytes(int64(float64(stats.BytesDownloaded)/secs)))
	}
	fmt.Fprintln(w)

	failures := stats.Failures()
	if len(failures) == 0 {
		return
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Descriptor.Path < failures[j].Descriptor.Path })
	fmt.Fprintln(w)
	fmt.Fprintln(w, bold("Failed files:"))
	for i, f := range failures {
		if i == maxListedFailures {
			fmt.Fprintln(w, faint(fmt.Sprintf("  ... and %d more", len(failures)-maxListedFailures)))
			break
		}
		fmt.Fprintf(w, "  %s %s [%s]\n", red("x"), f.Descriptor.Path, f.Kind)
		if f.Err != nil {
			fmt.Fprintf(w, "    %s\n", faint(f.Err.Error()))
		}
	}
}
