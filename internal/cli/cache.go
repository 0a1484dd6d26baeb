// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

func newCacheCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the download cache",
		Long: `The cache remembers which files were downloaded and verified, so that
unchanged files are skipped on the next run. Only metadata is stored;
downloaded files are never removed by these commands.`,
	}

	cmd.AddCommand(newCacheStatsCmd(ro))
	cmd.AddCommand(newCachePruneCmd(ro))
	cmd.AddCommand(newCacheClearCmd(ro))
	cmd.AddCommand(newCachePathCmd(ro))

	return cmd
}

func newCacheStatsCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := ghfolder.OpenCache(cmd.Context(), ro.CacheURL)
			if err != nil {
				return err
			}
			defer cache.Close()

			st := cache.Stats()
			out := cmd.OutOrStdout()
			if ro.JSONOut {
				return writeJSON(out, st)
			}
			fmt.Fprintln(out, bold("Cache"), cacheLocation(ro))
			fmt.Fprintf(out, "  %-10s %d\n", "entries", st.Entries)
			fmt.Fprintf(out, "  %-10s %s\n", "tracked", ghfolder.HumanBytes(st.TotalBytes))
			if st.Entries > 0 {
				fmt.Fprintf(out, "  %-10s %s\n", "oldest", st.Oldest.Format(time.RFC3339))
				fmt.Fprintf(out, "  %-10s %s\n", "newest", st.Newest.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newCachePruneCmd(ro *RootOpts) *cobra.Command {
	def := ghfolder.DefaultSettings()
	var (
		maxAge  time.Duration
		maxSize string
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop stale and excess cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := ghfolder.ParseSize(maxSize, def.CacheMaxSize)
			if err != nil {
				return fmt.Errorf("--max-size: %w", err)
			}
			cache, err := ghfolder.OpenCache(cmd.Context(), ro.CacheURL)
			if err != nil {
				return err
			}
			defer cache.Close()

			rep, err := cache.Prune(cmd.Context(), maxAge, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ro.JSONOut {
				return writeJSON(out, rep)
			}
			fmt.Fprintf(out, "Removed %d expired and %d excess entries (%s), %d remain\n",
				rep.ExpiredRemoved, rep.SizeRemoved, ghfolder.HumanBytes(rep.BytesFreed), rep.Remaining)
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", def.CacheMaxAge, "Drop entries older than this")
	cmd.Flags().StringVar(&maxSize, "max-size", ghfolder.HumanBytes(def.CacheMaxSize), "Keep at most this many tracked bytes")

	return cmd
}

func newCacheClearCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := ghfolder.OpenCache(cmd.Context(), ro.CacheURL)
			if err != nil {
				return err
			}
			defer cache.Close()

			n := cache.Stats().Entries
			if err := cache.Clear(cmd.Context()); err != nil {
				return err
			}
			if !ro.Quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cache entries\n", n)
			}
			return nil
		},
	}
}

func newCachePathCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache location",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), cacheLocation(ro))
		},
	}
}

func cacheLocation(ro *RootOpts) string {
	if ro.CacheURL != "" {
		return ro.CacheURL
	}
	return ghfolder.DefaultCacheDir()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
