// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bodaay/GitHubFolderDownloader/internal/server"
	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

func newServeCmd(ro *RootOpts, version string) *cobra.Command {
	cfg := server.DefaultConfig()
	var origins []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for API-driven downloads",
		Long: `Start an HTTP server that provides:
  - REST API for download jobs, plans and the cache
  - WebSocket for live progress updates
  - Prometheus metrics on /metrics

The output directory is configured server-side only (not via API).

Example:
  ghfolder serve
  ghfolder serve --port 3000 --output ./Downloads`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Get token from flag or env
			token := strings.TrimSpace(ro.Token)
			if token == "" {
				token = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
			}
			if err := ghfolder.ValidateToken(token); err != nil {
				return fmt.Errorf("--token: %w", err)
			}
			cfg.Token = token
			cfg.CacheURL = ro.CacheURL
			cfg.AllowedOrigins = origins
			cfg.Version = version
			if cfg.MaxConcurrency < 1 || cfg.MaxConcurrency > 20 {
				return fmt.Errorf("max-concurrent %d out of range 1..20", cfg.MaxConcurrency)
			}

			srv := server.New(cfg)

			// Handle shutdown signals
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if !ro.Quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%s serving on http://%s:%d (output %s)\n",
					bold("ghfolder"), cfg.Addr, cfg.Port, cfg.OutputDir)
			}
			return srv.ListenAndServe(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to bind to")
	f.IntVar(&cfg.Port, "port", cfg.Port, "Port to listen on")
	f.StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "Download root for all jobs")
	f.IntVar(&cfg.MaxActiveJobs, "max-active", cfg.MaxActiveJobs, "Jobs running at once")
	f.IntVarP(&cfg.MaxConcurrency, "max-concurrent", "c", cfg.MaxConcurrency, "Files in flight per job (1-20)")
	f.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Attempts per file (1-10)")
	f.StringVar(&cfg.Verify, "verify", cfg.Verify, "Verification: none|size|hash")
	f.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "GitHub API base URL")
	f.StringSliceVar(&origins, "allowed-origin", nil, "CORS origins allowed to call the API (repeatable)")

	return cmd
}
