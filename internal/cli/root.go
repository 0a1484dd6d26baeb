// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bodaay/GitHubFolderDownloader/internal/logging"
)

// Exit codes returned by Execute.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitPartial   = 2
	ExitAllFailed = 3
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Token     string
	JSONOut   bool
	Quiet     bool
	Verbose   bool
	Config    string
	CacheURL  string
	LogFile   string
	LogLevel  string
	LogFormat string

	// configUsed is the config file applied to this run, if any.
	configUsed string
}

// exitError carries a process exit code out of a command. A nil Err
// means the command already reported the problem.
type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *exitError) Unwrap() error { return e.Err }

// Execute runs the CLI with the given version string and returns the
// process exit code.
func Execute(version string) int {
	ctx, cancel := signalContext(context.Background())
	defer cancel()
	defer logging.Sync()
	return run(ctx, version, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, version string, args []string, stdout, stderr io.Writer) int {
	root, _ := newRootCmd(ctx, version)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.Err != nil {
			fmt.Fprintln(stderr, "error:", ee.Err)
		}
		return ee.Code
	}
	fmt.Fprintln(stderr, "error:", err)
	return ExitError
}

func newRootCmd(ctx context.Context, version string) (*cobra.Command, *RootOpts) {
	ro := &RootOpts{}

	root := &cobra.Command{
		Use:   "ghfolder [URL]",
		Short: "Download a folder from a GitHub repository",
		Long: `Download a single folder (or file) from a GitHub repository without cloning it.

URL may be a github.com tree/blob URL or owner/repo shorthand:
  ghfolder https://github.com/golang/go/tree/master/src/net/http
  ghfolder golang/go --path src/net/http --ext go`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applySettings(cmd, ro); err != nil {
				return err
			}
			return initLogging(ro)
		},
	}

	// Global flags
	root.PersistentFlags().StringVarP(&ro.Token, "token", "t", "", "GitHub access token (also reads GITHUB_TOKEN env)")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events (progress, plan, results)")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (errors only)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs (debug details)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&ro.CacheURL, "cache-url", "", "Cache location as a blob URL, file:///dir or mem:// (default: per-user data dir)")
	root.PersistentFlags().StringVar(&ro.LogFile, "log-file", "", "Write logs to file instead of stderr")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&ro.LogFormat, "log-format", "console", "Log format: console, json")

	root.AddCommand(newDownloadCmd(ctx, ro))
	root.AddCommand(newCacheCmd(ro))
	root.AddCommand(newConfigCmd(ro))
	root.AddCommand(newVersionCmd(ro, version))
	root.AddCommand(newServeCmd(ro, version))

	// Make download the default command when no subcommand is given
	bindDownload(ctx, root, ro)
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root, ro
}

// initLogging installs the global logger from the root options.
func initLogging(ro *RootOpts) error {
	level := ro.LogLevel
	switch {
	case ro.Verbose:
		level = "debug"
	case ro.Quiet:
		level = "error"
	}
	cfg := logging.Config{Level: level, Format: ro.LogFormat}
	if ro.LogFile != "" {
		cfg.OutputPaths = []string{ro.LogFile}
	}
	if err := logging.Init(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if ro.configUsed != "" {
		logging.S().Debugw("config file loaded", "path", ro.configUsed)
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(ch)
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
