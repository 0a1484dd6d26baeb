// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

// DefaultConfig returns the default configuration, keyed by flag name.
func DefaultConfig() map[string]any {
	d := ghfolder.DefaultSettings()
	return map[string]any{
		"output":            d.OutputDir,
		"max-concurrent":    d.MaxConcurrency,
		"timeout":           d.Timeout.String(),
		"max-retries":       d.MaxRetries,
		"backoff-initial":   d.BackoffInitial.String(),
		"backoff-max":       d.BackoffMax.String(),
		"verify":            d.Verify,
		"no-cache":          false,
		"cache-max-age":     d.CacheMaxAge.String(),
		"cache-max-size":    ghfolder.HumanBytes(d.CacheMaxSize),
		"no-rate-limit":     false,
		"rate-limit-buffer": d.RateLimitBuffer,
		"max-quota-wait":    d.MaxQuotaWait.String(),
		"endpoint":          d.Endpoint,
		"exclude":           []string{},
		"token":             "",
	}
}

func newConfigCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(ro))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		useYAML bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file in the user config directory
(for example ~/.config/gh-folder-download/config.json, or config.yaml with --yaml).

The configuration file sets default values for the download flags.
Environment variables (GH_FOLDER_DOWNLOAD_*) override it, and CLI flags
override both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := DefaultConfigPath(useYAML)
			if err := writeDefaultConfig(configPath, useYAML, force); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Created config file: %s\n", green("✓"), configPath)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Edit this file to set your defaults. For example:")
			fmt.Fprintln(out, "  - Set your GitHub token")
			fmt.Fprintln(out, "  - Change the default output directory")
			fmt.Fprintln(out, "  - Adjust concurrency and retry settings")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create YAML config instead of JSON")

	return cmd
}

func writeDefaultConfig(configPath string, useYAML, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	cfg := DefaultConfig()
	var (
		data []byte
		err  error
	)
	if useYAML {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}
	return nil
}

func newConfigShowCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			configPath := ro.configUsed
			if configPath == "" {
				fmt.Fprintln(out, "No config file found. Searched:")
				for _, p := range ConfigPaths() {
					fmt.Fprintf(out, "  %s\n", p)
				}
				fmt.Fprintln(out, "Run 'ghfolder config init' to create one.")
				return nil
			}

			data, err := os.ReadFile(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Config file: %s (modified %s)\n\n", configPath, modTime(configPath))
			fmt.Fprintln(out, string(data))

			env, err := loadEnv()
			if err != nil {
				return err
			}
			if len(env) > 0 {
				fmt.Fprintln(out, "Overridden by environment:")
				keys := make([]string, 0, len(env))
				for k := range env {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					if k == "token" {
						fmt.Fprintf(out, "  %s = ****\n", k)
						continue
					}
					fmt.Fprintf(out, "  %s = %s\n", k, env[k])
				}
			}
			return nil
		},
	}
}

func modTime(path string) string {
	st, err := os.Stat(path)
	if err != nil {
		return "unknown"
	}
	return st.ModTime().Format(time.RFC3339)
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file search path",
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range ConfigPaths() {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
		},
	}
}
