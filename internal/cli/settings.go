// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	appName        = "gh-folder-download"
	configFileName = appName + ".yaml"
	envPrefix      = "GH_FOLDER_DOWNLOAD"
)

// ConfigPaths returns the config file candidates in search order.
func ConfigPaths() []string {
	var paths []string
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, configFileName))
	}
	dir := filepath.Join(xdg.ConfigHome, appName)
	paths = append(paths,
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.yml"),
		filepath.Join(dir, "config.json"),
	)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+configFileName))
	}
	return paths
}

// DefaultConfigPath is where `config init` writes.
func DefaultConfigPath(useYAML bool) string {
	name := "config.json"
	if useYAML {
		name = "config.yaml"
	}
	return filepath.Join(xdg.ConfigHome, appName, name)
}

// findConfigFile returns explicit when set, else the first existing
// candidate, else "".
func findConfigFile(explicit string, candidates []string) string {
	if explicit != "" {
		return explicit
	}
	for _, p := range candidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// loadConfigFile reads a flat YAML or JSON document keyed by flag name.
func loadConfigFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML config file: %w", err)
		}
	default: // .json or unknown
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON config file: %w", err)
		}
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[k] = configString(v)
	}
	return out, nil
}

func configString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, configString(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}

// envSettings are the environment variables read with the
// GH_FOLDER_DOWNLOAD_ prefix. The token also falls back to plain
// GITHUB_TOKEN.
type envSettings struct {
	GitHubToken      string   `envconfig:"GITHUB_TOKEN"`
	MaxConcurrent    *int     `split_words:"true"`
	Timeout          string   `split_words:"true"`
	MaxRetries       *int     `split_words:"true"`
	CacheEnabled     *bool    `split_words:"true"`
	CacheSizeGB      *float64 `split_words:"true"`
	CacheURL         string   `split_words:"true"`
	RateLimitEnabled *bool    `split_words:"true"`
	RateLimitBuffer  *int     `split_words:"true"`
	DefaultOutput    string   `split_words:"true"`
	Endpoint         string   `split_words:"true"`
	Verbosity        string   `split_words:"true"`
	Quiet            *bool    `split_words:"true"`
}

func loadEnv() (map[string]string, error) {
	var e envSettings
	if err := envconfig.Process(envPrefix, &e); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return e.values(), nil
}

// values maps the environment onto flag names.
func (e envSettings) values() map[string]string {
	out := map[string]string{}
	setStr := func(name, v string) {
		if v != "" {
			out[name] = v
		}
	}
	setInt := func(name string, v *int) {
		if v != nil {
			out[name] = strconv.Itoa(*v)
		}
	}
	setBool := func(name string, v *bool, invert bool) {
		if v != nil {
			out[name] = strconv.FormatBool(*v != invert)
		}
	}

	setStr("token", e.GitHubToken)
	setInt("max-concurrent", e.MaxConcurrent)
	setStr("timeout", e.Timeout)
	setInt("max-retries", e.MaxRetries)
	setBool("no-cache", e.CacheEnabled, true)
	if e.CacheSizeGB != nil {
		out["cache-max-size"] = strconv.FormatInt(int64(*e.CacheSizeGB*(1<<30)), 10)
	}
	setStr("cache-url", e.CacheURL)
	setBool("no-rate-limit", e.RateLimitEnabled, true)
	setInt("rate-limit-buffer", e.RateLimitBuffer)
	setStr("output", e.DefaultOutput)
	setStr("endpoint", e.Endpoint)
	setStr("log-level", e.Verbosity)
	setBool("quiet", e.Quiet, false)
	return out
}

// applySettings layers the config file and then the environment under
// the flags given on the command line. Keys without a matching flag on
// cmd are ignored.
func applySettings(cmd *cobra.Command, ro *RootOpts) error {
	flags := cmd.Flags()
	explicit := map[string]bool{}
	flags.Visit(func(f *pflag.Flag) { explicit[f.Name] = true })

	if path := findConfigFile(ro.Config, ConfigPaths()); path != "" {
		values, err := loadConfigFile(path)
		if err != nil {
			if ro.Config == "" && errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("config %s: %w", path, err)
		}
		if err := setFlags(flags, explicit, values); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		ro.configUsed = path
	}

	values, err := loadEnv()
	if err != nil {
		return err
	}
	return setFlags(flags, explicit, values)
}

// setFlags assigns values to flags not in skip, in name order.
func setFlags(flags *pflag.FlagSet, skip map[string]bool, values map[string]string) error {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		f := flags.Lookup(name)
		if f == nil || skip[name] {
			continue
		}
		v := values[name]
		switch f.Value.Type() {
		case "duration":
			// Bare numbers are seconds.
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				v += "s"
			}
		case "stringSlice":
			// Replace rather than append to a previous layer.
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				if err := sv.Replace(splitComma(v)); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				continue
			}
		}
		if err := flags.Set(name, v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
