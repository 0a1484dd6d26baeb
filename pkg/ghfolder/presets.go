// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"fmt"
	"sort"
	"strings"
)

var presets = map[string]func() FilterConfig{
	"code-only": func() FilterConfig {
		return FilterConfig{
			Extensions: []string{
				"py", "js", "ts", "jsx", "tsx", "java", "c", "cpp", "h", "hpp", "cs",
				"php", "rb", "go", "rs", "swift", "kt", "scala", "clj",
				"sh", "bash", "zsh", "fish", "ps1", "bat", "cmd",
				"html", "css", "scss", "sass", "less", "vue", "svelte",
				"sql", "r", "m", "mm", "perl", "pl", "lua", "dart",
				"yaml", "yml", "json", "xml", "toml", "ini", "cfg", "conf",
				"md", "rst", "txt", "cmake", "makefile", "dockerfile",
			},
			ExcludeBinary:     true,
			ExcludeLarge:      true,
			UseIgnorePatterns: true,
		}
	},
	"docs-only": func() FilterConfig {
		return FilterConfig{
			Extensions: []string{"md", "rst", "txt", "pdf", "html", "tex", "adoc", "org"},
			Include: []string{
				"docs/**", "documentation/**",
				"README*", "CHANGELOG*", "LICENSE*", "CONTRIBUTING*", "AUTHORS*", "CREDITS*",
			},
			MaxSize: 10 << 20,
		}
	},
	"config-only": func() FilterConfig {
		return FilterConfig{
			Extensions: []string{
				"yaml", "yml", "json", "xml", "toml", "ini", "cfg", "conf",
				"env", "properties", "settings", "config",
			},
			Include: []string{
				"*.config.*", "config/**", "configs/**", "settings/**",
				".github/**", ".vscode/**", ".idea/**",
				"docker-compose.*", "Dockerfile*", "Makefile*", "CMakeLists.txt",
			},
			MaxSize: 1 << 20,
		}
	},
	"no-tests": func() FilterConfig {
		return FilterConfig{
			Exclude: []string{
				"**/test/**", "**/tests/**", "**/*_test.*", "**/*test*",
				"**/spec/**", "**/*_spec.*", "**/*spec*", "**/__tests__/**",
				"**/test_*.py", "**/*Test.java", "**/testing/**", "**/testdata/**",
			},
		}
	},
	"small-files": func() FilterConfig {
		return FilterConfig{
			MaxSize:       1 << 20,
			ExcludeBinary: true,
		}
	},
	"minimal": func() FilterConfig {
		return FilterConfig{
			Extensions:        []string{"md", "txt", "py", "js", "html", "css"},
			MaxSize:           512 << 10,
			ExcludeBinary:     true,
			ExcludeLarge:      true,
			UseIgnorePatterns: true,
		}
	},
}

// ResolvePreset expands a preset name into its rule bundle.
func ResolvePreset(name string) (FilterConfig, error) {
	fn, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return FilterConfig{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownPreset, name, strings.Join(PresetNames(), ", "))
	}
	return fn(), nil
}

// PresetNames lists the defined presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
