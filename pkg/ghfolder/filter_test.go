// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(descs []FileDescriptor) []string {
	out := make([]string, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.Path)
	}
	return out
}

func sample() []FileDescriptor {
	return []FileDescriptor{
		{Path: "README.md", Size: 100},
		{Path: "src/main.go", Size: 2000},
		{Path: "src/main_test.go", Size: 1500},
		{Path: "src/tests/helper.py", Size: 300},
		{Path: "docs/guide.md", Size: 5000},
		{Path: "assets/logo.png", Size: 40000},
		{Path: "node_modules/x/index.js", Size: 10},
		{Path: "bin/tool", Size: 20 << 20},
		{Path: "config/app.yaml", Size: 200},
	}
}

func TestApply_EmptyConfigKeepsEverything(t *testing.T) {
	in := sample()
	out, err := Apply(in, FilterConfig{})
	require.NoError(t, err)
	assert.Equal(t, paths(in), paths(out))
	assert.True(t, FilterConfig{}.IsZero())
}

func TestApply_Extensions(t *testing.T) {
	out, err := Apply(sample(), FilterConfig{Extensions: []string{".MD", "go"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "src/main.go", "src/main_test.go", "docs/guide.md"}, paths(out))

	out, err = Apply(sample(), FilterConfig{ExcludeExtensions: []string{"md", "png"}})
	require.NoError(t, err)
	assert.NotContains(t, paths(out), "README.md")
	assert.NotContains(t, paths(out), "assets/logo.png")
	assert.Contains(t, paths(out), "src/main.go")
}

func TestApply_GlobAndRegex(t *testing.T) {
	tests := []struct {
		name string
		cfg  FilterConfig
		want []string
	}{
		{
			name: "include dir glob",
			cfg:  FilterConfig{Include: []string{"src/**"}},
			want: []string{"src/main.go", "src/main_test.go", "src/tests/helper.py"},
		},
		{
			name: "basename glob",
			cfg:  FilterConfig{Include: []string{"*_test.go"}},
			want: []string{"src/main_test.go"},
		},
		{
			name: "exclude regex",
			cfg:  FilterConfig{Include: []string{"src/*"}, Exclude: []string{`/_test\.go$/`}},
			want: []string{"src/main.go", "src/tests/helper.py"},
		},
		{
			name: "double star prefix matches root",
			cfg:  FilterConfig{Include: []string{"**/README.md"}},
			want: []string{"README.md"},
		},
		{
			name: "character class",
			cfg:  FilterConfig{Include: []string{"[cd]*/*"}},
			want: []string{"docs/guide.md", "config/app.yaml"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Apply(sample(), tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(out))
		})
	}
}

func TestApply_InvalidPattern(t *testing.T) {
	_, err := Apply(sample(), FilterConfig{Include: []string{"/([/"}})
	assert.Error(t, err)
}

func TestApply_Sizes(t *testing.T) {
	out, err := Apply(sample(), FilterConfig{MinSize: 200, MaxSize: 2000})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/main.go", "src/main_test.go", "src/tests/helper.py", "config/app.yaml"}, paths(out))

	out, err = Apply(sample(), FilterConfig{ExcludeLarge: true})
	require.NoError(t, err)
	assert.NotContains(t, paths(out), "bin/tool")
	assert.Len(t, out, len(sample())-1)
}

func TestApply_BinaryAndIgnore(t *testing.T) {
	out, err := Apply(sample(), FilterConfig{ExcludeBinary: true})
	require.NoError(t, err)
	assert.NotContains(t, paths(out), "assets/logo.png")
	assert.NotContains(t, paths(out), "bin/tool")

	out, err = Apply(sample(), FilterConfig{UseIgnorePatterns: true})
	require.NoError(t, err)
	assert.NotContains(t, paths(out), "node_modules/x/index.js")
	assert.Contains(t, paths(out), "src/main.go")
}

func TestApply_PresetsNarrow(t *testing.T) {
	out, err := Apply(sample(), FilterConfig{Presets: []string{"code-only", "no-tests"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "src/main.go", "docs/guide.md", "config/app.yaml"}, paths(out))

	// A preset cannot widen explicit rules.
	out, err = Apply(sample(), FilterConfig{Extensions: []string{"go"}, Presets: []string{"docs-only"}})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestApply_UnknownPreset(t *testing.T) {
	_, err := Apply(sample(), FilterConfig{Presets: []string{"everything"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPreset))
	assert.Contains(t, err.Error(), "code-only")
}

func TestPresetNames(t *testing.T) {
	assert.Equal(t, []string{"code-only", "config-only", "docs-only", "minimal", "no-tests", "small-files"}, PresetNames())
	cfg, err := ResolvePreset(" Small-Files ")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), cfg.MaxSize)
}

func TestIsBinaryPath(t *testing.T) {
	assert.True(t, IsBinaryPath("a/b/photo.JPG"))
	assert.True(t, IsBinaryPath("usr/bin/ls"))
	assert.False(t, IsBinaryPath("bin/run.sh"))
	assert.False(t, IsBinaryPath("Makefile"))
}

func TestIgnorePatternsIsCopy(t *testing.T) {
	p := IgnorePatterns()
	p[0] = "changed"
	assert.NotEqual(t, "changed", IgnorePatterns()[0])
}
