// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// largeFileThreshold is the cap applied by FilterConfig.ExcludeLarge.
const largeFileThreshold = 10 << 20

// FilterConfig selects which resolved files are downloaded.
//
// All rules must pass for a file to survive. Presets are resolved into
// additional rule sets that also must pass, so a preset can only narrow
// what the explicit rules select.
type FilterConfig struct {
	// Extensions is an allow-list ("go", ".md"); empty allows all.
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`

	// ExcludeExtensions is a deny-list.
	ExcludeExtensions []string `json:"excludeExtensions,omitempty" yaml:"excludeExtensions,omitempty"`

	// Include lists glob patterns; when non-empty a path must match one.
	// A pattern written as /expr/ is a regular expression.
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`

	// Exclude lists glob patterns a path must not match.
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`

	// MinSize and MaxSize bound the declared size. Zero means unbounded.
	MinSize int64 `json:"minSize,omitempty" yaml:"minSize,omitempty"`
	MaxSize int64 `json:"maxSize,omitempty" yaml:"maxSize,omitempty"`

	// ExcludeBinary drops files that look binary by name.
	ExcludeBinary bool `json:"excludeBinary,omitempty" yaml:"excludeBinary,omitempty"`

	// ExcludeLarge drops files over 10 MiB.
	ExcludeLarge bool `json:"excludeLarge,omitempty" yaml:"excludeLarge,omitempty"`

	// UseIgnorePatterns drops paths matching the built-in ignore list.
	UseIgnorePatterns bool `json:"ignoreCommon,omitempty" yaml:"ignoreCommon,omitempty"`

	// Presets name bundled rule sets, see ResolvePreset.
	Presets []string `json:"presets,omitempty" yaml:"presets,omitempty"`
}

// IsZero reports whether the config selects everything.
func (c FilterConfig) IsZero() bool {
	return len(c.Extensions) == 0 && len(c.ExcludeExtensions) == 0 &&
		len(c.Include) == 0 && len(c.Exclude) == 0 &&
		c.MinSize == 0 && c.MaxSize == 0 &&
		!c.ExcludeBinary && !c.ExcludeLarge && !c.UseIgnorePatterns &&
		len(c.Presets) == 0
}

// Apply returns the descriptors that pass every rule, in input order.
// It fails on an unknown preset or an invalid pattern.
func Apply(descs []FileDescriptor, cfg FilterConfig) ([]FileDescriptor, error) {
	f, err := NewFilter(cfg)
	if err != nil {
		return nil, err
	}
	out := make([]FileDescriptor, 0, len(descs))
	for _, d := range descs {
		if f.Match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Filter is a compiled FilterConfig.
type Filter struct {
	sets []ruleSet
}

// NewFilter resolves presets and compiles all patterns.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	base, err := compileRules(cfg)
	if err != nil {
		return nil, err
	}
	f := &Filter{sets: []ruleSet{base}}
	for _, name := range cfg.Presets {
		preset, err := ResolvePreset(name)
		if err != nil {
			return nil, err
		}
		rs, err := compileRules(preset)
		if err != nil {
			return nil, fmt.Errorf("preset %s: %w", name, err)
		}
		f.sets = append(f.sets, rs)
	}
	return f, nil
}

// Match reports whether d passes every rule set.
func (f *Filter) Match(d FileDescriptor) bool {
	for i := range f.sets {
		if !f.sets[i].match(d) {
			return false
		}
	}
	return true
}

type ruleSet struct {
	allowExt      map[string]struct{}
	denyExt       map[string]struct{}
	include       []fileMatcher
	exclude       []fileMatcher
	ignore        []fileMatcher
	minSize       int64
	maxSize       int64
	excludeBinary bool
}

func compileRules(cfg FilterConfig) (ruleSet, error) {
	rs := ruleSet{
		allowExt:      extSet(cfg.Extensions),
		denyExt:       extSet(cfg.ExcludeExtensions),
		minSize:       cfg.MinSize,
		maxSize:       cfg.MaxSize,
		excludeBinary: cfg.ExcludeBinary,
	}
	if cfg.ExcludeLarge && (rs.maxSize == 0 || rs.maxSize > largeFileThreshold) {
		rs.maxSize = largeFileThreshold
	}

	var err error
	if rs.include, err = compileMatchers(cfg.Include); err != nil {
		return rs, err
	}
	if rs.exclude, err = compileMatchers(cfg.Exclude); err != nil {
		return rs, err
	}
	if cfg.UseIgnorePatterns {
		rs.ignore = defaultIgnoreMatchers
	}
	return rs, nil
}

func (rs *ruleSet) match(d FileDescriptor) bool {
	ext := extOf(d.Path)
	if len(rs.allowExt) > 0 {
		if _, ok := rs.allowExt[ext]; !ok {
			return false
		}
	}
	if _, ok := rs.denyExt[ext]; ok {
		return false
	}

	if len(rs.include) > 0 && !anyMatch(rs.include, d.Path) {
		return false
	}
	if anyMatch(rs.exclude, d.Path) {
		return false
	}

	if rs.minSize > 0 && d.Size < rs.minSize {
		return false
	}
	if rs.maxSize > 0 && d.Size > rs.maxSize {
		return false
	}

	if rs.excludeBinary && IsBinaryPath(d.Path) {
		return false
	}
	return !anyMatch(rs.ignore, d.Path)
}

func anyMatch(ms []fileMatcher, p string) bool {
	for _, m := range ms {
		if m.matches(p) {
			return true
		}
	}
	return false
}

// fileMatcher matches a repository-relative path.
type fileMatcher interface {
	matches(path string) bool
	pattern() string
}

// globMatcher implements fnmatch semantics: '*' also crosses '/'.
type globMatcher struct {
	re          *regexp.Regexp
	patternText string
}

func (g *globMatcher) matches(p string) bool {
	return g.re.MatchString(p) || g.re.MatchString(path.Base(p))
}

func (g *globMatcher) pattern() string {
	return g.patternText
}

// regexMatcher is used for patterns written as /expr/.
type regexMatcher struct {
	regex       *regexp.Regexp
	patternText string
}

func (r *regexMatcher) matches(p string) bool {
	return r.regex.MatchString(p)
}

func (r *regexMatcher) pattern() string {
	return r.patternText
}

func compileMatchers(patterns []string) ([]fileMatcher, error) {
	var out []fileMatcher
	for _, p := range patterns {
		m, err := createMatcher(p)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// createMatcher returns nil for blank patterns.
func createMatcher(pattern string) (fileMatcher, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}

	if len(pattern) > 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		re, err := regexp.Compile(pattern[1 : len(pattern)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		return &regexMatcher{regex: re, patternText: pattern}, nil
	}

	expr, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	// "**/x" also matches x at the root.
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		restExpr, err := globToRegexp(rest)
		if err != nil {
			return nil, err
		}
		expr = "(?:" + expr + ")|(?:" + restExpr + ")"
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	return &globMatcher{re: re, patternText: pattern}, nil
}

// globToRegexp translates a shell glob into an anchored expression.
func globToRegexp(glob string) (string, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			b.WriteString(".*")
			for i+1 < len(glob) && glob[i+1] == '*' {
				i++
			}
		case '?':
			b.WriteString(".")
		case '[':
			j := strings.IndexByte(glob[i+1:], ']')
			if j < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+j]
			i += j + 1
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			if class == "" || class == "^" {
				return "", fmt.Errorf("invalid glob pattern %q: empty character class", glob)
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String(), nil
}

// extOf returns the lowercased extension without the dot.
func extOf(p string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
}

func extSet(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), ".")
		if e != "" {
			m[e] = struct{}{}
		}
	}
	return m
}

var binaryExtensions = extSet([]string{
	// images
	"jpg", "jpeg", "png", "gif", "bmp", "tiff", "svg", "ico", "webp",
	// video
	"mp4", "avi", "mov", "wmv", "flv", "webm", "mkv", "m4v",
	// audio
	"mp3", "wav", "flac", "aac", "ogg", "wma", "m4a",
	// archives
	"zip", "rar", "7z", "tar", "gz", "bz2", "xz", "lzma",
	// documents
	"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "odt", "ods", "odp",
	// executables
	"exe", "dll", "so", "dylib", "bin", "app", "deb", "rpm", "msi",
	// fonts
	"ttf", "otf", "woff", "woff2", "eot",
	"db", "sqlite", "dat", "cache", "tmp", "log", "pid", "lock",
	"pyc", "pyo", "class", "o", "obj", "lib", "a",
})

// IsBinaryPath reports whether a path looks like a binary file by name:
// a known binary extension, or no extension inside a bin directory.
func IsBinaryPath(p string) bool {
	if _, ok := binaryExtensions[extOf(p)]; ok {
		return true
	}
	if strings.Contains(path.Base(p), ".") {
		return false
	}
	for _, seg := range strings.Split(path.Dir(p), "/") {
		switch seg {
		case "bin", "sbin", "libexec":
			return true
		}
	}
	return false
}

// ignorePatterns are paths commonly excluded from a working checkout.
var ignorePatterns = []string{
	"__pycache__/**", "*.pyc", "*.pyo", "*.pyd", ".Python",
	"build/**", "develop-eggs/**", "dist/**", "downloads/**", "eggs/**", ".eggs/**",
	"lib/**", "lib64/**", "parts/**", "sdist/**", "var/**", "wheels/**",
	"*.egg-info/**", ".installed.cfg", "*.egg",
	"node_modules/**", "npm-debug.log*", "yarn-debug.log*", "yarn-error.log*", ".npm", ".eslintcache",
	".vscode/**", ".idea/**", "*.swp", "*.swo", "*~",
	".DS_Store", "Thumbs.db", "ehthumbs.db", "Desktop.ini",
	".git/**", ".gitignore",
	"*.log", "logs/**",
	"*.tmp", "*.temp", ".cache/**", ".pytest_cache/**",
}

var defaultIgnoreMatchers = mustCompileMatchers(ignorePatterns)

func mustCompileMatchers(patterns []string) []fileMatcher {
	ms, err := compileMatchers(patterns)
	if err != nil {
		panic(err)
	}
	return ms
}

// IgnorePatterns returns a copy of the built-in ignore list.
func IgnorePatterns() []string {
	return append([]string(nil), ignorePatterns...)
}
