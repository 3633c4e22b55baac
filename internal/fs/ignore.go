package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-directory file listing extra ignore patterns.
const IgnoreFileName = ".diffitignore"

// defaultIgnorePatterns are always applied regardless of the ignore file.
// Archives built on macOS carry a __MACOSX tree of resource forks.
var defaultIgnorePatterns = []string{IgnoreFileName, ".DS_Store", "__MACOSX", "Thumbs.db"}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// IgnoreMatcher checks file paths against a set of ignore patterns.
// Patterns without '/' match against the file's basename only.
// Patterns with '/' match against the full relative path from the directory root.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// DefaultIgnoreMatcher matches only the built-in patterns.
func DefaultIgnoreMatcher() *IgnoreMatcher {
	return NewIgnoreMatcher(defaultIgnorePatterns)
}

// LoadIgnoreMatcher combines the built-in patterns, the given extra patterns
// and the ignore file at the root of dir, when there is one.
func LoadIgnoreMatcher(dir string, extra ...string) (*IgnoreMatcher, error) {
	fromFile, err := ParseIgnoreFile(filepath.Join(dir, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns := append([]string{}, defaultIgnorePatterns...)
	patterns = append(patterns, extra...)
	return NewIgnoreMatcher(append(patterns, fromFile...)), nil
}

// Match reports whether the given relative path should be ignored. Any
// ignored parent directory ignores the path as well.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if m == nil || len(m.patterns) == 0 || relativePath == "" {
		return false
	}

	normalized := filepath.ToSlash(relativePath)
	for dir := path.Dir(normalized); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if m.matchOne(dir) {
			return true
		}
	}
	return m.matchOne(normalized)
}

func (m *IgnoreMatcher) matchOne(normalized string) bool {
	basename := path.Base(normalized)

	for _, p := range m.patterns {
		var matched bool
		var err error
		if p.matchPath {
			matched, err = path.Match(p.pattern, normalized)
		} else {
			matched, err = path.Match(p.pattern, basename)
		}
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
