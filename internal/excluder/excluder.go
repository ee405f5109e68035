package excluder

import (
	"path/filepath"

	"github.com/gobwas/glob"
)

// Excluder matches file paths against a list of glob patterns.
type Excluder struct {
	globs []glob.Glob
}

// New creates an Excluder from a list of glob patterns.
// Patterns use '/' as the path separator.
func New(patterns []string) (*Excluder, error) {
	var globs []glob.Glob
	for _, pat := range patterns {
		if pat == "" {
			continue
		}
		g, err := glob.Compile(pat, '/')
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return &Excluder{globs: globs}, nil
}

// IsExcluded returns true if the given path matches any exclude pattern.
// Both the full path and its base name are tried, so "*.tmp" works at any depth.
func (e *Excluder) IsExcluded(path string) bool {
	if e == nil {
		return false
	}
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, g := range e.globs {
		if g.Match(slashed) || g.Match(base) {
			return true
		}
	}
	return false
}

// Empty reports whether no patterns were configured.
func (e *Excluder) Empty() bool {
	return e == nil || len(e.globs) == 0
}
