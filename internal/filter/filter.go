package filter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mahyarmirrashed/xfer/internal/excluder"
)

// FileRecord is a selected file as seen at filter time.
type FileRecord struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Criteria holds the predicate parameters. Nil bounds impose no constraint.
type Criteria struct {
	Extensions []string // Case-insensitive suffixes; empty disables the predicate

	UseSizeFilter bool
	MinSize       *int64
	MaxSize       *int64

	UseDateFilter bool
	StartDate     *time.Time
	EndDate       *time.Time

	Exclude  *excluder.Excluder // Matched against paths relative to the root
	SkipDirs []string           // Directories never descended into
}

// Filter walks a source tree and selects the files matching its criteria.
type Filter struct {
	criteria Criteria
	log      log.FieldLogger
}

// New creates a Filter.
func New(criteria Criteria, logger log.FieldLogger) *Filter {
	exts := make([]string, 0, len(criteria.Extensions))
	for _, ext := range criteria.Extensions {
		if ext != "" {
			exts = append(exts, strings.ToLower(ext))
		}
	}
	criteria.Extensions = exts
	return &Filter{criteria: criteria, log: logger}
}

// Select returns every regular file under root that passes all active
// predicates, in traversal order. Entries below root that cannot be read are
// logged and skipped; an unreadable root is an error.
func (f *Filter) Select(ctx context.Context, root string) ([]FileRecord, error) {
	root, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(f.criteria.SkipDirs))
	for _, dir := range f.criteria.SkipDirs {
		skip[filepath.Clean(dir)] = true
	}

	var selected []FileRecord
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			f.log.Warnf("Skipping %s: %v", path, err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && (skip[filepath.Clean(path)] || f.excluded(root, path)) {
				f.log.Debugf("Excluded directory: %s", path)
				return filepath.SkipDir
			}
			return nil
		}

		// Stat follows symlinks, so a link to a regular file counts as one.
		info, err := os.Stat(path)
		if err != nil {
			f.log.Warnf("Skipping %s: %v", path, err)
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rec := FileRecord{Path: path, Size: info.Size(), ModTime: info.ModTime()}
		if f.excluded(root, path) || !f.Match(rec) {
			return nil
		}
		selected = append(selected, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return selected, nil
}

// ResolveRoot returns root as an absolute directory path with symlinks
// resolved, so a walk always descends into it and every record under it is
// absolute.
func ResolveRoot(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("error accessing source: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source is not a directory: %s", root)
	}
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("error resolving source: %w", err)
	}
	return filepath.Abs(resolved)
}

// Match applies the extension, size and date predicates to a single record.
func (f *Filter) Match(rec FileRecord) bool {
	return f.matchExtension(rec.Path) && f.matchSize(rec.Size) && f.matchDate(rec.ModTime)
}

func (f *Filter) matchExtension(path string) bool {
	if len(f.criteria.Extensions) == 0 {
		return true
	}
	name := strings.ToLower(filepath.Base(path))
	for _, ext := range f.criteria.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (f *Filter) matchSize(size int64) bool {
	c := f.criteria
	if !c.UseSizeFilter {
		return true
	}
	if c.MinSize != nil && size < *c.MinSize {
		return false
	}
	if c.MaxSize != nil && size > *c.MaxSize {
		return false
	}
	return true
}

func (f *Filter) matchDate(mtime time.Time) bool {
	c := f.criteria
	if !c.UseDateFilter {
		return true
	}
	if c.StartDate != nil && mtime.Before(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && mtime.After(*c.EndDate) {
		return false
	}
	return true
}

func (f *Filter) excluded(root, path string) bool {
	if f.criteria.Exclude.Empty() {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return f.criteria.Exclude.IsExcluded(rel)
}

// Paths returns the paths of the records, in order.
func Paths(records []FileRecord) []string {
	paths := make([]string, len(records))
	for i, rec := range records {
		paths[i] = rec.Path
	}
	return paths
}
