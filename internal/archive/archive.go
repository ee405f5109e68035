package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	log "github.com/sirupsen/logrus"
)

// FileName is the name of the archive written inside the target directory.
const FileName = "transferred_files.zip"

// Source selects which files end up in the archive.
type Source string

const (
	SourceTargetTree    Source = "target_tree"    // Everything under the target after transfer
	SourceSelectedFiles Source = "selected_files" // Only the files placed by this run
)

// ParseSource converts a configured value into a Source.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceTargetTree, SourceSelectedFiles:
		return src, nil
	default:
		return "", fmt.Errorf("unknown archive source %q", s)
	}
}

// Archive describes a written zip file.
type Archive struct {
	Path    string
	Entries int
	Size    int64
}

// Archiver writes deflate-compressed zip files.
type Archiver struct {
	log log.FieldLogger
}

// New creates an Archiver that reports to logger.
func New(logger log.FieldLogger) *Archiver {
	return &Archiver{log: logger}
}

// ArchiveTree zips every file under root into dest, keeping paths relative
// to root. dest itself is never added, even when it lies inside root.
func (a *Archiver) ArchiveTree(ctx context.Context, root, dest string) (*Archive, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			a.log.Warnf("Skipping %s: %v", path, err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || isArchivePath(path, dest) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return a.ArchiveFiles(ctx, root, files, dest)
}

// ArchiveFiles zips the given files, which must live under root, into dest.
// A file that cannot be read is logged and left out.
func (a *Archiver) ArchiveFiles(ctx context.Context, root string, files []string, dest string) (*Archive, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	// Written beside dest and renamed, so a failed run never leaves a truncated zip.
	tmp, err := os.CreateTemp(dir, ".transferred_files-*.zip")
	if err != nil {
		return nil, fmt.Errorf("failed to create zip file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	zipWriter := zip.NewWriter(tmp)
	entries := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isArchivePath(path, dest) || path == tmpName {
			continue
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
			a.log.Errorf("Error zipping %s: not inside %s", path, root)
			continue
		}

		if err := addFile(zipWriter, path, filepath.ToSlash(relPath)); err != nil {
			if isWriteError(err) {
				return nil, fmt.Errorf("failed during zip creation for %s: %w", root, err)
			}
			a.log.Errorf("Error zipping %s: %v", path, err)
			continue
		}
		entries++
		a.log.Debugf("Zipped: %s", relPath)
	}

	// Close the writer to flush the central directory before the rename.
	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip file handle: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return nil, fmt.Errorf("failed to move zip into place: %w", err)
	}
	committed = true

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info for %s: %w", dest, err)
	}

	a.log.Infof("Archived %d files -> %s | Size: %d bytes", entries, dest, info.Size())
	return &Archive{Path: dest, Entries: entries, Size: info.Size()}, nil
}

// writeError marks failures of the zip stream itself, which end the archive.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

func isWriteError(err error) bool {
	_, ok := err.(*writeError)
	return ok
}

func addFile(zw *zip.Writer, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file")
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return &writeError{err: err}
	}
	// After CreateHeader the entry is committed; a short copy corrupts the archive.
	if _, err := io.Copy(writer, file); err != nil {
		return &writeError{err: fmt.Errorf("failed to copy file content for %s: %w", path, err)}
	}
	return nil
}

func isArchivePath(path, dest string) bool {
	if filepath.Clean(path) == filepath.Clean(dest) {
		return true
	}
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".transferred_files-") && strings.HasSuffix(base, ".zip") &&
		filepath.Dir(path) == filepath.Dir(dest)
}
