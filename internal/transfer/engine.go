package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// Mode selects between copying and moving.
type Mode int

const (
	ModeCopy Mode = iota
	ModeMove
)

func (m Mode) String() string {
	if m == ModeMove {
		return "move"
	}
	return "copy"
}

func (m Mode) done() string {
	if m == ModeMove {
		return "Moved"
	}
	return "Copied"
}

func (m Mode) doing() string {
	if m == ModeMove {
		return "moving"
	}
	return "copying"
}

// Options configures an Engine.
type Options struct {
	Mode     Mode
	Conflict Conflict
	DryRun   bool
}

// Result is the outcome for one file.
type Result struct {
	Source  string
	Target  string
	Size    int64 // Bytes written, set on success
	Skipped bool
	Err     error
}

// Report collects the results of one Transfer call.
type Report struct {
	Results     []Result
	Transferred int
	Skipped     int
	Failed      int
	Bytes       int64
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	switch {
	case res.Err != nil:
		r.Failed++
	case res.Skipped:
		r.Skipped++
	default:
		r.Transferred++
		r.Bytes += res.Size
	}
}

// Placed returns the target paths of the files that were transferred.
func (r *Report) Placed() []string {
	var paths []string
	for _, res := range r.Results {
		if res.Err == nil && !res.Skipped {
			paths = append(paths, res.Target)
		}
	}
	return paths
}

// Engine copies or moves files into a target tree, one at a time.
type Engine struct {
	log  log.FieldLogger
	opts Options
}

// New creates an Engine that reports every action to logger.
func New(logger log.FieldLogger, opts Options) *Engine {
	if opts.Conflict == "" {
		opts.Conflict = ConflictOverwrite
	}
	return &Engine{log: logger, opts: opts}
}

// Transfer places every file under targetRoot at its path relative to
// sourceRoot. A failing file is logged and recorded; it never stops the rest
// of the batch. The only error returned is the context's.
func (e *Engine) Transfer(ctx context.Context, files []string, sourceRoot, targetRoot string) (*Report, error) {
	report := &Report{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.add(e.TransferFile(file, sourceRoot, targetRoot))
	}
	return report, nil
}

// TransferFile handles a single file and logs its outcome.
func (e *Engine) TransferFile(file, sourceRoot, targetRoot string) Result {
	res := Result{Source: file}

	rel, err := filepath.Rel(sourceRoot, file)
	if err != nil {
		res.Err = fmt.Errorf("could not compute relative path: %w", err)
		e.log.Errorf("Error %s %s: %v", e.opts.Mode.doing(), file, res.Err)
		return res
	}
	res.Target = filepath.Join(targetRoot, rel)

	if sameFile(file, res.Target) {
		res.Skipped = true
		e.log.Warnf("Source and target are the same file, skipping: %s -> %s", file, res.Target)
		return res
	}

	if e.opts.DryRun {
		res.Skipped = true
		e.log.Infof("[dry run] Would %s %s -> %s", e.opts.Mode, file, res.Target)
		return res
	}

	if err := os.MkdirAll(filepath.Dir(res.Target), 0755); err != nil {
		res.Err = fmt.Errorf("failed to create target directory: %w", err)
		e.log.Errorf("Error %s %s -> %s: %v", e.opts.Mode.doing(), file, res.Target, res.Err)
		return res
	}

	dest, err := resolveTarget(res.Target, e.opts.Conflict)
	if err != nil {
		res.Err = err
		e.log.Errorf("Error %s %s -> %s: %v", e.opts.Mode.doing(), file, res.Target, err)
		return res
	}
	if dest == "" {
		res.Skipped = true
		e.log.Infof("Skipped: %s -> %s (target exists)", file, res.Target)
		return res
	}
	res.Target = dest

	if e.opts.Mode == ModeMove {
		err = moveFile(file, dest)
	} else {
		err = copyFile(file, dest)
	}
	if err != nil {
		res.Err = err
		e.log.Errorf("Error %s %s -> %s: %v", e.opts.Mode.doing(), file, dest, err)
		return res
	}

	info, err := os.Stat(dest)
	if err != nil {
		res.Err = fmt.Errorf("transferred but could not stat target: %w", err)
		e.log.Errorf("Error %s %s -> %s: %v", e.opts.Mode.doing(), file, dest, res.Err)
		return res
	}
	res.Size = info.Size()

	e.log.Infof("%s: %s -> %s | Size: %d bytes", e.opts.Mode.done(), file, dest, res.Size)
	return res
}

// sameFile reports whether both paths name the same file on disk, however
// they are spelled (relative, through a symlink, or a hard link).
func sameFile(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// copyFile copies contents, permission bits and modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", src)
	}

	// Opening with O_TRUNC would empty src if dst is the same file.
	if sameFile(src, dst) {
		return fmt.Errorf("%s and %s are the same file", src, dst)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy contents: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to preserve permissions: %w", err)
	}
	// A zero atime leaves the access time alone.
	if err := os.Chtimes(dst, time.Time{}, info.ModTime()); err != nil {
		return fmt.Errorf("failed to preserve modification time: %w", err)
	}
	return nil
}

// moveFile renames src to dst, falling back to copy and delete across devices.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("copied but could not remove source: %w", err)
	}
	return nil
}
