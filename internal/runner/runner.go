package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mahyarmirrashed/xfer/internal/archive"
	"github.com/mahyarmirrashed/xfer/internal/config"
	"github.com/mahyarmirrashed/xfer/internal/daterange"
	"github.com/mahyarmirrashed/xfer/internal/excluder"
	"github.com/mahyarmirrashed/xfer/internal/filter"
	"github.com/mahyarmirrashed/xfer/internal/job"
	"github.com/mahyarmirrashed/xfer/internal/joblog"
	"github.com/mahyarmirrashed/xfer/internal/transfer"
	"github.com/mahyarmirrashed/xfer/internal/utils"
)

// Runner executes jobs one after another.
type Runner struct {
	cfg     *config.Config
	now     func() time.Time
	console io.Writer
	notify  func(title, message string)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock sets the instant relative date ranges are anchored to.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithConsole sets where job log lines are echoed. Nil disables the echo.
func WithConsole(w io.Writer) Option {
	return func(r *Runner) { r.console = w }
}

// WithNotifier replaces the desktop notifier.
func WithNotifier(fn func(title, message string)) Option {
	return func(r *Runner) { r.notify = fn }
}

// New creates a Runner for cfg.
func New(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		now:     time.Now,
		console: os.Stdout,
	}
	r.notify = func(title, message string) {
		utils.SendNotification(cfg.Notifications, title, message)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JobReport is what one job did.
type JobReport struct {
	Job      *job.Job
	RunID    string
	LogPath  string
	Selected int
	Transfer *transfer.Report
	Archive  *archive.Archive
}

// Summary aggregates a whole run.
type Summary struct {
	Reports []*JobReport
	Skipped int // Jobs rejected by validation
	Failed  int // Jobs that started but could not finish
	Errors  []error

	Interrupted bool // Context ended before every job ran
}

// OK reports whether every job ran to completion.
func (s *Summary) OK() bool {
	return s.Skipped == 0 && s.Failed == 0 && !s.Interrupted
}

// FilesFailed counts per-file failures across all jobs.
func (s *Summary) FilesFailed() int {
	n := 0
	for _, rep := range s.Reports {
		if rep.Transfer != nil {
			n += rep.Transfer.Failed
		}
	}
	return n
}

// Run executes jobs sequentially. A job that fails validation or cannot
// finish is reported and the next job still runs.
func (r *Runner) Run(ctx context.Context, jobs []*job.Job) *Summary {
	summary := &Summary{}
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			summary.Errors = append(summary.Errors, err)
			summary.Interrupted = true
			log.Warnf("Stopping before %s: %v", j.ConfigFile, err)
			break
		}

		rep, err := r.RunJob(ctx, j)
		if rep != nil {
			summary.Reports = append(summary.Reports, rep)
		}
		if err == nil {
			continue
		}

		summary.Errors = append(summary.Errors, err)
		if job.IsConfigError(err) {
			summary.Skipped++
			log.Errorf("Skipping job %s: %v", j.ConfigFile, err)
		} else {
			summary.Failed++
			log.Errorf("Job %s failed: %v", j.ConfigFile, err)
		}
	}
	return summary
}

// RunJob validates j, then filters, transfers and optionally archives its
// files. Per-file problems are in the report; the returned error is for
// problems that stopped the job.
func (r *Runner) RunJob(ctx context.Context, j *job.Job) (*JobReport, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}

	logger, err := joblog.Open(r.cfg.JobLogDir(), j.ConfigFile, log.GetLevel(), r.console)
	if err != nil {
		return nil, err
	}
	defer logger.Close()

	rep := &JobReport{Job: j, RunID: uuid.NewString(), LogPath: logger.Path}
	logger.Infof("Job started: %s (run %s)", j, rep.RunID)
	if r.cfg.DryRun {
		logger.Info("Dry run: no files will be changed")
	}

	// Filter and transfer must agree on the root so relative paths line up.
	root, err := filter.ResolveRoot(j.Source)
	if err != nil {
		logger.Errorf("Job failed: %v", err)
		return rep, err
	}

	criteria, err := r.criteria(j, root, logger)
	if err != nil {
		logger.Errorf("Job failed: %v", err)
		return rep, err
	}

	records, err := filter.New(criteria, logger).Select(ctx, root)
	if err != nil {
		logger.Errorf("Job failed: %v", err)
		return rep, err
	}
	rep.Selected = len(records)
	logger.Infof("Selected %d files from %s", len(records), root)

	if !r.cfg.DryRun {
		if err := os.MkdirAll(j.Target, 0755); err != nil {
			logger.Errorf("Job failed: could not create target: %v", err)
			return rep, fmt.Errorf("could not create target: %w", err)
		}
	}

	mode := transfer.ModeCopy
	if j.Move {
		mode = transfer.ModeMove
	}
	engine := transfer.New(logger, transfer.Options{Mode: mode, Conflict: j.Conflict, DryRun: r.cfg.DryRun})
	rep.Transfer, err = engine.Transfer(ctx, filter.Paths(records), root, j.Target)
	if err != nil {
		logger.Errorf("Job interrupted: %v", err)
		return rep, err
	}

	if j.Zip {
		if rep.Archive, err = r.archive(ctx, j, rep.Transfer, logger); err != nil {
			logger.Errorf("Job failed: %v", err)
			return rep, err
		}
	}

	t := rep.Transfer
	logger.Infof("Job finished: %d transferred, %d skipped, %d failed, %d bytes", t.Transferred, t.Skipped, t.Failed, t.Bytes)
	r.notify("xfer", fmt.Sprintf("%s: %d transferred, %d failed", j.ConfigFile, t.Transferred, t.Failed))
	return rep, nil
}

// criteria turns a job into filter criteria. A non-empty DATE_FILTER always
// replaces the explicit dates; an unknown name leaves both sides open.
func (r *Runner) criteria(j *job.Job, root string, logger log.FieldLogger) (filter.Criteria, error) {
	start, end := j.StartDate, j.EndDate
	if j.DateFilter != "" {
		if rng, ok := daterange.Resolve(j.DateFilter, r.now()); ok {
			start, end = &rng.Start, &rng.End
			logger.Infof("Date filter %s: %s to %s", j.DateFilter, rng.Start.Format(time.DateTime), rng.End.Format(time.DateTime))
		} else {
			start, end = nil, nil
			logger.Warnf("Unknown date filter %q, no date limits applied (known: %s)", j.DateFilter, strings.Join(daterange.Names(), ", "))
		}
	}

	patterns := append(append([]string{}, r.cfg.Exclude...), j.Exclude...)
	ex, err := excluder.New(patterns)
	if err != nil {
		return filter.Criteria{}, &job.ConfigError{File: j.ConfigFile, Key: job.KeyExclude, Err: err}
	}

	c := filter.Criteria{
		Extensions:    j.Extensions,
		UseSizeFilter: j.UseSizeFilter,
		MinSize:       j.MinSize,
		MaxSize:       j.MaxSize,
		UseDateFilter: j.UseDateFilter,
		StartDate:     start,
		EndDate:       end,
		Exclude:       ex,
	}
	switch rel, ok := inside(root, resolvePath(j.Target)); {
	case ok && rel == ".":
		logger.Warnf("Target %s is the source directory, every file will be skipped", j.Target)
	case ok:
		c.SkipDirs = []string{filepath.Join(root, rel)}
	}
	return c, nil
}

func (r *Runner) archive(ctx context.Context, j *job.Job, t *transfer.Report, logger log.FieldLogger) (*archive.Archive, error) {
	dest := filepath.Join(j.Target, archive.FileName)
	if r.cfg.DryRun {
		logger.Infof("[dry run] Would archive %s -> %s", j.Target, dest)
		return nil, nil
	}

	a := archive.New(logger)
	if j.ArchiveSource == archive.SourceSelectedFiles {
		return a.ArchiveFiles(ctx, j.Target, t.Placed(), dest)
	}
	return a.ArchiveTree(ctx, j.Target, dest)
}

// resolvePath makes path absolute and resolves symlinks in the part of it
// that already exists, so a target not created yet still compares equal to
// paths found by walking the source.
func resolvePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	var rest []string
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		rest = append([]string{filepath.Base(dir)}, rest...)
	}
}

// inside reports whether dir is root or lies below it, and where. rel is "."
// when both name the same directory.
func inside(root, dir string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
