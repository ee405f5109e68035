package runner

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahyarmirrashed/xfer/internal/archive"
	"github.com/mahyarmirrashed/xfer/internal/config"
	"github.com/mahyarmirrashed/xfer/internal/job"
)

func makeFile(t *testing.T, path string, size int, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("z", size)), 0644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
}

type notification struct{ title, message string }

func newTestRunner(t *testing.T, cfg *config.Config, now time.Time) (*Runner, *[]notification) {
	t.Helper()
	if cfg.LogDir == "" {
		cfg.LogDir = t.TempDir()
	}
	var sent []notification
	r := New(cfg,
		WithClock(func() time.Time { return now }),
		WithConsole(io.Discard),
		WithNotifier(func(title, message string) { sent = append(sent, notification{title, message}) }),
	)
	return r, &sent
}

func loadJob(t *testing.T, dir, name, content string) *job.Job {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	j, err := job.LoadFile(path)
	require.NoError(t, err)
	return j
}

func TestRunExtensionAndSizeScenario(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	makeFile(t, filepath.Join(src, "a.log"), 2000, time.Time{})
	makeFile(t, filepath.Join(src, "b.log"), 500, time.Time{})
	makeFile(t, filepath.Join(src, "c.txt"), 5000, time.Time{})

	j := loadJob(t, t.TempDir(), "source_logs.txt",
		"SOURCE="+src+"\nTARGET="+dst+"\nEXTENSIONS=.log\nMIN_SIZE=1024\n")

	r, sent := newTestRunner(t, config.Default(), time.Now())
	summary := r.Run(context.Background(), []*job.Job{j})

	require.True(t, summary.OK())
	require.Len(t, summary.Reports, 1)
	rep := summary.Reports[0]
	assert.Equal(t, 1, rep.Selected)
	assert.Equal(t, 1, rep.Transfer.Transferred)
	assert.NotEmpty(t, rep.RunID)

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.log", entries[0].Name())
	assert.FileExists(t, filepath.Join(src, "b.log"))

	require.Len(t, *sent, 1)
	assert.Contains(t, (*sent)[0].message, "source_logs.txt: 1 transferred")

	logData, err := os.ReadFile(rep.LogPath)
	require.NoError(t, err)
	assert.Equal(t, "source_logs.txt.log", filepath.Base(rep.LogPath))
	assert.Contains(t, string(logData), " - INFO - Copied: ")
}

func TestRunSkipsInvalidJobAndContinues(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	makeFile(t, filepath.Join(src, "f.txt"), 3, time.Time{})

	jobs := t.TempDir()
	bad := loadJob(t, jobs, "source_a.txt", "SOURCE="+src+"\n")
	good := loadJob(t, jobs, "source_b.txt", "SOURCE="+src+"\nTARGET="+dst+"\n")

	logDir := t.TempDir()
	cfg := config.Default()
	cfg.LogDir = logDir
	r, _ := newTestRunner(t, cfg, time.Now())
	summary := r.Run(context.Background(), []*job.Job{bad, good})

	assert.False(t, summary.OK())
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.True(t, job.IsConfigError(summary.Errors[0]))
	assert.Contains(t, summary.Errors[0].Error(), "TARGET is required")

	require.Len(t, summary.Reports, 1)
	assert.Equal(t, 1, summary.Reports[0].Transfer.Transferred)
	assert.FileExists(t, filepath.Join(dst, "f.txt"))
	assert.NoFileExists(t, filepath.Join(logDir, "source_a.txt.log"), "a rejected job never opens a log")
}

func TestRunSymbolicRangeOverridesExplicitDates(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.Local)
	src := t.TempDir()
	dst := t.TempDir()
	makeFile(t, filepath.Join(src, "recent.txt"), 1, now.AddDate(0, 0, -3))
	makeFile(t, filepath.Join(src, "old.txt"), 1, now.AddDate(0, 0, -40))

	j := loadJob(t, t.TempDir(), "source_dates.txt",
		"SOURCE="+src+"\nTARGET="+dst+"\nSTART_DATE=2024-01-01\nEND_DATE=2024-12-31\nDATE_FILTER=last_15_days\n")

	r, _ := newTestRunner(t, config.Default(), now)
	rep, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Selected)
	assert.FileExists(t, filepath.Join(dst, "recent.txt"))
	assert.NoFileExists(t, filepath.Join(dst, "old.txt"))
}

func TestRunUnknownRangeDropsDateLimits(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.Local)
	src := t.TempDir()
	dst := t.TempDir()
	makeFile(t, filepath.Join(src, "ancient.txt"), 1, time.Date(2001, 1, 1, 0, 0, 0, 0, time.Local))

	j := loadJob(t, t.TempDir(), "source.txt",
		"SOURCE="+src+"\nTARGET="+dst+"\nSTART_DATE=2024-01-01\nDATE_FILTER=last_fortnight\n")

	r, _ := newTestRunner(t, config.Default(), now)
	rep, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Selected)
}

func TestRunMoveAndZip(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	makeFile(t, filepath.Join(src, "a", "b", "c.txt"), 7, time.Time{})
	makeFile(t, filepath.Join(src, "d.txt"), 2, time.Time{})
	makeFile(t, filepath.Join(dst, "preexisting.txt"), 1, time.Time{})

	j := loadJob(t, t.TempDir(), "source_move.yaml",
		"SOURCE: "+src+"\nTARGET: "+dst+"\nMOVE: true\nZIP: true\n")

	r, _ := newTestRunner(t, config.Default(), time.Now())
	rep, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(src, "a", "b", "c.txt"))
	assert.NoFileExists(t, filepath.Join(src, "d.txt"))
	assert.FileExists(t, filepath.Join(dst, "a", "b", "c.txt"))

	require.NotNil(t, rep.Archive)
	assert.Equal(t, filepath.Join(dst, archive.FileName), rep.Archive.Path)

	zr, err := zip.OpenReader(rep.Archive.Path)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"a/b/c.txt", "d.txt", "preexisting.txt"}, names)
}

func TestRunZipSelectedFilesOnly(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	makeFile(t, filepath.Join(src, "new.txt"), 2, time.Time{})
	makeFile(t, filepath.Join(dst, "preexisting.txt"), 1, time.Time{})

	j := loadJob(t, t.TempDir(), "source.txt",
		"SOURCE="+src+"\nTARGET="+dst+"\nZIP=true\nARCHIVE_SOURCE=selected_files\n")

	r, _ := newTestRunner(t, config.Default(), time.Now())
	rep, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)
	require.NotNil(t, rep.Archive)
	assert.Equal(t, 1, rep.Archive.Entries)
}

func TestRunTargetInsideSource(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(src, "backup")
	makeFile(t, filepath.Join(src, "f.txt"), 1, time.Time{})

	j := loadJob(t, t.TempDir(), "source.txt", "SOURCE="+src+"\nTARGET="+dst+"\n")
	r, _ := newTestRunner(t, config.Default(), time.Now())

	for i := 0; i < 2; i++ {
		rep, err := r.RunJob(context.Background(), j)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Selected, "the target tree is never re-selected")
	}
	assert.NoDirExists(t, filepath.Join(dst, "backup"))
}

func TestRunDryRun(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	makeFile(t, filepath.Join(src, "f.txt"), 1, time.Time{})

	cfg := config.Default()
	cfg.DryRun = true
	j := loadJob(t, t.TempDir(), "source.txt", "SOURCE="+src+"\nTARGET="+dst+"\nMOVE=true\nZIP=true\n")

	r, _ := newTestRunner(t, cfg, time.Now())
	rep, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Selected)
	assert.Nil(t, rep.Archive)
	assert.FileExists(t, filepath.Join(src, "f.txt"))
	assert.NoDirExists(t, dst)
}

func TestRunMissingSourceFailsJobOnly(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	makeFile(t, filepath.Join(src, "f.txt"), 1, time.Time{})

	jobs := t.TempDir()
	broken := loadJob(t, jobs, "source_1.txt", "SOURCE="+filepath.Join(src, "missing")+"\nTARGET="+dst+"\n")
	good := loadJob(t, jobs, "source_2.txt", "SOURCE="+src+"\nTARGET="+dst+"\n")

	r, _ := newTestRunner(t, config.Default(), time.Now())
	summary := r.Run(context.Background(), []*job.Job{broken, good})

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Len(t, summary.Reports, 2)
	assert.FileExists(t, filepath.Join(dst, "f.txt"))
}

func TestRunGlobalExclude(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	makeFile(t, filepath.Join(src, "keep.txt"), 1, time.Time{})
	makeFile(t, filepath.Join(src, "drop.tmp"), 1, time.Time{})

	cfg := config.Default()
	cfg.Exclude = []string{"*.tmp"}
	j := loadJob(t, t.TempDir(), "source.txt", "SOURCE="+src+"\nTARGET="+dst+"\n")

	r, _ := newTestRunner(t, cfg, time.Now())
	rep, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Selected)
	assert.NoFileExists(t, filepath.Join(dst, "drop.tmp"))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := job.New("source.txt")
	j.Source, j.Target = t.TempDir(), t.TempDir()

	r, _ := newTestRunner(t, config.Default(), time.Now())
	summary := r.Run(ctx, []*job.Job{j})
	assert.Empty(t, summary.Reports)
	assert.True(t, summary.Interrupted)
	assert.False(t, summary.OK())
	assert.ErrorIs(t, summary.Errors[0], context.Canceled)
}

func TestSummaryFilesFailed(t *testing.T) {
	s := &Summary{}
	assert.Equal(t, 0, s.FilesFailed())
	assert.True(t, s.OK())
}

func TestRunCopyOntoItselfKeepsData(t *testing.T) {
	parent := t.TempDir()
	data := filepath.Join(parent, "data")
	makeFile(t, filepath.Join(data, "keep.txt"), 100, time.Time{})
	t.Chdir(parent)

	j := loadJob(t, t.TempDir(), "source.txt", "SOURCE=data\nTARGET="+data+"\n")
	r, _ := newTestRunner(t, config.Default(), time.Now())
	rep, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Transfer.Skipped)
	assert.Equal(t, 0, rep.Transfer.Transferred)
	info, err := os.Stat(filepath.Join(data, "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size())

	logData, err := os.ReadFile(rep.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), " - WARNING - Target "+data+" is the source directory")
}

func TestRunSymlinkedSource(t *testing.T) {
	dir := t.TempDir()
	makeFile(t, filepath.Join(dir, "sub", "a.txt"), 3, time.Time{})
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(dir, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	dst := t.TempDir()

	j := loadJob(t, t.TempDir(), "source.txt", "SOURCE="+link+"\nTARGET="+dst+"\n")
	r, _ := newTestRunner(t, config.Default(), time.Now())
	rep, err := r.RunJob(context.Background(), j)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Selected)
	assert.Equal(t, 1, rep.Transfer.Transferred)
	assert.FileExists(t, filepath.Join(dst, "sub", "a.txt"))
}

func TestRunTargetInsideSymlinkedSource(t *testing.T) {
	dir := t.TempDir()
	makeFile(t, filepath.Join(dir, "f.txt"), 1, time.Time{})
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(dir, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	j := loadJob(t, t.TempDir(), "source.txt", "SOURCE="+link+"\nTARGET="+filepath.Join(link, "backup")+"\n")
	r, _ := newTestRunner(t, config.Default(), time.Now())
	for i := 0; i < 2; i++ {
		rep, err := r.RunJob(context.Background(), j)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Selected)
	}
	assert.NoDirExists(t, filepath.Join(dir, "backup", "backup"))
}

func TestInside(t *testing.T) {
	root := t.TempDir()

	rel, ok := inside(root, filepath.Join(root, "a", "b"))
	assert.True(t, ok)
	assert.Equal(t, filepath.Join("a", "b"), rel)

	rel, ok = inside(root, root)
	assert.True(t, ok)
	assert.Equal(t, ".", rel)

	_, ok = inside(filepath.Join(root, "a"), root)
	assert.False(t, ok)
	_, ok = inside(filepath.Join(root, "a"), filepath.Join(root, "ab"))
	assert.False(t, ok)
}

func TestResolvePathOfMissingTarget(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(dir, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(resolvedDir, "x", "y"), resolvePath(filepath.Join(link, "x", "y")))
}
