package joblog

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3} - (INFO|WARNING|ERROR|DEBUG) - .+$`)

func TestLineFormatter(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "Copied: a.log",
		Data:    log.Fields{"run": "abc", "job": "source_a.txt"},
	}

	out, err := (&LineFormatter{}).Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01 09:30:00.000 - INFO - Copied: a.log job=source_a.txt run=abc\n", string(out))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "source_a.txt.log", FileName("source_a.txt"))
	assert.Equal(t, "source_b.yaml.log", FileName("/jobs/source_b.yaml"))
	assert.NotEqual(t, FileName("source_a.txt"), FileName("source_a.yaml"))
}

func TestOpenWritesFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	logger, err := Open(filepath.Join(dir, "logs"), "source_a.txt", log.InfoLevel, &console)
	require.NoError(t, err)

	logger.Info("first")
	logger.Warn("second")
	logger.Debug("hidden")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logger.Path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logs", "source_a.txt.log"), logger.Path)
	assert.Equal(t, string(data), console.String())

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Regexp(t, linePattern, line)
	}
	assert.Contains(t, lines[1], " - WARNING - second")
}

func TestOpenAppends(t *testing.T) {
	dir := t.TempDir()

	for _, msg := range []string{"run one", "run two"} {
		logger, err := Open(dir, "source_x.yaml", log.InfoLevel, nil)
		require.NoError(t, err)
		logger.Info(msg)
		require.NoError(t, logger.Close())
	}

	data, err := os.ReadFile(filepath.Join(dir, "source_x.yaml.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "run one")
	assert.Contains(t, string(data), "run two")
}
