package joblog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// TimestampFormat is the layout used at the start of every job log line.
const TimestampFormat = "2006-01-02 15:04:05.000"

// LineFormatter renders entries as "<timestamp> - <LEVEL> - <message>".
// Fields are appended as key=value pairs after the message.
type LineFormatter struct{}

// Format implements logrus.Formatter.
func (f *LineFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(entry.Time.Format(TimestampFormat))
	b.WriteString(" - ")
	b.WriteString(strings.ToUpper(entry.Level.String()))
	b.WriteString(" - ")
	b.WriteString(entry.Message)
	for _, key := range sortedKeys(entry.Data) {
		fmt.Fprintf(&b, " %s=%v", key, entry.Data[key])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// Logger is a logrus logger bound to one job's log file.
type Logger struct {
	*log.Logger
	Path string
	file *os.File
}

// FileName derives the log file name from a job-definition file name.
// The full name is kept so "source_a.txt" and "source_a.yaml" never share a log.
func FileName(configFile string) string {
	return filepath.Base(configFile) + ".log"
}

// Open creates (or appends to) the log file for configFile inside dir and
// mirrors every line to console when it is non-nil.
func Open(dir, configFile string, level log.Level, console io.Writer) (*Logger, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create log directory: %w", err)
	}

	path := filepath.Join(dir, FileName(configFile))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open log file %s: %w", path, err)
	}

	logger := log.New()
	logger.SetFormatter(&LineFormatter{})
	logger.SetLevel(level)
	if console != nil {
		logger.SetOutput(io.MultiWriter(file, console))
	} else {
		logger.SetOutput(file)
	}

	return &Logger{Logger: logger, Path: path, file: file}, nil
}

// Close releases the underlying log file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func sortedKeys(data log.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
