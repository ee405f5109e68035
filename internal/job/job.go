package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/mahyarmirrashed/xfer/internal/archive"
	"github.com/mahyarmirrashed/xfer/internal/transfer"
)

// DateLayout is the format of START_DATE and END_DATE.
const DateLayout = "2006-01-02"

// Job is one source -> target transfer, parsed from a job-definition file.
type Job struct {
	Source     string   // Directory tree to scan
	Target     string   // Destination directory
	Extensions []string // Lower-cased allowed suffixes; empty means all

	MinSize       *int64 // Inclusive lower size bound in bytes; nil means unset
	MaxSize       *int64 // Inclusive upper size bound in bytes; nil means unset
	UseSizeFilter bool

	StartDate     *time.Time
	EndDate       *time.Time
	DateFilter    string // Symbolic relative range, overrides StartDate/EndDate
	UseDateFilter bool

	Move          bool
	Zip           bool
	ArchiveSource archive.Source
	Conflict      transfer.Conflict
	Exclude       []string // Glob patterns relative to Source

	ConfigFile string // Job-definition file this job came from
}

// New returns a Job carrying the defaults for every optional key.
func New(configFile string) *Job {
	return &Job{
		UseSizeFilter: true,
		UseDateFilter: true,
		ArchiveSource: archive.SourceTargetTree,
		Conflict:      transfer.ConflictOverwrite,
		ConfigFile:    configFile,
	}
}

// Validate checks the fields every job needs before anything touches the filesystem.
func (j *Job) Validate() error {
	if j.Source == "" {
		return &ConfigError{File: j.ConfigFile, Key: KeySource, Err: ErrMissing}
	}
	if j.Target == "" {
		return &ConfigError{File: j.ConfigFile, Key: KeyTarget, Err: ErrMissing}
	}
	if j.MinSize != nil && j.MaxSize != nil && *j.MinSize > *j.MaxSize {
		return &ConfigError{File: j.ConfigFile, Key: KeyMinSize, Err: fmt.Errorf("greater than %s", KeyMaxSize)}
	}
	return nil
}

// String returns a short description for diagnostics.
func (j *Job) String() string {
	mode := "copy"
	if j.Move {
		mode = "move"
	}
	return fmt.Sprintf("%s: %s %s -> %s", j.ConfigFile, mode, j.Source, j.Target)
}

// ErrMissing marks a required key that is absent or empty.
var ErrMissing = errors.New("is required")

// ConfigError describes a problem with a job-definition file.
type ConfigError struct {
	File string // Job-definition file name
	Line int    // 1-based line for flat files, 0 when not applicable
	Key  string // Offending key, if known
	Err  error
}

// Error returns the config error message
func (e *ConfigError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.File, e.Line)
	}
	if e.Key != "" {
		return fmt.Sprintf("invalid job definition %s: %s %v", loc, e.Key, e.Err)
	}
	return fmt.Sprintf("invalid job definition %s: %v", loc, e.Err)
}

// Unwrap returns the wrapped error
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
