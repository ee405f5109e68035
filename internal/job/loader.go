package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mahyarmirrashed/xfer/internal/archive"
	"github.com/mahyarmirrashed/xfer/internal/transfer"
	"github.com/mahyarmirrashed/xfer/internal/utils"
)

// FilePrefix is the name prefix every job-definition file starts with.
const FilePrefix = "source"

// Recognized job-definition keys.
const (
	KeySource        = "SOURCE"
	KeyTarget        = "TARGET"
	KeyExtensions    = "EXTENSIONS"
	KeyMinSize       = "MIN_SIZE"
	KeyMaxSize       = "MAX_SIZE"
	KeyMove          = "MOVE"
	KeyZip           = "ZIP"
	KeyUseSizeFilter = "USE_SIZE_FILTER"
	KeyUseDateFilter = "USE_DATE_FILTER"
	KeyStartDate     = "START_DATE"
	KeyEndDate       = "END_DATE"
	KeyDateFilter    = "DATE_FILTER"
	KeyConflict      = "CONFLICT"
	KeyArchiveSource = "ARCHIVE_SOURCE"
	KeyExclude       = "EXCLUDE"
)

// format is the on-disk layout of a job-definition file.
type format int

const (
	formatUnknown    format = iota
	formatFlat              // KEY=VALUE per line
	formatStructured        // YAML or JSON mapping
)

func formatOf(name string) format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return formatFlat
	case ".yaml", ".yml", ".json":
		return formatStructured
	default:
		return formatUnknown
	}
}

// Discover lists job-definition files directly inside dir, sorted by name.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read job directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() {
			continue
		}
		if !strings.HasPrefix(name, FilePrefix) || formatOf(name) == formatUnknown {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadAll loads every job-definition file in dir. Files that fail to parse
// are reported in errs and do not prevent the others from loading.
// No job files is not an error: both results are empty.
func LoadAll(dir string) (jobs []*Job, errs []error) {
	paths, err := Discover(dir)
	if err != nil {
		return nil, []error{err}
	}
	for _, path := range paths {
		j, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, errs
}

// LoadFile parses a single job-definition file. Required fields are not
// checked here; see Validate.
func LoadFile(path string) (*Job, error) {
	name := filepath.Base(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{File: name, Err: err}
	}

	var values map[string]string
	switch formatOf(name) {
	case formatFlat:
		values, err = parseFlat(name, data)
	case formatStructured:
		values, err = parseStructured(name, data)
	default:
		err = &ConfigError{File: name, Err: errors.New("unsupported file extension")}
	}
	if err != nil {
		return nil, err
	}

	return fromValues(name, values)
}

// parseFlat reads KEY=VALUE lines. Blank lines and lines starting with '#'
// are ignored; any other line without '=' fails the whole file.
func parseFlat(name string, data []byte) (map[string]string, error) {
	values := make(map[string]string)
	// Lines have no length cap.
	for i, raw := range strings.Split(string(data), "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &ConfigError{File: name, Line: lineNo, Err: fmt.Errorf("expected KEY=VALUE, got %q", line)}
		}
		values[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return values, nil
}

// parseStructured reads a YAML (or JSON) mapping and flattens it to the same
// key/value shape as the flat format. Lists become comma-separated values.
func parseStructured(name string, data []byte) (map[string]string, error) {
	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{File: name, Err: fmt.Errorf("failed to parse: %w", err)}
	}

	values := make(map[string]string, len(raw))
	for key, value := range raw {
		key = strings.ToUpper(strings.TrimSpace(key))
		switch v := value.(type) {
		case nil:
			values[key] = ""
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			values[key] = strings.Join(parts, ",")
		case time.Time:
			values[key] = v.Format(DateLayout)
		case map[string]any:
			return nil, &ConfigError{File: name, Key: key, Err: errors.New("must be a scalar or a list")}
		default:
			values[key] = fmt.Sprint(v)
		}
	}
	return values, nil
}

// fromValues builds a Job from normalized key/value pairs.
func fromValues(name string, values map[string]string) (*Job, error) {
	j := New(name)
	var err error

	j.Source = utils.ExpandTilde(values[KeySource])
	j.Target = utils.ExpandTilde(values[KeyTarget])
	j.Extensions = splitList(values[KeyExtensions], true)
	j.Exclude = splitList(values[KeyExclude], false)
	j.DateFilter = values[KeyDateFilter]

	if j.MinSize, err = parseSize(name, KeyMinSize, values); err != nil {
		return nil, err
	}
	if j.MaxSize, err = parseSize(name, KeyMaxSize, values); err != nil {
		return nil, err
	}
	if j.StartDate, err = parseDate(name, KeyStartDate, values); err != nil {
		return nil, err
	}
	if j.EndDate, err = parseDate(name, KeyEndDate, values); err != nil {
		return nil, err
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{KeyMove, &j.Move},
		{KeyZip, &j.Zip},
		{KeyUseSizeFilter, &j.UseSizeFilter},
		{KeyUseDateFilter, &j.UseDateFilter},
	}
	for _, b := range bools {
		if err := parseBool(name, b.key, values, b.dst); err != nil {
			return nil, err
		}
	}

	if v := values[KeyConflict]; v != "" {
		if j.Conflict, err = transfer.ParseConflict(v); err != nil {
			return nil, &ConfigError{File: name, Key: KeyConflict, Err: err}
		}
	}
	if v := values[KeyArchiveSource]; v != "" {
		if j.ArchiveSource, err = archive.ParseSource(v); err != nil {
			return nil, &ConfigError{File: name, Key: KeyArchiveSource, Err: err}
		}
	}

	return j, nil
}

func splitList(value string, lower bool) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if lower {
			item = strings.ToLower(item)
		}
		items = append(items, item)
	}
	return items
}

func parseSize(name, key string, values map[string]string) (*int64, error) {
	v, ok := values[key]
	if !ok || v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, &ConfigError{File: name, Key: key, Err: fmt.Errorf("must be an integer: %w", err)}
	}
	if n < 0 {
		return nil, &ConfigError{File: name, Key: key, Err: errors.New("must not be negative")}
	}
	return &n, nil
}

func parseDate(name, key string, values map[string]string) (*time.Time, error) {
	v, ok := values[key]
	if !ok || v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateLayout, v, time.Local)
	if err != nil {
		return nil, &ConfigError{File: name, Key: key, Err: fmt.Errorf("must be YYYY-MM-DD: %w", err)}
	}
	return &t, nil
}

// parseBool leaves dst at its default when the key is absent or empty.
func parseBool(name, key string, values map[string]string, dst *bool) error {
	v, ok := values[key]
	if !ok || v == "" {
		return nil
	}
	// YAML 1.2 leaves yes/no/on/off as strings, so accept them here.
	switch strings.ToLower(v) {
	case "yes", "y", "on":
		*dst = true
		return nil
	case "no", "n", "off":
		*dst = false
		return nil
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return &ConfigError{File: name, Key: key, Err: fmt.Errorf("must be true or false: %w", err)}
	}
	*dst = b
	return nil
}
