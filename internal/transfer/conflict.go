package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Conflict selects what happens when the target path already exists.
type Conflict string

const (
	ConflictOverwrite Conflict = "overwrite" // Replace the existing file
	ConflictSkip      Conflict = "skip"      // Leave the existing file, report the source as skipped
	ConflictFail      Conflict = "fail"      // Report the source as failed
	ConflictRename    Conflict = "rename"    // Write next to it as name_(N).ext
)

// ParseConflict converts a configured value into a Conflict.
func ParseConflict(s string) (Conflict, error) {
	switch c := Conflict(strings.ToLower(strings.TrimSpace(s))); c {
	case ConflictOverwrite, ConflictSkip, ConflictFail, ConflictRename:
		return c, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", s)
	}
}

// ErrTargetExists is returned for a file whose target exists under ConflictFail.
var ErrTargetExists = errors.New("target already exists")

// resolveTarget applies the conflict policy. An empty path with a nil error
// means the file should be skipped.
func resolveTarget(dest string, policy Conflict) (string, error) {
	_, err := os.Lstat(dest)
	if os.IsNotExist(err) {
		return dest, nil
	}
	if err != nil {
		return "", fmt.Errorf("error checking target %s: %w", dest, err)
	}

	switch policy {
	case ConflictOverwrite, "":
		return dest, nil
	case ConflictSkip:
		return "", nil
	case ConflictFail:
		return "", ErrTargetExists
	case ConflictRename:
		return uniqueName(dest)
	default:
		return "", fmt.Errorf("unknown conflict policy %q", policy)
	}
}

// uniqueName finds a free name by adding a counter to the base name.
func uniqueName(originalPath string) (string, error) {
	ext := filepath.Ext(originalPath)
	base := strings.TrimSuffix(originalPath, ext)

	for counter := 1; counter <= 1000; counter++ {
		newName := fmt.Sprintf("%s_(%d)%s", base, counter, ext)
		if _, err := os.Lstat(newName); os.IsNotExist(err) {
			return newName, nil
		}
	}

	return "", fmt.Errorf("failed to find unique name for %s after 1000 attempts", originalPath)
}
