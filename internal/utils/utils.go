package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/beeep"
	log "github.com/sirupsen/logrus"
)

// Notification icon; beeep falls back to the platform default when empty.
var icon []byte

// ExpandTilde will resolve to the correct location on disk.
func ExpandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func SendNotification(enabled bool, title string, message string) {
	if enabled {
		if err := beeep.Notify(title, message, icon); err != nil {
			log.Warnf("Notification failed: %v", err)
		}
	}
}

// SetLogLevel applies a textual level to the standard logger.
// Unknown values fall back to info.
func SetLogLevel(level string) log.Level {
	var lvl log.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = log.DebugLevel
	case "info":
		lvl = log.InfoLevel
	case "warn":
		lvl = log.WarnLevel
	case "error":
		lvl = log.ErrorLevel
	default:
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	return lvl
}
