package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// AppName names the per-user config, cache and log directories.
const AppName = "kokobot"

// Version is stamped at build time with -ldflags "-X .../pkg/util.Version=...".
var Version = "dev"

// ConfigDir returns the settings directory:
//   - Linux/Unix: ~/.config/kokobot
//   - macOS:      ~/Library/Application Support/kokobot
//   - Windows:    %APPDATA%/kokobot
func ConfigDir() string {
	if base, err := os.UserConfigDir(); err == nil && strings.TrimSpace(base) != "" {
		return filepath.Join(base, AppName)
	}
	return filepath.Join(".", "config", AppName)
}

// CacheDir returns the directory holding the notes database.
func CacheDir() string {
	if base, err := os.UserCacheDir(); err == nil && strings.TrimSpace(base) != "" {
		return filepath.Join(base, AppName)
	}
	return filepath.Join(".", "cache", AppName)
}

// LogDir returns the directory for kokobot.log and its rotations.
func LogDir() string {
	switch runtime.GOOS {
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return filepath.Join(home, "Library", "Logs", AppName)
		}
	case "windows":
		return filepath.Join(ConfigDir(), "Logs")
	default:
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return filepath.Join(home, ".log", AppName)
		}
	}
	return filepath.Join(".", "logs", AppName)
}

// SettingsFilePath returns <ConfigDir>/settings.toml.
func SettingsFilePath() string {
	return filepath.Join(ConfigDir(), "settings.toml")
}

// NotesDBPath returns <CacheDir>/notes/notes.db.
func NotesDBPath() string {
	return filepath.Join(CacheDir(), "notes", "notes.db")
}

// EnsureDirs creates the parent directories of every path given.
func EnsureDirs(paths ...string) error {
	for _, p := range paths {
		d := filepath.Dir(p)
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}
