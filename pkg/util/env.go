package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvWithLocalBinFallback returns the value of name, first loading
// $HOME/.local/bin/.env without overriding variables that are already set.
// The working directory .env is never read.
func LoadEnvWithLocalBinFallback(name string) (string, error) {
	envPath := localBinEnvPath()
	if envPath != "" {
		if info, err := os.Stat(envPath); err == nil && !info.IsDir() {
			_ = godotenv.Load(envPath)
		}
	}

	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v, nil
	}
	if envPath == "" {
		return "", fmt.Errorf("environment variable %q not set and home directory unresolved", name)
	}
	return "", fmt.Errorf("environment variable %q not set; attempted to load fallback file %s", name, envPath)
}

func localBinEnvPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".local", "bin", ".env")
}

// EnvString returns the trimmed value of name or def when blank.
func EnvString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// EnvInt64 returns name parsed as a base-10 integer or def.
func EnvInt64(name string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
