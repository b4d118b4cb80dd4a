package config

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatcore.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatcore")
}

// FilePath returns the config.toml path.
func FilePath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// CacheDBPath returns the local cache database path.
func CacheDBPath() string {
	return filepath.Join(BaseDir(), "cache.db")
}

// LogPath returns the log file path.
func LogPath() string {
	return filepath.Join(BaseDir(), "chatcore.log")
}
