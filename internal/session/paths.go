package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns $WPPCRM_HOME, or ~/.wppcrm when unset.
func BaseDir() string {
	if dir := os.Getenv("WPPCRM_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wppcrm")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// DeviceDir returns the scratch directory for the protocol device database.
func DeviceDir(name string) string {
	return filepath.Join(Dir(name), "device")
}

// AppDBPath returns the default SQLite app database path.
func AppDBPath(name string) string {
	return filepath.Join(Dir(name), "wppcrm.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "wppcrmd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		DeviceDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
