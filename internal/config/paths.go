package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath names an explicit config file.
	EnvConfigPath = "HEARTH_CONFIG"
	// ConfigFileName is looked up in the working directory.
	ConfigFileName = "hearth.yaml"
	// ConfigDirName is the directory under XDG_CONFIG_HOME, ~/.config and /etc.
	ConfigDirName = "hearth"
)

// configCandidates lists the search locations, best first. Entries whose
// environment variable is unset come back empty.
func configCandidates() []string {
	candidates := []string{os.Getenv(EnvConfigPath), ConfigFileName}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, ConfigDirName, "config.yaml"))
	}
	if home := os.Getenv("HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, ".config", ConfigDirName, "config.yaml"))
	}
	return append(candidates, filepath.Join("/etc", ConfigDirName, "config.yaml"))
}

// FindConfigPath returns the first existing file of $HEARTH_CONFIG,
// ./hearth.yaml, $XDG_CONFIG_HOME/hearth/config.yaml,
// ~/.config/hearth/config.yaml and /etc/hearth/config.yaml, or "" when
// none exists.
func FindConfigPath() string {
	for _, path := range configCandidates() {
		if path == "" || !fileExists(path) {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return ""
}

// DefaultConfigPath is where `hearth config init` writes.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, ConfigDirName, "config.yaml")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", ConfigDirName, "config.yaml")
	}
	return ConfigFileName
}

// EnsureConfigDir creates the directory holding configPath.
func EnsureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0o755)
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
