package config

import (
	"os"
	"path/filepath"
)

// Paths contains standard filesystem paths for the CLI.
type Paths struct {
	// ConfigFile is the path to the config file (~/.reductus/config.yaml).
	ConfigFile string

	// CacheDir is the path to the result cache directory (~/.reductus/cache).
	CacheDir string

	// HomeDir is the path to the reductus home directory (~/.reductus).
	HomeDir string
}

// DefaultPaths returns the default paths, expanding ~ to the user's home directory.
func DefaultPaths() (*Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	reductusHome := filepath.Join(homeDir, ".reductus")
	return &Paths{
		ConfigFile: filepath.Join(reductusHome, "config.yaml"),
		CacheDir:   filepath.Join(reductusHome, "cache"),
		HomeDir:    reductusHome,
	}, nil
}

// PathsFromEnv returns paths considering environment overrides.
func PathsFromEnv() (*Paths, error) {
	paths, err := DefaultPaths()
	if err != nil {
		return nil, err
	}

	if configPath := os.Getenv("REDUCTUS_CONFIG"); configPath != "" {
		paths.ConfigFile = configPath
	}

	if cacheDir := os.Getenv("REDUCTUS_CACHE_DIR"); cacheDir != "" {
		paths.CacheDir = cacheDir
	}

	return paths, nil
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) == 0 {
		return path, nil
	}

	if path[0] != '~' {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if len(path) == 1 {
		return homeDir, nil
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// EnsureDir ensures a directory exists with the given permissions.
func EnsureDir(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
