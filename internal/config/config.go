// Package config provides configuration loading and management for the
// reduction engine CLI and RPC server: cache and file-store locations,
// logging verbosity, and the RPC listen address.
package config

// Config is the reductus-engine configuration. This package does not read
// it from a file; resolver.go resolves individual keys by flag, environment
// variable, config value and default, in that order of precedence.
type Config struct {
	// CacheDir is the directory the persistent result cache is rooted
	// at. Env: REDUCTUS_CACHE_DIR, Default: ~/.reductus/cache
	CacheDir string `yaml:"cache_dir,omitempty"`

	// StoreRoots maps a file-store source id to its filesystem root.
	// No environment variable overrides it.
	// Default: {"local": "~/.reductus/data"}
	StoreRoots map[string]string `yaml:"store_roots,omitempty"`

	// ListenAddr is the address the RPC server listens on.
	// Env: REDUCTUS_LISTEN_ADDR, Default: "127.0.0.1:8398"
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// Verbose enables debug-level logging.
	// No environment variable overrides it. Default: false
	Verbose bool `yaml:"verbose,omitempty"`
}

// DefaultConfig returns a Config with every default value populated.
func DefaultConfig() *Config {
	return &Config{
		StoreRoots: map[string]string{"local": "~/.reductus/data"},
		ListenAddr: "127.0.0.1:8398",
	}
}

// ResolvedValue tracks a configuration value and its resolution chain,
// for logging config resolution when --verbose is set.
type ResolvedValue struct {
	// Key is the configuration key (e.g., "cache_dir").
	Key string

	// Value is the resolved value.
	Value any

	// Source indicates where the value came from: "flag", "env", "config", "default".
	Source string

	// Shadowed contains lower-precedence sources that were overridden.
	Shadowed map[string]any
}
