package config

import (
	"os"

	"github.com/reductus/engine/internal/output"
)

// ConfigSource indicates where a configuration value came from.
type ConfigSource string

const (
	// SourceFlag indicates value came from command-line flag.
	SourceFlag ConfigSource = "flag"
	// SourceEnv indicates value came from environment variable.
	SourceEnv ConfigSource = "env"
	// SourceConfig indicates value came from config file.
	SourceConfig ConfigSource = "config"
	// SourceDefault indicates value is the built-in default.
	SourceDefault ConfigSource = "default"
)

// ResolveListenAddrOptions contains options for listen-address resolution.
type ResolveListenAddrOptions struct {
	// FlagValue is the --listen flag value (empty if not set).
	FlagValue string
	// ConfigValue is the listen_addr value from the config file (empty if not set).
	ConfigValue string
}

// ResolveListenAddrResult contains the resolved listen address and its source.
type ResolveListenAddrResult struct {
	// Addr is the resolved address.
	Addr string
	// Source indicates where the address came from.
	Source ConfigSource
	// Shadowed contains values that were overridden by higher precedence.
	Shadowed map[ConfigSource]string
}

// ResolveListenAddr resolves the RPC listen address using precedence:
// (1) --listen flag, (2) REDUCTUS_LISTEN_ADDR env, (3) config.listen_addr,
// (4) the built-in default.
func ResolveListenAddr(opts ResolveListenAddrOptions) ResolveListenAddrResult {
	result := ResolveListenAddrResult{
		Shadowed: make(map[ConfigSource]string),
	}

	envValue := os.Getenv("REDUCTUS_LISTEN_ADDR")
	defaultValue := DefaultConfig().ListenAddr

	switch {
	case opts.FlagValue != "":
		result.Addr = opts.FlagValue
		result.Source = SourceFlag
		if envValue != "" {
			result.Shadowed[SourceEnv] = envValue
		}
		if opts.ConfigValue != "" {
			result.Shadowed[SourceConfig] = opts.ConfigValue
		}
		result.Shadowed[SourceDefault] = defaultValue
	case envValue != "":
		result.Addr = envValue
		result.Source = SourceEnv
		if opts.ConfigValue != "" {
			result.Shadowed[SourceConfig] = opts.ConfigValue
		}
		result.Shadowed[SourceDefault] = defaultValue
	case opts.ConfigValue != "":
		result.Addr = opts.ConfigValue
		result.Source = SourceConfig
		result.Shadowed[SourceDefault] = defaultValue
	default:
		result.Addr = defaultValue
		result.Source = SourceDefault
	}

	return result
}

// ResolveCacheDirOptions contains options for cache-directory resolution.
type ResolveCacheDirOptions struct {
	// FlagValue is the --cache-dir flag value (empty if not set).
	FlagValue string
	// ConfigValue is the cache_dir value from the config file (empty if not set).
	ConfigValue string
}

// ResolveCacheDirResult contains the resolved cache directory and its source.
type ResolveCacheDirResult struct {
	// Dir is the resolved cache directory.
	Dir string
	// Source indicates where the directory came from.
	Source ConfigSource
	// Shadowed contains values that were overridden by higher precedence.
	Shadowed map[ConfigSource]string
}

// ResolveCacheDir resolves the persistent cache directory using precedence:
// (1) --cache-dir flag, (2) REDUCTUS_CACHE_DIR env, (3) config.cache_dir,
// (4) ~/.reductus/cache.
func ResolveCacheDir(opts ResolveCacheDirOptions) (ResolveCacheDirResult, error) {
	result := ResolveCacheDirResult{
		Shadowed: make(map[ConfigSource]string),
	}

	envValue := os.Getenv("REDUCTUS_CACHE_DIR")

	paths, err := DefaultPaths()
	if err != nil {
		return result, err
	}
	defaultDir := paths.CacheDir

	switch {
	case opts.FlagValue != "":
		result.Dir = opts.FlagValue
		result.Source = SourceFlag
		if envValue != "" {
			result.Shadowed[SourceEnv] = envValue
		}
		if opts.ConfigValue != "" {
			result.Shadowed[SourceConfig] = opts.ConfigValue
		}
		result.Shadowed[SourceDefault] = defaultDir
	case envValue != "":
		result.Dir = envValue
		result.Source = SourceEnv
		if opts.ConfigValue != "" {
			result.Shadowed[SourceConfig] = opts.ConfigValue
		}
		result.Shadowed[SourceDefault] = defaultDir
	case opts.ConfigValue != "":
		result.Dir = opts.ConfigValue
		result.Source = SourceConfig
		result.Shadowed[SourceDefault] = defaultDir
	default:
		result.Dir = defaultDir
		result.Source = SourceDefault
	}

	return result, nil
}

// ResolveConfigPathOptions contains options for config path resolution.
type ResolveConfigPathOptions struct {
	// FlagValue is the --config flag value (empty if not set).
	FlagValue string
}

// ResolveConfigPathResult contains the resolved config path and its source.
type ResolveConfigPathResult struct {
	// ConfigPath is the resolved config file path.
	ConfigPath string
	// Source indicates where the config path came from.
	Source ConfigSource
	// Shadowed contains values that were overridden by higher precedence.
	Shadowed map[ConfigSource]string
}

// ResolveConfigPath resolves the config file path using precedence:
// (1) --config flag, (2) REDUCTUS_CONFIG env, (3) ~/.reductus/config.yaml default.
func ResolveConfigPath(opts ResolveConfigPathOptions) (ResolveConfigPathResult, error) {
	result := ResolveConfigPathResult{
		Shadowed: make(map[ConfigSource]string),
	}

	envValue := os.Getenv("REDUCTUS_CONFIG")

	paths, err := DefaultPaths()
	if err != nil {
		return result, err
	}
	defaultPath := paths.ConfigFile

	if opts.FlagValue != "" {
		result.ConfigPath = opts.FlagValue
		result.Source = SourceFlag
		if envValue != "" {
			result.Shadowed[SourceEnv] = envValue
		}
		result.Shadowed[SourceDefault] = defaultPath
	} else if envValue != "" {
		result.ConfigPath = envValue
		result.Source = SourceEnv
		result.Shadowed[SourceDefault] = defaultPath
	} else {
		result.ConfigPath = defaultPath
		result.Source = SourceDefault
	}

	return result, nil
}

// LogResolvedValues logs configuration resolution at DEBUG level when verbose.
func LogResolvedValues(values []ResolvedValue) {
	for _, v := range values {
		output.Debug("config value resolved",
			"key", v.Key,
			"value", v.Value,
			"source", v.Source,
		)
		for source, shadowed := range v.Shadowed {
			output.Debug("  shadowed by higher precedence",
				"key", v.Key,
				"shadowed_source", source,
				"shadowed_value", shadowed,
			)
		}
	}
}
