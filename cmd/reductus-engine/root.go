package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/reductus/engine/internal/cache"
	"github.com/reductus/engine/internal/config"
	"github.com/reductus/engine/internal/engine"
	"github.com/reductus/engine/internal/filestore"
	"github.com/reductus/engine/internal/output"
	"github.com/reductus/engine/internal/reduction/modules"
	"github.com/reductus/engine/internal/registry"
)

var (
	flagConfig    string
	flagVerbose   bool
	flagCacheDir  string
	flagStoreRoot string
)

// app holds the wiring every subcommand needs; built once in
// initializeGlobals and read by each RunE.
var app struct {
	Engine   *engine.Engine
	Registry *registry.Registry
}

// NewRootCmd builds the reductus-engine root command and its subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reductus-engine",
		Short: "Reduction pipeline engine CLI",
		Long: `reductus-engine evaluates neutron and X-ray scattering reduction
templates: DAGs of registered modules wired together, cached by content
fingerprint and evaluated with a Levenberg-Marquardt solver for fits.`,
		PersistentPreRunE: initializeGlobals,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config file (env: REDUCTUS_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "increase output verbosity")
	rootCmd.PersistentFlags().StringVar(&flagCacheDir, "cache-dir", "", "result cache directory (env: REDUCTUS_CACHE_DIR)")
	rootCmd.PersistentFlags().StringVar(&flagStoreRoot, "store-root", "", "root directory for the \"local\" file-store source")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCalcCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newReloadCmd())
	rootCmd.AddCommand(newFitCmd())
	rootCmd.AddCommand(newCacheCmd())

	return rootCmd
}

// initializeGlobals sets up logging, resolves configuration, and wires
// the registry/file-store/engine every subcommand shares.
func initializeGlobals(cmd *cobra.Command, _ []string) error {
	output.SetupLogging(output.LogConfig{Verbose: flagVerbose})

	cacheDirResult, err := config.ResolveCacheDir(config.ResolveCacheDirOptions{FlagValue: flagCacheDir})
	if err != nil {
		return err
	}
	config.LogResolvedValues([]config.ResolvedValue{
		{Key: "cache_dir", Value: cacheDirResult.Dir, Source: string(cacheDirResult.Source)},
	})

	reg := registry.New()
	if err := modules.Register(reg); err != nil {
		return err
	}

	fs := filestore.New()
	storeRoot := flagStoreRoot
	if storeRoot == "" {
		storeRoot = "."
	}
	fs.AddSource("local", afero.NewBasePathFs(afero.NewOsFs(), storeRoot))

	eng := engine.New(reg, fs)

	if err := config.EnsureDir(cacheDirResult.Dir, 0o755); err == nil {
		if persistent, err := cache.NewPersistentStore(afero.NewOsFs(), cacheDirResult.Dir); err == nil {
			eng.Cache = persistent
		} else {
			output.Warn("persistent cache unavailable, falling back to memory-only", "error", err)
		}
	} else {
		output.Warn("persistent cache unavailable, falling back to memory-only", "error", err)
	}

	app.Engine = eng
	app.Registry = reg

	return nil
}
