// Root command for the sfmirror CLI.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/sfmirror/internal/config"
	"github.com/mesh-intelligence/sfmirror/internal/paths"
	"github.com/mesh-intelligence/sfmirror/pkg/sfmirror"
)

// Global flag values.
var (
	flagConfigDir string
	flagDataDir   string
	flagJSON      bool
	flagVerbose   bool
)

// cfg is the loaded configuration. Set by PersistentPreRunE so all
// subcommands can use it.
var cfg *config.Config

// logger is the process-wide structured logger, writing to stderr so command
// output on stdout stays clean.
var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:     "sfmirror",
	Short:   "sfmirror replicates CRM entities into a local store",
	Version: sfmirror.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger()
		slog.SetDefault(logger)

		configDir, err := resolveConfigDir()
		if err != nil {
			return err
		}
		cfg, err = config.Load(configDir)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "configuration directory (default: platform config dir)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default: $(CWD)/"+paths.DefaultDataDirName+")")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(mappingsCmd)
	rootCmd.AddCommand(planCmd)
}

// newLogger builds the process logger: text on a terminal, JSON when --json
// is set, debug level when --verbose is set.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if flagJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// resolveConfigDir returns the configuration directory following the
// precedence chain: --config-dir flag > SFMIRROR_CONFIG_DIR env > default.
func resolveConfigDir() (string, error) {
	return paths.ResolveConfigDir(flagConfigDir)
}

// resolveDataDir returns the data directory following the precedence chain:
// --data-dir flag > config.yaml data_dir > SFMIRROR_DATA_DIR env > default.
func resolveDataDir() (string, error) {
	return paths.ResolveDataDir(flagDataDir, cfg.DataDir)
}
