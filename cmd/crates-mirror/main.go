// Package main implements the crates-mirror command-line tool for mirroring
// the crates.io package registry.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/crates-mirror/crates-mirror/internal/mirror"
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "crates-mirror",
	Short: "Mirror the crates.io package registry",
	Long: `crates-mirror creates and maintains a self-contained mirror of crates.io:
the registry index, every published .crate artifact, and a static site with
a registry-compatible API tree that can be served in place of the origin.`,
}

var syncCmd = &cobra.Command{
	Use:   "sync <index_path> <mirror_path> [<root_url>] [<concurrency>]",
	Short: "Run one full mirror pass",
	Long: `Synchronizes the registry index, downloads every missing release artifact,
and regenerates stale pages and API documents.

Usage:
  # Mirror into ./mirror, advertising http://crates.example.org
  crates-mirror sync ./index ./mirror http://crates.example.org

  # Same, with 50 concurrent package workers
  crates-mirror sync ./index ./mirror http://crates.example.org 50

  # Values may also come from a configuration file
  crates-mirror sync ./index ./mirror --config mirror.toml

Recoverable per-release problems (missing upstream artifacts, checksum
mismatches, corrupt archives) are logged and retried on the next run; only
index corruption or an index synchronization failure aborts the pass.`,
	Args: cobra.RangeArgs(2, 4),
	Run:  runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("crates-mirror %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}

	return err.Error()
}

// loadConfig decodes the optional configuration file and applies the
// logging configuration.
func loadConfig(verboseErrors bool) (*mirror.Config, error) {
	config := mirror.NewConfig()

	if configPath != "" {
		meta, err := toml.DecodeFile(configPath, config)
		if err != nil {
			if os.IsNotExist(err) {
				slog.Error("configuration file not found", "path", configPath)
				return nil, err
			}
			errorMsg := formatError(err, verboseErrors)
			slog.Error("failed to decode config file", "error", errorMsg, "path", configPath)
			return nil, err
		}

		// Undecoded keys usually mean a misspelled section; surface them
		// instead of silently running with defaults.
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, key := range undecoded {
				keys[i] = key.String()
			}
			slog.Error("configuration contains unknown keys", "keys", keys, "path", configPath)
			return nil, errors.New("configuration validation failed")
		}
	}

	if err := config.Log.Apply(); err != nil {
		return nil, err
	}

	if logLevel != "" {
		config.Log.Level = logLevel
		if err := config.Log.Apply(); err != nil {
			return nil, err
		}
		slog.Debug("log level overridden from command line", "level", logLevel)
	}

	return config, nil
}

func runSync(cmd *cobra.Command, args []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(verboseErrors)
	if err != nil {
		os.Exit(1)
	}

	config.IndexPath = args[0]
	config.MirrorPath = args[1]
	if len(args) > 2 {
		config.RootURL = args[2]
	}
	if len(args) > 3 {
		jobs, err := strconv.Atoi(args[3])
		if err != nil {
			slog.Error("invalid concurrency", "value", args[3])
			_ = cmd.Usage()
			os.Exit(1)
		}
		config.Jobs = jobs
	}

	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		config.Quiet = true
	}

	if err := config.Check(); err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors))
		_ = cmd.Usage()
		os.Exit(1)
	}

	m, err := mirror.New(config)
	if err != nil {
		slog.Error("mirror setup failed", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	if err := m.Run(context.Background()); err != nil {
		slog.Error("mirror run failed", "error", formatError(err, verboseErrors))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(verboseErrors)
	if err != nil {
		os.Exit(1)
	}

	if err := config.Check(); err != nil {
		slog.Error("the configuration is not valid", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	slog.Info("the configuration passes validation checks")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
