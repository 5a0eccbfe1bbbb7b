// Package cmd provides the CLI commands for nrtsearch.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nrtsearch/internal/config"
	"github.com/Aman-CERP/nrtsearch/internal/logging"
	"github.com/Aman-CERP/nrtsearch/internal/profiling"
	"github.com/Aman-CERP/nrtsearch/pkg/version"
)

// skipConfigAnnotation marks commands that run without loading configuration.
const skipConfigAnnotation = "nrtsearch/skip-config"

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	configPath string
	debug      bool
	profile    profiling.Options
}

// app is the state PersistentPreRunE prepares for a command run.
type app struct {
	cfg            *config.Config
	logger         *slog.Logger
	loggingCleanup func()
	profile        *profiling.Session
}

// NewRootCmd creates the root command for the nrtsearch CLI.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	a := &app{}

	cmd := &cobra.Command{
		Use:   "nrtsearch",
		Short: "Near-real-time full-text indexes with bounded staleness",
		Long: `nrtsearch manages full-text indexes over class records.

Writes are assigned generations; searches can ask for a view that
reflects at least a given generation and wait a bounded time for it.

Indexes and their schema are declared in nrtsearch.yaml.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.start(cmd, flags)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.stop()
		},
	}
	cmd.SetVersionTemplate("nrtsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Configuration file (default: ./nrtsearch.yaml)")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging to ~/.nrtsearch/logs/")
	cmd.PersistentFlags().StringVar(&flags.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&flags.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&flags.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newIngestCmd(a))
	cmd.AddCommand(newRebuildCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newCountCmd(a))
	cmd.AddCommand(newDumpCmd(a))
	cmd.AddCommand(newClearCmd(a))
	cmd.AddCommand(newDropCmd(a))
	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newLogsCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) start(cmd *cobra.Command, flags *rootFlags) error {
	if cmd.Annotations[skipConfigAnnotation] == "true" {
		a.cfg = config.NewConfig()
	} else {
		dir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg, err := config.Load(dir, flags.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = a.cfg.Logging.Level
	logCfg.FilePath = a.cfg.Logging.File
	if flags.debug {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.logger = logger
	a.loggingCleanup = cleanup
	slog.SetDefault(logger)

	if flags.profile.Enabled() {
		s, err := profiling.Start(flags.profile)
		if err != nil {
			return err
		}
		a.profile = s
	}
	return nil
}

func (a *app) stop() error {
	var err error
	if a.profile != nil {
		err = a.profile.Stop()
		a.profile = nil
	}
	if a.loggingCleanup != nil {
		a.loggingCleanup()
		a.loggingCleanup = nil
	}
	return err
}
