package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaneisley/acqsched/pkg/config"
	"github.com/shaneisley/acqsched/pkg/daemon"
	"github.com/shaneisley/acqsched/pkg/logging"
	"github.com/shaneisley/acqsched/pkg/storage"
)

const version = "1.0.0"

var logLevel string

var rootCmd = createRootCommand()

func createRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acqsched [config-file]",
		Short: "Start and stop an acquisition program on a fixed hourly schedule",
		Long: `acqsched keeps an external acquisition program running in fixed windows
aligned to minutes past each hour, on the calendar days covered by a
configured leg.

The configuration is a TOML file. When no file is given, or the given path is
not a file, acqsched.toml beside the executable is used.

Environment variables (ACQSCHED_ prefix) override file values, e.g.
ACQSCHED_TOLERANCE_MINUTES=3 or ACQSCHED_PROCESS_STOP_TIMEOUT=10s.

EXAMPLES:
  # Run with the configuration beside the binary
  acqsched

  # Run with an alternate configuration
  acqsched /etc/acqsched/cruise.toml

  # Show what would run today
  acqsched schedule /etc/acqsched/cruise.toml

  # Show recently fired events
  acqsched history --limit 20`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides daemon.log_level")

	cmd.AddCommand(
		createScheduleCommand(),
		createHistoryCommand(),
		createStatusCommand(),
		createStopCommand(),
		createVersionCommand(),
	)
	return cmd
}

// resolveConfigPath returns the file named on the command line, or the
// default path beside the executable.
func resolveConfigPath(args []string, logger *logging.Logger) string {
	if len(args) > 0 && args[0] != "" {
		if info, err := os.Stat(args[0]); err == nil && info.Mode().IsRegular() {
			return args[0]
		}
		logger.Warn("config file not found, using default", "path", args[0])
	}
	return config.DefaultPath()
}

// loadConfiguration resolves and loads the configuration, logging failures.
func loadConfiguration(args []string, logger *logging.Logger) (*config.Config, string, error) {
	path := resolveConfigPath(args, logger)
	if _, err := os.Stat(path); err != nil {
		logger.LogError("load_config", err, "path", path)
		return nil, path, fmt.Errorf("configuration file %s: %w", path, err)
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		logger.LogError("load_config", err, "path", path)
		return nil, path, err
	}
	return cfg, path, nil
}

func effectiveLevel(cfg *config.Config) logging.LogLevel {
	if logLevel != "" {
		return logging.ParseLevel(logLevel)
	}
	if cfg != nil {
		return logging.ParseLevel(cfg.Daemon.LogLevel)
	}
	return logging.LogLevelInfo
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger("scheduler", effectiveLevel(nil))

	cfg, path, err := loadConfiguration(args, logger)
	if err != nil {
		return err
	}

	logger = logging.NewLogger("scheduler", effectiveLevel(cfg))
	logger.LogStartup(version, path)
	for _, leg := range cfg.Legs {
		logger.Info("leg loaded",
			"leg", leg.Name,
			"start", leg.Start.Format(time.RFC3339),
			"stop", leg.Stop.Format(time.RFC3339))
	}

	if running, pid, _ := daemon.IsRunning(cfg.Daemon.PidFile); running {
		return fmt.Errorf("scheduler is already running with PID %d", pid)
	}

	opts := []daemon.Option{
		daemon.WithLogger(logger),
		daemon.WithWatchdog(daemon.WatchdogInterval()),
	}
	if cfg.Daemon.JournalPath != "" {
		journal, err := storage.OpenJournal(cfg.Daemon.JournalPath)
		if err != nil {
			logger.LogError("open_journal", err, "path", cfg.Daemon.JournalPath)
			return err
		}
		defer journal.Close()
		opts = append(opts, daemon.WithJournal(journal))
	}

	d, err := daemon.NewDaemon(cfg, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(); err != nil {
		logger.LogError("start", err)
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown requested, acquisition process left as is")
	d.Stop()
	d.Join(0)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
