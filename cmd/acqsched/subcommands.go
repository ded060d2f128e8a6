package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/shaneisley/acqsched/pkg/config"
	"github.com/shaneisley/acqsched/pkg/daemon"
	"github.com/shaneisley/acqsched/pkg/logging"
	"github.com/shaneisley/acqsched/pkg/schedule"
	"github.com/shaneisley/acqsched/pkg/storage"
)

// timeLayouts are accepted by schedule --at.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	time.DateOnly,
}

func stderrLogger(cmd *cobra.Command) *logging.Logger {
	return logging.NewLoggerWithWriter(cmd.ErrOrStderr(), "cli", effectiveLevel(nil))
}

// createScheduleCommand creates the schedule subcommand
func createScheduleCommand() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "schedule [config-file]",
		Short: "Print the acquisition windows for a day",
		Long: `Print the acquisition windows that would be scheduled if the daemon
rebuilt its day at the given time. Nothing is started or stopped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfiguration(args, stderrLogger(cmd))
			if err != nil {
				return err
			}

			now := time.Now()
			if at != "" {
				if now, err = parseAt(at); err != nil {
					return err
				}
			}
			return printSchedule(cmd.OutOrStdout(), cfg, now)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Build the schedule as of this local time (e.g. 2024-01-01T10:05)")
	return cmd
}

func parseAt(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --at time %q", s)
}

func printSchedule(w io.Writer, cfg *config.Config, now time.Time) error {
	leg, ok := schedule.ActiveLeg(cfg.Legs, now)
	if !ok {
		_, err := fmt.Fprintf(w, "No acquisition scheduled on %s\n", now.Format(time.DateOnly))
		return err
	}

	windows := schedule.Windows(cfg, now)
	fmt.Fprintf(w, "Leg %q: %d acquisition(s) on %s\n", leg.Name, len(windows), now.Format(time.DateOnly))
	for _, win := range windows {
		fmt.Fprintf(w, "  %s - %s\n", win.Start.Format("15:04"), win.Stop.Format("15:04"))
	}
	return nil
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [config-file]",
		Short: "Print recently fired acquisition events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfiguration(args, stderrLogger(cmd))
			if err != nil {
				return err
			}
			if cfg.Daemon.JournalPath == "" {
				return fmt.Errorf("no journal configured (daemon.journal_path)")
			}

			journal, err := storage.OpenJournal(cfg.Daemon.JournalPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			entries, err := journal.Recent(limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of entries to show")
	return cmd
}

func printHistory(w io.Writer, entries []storage.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No events recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tFIRED\tACTION\tBOUND\tOUTCOME\tPID\tDETAIL")
	for _, e := range entries {
		run := e.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			run,
			e.FiredAt.Local().Format(time.DateTime),
			e.Action,
			e.BoundTime.Local().Format("15:04"),
			e.Outcome,
			e.Pid,
			e.Detail)
	}
	return tw.Flush()
}

// pidFileFor prefers the flag, then the configuration's pid_file. The
// configuration is returned when it was loaded.
func pidFileFor(cmd *cobra.Command, flag string, args []string) (string, *config.Config, error) {
	if flag != "" && len(args) == 0 {
		return flag, nil, nil
	}
	cfg, _, err := loadConfiguration(args, stderrLogger(cmd))
	if err != nil {
		return "", nil, err
	}
	if flag != "" {
		return flag, cfg, nil
	}
	if cfg.Daemon.PidFile == "" {
		return "", nil, fmt.Errorf("no PID file configured; pass --pid-file")
	}
	return cfg.Daemon.PidFile, cfg, nil
}

func printJournalSummary(w io.Writer, journalPath string, since time.Time) error {
	journal, err := storage.OpenJournal(journalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	summary, err := journal.Summary(since)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Since %s: %d event(s), ok=%d failed=%d suppressed=%d\n",
		since.Format(time.DateTime), summary.Total, summary.OK, summary.Failed, summary.Suppressed)
	return err
}

// createStatusCommand creates the status subcommand
func createStatusCommand() *cobra.Command {
	var pidFile string

	cmd := &cobra.Command{
		Use:   "status [config-file]",
		Short: "Show whether the scheduler is running",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, cfg, err := pidFileFor(cmd, pidFile, args)
			if err != nil {
				return err
			}

			running, pid, err := daemon.IsRunning(path)
			if err != nil {
				return fmt.Errorf("error checking scheduler status: %w", err)
			}

			out := cmd.OutOrStdout()
			if running {
				fmt.Fprintf(out, "Scheduler is running with PID %d\n", pid)
			} else {
				fmt.Fprintln(out, "Scheduler is not running")
				if pid != 0 {
					fmt.Fprintf(out, "Stale PID file found with PID %d\n", pid)
				}
			}

			if cfg != nil && cfg.Daemon.JournalPath != "" {
				return printJournalSummary(out, cfg.Daemon.JournalPath, time.Now().Add(-24*time.Hour))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path (default: daemon.pid_file)")
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand() *cobra.Command {
	var pidFile string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "stop [config-file]",
		Short: "Stop a running scheduler",
		Long: `Send SIGTERM to the scheduler named in the PID file and wait for it to
exit. The acquisition program itself is left running.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _, err := pidFileFor(cmd, pidFile, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			running, pid, err := daemon.IsRunning(path)
			if err != nil {
				return fmt.Errorf("error checking scheduler status: %w", err)
			}
			if !running {
				fmt.Fprintln(out, "Scheduler is not running")
				return nil
			}

			if err := unix.Kill(pid, unix.SIGTERM); err != nil {
				return fmt.Errorf("error stopping scheduler: %w", err)
			}
			fmt.Fprintf(out, "Sent stop signal to scheduler (PID %d)\n", pid)

			deadline := time.Now().Add(wait)
			for time.Now().Before(deadline) {
				if running, _, _ := daemon.IsRunning(path); !running {
					fmt.Fprintln(out, "Scheduler stopped successfully")
					return nil
				}
				time.Sleep(100 * time.Millisecond)
			}
			fmt.Fprintln(out, "Scheduler may still be running, check status")
			return nil
		},
	}

	cmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path (default: daemon.pid_file)")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "How long to wait for the scheduler to exit")
	return cmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "acqsched version %s\n", version)
		},
	}
}
