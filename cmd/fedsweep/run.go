package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/config"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/driver"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/gate"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/history"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/launcher"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/logging"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/output"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/trainer"
)

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sweep on one GPU",
	Long: `Launch one training process per run of the sweep.

A run is launched once a worker slot is free, the launch cooldown has passed
and the GPU reports enough free memory. Its configuration file is deleted
when the process exits. Failed runs are reported and the sweep continues.

Interrupting fedsweep stops further launches and terminates running
training processes.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	addSweepFlags(runCmd)
	runCmd.Flags().Int("max-processes", 0, "maximum concurrent training processes (default from config)")
	runCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print the plan without launching anything")
	rootCmd.AddCommand(runCmd)
}

// runSweep is the run command handler.
func runSweep(cmd *cobra.Command, _ []string) error {
	if dryRun {
		return printPlan(cmd, "table")
	}

	p, err := sweepParams()
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := initLogging(cfg); err != nil {
		return err
	}
	defer func() { _ = logging.Close() }()

	d, err := newDriver(cfg)
	if err != nil {
		return err
	}

	if err := trainer.SetVisibleDevices(cfg.Devices.EnvKey, cfg.Devices.Visible); err != nil {
		return fmt.Errorf("devices.visible: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printInfo(cmd, "Sweeping %d runs on GPU %d (max %d processes)...",
		len(d.Plan(p)), p.DeviceID, d.Gate().Capacity())
	printVerbose("base config: %s", cfg.Paths.BaseConfig)

	s, runErr := d.Run(ctx, p)
	if s == nil {
		return runErr
	}

	if !getQuiet() {
		if err := output.WriteSummary(cmd.OutOrStdout(), toOutputSummary(s, runErr)); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	recordHistory(cmd, cfg, s, runErr)

	if errors.Is(runErr, context.Canceled) {
		printInfo(cmd, "Interrupted, sweep stopped")
		return nil
	}
	return runErr
}

// newDriver wires the sweep components from configuration.
func newDriver(cfg *config.Config) (*driver.Driver, error) {
	sp, err := cfg.Space()
	if err != nil {
		return nil, err
	}
	required, err := cfg.RequiredMemory()
	if err != nil {
		return nil, err
	}
	mat, err := newMaterializer(cfg)
	if err != nil {
		return nil, err
	}

	runner := &trainer.ExecRunner{
		Program:           cfg.Trainer.Program,
		Args:              cfg.Trainer.Args,
		ConfigFlag:        cfg.Trainer.ConfigFlag,
		Dir:               cfg.Trainer.WorkDir,
		VisibleDevicesKey: cfg.Devices.EnvKey,
	}

	return driver.New(driver.Options{
		Space:          sp,
		Materializer:   mat,
		Prober:         newProber(),
		Launcher:       launcher.New(runner, mat, os.Stderr),
		Gate:           gate.New(cfg.Limits.MaxProcesses),
		RequiredMemory: required,
		WaitPolicy:     cfg.WaitPolicy(),
		Cooldown:       cfg.Limits.Cooldown,
	})
}

// initLogging configures file logging, mirroring to the console at a level
// chosen by --verbose and --quiet.
func initLogging(cfg *config.Config) error {
	lc, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	switch {
	case getQuiet():
		lc.ConsoleLevel = "error"
	case getVerbose():
		lc.ConsoleLevel = "debug"
	default:
		lc.ConsoleLevel = "info"
	}
	if err := logging.Init(lc); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

// recordHistory persists the sweep; failures are reported but do not fail
// the command.
func recordHistory(cmd *cobra.Command, cfg *config.Config, s *driver.Summary, runErr error) {
	if !cfg.History.Enabled {
		return
	}
	m, err := history.New(cfg.History.Path)
	if err != nil {
		printVerbose("history disabled: %v", err)
		return
	}
	entry, err := m.Record(history.FromSummary(s, runErr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to record history: %v\n", err)
		return
	}
	printInfo(cmd, "Recorded as %s", entry.ID)

	if cfg.History.RetentionDays > 0 {
		if n, err := m.Cleanup(cfg.History.RetentionDays); err == nil && n > 0 {
			printVerbose("removed %d expired history entries", n)
		}
	}
}

// toOutputSummary converts a sweep summary for display.
func toOutputSummary(s *driver.Summary, runErr error) output.Summary {
	return output.Summary{
		DeviceID:   s.DeviceID,
		Beta:       s.Beta,
		Planned:    s.Planned,
		Dispatched: s.Dispatched,
		Succeeded:  s.Succeeded,
		Failed:     s.Failed,
		Capacity:   int(s.Gate.Capacity),
		Peak:       int(s.Gate.Peak),
		Elapsed:    s.Elapsed,
		Failures:   s.FailedRuns(),
		Err:        runErr,
	}
}
