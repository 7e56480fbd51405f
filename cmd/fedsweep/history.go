package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/config"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/history"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sweep history",
	Long: `View past sweeps.

Every 'fedsweep run' records which runs were launched, their exit codes and
durations. Training metrics are not recorded.`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show details of a sweep",
	Long:  `Display the runs of a past sweep by its ID or a unique ID prefix.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old history entries",
	Long:  `Remove history entries older than the retention period.`,
	RunE:  runHistoryClean,
}

var (
	historyLimit int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// getManifest returns the history store and the loaded configuration.
func getManifest() (*history.Manifest, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	m, err := history.New(cfg.History.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize history: %w", err)
	}
	return m, cfg, nil
}

// runHistory lists recent sweeps.
func runHistory(cmd *cobra.Command, _ []string) error {
	m, _, err := getManifest()
	if err != nil {
		return err
	}

	entries, err := m.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history entries found.")
		fmt.Fprintln(w, "Run 'fedsweep run --gpu-id N --beta B' to launch a sweep.")
		return nil
	}

	fmt.Fprintf(w, "\n%-40s  %-4s  %-6s  %-24s  %-8s  %s\n", "ID", "GPU", "BETA", "STATUS", "RUNS", "FAILED")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, e := range entries {
		fmt.Fprintf(w, "%-40s  %-4d  %-6s  %-24s  %-8s  %d\n",
			truncateString(e.ID, 40),
			e.DeviceID,
			types.FormatFloat(e.Beta),
			e.Status,
			fmt.Sprintf("%d/%d", e.Summary.Dispatched, e.Summary.Planned),
			e.Summary.Failed,
		)
	}
	fmt.Fprintln(w, strings.Repeat("-", 96))
	fmt.Fprintln(w, "Use 'fedsweep history show <id>' for details on a specific sweep.")
	return nil
}

// runHistoryShow displays the runs of one sweep.
func runHistoryShow(cmd *cobra.Command, args []string) error {
	m, _, err := getManifest()
	if err != nil {
		return err
	}

	e, err := m.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "\nSweep Details")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "ID:         %s\n", e.ID)
	fmt.Fprintf(w, "Timestamp:  %s\n", e.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "GPU:        %d\n", e.DeviceID)
	fmt.Fprintf(w, "Beta:       %s\n", types.FormatFloat(e.Beta))
	fmt.Fprintf(w, "Status:     %s\n", e.Status)
	fmt.Fprintf(w, "Runs:       %d dispatched of %d, %d failed\n", e.Summary.Dispatched, e.Summary.Planned, e.Summary.Failed)
	fmt.Fprintf(w, "Elapsed:    %s\n", (time.Duration(e.Summary.ElapsedMS) * time.Millisecond).String())
	if e.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", e.Error)
	}

	if len(e.Runs) > 0 {
		fmt.Fprintln(w, "\nRuns:")
		fmt.Fprintln(w, strings.Repeat("-", 60))
		fmt.Fprintf(w, "%-6s  %-10s  %s\n", "EXIT", "DURATION", "RUN")
		fmt.Fprintln(w, strings.Repeat("-", 60))
		for _, r := range e.Runs {
			fmt.Fprintf(w, "%-6d  %-10s  %s\n",
				r.ExitCode,
				(time.Duration(r.DurationMS) * time.Millisecond).String(),
				r.RunID,
			)
		}
	}
	return nil
}

// runHistoryClean removes old history entries.
func runHistoryClean(cmd *cobra.Command, _ []string) error {
	m, cfg, err := getManifest()
	if err != nil {
		return err
	}

	retentionDays := cfg.History.RetentionDays
	if retentionDays <= 0 {
		retentionDays = config.DefaultRetentionDays
	}

	printInfo(cmd, "Cleaning history entries older than %d days...", retentionDays)
	n, err := m.Cleanup(retentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}
	printInfo(cmd, "Removed %d entries.", n)
	return nil
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
