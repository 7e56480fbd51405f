package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/output"
)

var planFormat string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "List the runs a sweep would launch",
	Long: `List every run of the sweep in launch order together with the
configuration file it would be given. Nothing is written or started.

Output formats: plain, table, json, yaml, csv.`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	addSweepFlags(planCmd)
	planCmd.Flags().StringVarP(&planFormat, "output", "o", "table", "output format")
	rootCmd.AddCommand(planCmd)
}

// runPlan prints the sweep plan.
func runPlan(cmd *cobra.Command, _ []string) error {
	return printPlan(cmd, planFormat)
}

func printPlan(cmd *cobra.Command, format string) error {
	p, err := sweepParams()
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	formatter, err := output.Get(format)
	if err != nil {
		return fmt.Errorf("unknown output format %q: available formats are %v", format, output.Available())
	}

	plan, err := buildPlan(cfg, p)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, plan); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), buf.String())
	return nil
}
