package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/config"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/device"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/driver"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/output"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/runconfig"
)

// Sweep parameter flags shared by run and plan.
var (
	gpuID int
	beta  float64
)

// newProber returns the device prober used by run. Tests replace it.
var newProber = func() device.Prober {
	return device.NewNVMLProber()
}

// addSweepFlags registers the required sweep parameters on cmd.
func addSweepFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&gpuID, "gpu-id", 0, "GPU index to train on (required)")
	cmd.Flags().Float64Var(&beta, "beta", 0, "Dirichlet concentration for client data partitioning (required)")
	_ = cmd.MarkFlagRequired("gpu-id")
	_ = cmd.MarkFlagRequired("beta")
}

// sweepParams validates the sweep flags.
func sweepParams() (driver.Params, error) {
	if gpuID < 0 {
		return driver.Params{}, fmt.Errorf("--gpu-id must not be negative, got %d", gpuID)
	}
	if beta <= 0 {
		return driver.Params{}, fmt.Errorf("--beta must be positive, got %g", beta)
	}
	return driver.Params{DeviceID: gpuID, Beta: beta}, nil
}

// newMaterializer resolves the configuration paths. Paths are made absolute
// when the trainer runs in another directory so that it can find its file.
func newMaterializer(cfg *config.Config) (*runconfig.Materializer, error) {
	base, dir := cfg.Paths.BaseConfig, cfg.Paths.ConfigDir
	if cfg.Trainer.WorkDir != "" {
		var err error
		if base, err = filepath.Abs(base); err != nil {
			return nil, fmt.Errorf("resolving base config: %w", err)
		}
		if dir, err = filepath.Abs(dir); err != nil {
			return nil, fmt.Errorf("resolving config dir: %w", err)
		}
	}
	return runconfig.New(base, dir), nil
}

// buildPlan enumerates the sweep without side effects.
func buildPlan(cfg *config.Config, p driver.Params) (*output.Plan, error) {
	sp, err := cfg.Space()
	if err != nil {
		return nil, err
	}
	mat, err := newMaterializer(cfg)
	if err != nil {
		return nil, err
	}
	required, err := cfg.RequiredMemory()
	if err != nil {
		return nil, err
	}

	plan := output.NewPlan(sp.Enumerate(p.Beta, p.DeviceID), mat.PathFor)
	plan.DeviceID = p.DeviceID
	plan.Beta = p.Beta
	plan.BaseConfig = mat.BasePath()
	plan.MaxProcesses = cfg.Limits.MaxProcesses
	plan.RequiredMemory = required
	return plan, nil
}
