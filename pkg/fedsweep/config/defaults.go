// Package config provides configuration management for fedsweep.
package config

import "time"

// Default configuration values.
const (
	// DefaultBaselineOptimizer is the optimizer that runs without
	// server-side optimization.
	DefaultBaselineOptimizer = "FedAvg"

	// DefaultEpochs is the local epoch count per round.
	DefaultEpochs = 4

	// DefaultBaseConfig is the shared training configuration every run
	// starts from.
	DefaultBaseConfig = "config/fedml_config.yaml"

	// DefaultRunConfigDir is where per-run configuration files are written.
	DefaultRunConfigDir = "config"

	// DefaultProgram and DefaultConfigFlag start the training entry point
	// as "python main.py --cf <file>".
	DefaultProgram    = "python"
	DefaultConfigFlag = "--cf"

	// DefaultVisibleDevices is exported as CUDA_VISIBLE_DEVICES at sweep start.
	DefaultVisibleDevices = "0,1,2,3"

	// DefaultMaxProcesses caps concurrently running workers.
	DefaultMaxProcesses = 50

	// DefaultRequiredFreeMemory is the free device memory a launch needs.
	DefaultRequiredFreeMemory = "1GiB"

	// DefaultCooldown is the minimum spacing between launches.
	DefaultCooldown = 200 * time.Second

	// DefaultPollInterval is how often a busy device is re-checked.
	DefaultPollInterval = 120 * time.Second

	// DefaultRetentionDays is how long sweep history is kept.
	DefaultRetentionDays = 30
)

// DefaultDatasets are the datasets swept when none are configured.
var DefaultDatasets = []string{"CIFAR100", "CIFAR10"}

// DefaultLearningRates are the server learning rates swept when none are
// configured.
var DefaultLearningRates = []float64{0.02, 0.002, 0.0005}

// DefaultOptimizers are the server optimizers swept when none are configured.
var DefaultOptimizers = []string{"FedAvg"}

// DefaultArgs precede the config flag on the trainer command line.
var DefaultArgs = []string{"main.py"}
