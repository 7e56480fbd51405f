package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "fedsweep",
		Short: "Launch federated learning hyperparameter sweeps",
		Long: `Fedsweep launches one training process per combination of dataset,
server learning rate and server optimizer for a given Dirichlet
concentration (beta) on one GPU.

Each run gets its own copy of the base training configuration. Launches are
capped by a process limit, spaced by a cooldown, and held back until the GPU
has enough free memory.

Examples:
  fedsweep run --gpu-id 0 --beta 0.5       # Run the sweep on GPU 0
  fedsweep run --gpu_id 1 --beta 1 -n      # Preview without launching
  fedsweep plan --gpu-id 0 --beta 0.5 -o csv
  fedsweep config show                     # Show effective configuration
  fedsweep history                         # List past sweeps`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./fedsweep.yaml or ~/.config/fedsweep/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig binds the global CLI switches to the environment.
func initConfig() {
	viper.SetEnvPrefix("FEDSWEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// normalizeFlagName accepts underscore spellings such as --gpu_id.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// configFlags maps command flags onto configuration keys.
var configFlags = map[string]string{
	"max-processes": "limits.max_processes",
}

// loadConfig loads and validates the configuration, applying any command
// flags that override configuration keys.
func loadConfig(cmd *cobra.Command) (*config.Config, *viper.Viper, error) {
	v := config.New(cfgFile)
	for flag, key := range configFlags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, nil, fmt.Errorf("binding --%s: %w", flag, err)
			}
		}
	}

	cfg, err := config.Decode(v)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, v, nil
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message to cmd's output if quiet mode is not enabled.
func printInfo(cmd *cobra.Command, format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
	}
}
