package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage fedsweep configuration settings.

Configuration is loaded from the first of:
  1. --config <file>
  2. ./fedsweep.yaml
  3. $XDG_CONFIG_HOME/fedsweep/config.yaml (~/.config/fedsweep/config.yaml)

Environment variables can override config file settings using the FEDSWEEP_ prefix:
  FEDSWEEP_LIMITS_MAX_PROCESSES=20
  FEDSWEEP_LIMITS_REQUIRED_FREE_MEMORY=4GiB
  FEDSWEEP_PATHS_BASE_CONFIG=config/fedml_config.yaml`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration merged from defaults, file and environment.`,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Create default configuration file",
	Long: `Create a commented default configuration file. Without a path the user
configuration file is created.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path of the configuration file in use.`,
	RunE:  runConfigPath,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the current configuration.
func runConfigShow(cmd *cobra.Command, _ []string) error {
	v := config.New(cfgFile)
	cfg, err := config.Decode(v)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	w := cmd.OutOrStdout()
	if cfg.Source != "" {
		fmt.Fprintf(w, "# Config file: %s\n", cfg.Source)
	} else {
		fmt.Fprintln(w, "# Config file: (using defaults, no file found)")
	}

	data, err := yaml.Marshal(displayable(v.AllSettings()))
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	fmt.Fprint(w, string(data))

	if overrides := envOverrides(); len(overrides) > 0 {
		fmt.Fprintln(w, "\n# Environment overrides:")
		for _, kv := range overrides {
			fmt.Fprintf(w, "#   %s\n", kv)
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "\n# Warning: %v\n", err)
	}
	return nil
}

// displayable renders durations the way they are written in config files.
func displayable(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = displayable(val)
		}
		return out
	case time.Duration:
		return t.String()
	default:
		return v
	}
}

// envOverrides returns the FEDSWEEP_ variables set in the environment.
func envOverrides() []string {
	var out []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "FEDSWEEP_") {
			out = append(out, kv)
		}
	}
	sort.Strings(out)
	return out
}

// runConfigInit creates a default config file.
func runConfigInit(cmd *cobra.Command, args []string) error {
	var target string
	if len(args) > 0 {
		target = args[0]
	}

	path, err := config.WriteDefault(target, configForce)
	if errors.Is(err, config.ErrConfigExists) {
		printInfo(cmd, "Config file already exists: %s", path)
		printInfo(cmd, "Use --force to overwrite it.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	printInfo(cmd, "Created default config file: %s", path)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Source != "" {
		fmt.Fprintln(cmd.OutOrStdout(), cfg.Source)
		return nil
	}

	path, err := config.DefaultConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	printVerbose("File does not exist (will use defaults)")
	return nil
}
