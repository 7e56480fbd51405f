package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/device"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/logging"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/space"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/trainer"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

// ErrConfigExists is returned by WriteDefault when the file is already there.
var ErrConfigExists = errors.New("config file already exists")

// SweepConfig is the hyperparameter space.
type SweepConfig struct {
	Datasets          []string  `mapstructure:"datasets"`
	LearningRates     []float64 `mapstructure:"learning_rates"`
	Optimizers        []string  `mapstructure:"optimizers"`
	BaselineOptimizer string    `mapstructure:"baseline_optimizer"`
	Epochs            int       `mapstructure:"epochs"`
}

// PathsConfig locates the base and per-run training configurations.
type PathsConfig struct {
	BaseConfig string `mapstructure:"base_config"`
	ConfigDir  string `mapstructure:"config_dir"`
}

// TrainerConfig describes the training entry point.
type TrainerConfig struct {
	Program    string   `mapstructure:"program"`
	Args       []string `mapstructure:"args"`
	ConfigFlag string   `mapstructure:"config_flag"`
	WorkDir    string   `mapstructure:"work_dir"`
}

// DevicesConfig controls GPU visibility.
type DevicesConfig struct {
	Visible string `mapstructure:"visible"`
	EnvKey  string `mapstructure:"env_key"`
}

// LimitsConfig bounds how aggressively workers are launched.
type LimitsConfig struct {
	MaxProcesses       int           `mapstructure:"max_processes"`
	RequiredFreeMemory string        `mapstructure:"required_free_memory"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
}

// WaitConfig controls polling of a device that is short on memory.
type WaitConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	Deadline        time.Duration `mapstructure:"deadline"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// HistoryConfig configures the sweep history store.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Config represents the application configuration.
type Config struct {
	Sweep   SweepConfig   `mapstructure:"sweep"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Trainer TrainerConfig `mapstructure:"trainer"`
	Devices DevicesConfig `mapstructure:"devices"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Wait    WaitConfig    `mapstructure:"wait"`
	Logging LoggingConfig `mapstructure:"logging"`
	History HistoryConfig `mapstructure:"history"`

	// Source is the file the configuration was read from, empty when only
	// defaults and environment were used.
	Source string `mapstructure:"-"`
}

// Load loads configuration from file and environment variables. When file is
// empty the first existing of these is used:
//   - ./fedsweep.yaml
//   - $XDG_CONFIG_HOME/fedsweep/config.yaml
//
// Environment variables are prefixed with FEDSWEEP_ (e.g.
// FEDSWEEP_LIMITS_MAX_PROCESSES).
func Load(file string) (*Config, error) {
	return Decode(New(file))
}

// New returns a viper instance with defaults, environment binding and the
// config file resolved but not yet read. Callers may bind flags before
// passing it to Decode.
func New(file string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	if file == "" {
		file = findConfigFile()
	}
	if file != "" {
		v.SetConfigFile(file)
	}

	v.SetEnvPrefix("FEDSWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// Decode reads the config file, if any, and unmarshals the result.
func Decode(v *viper.Viper) (*Config, error) {
	var source string
	if file := v.ConfigFileUsed(); file != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		source = file
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Source = source

	var err error
	if cfg.History.Path, err = ExpandPath(cfg.History.Path); err != nil {
		return nil, err
	}
	if cfg.Logging.Path, err = ExpandPath(cfg.Logging.Path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sweep.datasets", DefaultDatasets)
	v.SetDefault("sweep.learning_rates", DefaultLearningRates)
	v.SetDefault("sweep.optimizers", DefaultOptimizers)
	v.SetDefault("sweep.baseline_optimizer", DefaultBaselineOptimizer)
	v.SetDefault("sweep.epochs", DefaultEpochs)

	v.SetDefault("paths.base_config", DefaultBaseConfig)
	v.SetDefault("paths.config_dir", DefaultRunConfigDir)

	v.SetDefault("trainer.program", DefaultProgram)
	v.SetDefault("trainer.args", DefaultArgs)
	v.SetDefault("trainer.config_flag", DefaultConfigFlag)
	v.SetDefault("trainer.work_dir", "")

	v.SetDefault("devices.visible", DefaultVisibleDevices)
	v.SetDefault("devices.env_key", trainer.VisibleDevicesKey)

	v.SetDefault("limits.max_processes", DefaultMaxProcesses)
	v.SetDefault("limits.required_free_memory", DefaultRequiredFreeMemory)
	v.SetDefault("limits.cooldown", DefaultCooldown)

	v.SetDefault("wait.initial_interval", DefaultPollInterval)
	v.SetDefault("wait.multiplier", 1.0)
	v.SetDefault("wait.max_interval", DefaultPollInterval)
	v.SetDefault("wait.max_retries", 0)
	v.SetDefault("wait.deadline", time.Duration(0))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "") // Empty means use logging.DefaultLogPath
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.compress", false)
	v.SetDefault("logging.components", map[string]string{
		"driver":   "info",
		"launcher": "info",
		"device":   "info",
	})

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", DefaultHistoryDir())
	v.SetDefault("history.retention_days", DefaultRetentionDays)
}

// findConfigFile returns the first config file found in the search order.
func findConfigFile() string {
	candidates := []string{"fedsweep.yaml"}
	if dir, err := ConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// Validate checks values that unmarshalling cannot.
func (c *Config) Validate() error {
	if _, err := c.Space(); err != nil {
		return err
	}
	if c.Paths.BaseConfig == "" {
		return errors.New("paths.base_config must be set")
	}
	if c.Paths.ConfigDir == "" {
		return errors.New("paths.config_dir must be set")
	}
	if c.Trainer.Program == "" {
		return errors.New("trainer.program must be set")
	}
	if _, err := trainer.ParseVisibleDevices(c.Devices.Visible); err != nil {
		return fmt.Errorf("devices.visible: %w", err)
	}
	if c.Limits.MaxProcesses < 1 {
		return fmt.Errorf("limits.max_processes must be at least 1, got %d", c.Limits.MaxProcesses)
	}
	if _, err := c.RequiredMemory(); err != nil {
		return err
	}
	if c.Limits.Cooldown < 0 {
		return fmt.Errorf("limits.cooldown must not be negative, got %s", c.Limits.Cooldown)
	}
	if c.Wait.InitialInterval <= 0 {
		return fmt.Errorf("wait.initial_interval must be positive, got %s", c.Wait.InitialInterval)
	}
	if c.Wait.Multiplier < 1 {
		return fmt.Errorf("wait.multiplier must be at least 1, got %g", c.Wait.Multiplier)
	}
	if c.Wait.Deadline < 0 {
		return fmt.Errorf("wait.deadline must not be negative, got %s", c.Wait.Deadline)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// Space builds and validates the sweep space.
func (c *Config) Space() (space.Space, error) {
	s := space.Space{
		Datasets:          c.Sweep.Datasets,
		LearningRates:     c.Sweep.LearningRates,
		Optimizers:        c.Sweep.Optimizers,
		BaselineOptimizer: c.Sweep.BaselineOptimizer,
		Epochs:            c.Sweep.Epochs,
	}
	if err := s.Validate(); err != nil {
		return space.Space{}, fmt.Errorf("sweep: %w", err)
	}
	return s, nil
}

// RequiredMemory parses limits.required_free_memory.
func (c *Config) RequiredMemory() (uint64, error) {
	n, err := types.ParseSize(c.Limits.RequiredFreeMemory)
	if err != nil {
		return 0, fmt.Errorf("limits.required_free_memory: %w", err)
	}
	return n, nil
}

// WaitPolicy returns the device wait policy.
func (c *Config) WaitPolicy() device.WaitPolicy {
	return device.WaitPolicy{
		InitialInterval: c.Wait.InitialInterval,
		Multiplier:      c.Wait.Multiplier,
		MaxInterval:     c.Wait.MaxInterval,
		MaxRetries:      c.Wait.MaxRetries,
		Deadline:        c.Wait.Deadline,
	}
}

// LoggingConfig converts the logging section for logging.Init.
func (c *Config) LoggingConfig() (logging.Config, error) {
	rot := logging.DefaultRotationConfig()
	if c.Logging.Rotation.MaxSize != "" {
		n, err := types.ParseSize(c.Logging.Rotation.MaxSize)
		if err != nil {
			return logging.Config{}, fmt.Errorf("logging.rotation.max_size: %w", err)
		}
		rot.MaxSizeMB = max(int(n/types.MiB), 1)
	}
	rot.MaxAge = c.Logging.Rotation.MaxAge
	rot.MaxBackups = c.Logging.Rotation.MaxBackups
	rot.Compress = c.Logging.Rotation.Compress

	return logging.Config{
		Level:      c.Logging.Level,
		Path:       c.Logging.Path,
		Rotation:   rot,
		Components: c.Logging.Components,
	}, nil
}

// ConfigDir returns the fedsweep configuration directory.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "fedsweep"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "fedsweep"), nil
}

// DefaultConfigPath returns the user-level config file path.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DataDir returns $XDG_DATA_HOME/fedsweep/.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "fedsweep")
}

// StateDir returns $XDG_STATE_HOME/fedsweep/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "fedsweep")
}

// DefaultHistoryDir returns the default sweep history directory.
func DefaultHistoryDir() string {
	return filepath.Join(DataDir(), "history")
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// WriteDefault writes a commented default config file to path, or to
// DefaultConfigPath when path is empty, and returns where it was written.
// An existing file is kept unless force is set.
func WriteDefault(path string, force bool) (string, error) {
	if path == "" {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return "", err
		}
	}

	if _, err := os.Stat(path); err == nil && !force {
		return path, ErrConfigExists
	} else if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigFile()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}

func defaultConfigFile() string {
	return fmt.Sprintf(`# fedsweep configuration

# Hyperparameter space. Every combination becomes one training run.
sweep:
  datasets: [%s]
  learning_rates: [%s]
  optimizers: [%s]
  # Runs with this optimizer train without server-side optimization.
  baseline_optimizer: %s
  epochs: %d

paths:
  # Shared training configuration every run starts from
  base_config: %s
  # Per-run configuration files are written here and removed after the run
  config_dir: %s

# Training entry point, started as: program args... config_flag <file>
trainer:
  program: %s
  args: [%s]
  config_flag: %s
  work_dir: ""

devices:
  # Exported process-wide at sweep start; each worker narrows it to its device
  visible: "%s"
  env_key: %s

limits:
  max_processes: %d
  # Free device memory required before a launch
  required_free_memory: %s
  # Minimum spacing between launches
  cooldown: %s

# Polling while the device is short on memory. max_retries 0 and deadline 0
# wait until interrupted.
wait:
  initial_interval: %s
  multiplier: 1
  max_interval: %s
  max_retries: 0
  deadline: 0s

logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/fedsweep/fedsweep.log)
  path: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    compress: false
  components:
    driver: info
    launcher: info
    device: info

history:
  enabled: true
  path: %s
  retention_days: %d
`,
		strings.Join(DefaultDatasets, ", "),
		joinFloats(DefaultLearningRates),
		strings.Join(DefaultOptimizers, ", "),
		DefaultBaselineOptimizer,
		DefaultEpochs,
		DefaultBaseConfig,
		DefaultRunConfigDir,
		DefaultProgram,
		strings.Join(DefaultArgs, ", "),
		DefaultConfigFlag,
		DefaultVisibleDevices,
		trainer.VisibleDevicesKey,
		DefaultMaxProcesses,
		DefaultRequiredFreeMemory,
		DefaultCooldown,
		DefaultPollInterval,
		DefaultPollInterval,
		DefaultHistoryDir(),
		DefaultRetentionDays,
	)
}

func joinFloats(fs []float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = types.FormatFloat(f)
	}
	return strings.Join(parts, ", ")
}
