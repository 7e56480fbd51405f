package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/device"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

// isolate runs the test in an empty directory with no user config.
func isolate(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	t.Chdir(tempDir)
	t.Setenv("HOME", tempDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tempDir, "xdg-config"))
	return tempDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source != "" {
		t.Errorf("Source = %q, want empty", cfg.Source)
	}
	if !reflect.DeepEqual(cfg.Sweep.Datasets, DefaultDatasets) {
		t.Errorf("Sweep.Datasets = %v, want %v", cfg.Sweep.Datasets, DefaultDatasets)
	}
	if !reflect.DeepEqual(cfg.Sweep.LearningRates, DefaultLearningRates) {
		t.Errorf("Sweep.LearningRates = %v, want %v", cfg.Sweep.LearningRates, DefaultLearningRates)
	}
	if cfg.Sweep.Epochs != DefaultEpochs {
		t.Errorf("Sweep.Epochs = %d, want %d", cfg.Sweep.Epochs, DefaultEpochs)
	}
	if cfg.Paths.BaseConfig != DefaultBaseConfig {
		t.Errorf("Paths.BaseConfig = %q, want %q", cfg.Paths.BaseConfig, DefaultBaseConfig)
	}
	if cfg.Trainer.Program != "python" || !reflect.DeepEqual(cfg.Trainer.Args, []string{"main.py"}) {
		t.Errorf("Trainer = %+v, want python main.py", cfg.Trainer)
	}
	if cfg.Trainer.ConfigFlag != "--cf" {
		t.Errorf("Trainer.ConfigFlag = %q, want --cf", cfg.Trainer.ConfigFlag)
	}
	if cfg.Devices.Visible != "0,1,2,3" {
		t.Errorf("Devices.Visible = %q, want 0,1,2,3", cfg.Devices.Visible)
	}
	if cfg.Devices.EnvKey != "CUDA_VISIBLE_DEVICES" {
		t.Errorf("Devices.EnvKey = %q", cfg.Devices.EnvKey)
	}
	if cfg.Limits.MaxProcesses != 50 {
		t.Errorf("Limits.MaxProcesses = %d, want 50", cfg.Limits.MaxProcesses)
	}
	if cfg.Limits.Cooldown != 200*time.Second {
		t.Errorf("Limits.Cooldown = %s, want 200s", cfg.Limits.Cooldown)
	}
	if got := cfg.WaitPolicy(); got != device.DefaultWaitPolicy() {
		t.Errorf("WaitPolicy() = %+v, want %+v", got, device.DefaultWaitPolicy())
	}
	if !cfg.History.Enabled || cfg.History.RetentionDays != DefaultRetentionDays {
		t.Errorf("History = %+v", cfg.History)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	mem, err := cfg.RequiredMemory()
	if err != nil {
		t.Fatalf("RequiredMemory() error = %v", err)
	}
	if mem != types.GiB {
		t.Errorf("RequiredMemory() = %d, want %d", mem, types.GiB)
	}
}

func TestLoad_FromFile(t *testing.T) {
	tempDir := isolate(t)
	path := filepath.Join(tempDir, "custom.yaml")
	writeFile(t, path, `
sweep:
  datasets: [A, B]
  learning_rates: [0.1, 0.00001]
  optimizers: [FedAvg, FedAdam, FedYogi]
paths:
  base_config: /srv/fedml/base.yaml
limits:
  max_processes: 8
  required_free_memory: 6GiB
  cooldown: 30s
wait:
  initial_interval: 10s
  multiplier: 2
  max_interval: 5m
  max_retries: 12
history:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}
	if !reflect.DeepEqual(cfg.Sweep.LearningRates, []float64{0.1, 0.00001}) {
		t.Errorf("Sweep.LearningRates = %v", cfg.Sweep.LearningRates)
	}
	if cfg.Sweep.BaselineOptimizer != DefaultBaselineOptimizer {
		t.Errorf("unset keys keep defaults, BaselineOptimizer = %q", cfg.Sweep.BaselineOptimizer)
	}
	if cfg.Limits.MaxProcesses != 8 || cfg.Limits.Cooldown != 30*time.Second {
		t.Errorf("Limits = %+v", cfg.Limits)
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled = true, want false")
	}

	want := device.WaitPolicy{
		InitialInterval: 10 * time.Second,
		Multiplier:      2,
		MaxInterval:     5 * time.Minute,
		MaxRetries:      12,
	}
	if got := cfg.WaitPolicy(); got != want {
		t.Errorf("WaitPolicy() = %+v, want %+v", got, want)
	}

	sp, err := cfg.Space()
	if err != nil {
		t.Fatalf("Space() error = %v", err)
	}
	if sp.Size() != 6 {
		t.Errorf("Space().Size() = %d, want 6", sp.Size())
	}

	mem, err := cfg.RequiredMemory()
	if err != nil || mem != 6*types.GiB {
		t.Errorf("RequiredMemory() = %d, %v", mem, err)
	}
}

func TestLoad_SearchOrder(t *testing.T) {
	tempDir := isolate(t)
	xdgFile := filepath.Join(tempDir, "xdg-config", "fedsweep", "config.yaml")
	writeFile(t, xdgFile, "limits:\n  max_processes: 3\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Limits.MaxProcesses != 3 || cfg.Source != xdgFile {
		t.Errorf("user config: MaxProcesses = %d, Source = %q", cfg.Limits.MaxProcesses, cfg.Source)
	}

	writeFile(t, filepath.Join(tempDir, "fedsweep.yaml"), "limits:\n  max_processes: 7\n")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Limits.MaxProcesses != 7 {
		t.Errorf("project config should win, MaxProcesses = %d", cfg.Limits.MaxProcesses)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("FEDSWEEP_LIMITS_MAX_PROCESSES", "12")
	t.Setenv("FEDSWEEP_DEVICES_VISIBLE", "2,3")
	t.Setenv("FEDSWEEP_LIMITS_COOLDOWN", "1m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Limits.MaxProcesses != 12 {
		t.Errorf("Limits.MaxProcesses = %d, want 12", cfg.Limits.MaxProcesses)
	}
	if cfg.Devices.Visible != "2,3" {
		t.Errorf("Devices.Visible = %q, want 2,3", cfg.Devices.Visible)
	}
	if cfg.Limits.Cooldown != time.Minute {
		t.Errorf("Limits.Cooldown = %s, want 1m", cfg.Limits.Cooldown)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	tempDir := isolate(t)
	if _, err := Load(filepath.Join(tempDir, "nope.yaml")); err == nil {
		t.Error("Load() with a missing explicit file should fail")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tempDir := isolate(t)
	path := filepath.Join(tempDir, "bad.yaml")
	writeFile(t, path, "sweep: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() with invalid YAML should fail")
	}
}

func TestValidate(t *testing.T) {
	isolate(t)

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty datasets", func(c *Config) { c.Sweep.Datasets = nil }},
		{"duplicate lr", func(c *Config) { c.Sweep.LearningRates = []float64{0.1, 0.1} }},
		{"zero epochs", func(c *Config) { c.Sweep.Epochs = 0 }},
		{"no base config", func(c *Config) { c.Paths.BaseConfig = "" }},
		{"no config dir", func(c *Config) { c.Paths.ConfigDir = "" }},
		{"no program", func(c *Config) { c.Trainer.Program = "" }},
		{"bad visible devices", func(c *Config) { c.Devices.Visible = "0,gpu1" }},
		{"zero processes", func(c *Config) { c.Limits.MaxProcesses = 0 }},
		{"bad memory", func(c *Config) { c.Limits.RequiredFreeMemory = "lots" }},
		{"negative cooldown", func(c *Config) { c.Limits.Cooldown = -time.Second }},
		{"zero poll interval", func(c *Config) { c.Wait.InitialInterval = 0 }},
		{"shrinking multiplier", func(c *Config) { c.Wait.Multiplier = 0.5 }},
		{"negative deadline", func(c *Config) { c.Wait.Deadline = -time.Second }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Logging.Rotation.MaxSize = "64MiB"
	cfg.Logging.Rotation.Compress = true

	lc, err := cfg.LoggingConfig()
	if err != nil {
		t.Fatalf("LoggingConfig() error = %v", err)
	}
	if lc.Rotation.MaxSizeMB != 64 || !lc.Rotation.Compress || lc.Rotation.MaxBackups != 5 {
		t.Errorf("Rotation = %+v", lc.Rotation)
	}
	if lc.Components["driver"] != "info" {
		t.Errorf("Components = %v", lc.Components)
	}

	cfg.Logging.Rotation.MaxSize = "1KB"
	lc, err = cfg.LoggingConfig()
	if err != nil {
		t.Fatalf("LoggingConfig() error = %v", err)
	}
	if lc.Rotation.MaxSizeMB != 1 {
		t.Errorf("MaxSizeMB = %d, want the 1 MB floor", lc.Rotation.MaxSizeMB)
	}

	cfg.Logging.Rotation.MaxSize = "big"
	if _, err := cfg.LoggingConfig(); err == nil {
		t.Error("LoggingConfig() with bad max_size should fail")
	}
}

func TestWriteDefault(t *testing.T) {
	tempDir := isolate(t)

	path, err := WriteDefault("", false)
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	want := filepath.Join(tempDir, "xdg-config", "fedsweep", "config.yaml")
	if path != want {
		t.Errorf("WriteDefault() path = %q, want %q", path, want)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading written default: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written default does not validate: %v", err)
	}
	if !reflect.DeepEqual(cfg.Sweep.LearningRates, DefaultLearningRates) {
		t.Errorf("Sweep.LearningRates = %v", cfg.Sweep.LearningRates)
	}
	if cfg.Limits.Cooldown != DefaultCooldown || cfg.Trainer.ConfigFlag != DefaultConfigFlag {
		t.Errorf("Limits = %+v, Trainer = %+v", cfg.Limits, cfg.Trainer)
	}
	if got := cfg.WaitPolicy(); got != device.DefaultWaitPolicy() {
		t.Errorf("WaitPolicy() = %+v", got)
	}

	if _, err := WriteDefault("", false); !errors.Is(err, ErrConfigExists) {
		t.Errorf("second WriteDefault() error = %v, want ErrConfigExists", err)
	}
	if _, err := WriteDefault("", true); err != nil {
		t.Errorf("forced WriteDefault() error = %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	tempDir := isolate(t)

	got, err := ExpandPath("~/runs")
	if err != nil {
		t.Fatalf("ExpandPath() error = %v", err)
	}
	if got != filepath.Join(tempDir, "runs") {
		t.Errorf("ExpandPath() = %q", got)
	}

	got, _ = ExpandPath("/abs/path")
	if got != "/abs/path" {
		t.Errorf("ExpandPath() = %q, want unchanged", got)
	}
}
