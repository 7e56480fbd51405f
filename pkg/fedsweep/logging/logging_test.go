package logging_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/logging"
)

// Tests in this file share the package's global state and do not run in parallel.

func TestInit(t *testing.T) {
	validDir := t.TempDir()
	componentsDir := t.TempDir()
	invalidDir := t.TempDir()

	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("failed to create blocker file: %v", err)
	}

	tests := []struct {
		name    string
		cfg     logging.Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     logging.Config{Level: "info", Path: filepath.Join(validDir, "test.log")},
			wantErr: false,
		},
		{
			name: "component overrides",
			cfg: logging.Config{
				Level:      "info",
				Path:       filepath.Join(componentsDir, "components.log"),
				Components: map[string]string{"driver": "debug", "device": "warn"},
			},
			wantErr: false,
		},
		{
			name:    "invalid level",
			cfg:     logging.Config{Level: "loud", Path: filepath.Join(invalidDir, "invalid.log")},
			wantErr: true,
		},
		{
			name: "invalid component level",
			cfg: logging.Config{
				Level:      "info",
				Path:       filepath.Join(invalidDir, "invalid.log"),
				Components: map[string]string{"driver": "chatty"},
			},
			wantErr: true,
		},
		{
			name:    "unwritable path",
			cfg:     logging.Config{Level: "info", Path: filepath.Join(blocker, "test.log")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := logging.Init(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Init() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil {
				if closeErr := logging.Close(); closeErr != nil {
					t.Errorf("Close() error = %v", closeErr)
				}
			}
		})
	}
}

func TestLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fedsweep.log")

	// Created before Init: must pick up the configuration.
	early := logging.Get("early")

	if err := logging.Init(logging.Config{Level: "debug", Path: path}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	early.Info("early message", "k", "v")
	logging.Get("driver").Debug("debug message")

	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	content := string(data)
	for _, want := range []string{"early message", "k=v", "debug message", "driver"} {
		if !strings.Contains(content, want) {
			t.Errorf("log file missing %q:\n%s", want, content)
		}
	}
}

func TestLogger_ComponentLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fedsweep.log")

	err := logging.Init(logging.Config{
		Level:      "info",
		Path:       path,
		Components: map[string]string{"device": "error"},
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	logging.Get("device").Info("suppressed poll message")
	logging.Get("launcher").Info("visible launch message")

	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "suppressed poll message") {
		t.Error("device info message should be filtered by component level")
	}
	if !strings.Contains(string(data), "visible launch message") {
		t.Error("launcher info message missing")
	}
}

func TestLogger_Console(t *testing.T) {
	var console bytes.Buffer
	logging.SetConsoleOutput(&console)
	defer logging.SetConsoleOutput(os.Stderr)

	err := logging.Init(logging.Config{
		Level:        "debug",
		Path:         filepath.Join(t.TempDir(), "fedsweep.log"),
		ConsoleLevel: "warn",
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer func() { _ = logging.Close() }()

	logger := logging.Get("console-test").With("run", "r1")
	logger.Info("not on console")
	logger.Warn("on console")

	out := console.String()
	if strings.Contains(out, "not on console") {
		t.Errorf("console got info message: %q", out)
	}
	if !strings.Contains(out, "on console") || !strings.Contains(out, "run=r1") {
		t.Errorf("console missing warn message with context: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logging.Level
		wantErr bool
	}{
		{"debug", logging.LevelDebug, false},
		{"INFO", logging.LevelInfo, false},
		{"warning", logging.LevelWarn, false},
		{"error", logging.LevelError, false},
		{"trace", logging.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := logging.ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
