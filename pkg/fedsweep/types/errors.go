package types

import (
	"fmt"
	"strings"
)

// ConfigIOError reports a failure to read, decode, mutate or write a training
// configuration file. It is fatal to the sweep.
type ConfigIOError struct {
	// Path is the file being read or written.
	Path string

	// Op is the failing step: "read", "decode", "mutate" or "write".
	Op string

	Err error
}

func (e *ConfigIOError) Error() string {
	return fmt.Sprintf("config %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ConfigIOError) Unwrap() error {
	return e.Err
}

// DeviceQueryError reports a failure of the GPU management interface, either
// while initializing it or while querying a device.
type DeviceQueryError struct {
	// Index is the device index being queried.
	Index int

	// Op names the management call that failed (e.g. "init", "get handle").
	Op string

	Err error
}

func (e *DeviceQueryError) Error() string {
	return fmt.Sprintf("device %d: %s: %v", e.Index, e.Op, e.Err)
}

func (e *DeviceQueryError) Unwrap() error {
	return e.Err
}

// WorkerExecutionError reports a training run that exited nonzero or could
// not be started. The sweep records it and continues.
type WorkerExecutionError struct {
	RunID    string
	ExitCode int

	// Stderr is the captured standard error of the worker.
	Stderr string

	// Err is set when the process could not be started or waited on.
	Err error
}

func (e *WorkerExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run %s: %v", e.RunID, e.Err)
	}
	msg := fmt.Sprintf("run %s: exit code %d", e.RunID, e.ExitCode)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *WorkerExecutionError) Unwrap() error {
	return e.Err
}

// lastLine returns the last non-empty line of s, which for a Python
// traceback is the exception message.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
