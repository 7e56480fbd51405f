// Package trainer runs the external training entry point for one sweep run.
package trainer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// VisibleDevicesKey restricts which GPUs a CUDA process can see.
const VisibleDevicesKey = "CUDA_VISIBLE_DEVICES"

// waitDelay bounds how long Run waits for stderr to close after the process
// exits; data loader subprocesses can outlive a killed trainer.
const waitDelay = 10 * time.Second

// Job describes one training invocation.
type Job struct {
	RunID      string
	ConfigPath string
	DeviceID   int
}

// Result is the observed outcome of a training process.
type Result struct {
	ExitCode int
	Stderr   []byte
	Duration time.Duration
}

// Failed reports whether the process exited nonzero.
func (r Result) Failed() bool {
	return r.ExitCode != 0
}

// Runner runs a training job to completion.
//
// A nonzero exit is reported through Result.ExitCode with a nil error; the
// error is reserved for processes that could not be started or waited on.
type Runner interface {
	Run(ctx context.Context, job Job) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job Job) (Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, job Job) (Result, error) {
	return f(ctx, job)
}

// ExecRunner starts the training entry point as a child process:
//
//	{Program} {Args...} {ConfigFlag} {job.ConfigPath}
//
// with the visible-devices variable narrowed to the job's device.
type ExecRunner struct {
	Program    string
	Args       []string
	ConfigFlag string

	// Dir is the working directory. Empty inherits the current one.
	Dir string

	// Env holds extra variables layered over the current environment.
	Env Envs

	// VisibleDevicesKey overrides the device visibility variable name.
	VisibleDevicesKey string

	// Stdout receives the process's standard output. Nil uses os.Stdout.
	Stdout io.Writer
}

// Command builds the command for a job without starting it.
func (r *ExecRunner) Command(ctx context.Context, job Job) *exec.Cmd {
	args := append([]string{}, r.Args...)
	flag := r.ConfigFlag
	if flag == "" {
		flag = "--cf"
	}
	args = append(args, flag, job.ConfigPath)

	key := r.VisibleDevicesKey
	if key == "" {
		key = VisibleDevicesKey
	}

	cmd := exec.CommandContext(ctx, r.Program, args...)
	cmd.Dir = r.Dir
	cmd.Env = Merge(r.Env, Envs{key: strconv.Itoa(job.DeviceID)}).Environ(os.Environ())
	cmd.Stdout = r.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// Run starts the process, blocks until it exits and captures its stderr.
func (r *ExecRunner) Run(ctx context.Context, job Job) (Result, error) {
	cmd := r.Command(ctx, job)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	res.ExitCode = -1
	return res, fmt.Errorf("running %s: %w", r.Program, err)
}

var _ Runner = (*ExecRunner)(nil)
