// Package launcher runs one sweep worker end to end: start the trainer,
// report a failure, remove the run's configuration file and free its
// admission unit.
package launcher

import (
	"context"
	"io"
	"time"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/logging"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/output"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/space"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/trainer"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

var logger = logging.Get("launcher")

// Remover deletes a run's configuration file.
type Remover interface {
	Remove(path string) error
}

// Outcome is the result of one launched worker.
type Outcome struct {
	RunID      string           `json:"run_id"`
	Descriptor space.Descriptor `json:"-"`
	ConfigPath string           `json:"config_path"`
	StartedAt  time.Time        `json:"started_at"`
	ExitCode   int              `json:"exit_code"`
	Duration   time.Duration    `json:"duration"`

	// Err is a *types.WorkerExecutionError when the worker failed.
	Err error `json:"-"`
}

// Succeeded reports whether the worker exited cleanly.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Launcher runs workers.
type Launcher struct {
	runner  trainer.Runner
	remover Remover

	// out receives failure reports. Nil disables them.
	out io.Writer
}

// New creates a Launcher. Failure reports are written to out when it is
// non-nil.
func New(runner trainer.Runner, remover Remover, out io.Writer) *Launcher {
	return &Launcher{runner: runner, remover: remover, out: out}
}

// Launch runs the worker for d against the configuration at artifact and
// blocks until it exits. A failed worker is logged, reported and returned in
// Outcome.Err; Launch has no error of its own. The artifact is removed and
// release called before Launch returns, even if the runner panics.
func (l *Launcher) Launch(ctx context.Context, d space.Descriptor, artifact string, release func()) Outcome {
	defer release()
	defer l.cleanup(artifact)

	o := Outcome{
		RunID:      d.RunID(),
		Descriptor: d,
		ConfigPath: artifact,
		StartedAt:  time.Now(),
	}
	log := logger.With("run", o.RunID)
	log.Info("starting worker", "gpu", d.DeviceID, "config", artifact)

	res, err := l.runner.Run(ctx, trainer.Job{
		RunID:      o.RunID,
		ConfigPath: artifact,
		DeviceID:   d.DeviceID,
	})
	o.ExitCode = res.ExitCode
	o.Duration = res.Duration

	if err == nil && !res.Failed() {
		log.Info("worker finished", "duration", res.Duration)
		return o
	}

	werr := &types.WorkerExecutionError{
		RunID:    o.RunID,
		ExitCode: res.ExitCode,
		Stderr:   string(res.Stderr),
		Err:      err,
	}
	o.Err = werr

	if ctx.Err() != nil {
		log.Warn("worker stopped by cancellation", "exit", res.ExitCode)
		return o
	}

	log.Error("worker failed", "exit", res.ExitCode, "duration", res.Duration, "err", werr)
	l.report(d, o, werr)
	return o
}

func (l *Launcher) report(d space.Descriptor, o Outcome, werr *types.WorkerExecutionError) {
	if l.out == nil {
		return
	}
	err := output.WriteFailureReport(l.out, output.FailureReport{
		RunID:        o.RunID,
		Dataset:      d.Dataset,
		LearningRate: d.LearningRate,
		Optimizer:    d.Optimizer,
		Beta:         d.Beta,
		DeviceID:     d.DeviceID,
		ConfigPath:   o.ConfigPath,
		ExitCode:     o.ExitCode,
		Duration:     o.Duration,
		Stderr:       werr.Stderr,
		Err:          werr.Err,
	})
	if err != nil {
		logger.Warn("writing failure report", "run", o.RunID, "err", err)
	}
}

func (l *Launcher) cleanup(artifact string) {
	if l.remover == nil || artifact == "" {
		return
	}
	if err := l.remover.Remove(artifact); err != nil {
		logger.Warn("removing run config", "path", artifact, "err", err)
	}
}
