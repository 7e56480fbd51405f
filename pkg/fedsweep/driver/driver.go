// Package driver runs a hyperparameter sweep: it enumerates the runs, admits
// each one through the concurrency gate, the launch cooldown and the device
// memory check, materializes its configuration and starts its worker, then
// joins every worker.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/device"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/gate"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/launcher"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/logging"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/space"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

var logger = logging.Get("driver")

// Materializer writes a run's configuration file and returns its path.
type Materializer interface {
	Materialize(d space.Descriptor) (string, error)
}

// Params are the per-invocation sweep parameters.
type Params struct {
	DeviceID int
	Beta     float64
}

// Options configure a Driver.
type Options struct {
	Space        space.Space
	Materializer Materializer
	Prober       device.Prober
	Launcher     *launcher.Launcher

	// Gate bounds concurrent workers. Nil uses gate.DefaultCapacity.
	Gate *gate.Gate

	// RequiredMemory is the free device memory a launch needs. Zero uses
	// device.DefaultRequiredMemory.
	RequiredMemory uint64

	// WaitPolicy controls polling while the device is short on memory. The
	// zero value uses device.DefaultWaitPolicy.
	WaitPolicy device.WaitPolicy

	// Cooldown is the minimum spacing between launches, measured from the
	// moment a worker is started. Zero disables it.
	Cooldown time.Duration
}

// Driver runs sweeps.
type Driver struct {
	space        space.Space
	materializer Materializer
	prober       device.Prober
	launcher     *launcher.Launcher
	gate         *gate.Gate
	required     uint64
	policy       device.WaitPolicy

	// limiter holds one token per cooldown; nil when there is no cooldown.
	limiter *rate.Limiter
}

// New validates opts and creates a Driver.
func New(opts Options) (*Driver, error) {
	if err := opts.Space.Validate(); err != nil {
		return nil, err
	}
	if opts.Materializer == nil {
		return nil, errors.New("driver: materializer is required")
	}
	if opts.Prober == nil {
		return nil, errors.New("driver: prober is required")
	}
	if opts.Launcher == nil {
		return nil, errors.New("driver: launcher is required")
	}
	if opts.Cooldown < 0 {
		return nil, fmt.Errorf("driver: negative cooldown %s", opts.Cooldown)
	}

	d := &Driver{
		space:        opts.Space,
		materializer: opts.Materializer,
		prober:       opts.Prober,
		launcher:     opts.Launcher,
		gate:         opts.Gate,
		required:     opts.RequiredMemory,
		policy:       opts.WaitPolicy,
	}
	if d.gate == nil {
		d.gate = gate.New(gate.DefaultCapacity)
	}
	if d.required == 0 {
		d.required = device.DefaultRequiredMemory
	}
	if d.policy == (device.WaitPolicy{}) {
		d.policy = device.DefaultWaitPolicy()
	}
	if opts.Cooldown > 0 {
		d.limiter = rate.NewLimiter(rate.Every(opts.Cooldown), 1)
	}
	return d, nil
}

// Plan returns the runs a sweep with p would launch, in dispatch order.
func (d *Driver) Plan(p Params) []space.Descriptor {
	return d.space.Enumerate(p.Beta, p.DeviceID)
}

// Gate returns the driver's admission gate.
func (d *Driver) Gate() *gate.Gate {
	return d.gate
}

// Run dispatches every run of the sweep in enumeration order and waits for
// all started workers to exit.
//
// Failed workers are counted in the summary and do not stop the sweep. A
// configuration error, an exhausted device wait or cancellation stops
// dispatching; workers already started are still joined and the error is
// returned with the summary.
func (d *Driver) Run(ctx context.Context, p Params) (*Summary, error) {
	if p.DeviceID < 0 {
		return nil, fmt.Errorf("invalid device id %d", p.DeviceID)
	}

	descs := d.Plan(p)
	start := time.Now()
	log := logger.With("gpu", p.DeviceID, "beta", types.FormatFloat(p.Beta))
	log.Info("starting sweep", "runs", len(descs), "capacity", d.gate.Capacity(),
		"required", types.FormatSize(d.required))

	outcomes := make([]launcher.Outcome, len(descs))
	dispatched := 0

	var g errgroup.Group
	var runErr error
	for i, desc := range descs {
		artifact, release, err := d.admit(ctx, p, desc)
		if err != nil {
			runErr = err
			break
		}

		d.markLaunch()
		dispatched++
		log.Debug("dispatched", "index", i, "run", desc.RunID())
		g.Go(func() error {
			outcomes[i] = d.launcher.Launch(ctx, desc, artifact, release)
			return nil
		})
	}

	if runErr != nil {
		log.Error("dispatch stopped", "dispatched", dispatched, "err", runErr)
	}
	_ = g.Wait()

	s := newSummary(p, len(descs), outcomes[:dispatched], d.gate.Stats(), time.Since(start))
	log.Info("sweep finished", "dispatched", s.Dispatched, "succeeded", s.Succeeded,
		"failed", s.Failed, "elapsed", s.Elapsed)
	return s, runErr
}

// admit takes a gate unit, waits out the cooldown and for device memory, then
// writes the run's configuration. On error the unit is already released.
func (d *Driver) admit(ctx context.Context, p Params, desc space.Descriptor) (string, func(), error) {
	release, err := d.gate.Acquire(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("acquiring worker slot: %w", err)
	}

	if err := d.waitCooldown(ctx); err != nil {
		release()
		return "", nil, fmt.Errorf("waiting for launch cooldown: %w", err)
	}

	if err := device.WaitForMemory(ctx, d.prober, p.DeviceID, d.required, d.policy); err != nil {
		release()
		return "", nil, fmt.Errorf("waiting for device %d: %w", p.DeviceID, err)
	}

	artifact, err := d.materializer.Materialize(desc)
	if err != nil {
		release()
		return "", nil, err
	}
	return artifact, release, nil
}

// waitCooldown blocks until the last launch is at least the cooldown in the
// past. It leaves the token in place; markLaunch takes it when the worker
// actually starts, so time spent waiting for device memory never counts
// toward the next run's cooldown.
func (d *Driver) waitCooldown(ctx context.Context) error {
	if d.limiter == nil {
		return ctx.Err()
	}
	for {
		tokens := d.limiter.TokensAt(time.Now())
		if tokens >= 1 {
			return ctx.Err()
		}
		delay := time.Duration((1 - tokens) / float64(d.limiter.Limit()) * float64(time.Second))
		timer := time.NewTimer(max(delay, time.Millisecond))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// markLaunch starts the cooldown for the next run.
func (d *Driver) markLaunch() {
	if d.limiter != nil {
		d.limiter.ReserveN(time.Now(), 1)
	}
}
