package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

// ErrWaitExhausted is returned when the wait policy runs out of retries or
// time before the device has enough free memory.
var ErrWaitExhausted = errors.New("device memory wait exhausted")

// errInsufficient marks a successful query that found too little free memory.
var errInsufficient = errors.New("insufficient free memory")

// WaitPolicy controls how WaitForMemory polls a device.
type WaitPolicy struct {
	// InitialInterval is the delay after the first failed check.
	InitialInterval time.Duration

	// Multiplier grows the delay after each failed check. 1 polls at a fixed
	// interval.
	Multiplier float64

	// MaxInterval caps the delay between checks.
	MaxInterval time.Duration

	// MaxRetries bounds the number of re-checks. Zero means unlimited.
	MaxRetries uint64

	// Deadline bounds the total wait. Zero means no deadline.
	Deadline time.Duration
}

// DefaultWaitPolicy polls every two minutes, forever.
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		InitialInterval: 120 * time.Second,
		Multiplier:      1,
		MaxInterval:     120 * time.Second,
	}
}

func (p WaitPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.RandomizationFactor = 0
	eb.Multiplier = p.Multiplier
	if eb.Multiplier < 1 {
		eb.Multiplier = 1
	}
	eb.MaxInterval = p.MaxInterval
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	eb.MaxElapsedTime = p.Deadline
	eb.Reset()

	var b backoff.BackOff = eb
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, p.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// WaitForMemory blocks until the device at index has at least required bytes
// free. It checks immediately and then backs off according to policy.
// DeviceQueryErrors are retried like an insufficient reading.
//
// With an unlimited policy a device that never frees memory blocks until ctx
// is cancelled.
func WaitForMemory(ctx context.Context, p Prober, index int, required uint64, policy WaitPolicy) error {
	var lastQueryErr error

	check := func() error {
		ok, err := HasFreeMemory(ctx, p, index, required)
		if err != nil {
			lastQueryErr = err
			return err
		}
		if !ok {
			return errInsufficient
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		var qerr *types.DeviceQueryError
		if errors.As(err, &qerr) {
			logger.Warn("device query failed, retrying", "index", index, "err", err, "next", next)
			return
		}
		logger.Info("waiting for device memory", "index", index,
			"required", types.FormatSize(required), "next", next)
	}

	err := backoff.RetryNotify(check, policy.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if lastQueryErr != nil && !errors.Is(err, errInsufficient) {
		return fmt.Errorf("%w: %w", ErrWaitExhausted, lastQueryErr)
	}
	return fmt.Errorf("%w: device %d below %s free", ErrWaitExhausted, index, types.FormatSize(required))
}
