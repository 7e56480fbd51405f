// Package device checks GPU free memory before a training run is launched.
package device

import (
	"context"
	"errors"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/logging"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

var logger = logging.Get("device")

// DefaultRequiredMemory is the free memory a device needs before a run starts.
const DefaultRequiredMemory = 1 * types.GiB

// Prober reports the free memory of a device.
type Prober interface {
	FreeMemory(ctx context.Context, index int) (uint64, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, index int) (uint64, error)

// FreeMemory calls f.
func (f ProberFunc) FreeMemory(ctx context.Context, index int) (uint64, error) {
	return f(ctx, index)
}

// NVMLProber queries free memory through NVML.
//
// NVML is initialized and shut down on every call; no handle is held between
// polls. Polls are minutes apart so the churn is negligible.
type NVMLProber struct{}

// NewNVMLProber returns an NVML-backed Prober.
func NewNVMLProber() *NVMLProber {
	return &NVMLProber{}
}

// FreeMemory returns the free framebuffer memory of the device at index.
// Failures are *types.DeviceQueryError.
func (p *NVMLProber) FreeMemory(_ context.Context, index int) (free uint64, err error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return 0, nvmlError(index, "init", ret)
	}
	defer func() {
		if ret := nvml.Shutdown(); ret != nvml.SUCCESS && err == nil {
			err = nvmlError(index, "shutdown", ret)
		}
	}()

	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return 0, nvmlError(index, "get handle", ret)
	}

	mem, ret := dev.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return 0, nvmlError(index, "get memory info", ret)
	}

	logger.Debug("queried device memory", "index", index,
		"free", types.FormatSize(mem.Free), "total", types.FormatSize(mem.Total))
	return mem.Free, nil
}

func nvmlError(index int, op string, ret nvml.Return) error {
	return &types.DeviceQueryError{Index: index, Op: op, Err: errors.New(nvml.ErrorString(ret))}
}

// HasFreeMemory reports whether the device has at least required bytes free.
func HasFreeMemory(ctx context.Context, p Prober, index int, required uint64) (bool, error) {
	free, err := p.FreeMemory(ctx, index)
	if err != nil {
		return false, err
	}
	return free >= required, nil
}
