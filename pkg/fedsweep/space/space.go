// Package space enumerates the hyperparameter sweep: the cross product of
// datasets, server learning rates and server optimizers for one Dirichlet
// concentration (beta) and one GPU.
package space

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

// Default sweep values.
const (
	// DefaultBaselineOptimizer is the optimizer that disables server-side
	// optimization: the server simply averages client updates.
	DefaultBaselineOptimizer = "FedAvg"

	// DefaultEpochs is the number of local training epochs per round.
	DefaultEpochs = 4
)

// ErrInvalidSpace is returned by Validate for an unusable sweep space.
var ErrInvalidSpace = errors.New("invalid sweep space")

// Space is the immutable set of values to sweep over.
type Space struct {
	Datasets      []string
	LearningRates []float64
	Optimizers    []string

	// BaselineOptimizer is the optimizer name for which ServerOptim is false.
	BaselineOptimizer string

	// Epochs is the local epoch count carried by every descriptor.
	Epochs int
}

// Descriptor identifies one training run of the sweep.
type Descriptor struct {
	// Index is the position of the descriptor in enumeration order.
	Index int

	Beta         float64
	Dataset      string
	LearningRate float64
	Optimizer    string
	DeviceID     int

	// ServerOptim is true unless Optimizer is the baseline optimizer.
	ServerOptim bool

	Epochs int
}

// RunID returns the human-readable run identifier. It doubles as the tracking
// run name and as the configuration file name, so it is unique for distinct
// (beta, dataset, learning rate, optimizer) values.
func (d Descriptor) RunID() string {
	return fmt.Sprintf("Dir:%s_Dataset:%s_lr:%s_optim:%s",
		types.FormatFloat(d.Beta), d.Dataset, types.FormatFloat(d.LearningRate), d.Optimizer)
}

// Size returns the number of descriptors Enumerate produces.
func (s Space) Size() int {
	return len(s.Datasets) * len(s.LearningRates) * len(s.Optimizers)
}

// Enumerate returns the full cross product in deterministic nested order:
// datasets outermost, then learning rates, then optimizers.
func (s Space) Enumerate(beta float64, deviceID int) []Descriptor {
	baseline := s.BaselineOptimizer
	if baseline == "" {
		baseline = DefaultBaselineOptimizer
	}

	out := make([]Descriptor, 0, s.Size())
	for _, dataset := range s.Datasets {
		for _, lr := range s.LearningRates {
			for _, optim := range s.Optimizers {
				out = append(out, Descriptor{
					Index:        len(out),
					Beta:         beta,
					Dataset:      dataset,
					LearningRate: lr,
					Optimizer:    optim,
					DeviceID:     deviceID,
					ServerOptim:  optim != baseline,
					Epochs:       s.Epochs,
				})
			}
		}
	}
	return out
}

// Validate checks that every list is non-empty and free of duplicates.
// A duplicate would give two runs the same configuration file.
func (s Space) Validate() error {
	if len(s.Datasets) == 0 {
		return fmt.Errorf("%w: no datasets", ErrInvalidSpace)
	}
	if len(s.LearningRates) == 0 {
		return fmt.Errorf("%w: no learning rates", ErrInvalidSpace)
	}
	if len(s.Optimizers) == 0 {
		return fmt.Errorf("%w: no optimizers", ErrInvalidSpace)
	}
	if s.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidSpace, s.Epochs)
	}

	if lo.SomeBy(s.Datasets, isBlank) {
		return fmt.Errorf("%w: empty dataset name", ErrInvalidSpace)
	}
	if lo.SomeBy(s.Optimizers, isBlank) {
		return fmt.Errorf("%w: empty optimizer name", ErrInvalidSpace)
	}

	if dups := lo.FindDuplicates(s.Datasets); len(dups) > 0 {
		return fmt.Errorf("%w: duplicate datasets %v", ErrInvalidSpace, dups)
	}
	// Compare rendered values: two floats that print alike would collide on disk.
	if dups := lo.FindDuplicates(lo.Map(s.LearningRates, func(lr float64, _ int) string {
		return types.FormatFloat(lr)
	})); len(dups) > 0 {
		return fmt.Errorf("%w: duplicate learning rates %v", ErrInvalidSpace, dups)
	}
	if dups := lo.FindDuplicates(s.Optimizers); len(dups) > 0 {
		return fmt.Errorf("%w: duplicate optimizers %v", ErrInvalidSpace, dups)
	}

	return nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
