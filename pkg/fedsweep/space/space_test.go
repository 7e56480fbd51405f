package space

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSpace() Space {
	return Space{
		Datasets:          []string{"CIFAR100", "CIFAR10"},
		LearningRates:     []float64{0.02, 0.002, 0.0005},
		Optimizers:        []string{"FedAvg", "FedAdam"},
		BaselineOptimizer: DefaultBaselineOptimizer,
		Epochs:            DefaultEpochs,
	}
}

func TestEnumerate_CountAndOrder(t *testing.T) {
	s := defaultSpace()

	got := s.Enumerate(0.5, 2)
	require.Len(t, got, 2*3*2)
	assert.Equal(t, s.Size(), len(got))

	i := 0
	for _, dataset := range s.Datasets {
		for _, lr := range s.LearningRates {
			for _, optim := range s.Optimizers {
				d := got[i]
				assert.Equal(t, i, d.Index)
				assert.Equal(t, dataset, d.Dataset)
				assert.Equal(t, lr, d.LearningRate)
				assert.Equal(t, optim, d.Optimizer)
				assert.Equal(t, 0.5, d.Beta)
				assert.Equal(t, 2, d.DeviceID)
				assert.Equal(t, DefaultEpochs, d.Epochs)
				i++
			}
		}
	}
}

func TestEnumerate_Deterministic(t *testing.T) {
	s := defaultSpace()
	assert.Equal(t, s.Enumerate(1, 0), s.Enumerate(1, 0))
}

func TestEnumerate_EmptyList(t *testing.T) {
	s := defaultSpace()
	s.Optimizers = nil
	assert.Empty(t, s.Enumerate(1, 0))
	assert.Equal(t, 0, s.Size())
}

func TestEnumerate_ServerOptim(t *testing.T) {
	s := defaultSpace()
	for _, d := range s.Enumerate(1, 0) {
		assert.Equal(t, d.Optimizer != "FedAvg", d.ServerOptim, d.RunID())
	}

	s.BaselineOptimizer = ""
	got := s.Enumerate(1, 0)
	assert.False(t, got[0].ServerOptim, "empty baseline falls back to FedAvg")
}

func TestDescriptor_RunID(t *testing.T) {
	s := Space{
		Datasets:      []string{"A"},
		LearningRates: []float64{0.1},
		Optimizers:    []string{"FedAvg"},
		Epochs:        DefaultEpochs,
	}

	got := s.Enumerate(1.0, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "Dir:1.0_Dataset:A_lr:0.1_optim:FedAvg", got[0].RunID())
	assert.False(t, got[0].ServerOptim)

	d := Descriptor{Beta: 100, Dataset: "CIFAR10", LearningRate: 0.0005, Optimizer: "FedAdam"}
	assert.Equal(t, "Dir:100.0_Dataset:CIFAR10_lr:0.0005_optim:FedAdam", d.RunID())
}

func TestDescriptor_RunIDUnique(t *testing.T) {
	s := defaultSpace()
	s.LearningRates = []float64{0.1, 0.01, 0.001, 1e-5, 1}

	ids := lo.Map(s.Enumerate(0.1, 0), func(d Descriptor, _ int) string { return d.RunID() })
	assert.Len(t, lo.Uniq(ids), len(ids))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Space)
		wantErr bool
	}{
		{"valid", func(*Space) {}, false},
		{"no datasets", func(s *Space) { s.Datasets = nil }, true},
		{"no learning rates", func(s *Space) { s.LearningRates = []float64{} }, true},
		{"no optimizers", func(s *Space) { s.Optimizers = nil }, true},
		{"zero epochs", func(s *Space) { s.Epochs = 0 }, true},
		{"blank dataset", func(s *Space) { s.Datasets = []string{"A", " "} }, true},
		{"duplicate dataset", func(s *Space) { s.Datasets = []string{"A", "A"} }, true},
		{"duplicate learning rate", func(s *Space) { s.LearningRates = []float64{0.1, 0.10} }, true},
		{"duplicate optimizer", func(s *Space) { s.Optimizers = []string{"FedAvg", "FedAvg"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := defaultSpace()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSpace)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
