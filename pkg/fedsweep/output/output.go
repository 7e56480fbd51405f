// Package output renders fedsweep's console output: the planned runs of a
// sweep in several formats, the diagnostic block for a failed run, and the
// end-of-sweep summary.
//
// Plan formatters are looked up by name:
//
//	formatter, err := output.Get("table")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, plan); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/space"
)

// PlanRun is one planned training run.
type PlanRun struct {
	Index        int     `json:"index" yaml:"index"`
	RunID        string  `json:"run_id" yaml:"run_id"`
	Dataset      string  `json:"dataset" yaml:"dataset"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Optimizer    string  `json:"optimizer" yaml:"optimizer"`
	ServerOptim  bool    `json:"server_optim" yaml:"server_optim"`
	Epochs       int     `json:"epochs" yaml:"epochs"`

	// ConfigPath is where the run's configuration file will be written.
	ConfigPath string `json:"config_path" yaml:"config_path"`
}

// Plan describes a sweep before it runs.
type Plan struct {
	DeviceID       int       `json:"device_id" yaml:"device_id"`
	Beta           float64   `json:"beta" yaml:"beta"`
	BaseConfig     string    `json:"base_config" yaml:"base_config"`
	MaxProcesses   int       `json:"max_processes" yaml:"max_processes"`
	RequiredMemory uint64    `json:"required_memory" yaml:"required_memory"`
	Runs           []PlanRun `json:"runs" yaml:"runs"`
}

// NewPlan builds a plan from enumerated descriptors. pathFor maps a
// descriptor to its configuration file path.
func NewPlan(descs []space.Descriptor, pathFor func(space.Descriptor) string) *Plan {
	p := &Plan{Runs: make([]PlanRun, 0, len(descs))}
	for _, d := range descs {
		p.DeviceID = d.DeviceID
		p.Beta = d.Beta
		p.Runs = append(p.Runs, PlanRun{
			Index:        d.Index,
			RunID:        d.RunID(),
			Dataset:      d.Dataset,
			LearningRate: d.LearningRate,
			Optimizer:    d.Optimizer,
			ServerOptim:  d.ServerOptim,
			Epochs:       d.Epochs,
			ConfigPath:   pathFor(d),
		})
	}
	return p
}

// Formatter is the interface that all plan formatters implement.
type Formatter interface {
	// Format writes the formatted plan to the buffer.
	Format(w *bytes.Buffer, p *Plan) error
}

// FormatterFactory creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory, replacing any with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
