// Package gate bounds the number of concurrently running training workers.
package gate

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is the default ceiling on concurrent workers.
const DefaultCapacity = 50

// Stats is a snapshot of gate activity.
type Stats struct {
	Capacity int64 `json:"capacity"`
	Acquired int64 `json:"acquired"`
	Released int64 `json:"released"`
	Active   int64 `json:"active"`

	// Peak is the highest number of units held at once.
	Peak int64 `json:"peak"`
}

// Gate is a counting admission gate. Acquire hands back a release func, so
// every successful acquire is paired with exactly one release.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64

	acquired atomic.Int64
	released atomic.Int64
	active   atomic.Int64
	peak     atomic.Int64
}

// New creates a gate with the given capacity. Capacities below one use
// DefaultCapacity.
func New(capacity int) *Gate {
	c := int64(capacity)
	if c < 1 {
		c = DefaultCapacity
	}
	return &Gate{
		sem:      semaphore.NewWeighted(c),
		capacity: c,
	}
}

// Acquire blocks until a unit is free or ctx is done. The returned release
// func is safe to call more than once; only the first call frees the unit.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	g.acquired.Add(1)
	active := g.active.Add(1)
	for {
		peak := g.peak.Load()
		if active <= peak || g.peak.CompareAndSwap(peak, active) {
			break
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.active.Add(-1)
			g.released.Add(1)
			g.sem.Release(1)
		})
	}, nil
}

// Stats returns current counters.
func (g *Gate) Stats() Stats {
	return Stats{
		Capacity: g.capacity,
		Acquired: g.acquired.Load(),
		Released: g.released.Load(),
		Active:   g.active.Load(),
		Peak:     g.peak.Load(),
	}
}

// Capacity returns the gate ceiling.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}
