package driver

import (
	"time"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/gate"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/launcher"
)

// Summary tallies a sweep. Dispatched always equals Succeeded plus Failed.
type Summary struct {
	DeviceID   int
	Beta       float64
	Planned    int
	Dispatched int
	Succeeded  int
	Failed     int
	Gate       gate.Stats
	Elapsed    time.Duration

	// Outcomes holds one entry per dispatched run, in dispatch order.
	Outcomes []launcher.Outcome
}

func newSummary(p Params, planned int, outcomes []launcher.Outcome, stats gate.Stats, elapsed time.Duration) *Summary {
	s := &Summary{
		DeviceID:   p.DeviceID,
		Beta:       p.Beta,
		Planned:    planned,
		Dispatched: len(outcomes),
		Gate:       stats,
		Elapsed:    elapsed,
		Outcomes:   outcomes,
	}
	for _, o := range outcomes {
		if o.Succeeded() {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

// FailedRuns returns the run ids of failed workers in dispatch order.
func (s *Summary) FailedRuns() []string {
	var ids []string
	for _, o := range s.Outcomes {
		if !o.Succeeded() {
			ids = append(ids, o.RunID)
		}
	}
	return ids
}
