package state

import (
	"sync"
	"time"

	"github.com/lior-linho/openmed-portfolio/model"
)

// DefaultTimelineLimit bounds a Timeline created with a non-positive limit.
const DefaultTimelineLimit = 4096

// Sample is one per-tick record of the session metrics.
type Sample struct {
	At                  time.Time  `json:"at"`
	Step                model.Step `json:"step"`
	Progress            float64    `json:"progress"`
	PathLength          float64    `json:"pathLength"`
	Resistance          float64    `json:"resistance"`
	DoseIndex           float64    `json:"doseIndex"`
	CoveragePct         float64    `json:"coveragePct"`
	ResidualStenosisPct float64    `json:"residualStenosisPct"`
}

// Timeline is a concurrency-safe, bounded history of session samples.
// Once full, the oldest sample is dropped for each new one.
type Timeline struct {
	mu      sync.RWMutex
	limit   int
	samples []Sample
}

// NewTimeline creates a timeline holding at most limit samples.
func NewTimeline(limit int) *Timeline {
	if limit <= 0 {
		limit = DefaultTimelineLimit
	}
	return &Timeline{limit: limit}
}

// Record appends a sample.
func (t *Timeline) Record(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == t.limit {
		copy(t.samples, t.samples[1:])
		t.samples = t.samples[:t.limit-1]
	}
	t.samples = append(t.samples, s)
}

// Len returns the number of stored samples.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// Latest returns the most recent sample.
func (t *Timeline) Latest() (Sample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.samples) == 0 {
		return Sample{}, false
	}
	return t.samples[len(t.samples)-1], true
}

// List returns a copy of all samples, oldest first.
func (t *Timeline) List() []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Sample(nil), t.samples...)
}

// Reset drops every sample.
func (t *Timeline) Reset() {
	t.mu.Lock()
	t.samples = nil
	t.mu.Unlock()
}
