package core

import (
	"math"
	"sync"

	"github.com/lior-linho/openmed-portfolio/model"
)

const (
	// MaxAdvanceDT caps the integration step in seconds.
	MaxAdvanceDT = 0.05

	// MinSpeedFraction is the share of nominal speed kept at full resistance.
	MinSpeedFraction = 0.1

	// ResistanceDamping scales how strongly resistance slows advancement.
	ResistanceDamping = 0.7
)

// AdvanceResult reports one change of wire progress.
type AdvanceResult struct {
	U         float64
	PrevU     float64
	DeltaPath float64
	Accepted  bool
}

// EffectiveSpeed damps speed by resistance r, never below MinSpeedFraction
// of speed. r is clamped to [0,1].
func EffectiveSpeed(speed, r float64) float64 {
	return speed * math.Max(MinSpeedFraction, 1-ResistanceDamping*clamp01(r))
}

// Advancer integrates wire progress u along a centerline. Exactly one
// source drives u at a time, selected by the control mode; every write goes
// through a single clamping setter.
type Advancer struct {
	mu         sync.Mutex
	cl         *Centerline
	u          float64
	mode       model.ControlMode
	worldScale float64
}

// AdvancerOption configures an Advancer.
type AdvancerOption func(*Advancer)

// WithWorldScale sets the factor converting speed units into centerline
// units. The default is 1.
func WithWorldScale(scale float64) AdvancerOption {
	return func(a *Advancer) {
		if scale > 0 {
			a.worldScale = scale
		}
	}
}

// WithControlMode sets the initial control mode.
func WithControlMode(m model.ControlMode) AdvancerOption {
	return func(a *Advancer) {
		a.mode = m
	}
}

// NewAdvancer creates an advancer at u=0. cl may be nil, in which case all
// advancement is neutral.
func NewAdvancer(cl *Centerline, opts ...AdvancerOption) *Advancer {
	a := &Advancer{cl: cl, mode: model.ControlAuto, worldScale: 1}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Progress returns the current u.
func (a *Advancer) Progress() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.u
}

// ControlMode returns the active control mode.
func (a *Advancer) ControlMode() model.ControlMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// SetControlMode selects which source may move the wire.
func (a *Advancer) SetControlMode(m model.ControlMode) {
	a.mu.Lock()
	a.mode = m
	a.mu.Unlock()
}

// SetCenterline replaces the centerline and withdraws the wire to u=0.
func (a *Advancer) SetCenterline(cl *Centerline) {
	a.mu.Lock()
	a.cl = cl
	a.u = 0
	a.mu.Unlock()
}

// Reset withdraws the wire to u=0.
func (a *Advancer) Reset() {
	a.mu.Lock()
	a.u = 0
	a.mu.Unlock()
}

// Tick integrates one time step in auto mode. dt is clamped to
// [0, MaxAdvanceDT] and speed is in world units per second before scaling.
// Ticks in manual mode, or without a usable centerline, leave u unchanged.
func (a *Advancer) Tick(dt, speed, resistance float64) AdvanceResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode != model.ControlAuto {
		return AdvanceResult{U: a.u, PrevU: a.u}
	}
	total := a.cl.TotalLength()
	if a.cl.Len() < MinCenterlinePoints || total <= 0 || math.IsNaN(dt) || math.IsNaN(speed) {
		return AdvanceResult{U: a.u, PrevU: a.u}
	}
	dt = clamp(dt, 0, MaxAdvanceDT)
	speedU := speed * a.worldScale / total
	du := EffectiveSpeed(speedU, resistance) * dt
	return a.set(a.u + du)
}

// ApplyManualDelta moves the wire by du in manual mode.
func (a *Advancer) ApplyManualDelta(du float64) AdvanceResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode != model.ControlManual || math.IsNaN(du) {
		return AdvanceResult{U: a.u, PrevU: a.u}
	}
	return a.set(a.u + du)
}

// set is the single writer of u. Callers hold a.mu.
func (a *Advancer) set(next float64) AdvanceResult {
	prev := a.u
	a.u = clamp01(next)
	return AdvanceResult{
		U:         a.u,
		PrevU:     prev,
		DeltaPath: a.cl.ArcLengthBetween(prev, a.u),
		Accepted:  true,
	}
}
