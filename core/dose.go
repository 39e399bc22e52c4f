package core

import (
	"math"
	"sync"
	"time"

	"github.com/lior-linho/openmed-portfolio/model"
)

const (
	// MaxDoseDT caps the dose integration step in seconds.
	MaxDoseDT = 0.1

	// DoseRateFluoro and DoseRateCine are exposure rates per second.
	DoseRateFluoro = 0.18
	DoseRateCine   = 0.72

	// DefaultCineDuration is how long a cine run lasts.
	DefaultCineDuration = 3 * time.Second

	// ContrastShotDose is the dose charged for a single contrast shot.
	ContrastShotDose = 0.5

	minAreaFactor = 0.05
	minZoom       = 1
	maxZoom       = 3
)

// Collimation is the open detector window in normalized [0,1] coordinates.
type Collimation struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// FullCollimation leaves the whole detector open.
var FullCollimation = Collimation{Left: 0, Top: 0, Right: 1, Bottom: 1}

// Clamp returns c with every edge clamped to [0,1].
func (c Collimation) Clamp() Collimation {
	return Collimation{
		Left:   clamp01(c.Left),
		Top:    clamp01(c.Top),
		Right:  clamp01(c.Right),
		Bottom: clamp01(c.Bottom),
	}
}

// AreaFactor returns the open window area clamped to [0.05, 1].
func AreaFactor(c Collimation) float64 {
	a := (c.Right - c.Left) * (c.Bottom - c.Top)
	if math.IsNaN(a) {
		return minAreaFactor
	}
	return clamp(a, minAreaFactor, 1)
}

// ClampZoom clamps zoom to the supported magnification range.
func ClampZoom(zoom float64) float64 {
	if math.IsNaN(zoom) {
		return minZoom
	}
	return clamp(zoom, minZoom, maxZoom)
}

// ComputeDoseDelta returns the dose accrued over dt seconds at rate.
func ComputeDoseDelta(rate, dt float64, c Collimation, zoom float64) float64 {
	if math.IsNaN(dt) || rate <= 0 {
		return 0
	}
	z := ClampZoom(zoom)
	return rate * clamp(dt, 0, MaxDoseDT) * AreaFactor(c) * z * z
}

// RateFor returns the exposure rate of a fluoroscopy mode.
func RateFor(m model.FluoroMode) float64 {
	switch m {
	case model.FluoroActive:
		return DoseRateFluoro
	case model.FluoroCine:
		return DoseRateCine
	default:
		return 0
	}
}

// DoseAccumulator integrates exposure while fluoroscopy or cine is running.
// Each mode start bumps a generation so a superseded run never accrues.
type DoseAccumulator struct {
	mu         sync.Mutex
	mode       model.FluoroMode
	dose       float64
	generation uint64
	cineLeft   time.Duration
}

// NewDoseAccumulator returns an idle accumulator with zero dose.
func NewDoseAccumulator() *DoseAccumulator {
	return &DoseAccumulator{}
}

// Mode returns the current fluoroscopy mode.
func (d *DoseAccumulator) Mode() model.FluoroMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Dose returns the accumulated dose index.
func (d *DoseAccumulator) Dose() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dose
}

// Generation identifies the current mode run.
func (d *DoseAccumulator) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// PressPedal starts live fluoroscopy. It reports false when fluoroscopy is
// already running.
func (d *DoseAccumulator) PressPedal() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode == model.FluoroActive {
		return false
	}
	d.start(model.FluoroActive)
	return true
}

// ReleasePedal stops live fluoroscopy. A running cine is left alone.
func (d *DoseAccumulator) ReleasePedal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode == model.FluoroActive {
		d.start(model.FluoroIdle)
	}
}

// FocusLost stops live fluoroscopy when the operator loses input focus.
func (d *DoseAccumulator) FocusLost() {
	d.ReleasePedal()
}

// StartCine starts a cine run of the given length (DefaultCineDuration when
// non-positive). It reports false when a cine run is already active.
func (d *DoseAccumulator) StartCine(length time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode == model.FluoroCine {
		return false
	}
	if length <= 0 {
		length = DefaultCineDuration
	}
	d.start(model.FluoroCine)
	d.cineLeft = length
	return true
}

// ForceIdle stops any running mode.
func (d *DoseAccumulator) ForceIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode != model.FluoroIdle {
		d.start(model.FluoroIdle)
	}
}

// AddDose charges a fixed dose, e.g. for a contrast shot. Negative amounts
// are ignored.
func (d *DoseAccumulator) AddDose(amount float64) {
	if amount <= 0 || math.IsNaN(amount) {
		return
	}
	d.mu.Lock()
	d.dose += amount
	d.mu.Unlock()
}

// Reset returns to idle with zero dose.
func (d *DoseAccumulator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.start(model.FluoroIdle)
	d.dose = 0
}

// Tick accrues dose for dt seconds in the current mode and returns the
// delta. A cine run counts down by the unclamped dt and reverts to idle once
// its duration has elapsed.
func (d *DoseAccumulator) Tick(dt float64, c Collimation, zoom float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode == model.FluoroIdle || math.IsNaN(dt) || dt <= 0 {
		return 0
	}
	step := dt
	if d.mode == model.FluoroCine {
		left := d.cineLeft.Seconds()
		if left <= 0 {
			d.start(model.FluoroIdle)
			return 0
		}
		step = math.Min(dt, left)
		d.cineLeft -= time.Duration(dt * float64(time.Second))
	}
	delta := ComputeDoseDelta(RateFor(d.mode), step, c, zoom)
	d.dose += delta
	if d.mode == model.FluoroCine && d.cineLeft <= 0 {
		d.start(model.FluoroIdle)
	}
	return delta
}

// start switches mode and supersedes the previous run. Callers hold d.mu.
func (d *DoseAccumulator) start(m model.FluoroMode) {
	d.mode = m
	d.generation++
	d.cineLeft = 0
}
