package state

import (
	"math"
	"time"

	"github.com/lior-linho/openmed-portfolio/core"
	"github.com/lior-linho/openmed-portfolio/model"
)

// ShootContrast injects one contrast bolus: one more contrast use and a
// fixed dose charge.
func (s *ProcedureState) ShootContrast() {
	s.mu.Lock()
	s.contrastCount++
	s.dose.AddDose(core.ContrastShotDose)
	s.publishLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncContrastShots()
	}
}

// PressPedal starts live fluoroscopy and reports whether it started.
func (s *ProcedureState) PressPedal() bool {
	return s.dose.PressPedal()
}

// ReleasePedal stops live fluoroscopy.
func (s *ProcedureState) ReleasePedal() {
	s.dose.ReleasePedal()
}

// FocusLost stops live fluoroscopy when the operator's input focus goes
// away.
func (s *ProcedureState) FocusLost() {
	s.dose.FocusLost()
}

// StartCine starts a cine run of the given seconds (the default length
// when non-positive). Each run counts as one contrast use.
func (s *ProcedureState) StartCine(seconds float64) bool {
	length := time.Duration(0)
	if seconds > 0 && !math.IsInf(seconds, 1) {
		length = time.Duration(seconds * float64(time.Second))
	}
	if !s.dose.StartCine(length) {
		return false
	}
	s.mu.Lock()
	s.contrastCount++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncContrastShots()
	}
	return true
}

// FluoroMode returns the current imaging mode.
func (s *ProcedureState) FluoroMode() model.FluoroMode {
	return s.dose.Mode()
}

// DoseIndex returns the accumulated dose.
func (s *ProcedureState) DoseIndex() float64 {
	return s.dose.Dose()
}

// SetZoom sets the detector zoom, clamped to [1,3], and returns it.
func (s *ProcedureState) SetZoom(z float64) float64 {
	z = core.ClampZoom(z)
	s.mu.Lock()
	s.zoom = z
	s.mu.Unlock()
	return z
}

// SetCollimation sets the collimator edges, each clamped to [0,1].
func (s *ProcedureState) SetCollimation(c core.Collimation) core.Collimation {
	c = c.Clamp()
	s.mu.Lock()
	s.collimation = c
	s.mu.Unlock()
	return c
}

// SetAngles sets the C-arm projection. NaN components are treated as zero.
func (s *ProcedureState) SetAngles(a Angles) {
	if math.IsNaN(a.LAORAO) {
		a.LAORAO = 0
	}
	if math.IsNaN(a.CranialCaudal) {
		a.CranialCaudal = 0
	}
	s.mu.Lock()
	s.angles = a
	s.mu.Unlock()
}
