package state

import (
	"time"

	"github.com/lior-linho/openmed-portfolio/core"
	"github.com/lior-linho/openmed-portfolio/model"
)

// Snapshot is a read-only, self-contained view of a session. It is the
// sole data a rendering or export layer needs.
type Snapshot struct {
	SessionID string         `json:"sessionId"`
	Vessel    model.VesselID `json:"vessel"`
	Step      string         `json:"step"`
	StepIndex int            `json:"stepIndex"`
	Paused    bool           `json:"paused"`

	Progress            float64 `json:"progress"`
	PathLength          float64 `json:"pathLength"`
	Resistance          float64 `json:"resistance"`
	DoseIndex           float64 `json:"doseIndex"`
	CoveragePct         float64 `json:"coveragePct"`
	ResidualStenosisPct float64 `json:"residualStenosisPct"`
	ContrastCount       int     `json:"contrastCount"`
	Attempts            int     `json:"attempts"`

	Complication *model.Complication `json:"complication,omitempty"`

	FluoroMode  string           `json:"fluoroMode"`
	ControlMode string           `json:"controlMode"`
	Zoom        float64          `json:"zoom"`
	Collimation core.Collimation `json:"collimation"`
	Angles      Angles           `json:"angles"`

	Wire          model.WireID  `json:"wire,omitempty"`
	StentPreset   model.StentID `json:"stentPreset,omitempty"`
	Lesion        model.Lesion  `json:"lesion"`
	Stent         model.Stent   `json:"stent"`
	StentDeployed bool          `json:"stentDeployed"`
	Balloon       float64       `json:"balloonInflation"`

	StartTime  time.Time   `json:"startTime"`
	EndTime    time.Time   `json:"endTime,omitempty"`
	Experiment *Experiment `json:"experiment,omitempty"`
}

// Snapshot returns a coherent copy of the session. Step and scores are
// read under one lock.
func (s *ProcedureState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		SessionID:           s.sessionID,
		Vessel:              s.vessel,
		Step:                s.step.String(),
		StepIndex:           int(s.step),
		Paused:              s.paused,
		Progress:            s.advancer.Progress(),
		PathLength:          s.pathLength,
		Resistance:          s.Resistance(),
		DoseIndex:           s.dose.Dose(),
		CoveragePct:         s.coverage,
		ResidualStenosisPct: s.residual,
		ContrastCount:       s.contrastCount,
		Attempts:            s.attempts,
		FluoroMode:          s.dose.Mode().String(),
		ControlMode:         s.advancer.ControlMode().String(),
		Zoom:                s.zoom,
		Collimation:         s.collimation,
		Angles:              s.angles,
		Lesion:              s.lesion,
		Stent:               s.stent,
		StentDeployed:       s.stentDeployed,
		Balloon:             s.balloon,
		StartTime:           s.startTime,
		EndTime:             s.endTime,
	}
	if s.complication != nil {
		c := *s.complication
		snap.Complication = &c
	}
	if s.wire != nil {
		snap.Wire = s.wire.ID
	}
	if s.stentPreset != nil {
		snap.StentPreset = s.stentPreset.ID
	}
	if s.experiment != nil {
		e := *s.experiment
		snap.Experiment = &e
	}
	return snap
}

// sampleLocked captures the timeline sample for the current tick.
func (s *ProcedureState) sampleLocked() Sample {
	return Sample{
		At:                  s.now(),
		Step:                s.step,
		Progress:            s.advancer.Progress(),
		PathLength:          s.pathLength,
		Resistance:          s.Resistance(),
		DoseIndex:           s.dose.Dose(),
		CoveragePct:         s.coverage,
		ResidualStenosisPct: s.residual,
	}
}
