package model

import "time"

// Step is one stage of the interventional workflow. Steps are strictly
// ordered and only ever move one position at a time.
type Step int

const (
	StepCross Step = iota
	StepPreDilate
	StepDeploy
	StepPostDilate
)

// Steps lists every procedure step in anatomical workflow order.
var Steps = []Step{StepCross, StepPreDilate, StepDeploy, StepPostDilate}

func (s Step) String() string {
	switch s {
	case StepCross:
		return "Cross"
	case StepPreDilate:
		return "Pre-dilate"
	case StepDeploy:
		return "Deploy"
	case StepPostDilate:
		return "Post-dilate"
	default:
		return "Unknown"
	}
}

// Next returns the following step, or s itself when s is the last one.
func (s Step) Next() Step {
	if s < StepPostDilate {
		return s + 1
	}
	return s
}

// Prev returns the preceding step, or s itself when s is the first one.
func (s Step) Prev() Step {
	if s > StepCross {
		return s - 1
	}
	return s
}

// StentInVessel reports whether the stent is physically in the vessel
// during this step.
func (s Step) StentInVessel() bool {
	return s == StepDeploy || s == StepPostDilate
}

// FluoroMode is the imaging tri-state driving dose accumulation.
type FluoroMode int

const (
	FluoroIdle FluoroMode = iota
	FluoroActive
	FluoroCine
)

func (m FluoroMode) String() string {
	switch m {
	case FluoroActive:
		return "fluoro"
	case FluoroCine:
		return "cine"
	default:
		return "idle"
	}
}

// ControlMode selects which source is allowed to drive wire progress.
type ControlMode int

const (
	// ControlManual accepts direct progress deltas from an input device.
	ControlManual ControlMode = iota
	// ControlAuto accepts time-integrated advancement only.
	ControlAuto
)

func (m ControlMode) String() string {
	if m == ControlAuto {
		return "auto"
	}
	return "manual"
}

// ComplicationKind enumerates the adverse events the workflow can raise.
type ComplicationKind string

const (
	ComplicationPerforation ComplicationKind = "perforation"
	ComplicationRupture     ComplicationKind = "rupture"
	ComplicationDissection  ComplicationKind = "dissection"
	ComplicationNoReflow    ComplicationKind = "no-reflow"
	ComplicationMigration   ComplicationKind = "migration"
)

// Valid reports whether k is one of the known complication kinds.
func (k ComplicationKind) Valid() bool {
	switch k {
	case ComplicationPerforation, ComplicationRupture, ComplicationDissection,
		ComplicationNoReflow, ComplicationMigration:
		return true
	}
	return false
}

// Complication is a sticky adverse event. Once raised it stays until
// explicitly cleared.
type Complication struct {
	Kind ComplicationKind `json:"type"`
	At   time.Time        `json:"at"`
	Note string           `json:"note,omitempty"`
}
