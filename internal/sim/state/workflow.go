package state

import (
	"context"
	"math"

	"github.com/lior-linho/openmed-portfolio/core"
	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"github.com/lior-linho/openmed-portfolio/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Workflow thresholds.
const (
	RuptureInflation    = 0.98
	DissectionInflation = 0.88
	DissectionCoverage  = 80.0
	MigrationOversize   = 1.15

	PostDilateBoost    = 1.1
	MaxOversize        = 3.0
	MinOversize        = 1.0
	PreDilateReduction = 0.4
	PostDilateGain     = 0.5

	ruptureNote = "Overexpansion"
)

// Step returns the current workflow step.
func (s *ProcedureState) Step() model.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step
}

// Next advances one step and recomputes the scores the new step depends
// on. On the last step it is a no-op.
func (s *ProcedureState) Next(ctx context.Context) model.Step {
	ctx, span := s.startSpan(ctx, "procedure.next")
	defer span.End()

	s.mu.Lock()
	from := s.step
	to := from.Next()
	if to == from {
		s.mu.Unlock()
		return from
	}
	s.step = to
	switch to {
	case model.StepPreDilate:
		s.balloon = 0
	case model.StepDeploy:
		s.balloon = 0
		s.stentDeployed = false
		s.rescoreLocked(s.stent.Oversize)
	case model.StepPostDilate:
		s.balloon = 0
		s.residual = core.ResidualStenosisPct(s.lesion, s.stent, math.Min(MaxOversize, s.stent.Oversize*PostDilateBoost), 0)
		s.endTime = s.now()
	}
	s.syncModelLocked()
	coverage, residual := s.coverage, s.residual
	s.publishLocked()
	s.mu.Unlock()

	s.recordTransition(ctx, span, from, to, coverage, residual)
	return to
}

// Prev retreats one step without recomputing any score. On the first step
// it is a no-op.
func (s *ProcedureState) Prev(ctx context.Context) model.Step {
	ctx, span := s.startSpan(ctx, "procedure.prev")
	defer span.End()

	s.mu.Lock()
	from := s.step
	to := from.Prev()
	if to == from {
		s.mu.Unlock()
		return from
	}
	s.step = to
	s.syncModelLocked()
	coverage, residual := s.coverage, s.residual
	s.mu.Unlock()

	s.recordTransition(ctx, span, from, to, coverage, residual)
	return to
}

func (s *ProcedureState) recordTransition(ctx context.Context, span trace.Span, from, to model.Step, coverage, residual float64) {
	span.SetAttributes(
		attribute.String("procedure.from", from.String()),
		attribute.String("procedure.to", to.String()),
	)
	if s.metrics != nil {
		s.metrics.RecordStepTransition(from.String(), to.String(), int(to))
	}
	s.log.Info(ctx, "procedure step changed",
		logging.String("from", from.String()),
		logging.String("to", to.String()),
		logging.Float("coverage_pct", coverage),
		logging.Float("residual_pct", residual),
	)
}

// rescoreLocked recomputes coverage and residual for the current stent.
func (s *ProcedureState) rescoreLocked(oversize float64) {
	s.coverage = core.CoveragePct(s.lesion, s.stent)
	s.residual = core.ResidualStenosisPct(s.lesion, s.stent, oversize, 0)
}

// SetBalloon sets balloon inflation, clamped to [0,1], and returns the
// value stored. Inflation lowers residual stenosis in the dilation steps
// (compounding on the current residual during Post-dilate) and may raise a
// rupture or dissection.
func (s *ProcedureState) SetBalloon(ctx context.Context, v float64) float64 {
	ctx, span := s.startSpan(ctx, "procedure.set_balloon")
	defer span.End()

	if math.IsNaN(v) {
		v = 0
	}
	v = math.Max(0, math.Min(1, v))

	s.mu.Lock()
	s.balloon = v
	switch s.step {
	case model.StepPreDilate:
		s.residual = math.Max(0, s.lesion.BaselineStenosisPct*(1-PreDilateReduction*v))
	case model.StepPostDilate:
		s.residual = math.Max(0, s.residual*(1-PostDilateGain*v))
	}
	var raised *model.Complication
	if s.complication == nil && s.step != model.StepCross {
		switch {
		case v >= RuptureInflation:
			raised = s.raiseLocked(model.ComplicationRupture, ruptureNote)
		case v >= DissectionInflation && s.coverage < DissectionCoverage:
			raised = s.raiseLocked(model.ComplicationDissection, "")
		}
	}
	s.publishLocked()
	s.mu.Unlock()

	span.SetAttributes(attribute.Float64("balloon.inflation", v))
	s.afterRaise(ctx, span, raised)
	return v
}

// Balloon returns the current inflation.
func (s *ProcedureState) Balloon() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balloon
}

// DeployStent deploys the stent. It only acts during Deploy and reports
// whether it did.
func (s *ProcedureState) DeployStent(ctx context.Context) bool {
	ctx, span := s.startSpan(ctx, "procedure.deploy_stent")
	defer span.End()

	s.mu.Lock()
	if s.step != model.StepDeploy {
		s.mu.Unlock()
		span.SetAttributes(attribute.Bool("procedure.ignored", true))
		return false
	}
	s.stentDeployed = true
	s.rescoreLocked(s.stent.Oversize)
	var raised *model.Complication
	if s.complication == nil && s.stent.Oversize >= MigrationOversize {
		raised = s.raiseLocked(model.ComplicationMigration, "")
	}
	coverage, residual := s.coverage, s.residual
	s.publishLocked()
	s.mu.Unlock()

	s.log.Info(ctx, "stent deployed",
		logging.Float("coverage_pct", coverage),
		logging.Float("residual_pct", residual),
	)
	s.afterRaise(ctx, span, raised)
	return true
}

// SetStent replaces the stent placement. Fields are clamped: center and
// length to [0,1], oversize to [MinOversize, MaxOversize].
func (s *ProcedureState) SetStent(st model.Stent) model.Stent {
	st = clampStent(st)
	s.mu.Lock()
	s.stent = st
	s.mu.Unlock()
	return st
}

func clampStent(st model.Stent) model.Stent {
	clamp := func(v, lo, hi float64) float64 {
		if math.IsNaN(v) {
			return lo
		}
		return math.Max(lo, math.Min(hi, v))
	}
	st.CenterT = clamp(st.CenterT, 0, 1)
	st.LengthT = clamp(st.LengthT, 0, 1)
	st.Oversize = clamp(st.Oversize, MinOversize, MaxOversize)
	return st
}

// SetComplication raises a complication of the given kind, replacing any
// current one, and stops imaging. Unknown kinds are ignored.
func (s *ProcedureState) SetComplication(ctx context.Context, kind model.ComplicationKind, note string) bool {
	if !kind.Valid() {
		return false
	}
	ctx, span := s.startSpan(ctx, "procedure.set_complication")
	defer span.End()

	s.mu.Lock()
	raised := s.raiseLocked(kind, note)
	s.mu.Unlock()

	s.afterRaise(ctx, span, raised)
	return true
}

// ClearComplication removes the current complication.
func (s *ProcedureState) ClearComplication(ctx context.Context) {
	s.mu.Lock()
	prev := s.complication
	s.complication = nil
	s.mu.Unlock()
	if prev != nil {
		s.log.Info(ctx, "complication cleared", logging.String("kind", string(prev.Kind)))
	}
}

// Complication returns the current complication, if any.
func (s *ProcedureState) Complication() (model.Complication, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.complication == nil {
		return model.Complication{}, false
	}
	return *s.complication, true
}

// OnComplication registers fn to run whenever a complication is raised.
// Callbacks run outside the state lock. It returns an unsubscribe function.
func (s *ProcedureState) OnComplication(fn func(model.Complication)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// raiseLocked stores a complication and forces imaging idle. Callers hold
// s.mu.
func (s *ProcedureState) raiseLocked(kind model.ComplicationKind, note string) *model.Complication {
	c := &model.Complication{Kind: kind, At: s.now(), Note: note}
	s.complication = c
	s.dose.ForceIdle()
	return c
}

func (s *ProcedureState) afterRaise(ctx context.Context, span trace.Span, c *model.Complication) {
	if c == nil {
		return
	}
	span.AddEvent("complication", trace.WithAttributes(
		attribute.String("complication.kind", string(c.Kind)),
		attribute.String("complication.note", c.Note),
	))
	if s.metrics != nil {
		s.metrics.IncComplication(string(c.Kind))
	}
	s.log.Warn(ctx, "complication raised",
		logging.String("kind", string(c.Kind)),
		logging.String("note", c.Note),
	)

	s.mu.RLock()
	subs := make([]func(model.Complication), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(*c)
	}
}

// Reset returns the session to Cross with default metrics, presets, and
// imaging settings. The vessel and experiment are kept.
func (s *ProcedureState) Reset(ctx context.Context) {
	ctx, span := s.startSpan(ctx, "procedure.reset")
	defer span.End()
	ctx, reqLog := logging.WithRequestLogger(ctx, s.log)

	s.mu.Lock()
	from := s.step
	s.resetLocked()
	s.publishLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordStepTransition(from.String(), model.StepCross.String(), int(model.StepCross))
	}
	reqLog.Debug(ctx, "procedure reset",
		logging.String("entity_type", "procedure"),
		logging.String("operation", "reset"),
		logging.String("from", from.String()),
	)
}

func (s *ProcedureState) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.ContextWithSessionID(ctx, s.sessionID)
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("session_id", s.sessionID),
	))
}
