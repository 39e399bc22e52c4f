package state

import (
	"context"

	"github.com/lior-linho/openmed-portfolio/core"
	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"github.com/lior-linho/openmed-portfolio/model"
	"go.opentelemetry.io/otel/attribute"
)

// TickResult reports what one Advance call changed.
type TickResult struct {
	Progress  float64
	DeltaPath float64
	DeltaDose float64
	Paused    bool
}

// Advance integrates one host tick of dt seconds: wire progress (auto mode
// only) and dose. Both clamp dt internally. A paused session does nothing.
func (s *ProcedureState) Advance(dt float64) TickResult {
	s.mu.Lock()
	if s.paused {
		u := s.advancer.Progress()
		s.mu.Unlock()
		return TickResult{Progress: u, Paused: true}
	}
	speed := s.currentParams().Guidewire.AdvanceSpeedCmPerS
	res := s.advancer.Tick(dt, speed, s.Resistance())
	s.pathLength += res.DeltaPath
	delta := s.dose.Tick(dt, s.collimation, s.zoom)
	s.publishLocked()
	sample := s.sampleLocked()
	s.mu.Unlock()

	if s.timeline != nil {
		s.timeline.Record(sample)
	}
	return TickResult{Progress: res.U, DeltaPath: res.DeltaPath, DeltaDose: delta}
}

// ManualAdvance moves the wire by du in manual mode. It is ignored in auto
// mode and while paused.
func (s *ProcedureState) ManualAdvance(du float64) core.AdvanceResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		u := s.advancer.Progress()
		return core.AdvanceResult{U: u, PrevU: u}
	}
	res := s.advancer.ApplyManualDelta(du)
	s.pathLength += res.DeltaPath
	s.publishLocked()
	return res
}

// RetryCrossing withdraws the wire to the start and counts another
// crossing attempt. It only acts during Cross.
func (s *ProcedureState) RetryCrossing(ctx context.Context) bool {
	s.mu.Lock()
	if s.step != model.StepCross {
		s.mu.Unlock()
		return false
	}
	s.advancer.Reset()
	s.prevDir = core.Vec3{}
	s.attempts++
	attempts := s.attempts
	s.publishLocked()
	s.mu.Unlock()

	s.log.Info(ctx, "crossing retried", logging.Int("attempts", attempts))
	return true
}

// SampleResistance samples resistance at the current tip and stores it.
// The sampler runs outside the state lock; it is meant for a slower cadence
// than Advance.
func (s *ProcedureState) SampleResistance(ctx context.Context) core.SampleResult {
	s.mu.RLock()
	cl := s.cl
	prev := s.prevDir
	u := s.advancer.Progress()
	s.mu.RUnlock()

	tip := cl.PointAt(u)
	dir := cl.TangentAt(u)
	res := s.sampler.Sample(ctx, core.SampleInput{
		Tip:      tip,
		Dir:      dir,
		PrevDir:  prev,
		Progress: u,
	})
	s.setResistance(res.R)

	s.mu.Lock()
	if s.cl == cl {
		s.prevDir = dir
	}
	s.mu.Unlock()

	if s.metrics != nil {
		hits, misses, _ := s.sampler.CacheStats()
		if total := hits + misses; total > 0 {
			s.metrics.SetSamplerCacheHitRatio(float64(hits) / float64(total))
		}
	}
	return res
}

// SelectVessel replaces the centerline wholesale: progress returns to the
// start and the sampler cache is dropped.
func (s *ProcedureState) SelectVessel(ctx context.Context, id model.VesselID) error {
	ctx, span := s.startSpan(ctx, "procedure.select_vessel")
	defer span.End()
	span.SetAttributes(attribute.String("vessel.id", string(id)))

	cl, surface, err := s.buildVessel(id)
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.mu.Lock()
	s.vessel = id
	s.cl = cl
	s.prevDir = core.Vec3{}
	s.advancer.SetCenterline(cl)
	s.sampler.SetCenterline(cl)
	s.sampler.SetSurface(surface)
	s.setResistance(0)
	s.publishLocked()
	s.mu.Unlock()

	s.log.Info(ctx, "vessel selected",
		logging.String("vessel", string(id)),
		logging.Int("points", cl.Len()),
		logging.Float("length", cl.TotalLength()),
	)
	return nil
}

// SurfaceAvailable reports whether resistance sampling has a usable vessel
// surface.
func (s *ProcedureState) SurfaceAvailable() bool {
	return s.sampler.SurfaceAvailable()
}

// Vessel returns the selected vessel id.
func (s *ProcedureState) Vessel() model.VesselID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vessel
}

// SetWire selects a wire preset. An unknown id clears the selection, so the
// default resistance model applies, and reports ErrPresetNotFound.
func (s *ProcedureState) SetWire(ctx context.Context, id model.WireID) error {
	w, err := s.catalog.Wire(id)
	s.mu.Lock()
	if err != nil {
		s.wire = nil
	} else {
		s.wire = &w
	}
	s.syncModelLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn(ctx, "wire preset not found", logging.String("wire", string(id)))
		return err
	}
	return nil
}

// SetStentPreset selects a stent preset. Unknown ids clear the selection.
func (s *ProcedureState) SetStentPreset(ctx context.Context, id model.StentID) error {
	p, err := s.catalog.Stent(id)
	s.mu.Lock()
	if err != nil {
		s.stentPreset = nil
	} else {
		s.stentPreset = &p
	}
	s.syncModelLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn(ctx, "stent preset not found", logging.String("stent", string(id)))
		return err
	}
	return nil
}

// SetControlMode selects which source drives the wire.
func (s *ProcedureState) SetControlMode(m model.ControlMode) {
	s.advancer.SetControlMode(m)
}

// ToggleControlMode flips between auto and manual and returns the new mode.
func (s *ProcedureState) ToggleControlMode() model.ControlMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := model.ControlAuto
	if s.advancer.ControlMode() == model.ControlAuto {
		next = model.ControlManual
	}
	s.advancer.SetControlMode(next)
	return next
}

// Pause stops Advance and ManualAdvance from having any effect.
func (s *ProcedureState) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume undoes Pause.
func (s *ProcedureState) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Progress returns the wire's normalized position.
func (s *ProcedureState) Progress() float64 {
	return s.advancer.Progress()
}

// PathLength returns the accumulated wire travel.
func (s *ProcedureState) PathLength() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pathLength
}
