// Package state owns the authoritative procedure session: the workflow step
// machine, wire progress, resistance, dose, and lesion scores.
package state

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lior-linho/openmed-portfolio/core"
	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"github.com/lior-linho/openmed-portfolio/kb"
	"github.com/lior-linho/openmed-portfolio/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lior-linho/openmed-portfolio/internal/sim/state"

// CmToWorld converts the guidewire advance speed (cm/s) into centerline
// world units per second.
const CmToWorld = 0.5

// Re-export catalog sentinels so callers can depend on state.* only.
var (
	// ErrVesselNotFound indicates a requested vessel is not catalogued.
	ErrVesselNotFound = kb.ErrVesselNotFound
	// ErrPresetNotFound indicates an unknown wire or stent preset id.
	ErrPresetNotFound = kb.ErrPresetNotFound
)

// ParamsSource is the live parameter feed, read on demand.
type ParamsSource interface {
	Params() model.Params
}

// paramsSubscriber is implemented by feeds that also push changes.
type paramsSubscriber interface {
	Subscribe(fn func(path string, p model.Params)) (unsubscribe func())
}

// MetricsRecorder receives procedure metrics as they change.
type MetricsRecorder interface {
	SetProcedureMetrics(progress, pathLength, resistance, dose, coverage, residual float64)
	RecordStepTransition(from, to string, index int)
	IncComplication(kind string)
	IncContrastShots()
	SetSamplerCacheHitRatio(ratio float64)
}

// SurfaceFactory builds the vessel surface for a freshly selected
// centerline.
type SurfaceFactory func(cl *core.Centerline, p model.Params) (core.SurfaceQuery, error)

// Angles is the C-arm projection in degrees.
type Angles struct {
	LAORAO        float64 `json:"laoRaoDeg"`
	CranialCaudal float64 `json:"cranialCaudalDeg"`
}

// ProcedureState is the single owner of a procedure session. Step
// transitions and the metric recomputation they imply happen under one
// lock, so observers never see a step without its scores.
type ProcedureState struct {
	mu sync.RWMutex

	catalog  *kb.KnowledgeBase
	params   ParamsSource
	advancer *core.Advancer
	sampler  *core.ResistanceSampler
	dose     *core.DoseAccumulator
	surfaces SurfaceFactory

	sessionID string
	vessel    model.VesselID
	cl        *core.Centerline
	prevDir   core.Vec3

	step          model.Step
	paused        bool
	wire          *model.WirePreset
	stentPreset   *model.StentPreset
	lesion        model.Lesion
	stent         model.Stent
	stentDeployed bool
	balloon       float64
	coverage      float64
	residual      float64
	complication  *model.Complication

	pathLength    float64
	contrastCount int
	attempts      int
	zoom          float64
	collimation   core.Collimation
	angles        Angles
	startTime     time.Time
	endTime       time.Time
	experiment    *Experiment

	// resistance holds float64 bits. It is written by the sampling cadence
	// and read by the advance cadence without taking mu.
	resistance atomic.Uint64

	subs    map[int]func(model.Complication)
	nextSub int
	detach  []func()

	now      func() time.Time
	log      logging.Logger
	metrics  MetricsRecorder
	timeline *Timeline
	tracer   trace.Tracer

	vesselID    model.VesselID
	samplerOpts []core.SamplerOption
	worldScale  float64
}

// Option customises ProcedureState construction.
type Option func(*ProcedureState)

// WithParams attaches the live parameter feed. Without one the defaults
// from model.DefaultParams are used.
func WithParams(p ParamsSource) Option {
	return func(s *ProcedureState) {
		s.params = p
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *ProcedureState) {
		s.metrics = m
	}
}

// WithTimeline records a metrics sample on every Advance.
func WithTimeline(t *Timeline) Option {
	return func(s *ProcedureState) {
		s.timeline = t
	}
}

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ProcedureState) {
		if now != nil {
			s.now = now
		}
	}
}

// WithVessel selects the initial vessel. The default is the standard bend.
func WithVessel(id model.VesselID) Option {
	return func(s *ProcedureState) {
		s.vesselID = id
	}
}

// WithSurfaceFactory overrides how vessel surfaces are built.
func WithSurfaceFactory(f SurfaceFactory) Option {
	return func(s *ProcedureState) {
		if f != nil {
			s.surfaces = f
		}
	}
}

// WithSamplerOptions forwards options to the resistance sampler.
func WithSamplerOptions(opts ...core.SamplerOption) Option {
	return func(s *ProcedureState) {
		s.samplerOpts = append(s.samplerOpts, opts...)
	}
}

// WithWorldScale overrides CmToWorld.
func WithWorldScale(scale float64) Option {
	return func(s *ProcedureState) {
		if scale > 0 {
			s.worldScale = scale
		}
	}
}

// DefaultSurfaceFactory builds a tube surface whose base radius follows the
// live inner diameter.
func DefaultSurfaceFactory(cl *core.Centerline, p model.Params) (core.SurfaceQuery, error) {
	return core.NewTubeSurface(cl, core.ProfileRadius(cl, VesselRadius(p)))
}

// VesselRadius scales core.DefaultVesselRadius by the inner diameter
// relative to the 3 mm default.
func VesselRadius(p model.Params) float64 {
	r := core.DefaultVesselRadius
	if d := p.Vessel.InnerDiameterMm; d > 0 {
		r *= d / model.DefaultParams().Vessel.InnerDiameterMm
	}
	return r
}

// NewProcedureState opens a new session on the given catalog. A nil catalog
// is replaced by the built-in one.
func NewProcedureState(catalog *kb.KnowledgeBase, log logging.Logger, opts ...Option) (*ProcedureState, error) {
	if catalog == nil {
		catalog = kb.NewKnowledgeBase()
	}
	if log == nil {
		log = logging.Noop()
	}
	s := &ProcedureState{
		catalog:    catalog,
		dose:       core.NewDoseAccumulator(),
		surfaces:   DefaultSurfaceFactory,
		sessionID:  uuid.NewString(),
		subs:       make(map[int]func(model.Complication)),
		now:        time.Now,
		tracer:     otel.Tracer(tracerName),
		vesselID:   model.VesselStandardBend,
		worldScale: CmToWorld,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = log.With(logging.String("session_id", s.sessionID))

	cl, surface, err := s.buildVessel(s.vesselID)
	if err != nil {
		return nil, err
	}
	s.vessel = s.vesselID
	s.cl = cl
	s.advancer = core.NewAdvancer(cl, core.WithWorldScale(s.worldScale), core.WithControlMode(model.ControlAuto))
	samplerOpts := append([]core.SamplerOption{core.WithSamplerLogger(s.log)}, s.samplerOpts...)
	if rec, ok := s.metrics.(core.SampleRecorder); ok {
		samplerOpts = append(samplerOpts, core.WithSampleRecorder(rec))
	}
	s.sampler = core.NewResistanceSampler(surface, cl, samplerOpts...)

	s.resetLocked()
	s.publishLocked()

	if sub, ok := s.params.(paramsSubscriber); ok {
		s.detach = append(s.detach, sub.Subscribe(s.onParamsChanged))
	}
	s.detach = append(s.detach, catalog.Subscribe(s.onCatalogChanged))
	return s, nil
}

// Close detaches the session from its parameter feed and catalog. It is
// safe to call more than once.
func (s *ProcedureState) Close() {
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()
	for _, fn := range detach {
		fn()
	}
}

// SessionID returns the session's unique id.
func (s *ProcedureState) SessionID() string {
	return s.sessionID
}

// Catalog exposes the vessel and preset catalog.
func (s *ProcedureState) Catalog() *kb.KnowledgeBase {
	return s.catalog
}

// Resistance returns the latest resistance sample.
func (s *ProcedureState) Resistance() float64 {
	return math.Float64frombits(s.resistance.Load())
}

func (s *ProcedureState) setResistance(r float64) {
	s.resistance.Store(math.Float64bits(r))
}

func (s *ProcedureState) currentParams() model.Params {
	if s.params == nil {
		return model.DefaultParams()
	}
	return s.params.Params()
}

func (s *ProcedureState) buildVessel(id model.VesselID) (*core.Centerline, core.SurfaceQuery, error) {
	cl, err := s.catalog.Centerline(id)
	if err != nil {
		return nil, nil, fmt.Errorf("select vessel: %w", err)
	}
	surface, err := s.surfaces(cl, s.currentParams())
	if err != nil {
		return nil, nil, fmt.Errorf("build surface for %q: %w", id, err)
	}
	return cl, surface, nil
}

// resetLocked restores every session default except the vessel and
// experiment. Callers hold s.mu (or own s exclusively).
func (s *ProcedureState) resetLocked() {
	s.step = model.StepCross
	s.paused = false
	s.wire = nil
	s.stentPreset = nil
	s.lesion = model.DefaultLesion
	s.stent = model.DefaultStent
	s.stentDeployed = false
	s.balloon = 0
	s.coverage = 0
	s.residual = s.lesion.BaselineStenosisPct
	s.complication = nil
	s.pathLength = 0
	s.contrastCount = 0
	s.attempts = 0
	s.zoom = 1
	s.collimation = core.FullCollimation
	s.angles = Angles{}
	s.startTime = s.now()
	s.endTime = time.Time{}
	s.prevDir = core.Vec3{}

	s.advancer.Reset()
	s.advancer.SetControlMode(model.ControlAuto)
	s.dose.Reset()
	s.setResistance(0)
	s.syncModelLocked()
	s.sampler.Invalidate()
	if s.timeline != nil {
		s.timeline.Reset()
	}
}

// syncModelLocked re-derives the resistance model from presets, step and
// the live vessel diameter.
func (s *ProcedureState) syncModelLocked() {
	m := core.DeriveResistanceModel(s.wire, s.stentPreset, s.step)
	m.VesselRadius = VesselRadius(s.currentParams())
	s.sampler.SetModel(m)
}

// publishLocked pushes the current metrics to the recorder.
func (s *ProcedureState) publishLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetProcedureMetrics(
		s.advancer.Progress(),
		s.pathLength,
		s.Resistance(),
		s.dose.Dose(),
		s.coverage,
		s.residual,
	)
}
