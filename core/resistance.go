package core

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"github.com/lior-linho/openmed-portfolio/model"
)

const (
	// MaxProbe is the probe length used for wall proximity queries.
	MaxProbe = 0.02

	// DefaultVesselRadius is the lumen radius assumed by the default model.
	DefaultVesselRadius = 0.12

	// DefaultSampleCacheTTL bounds how long a memoized sample stays valid.
	DefaultSampleCacheTTL = 100 * time.Millisecond

	// DefaultSampleCacheSize bounds the number of memoized samples.
	DefaultSampleCacheSize = 1000

	slowSampleThreshold = 5 * time.Millisecond
	minWallDistance     = 1e-4
	maxBendAngle        = math.Pi / 4
	curvatureScale      = 0.05
	stentWindowStart    = 0.6
	stentWindowEnd      = 0.8
	stentMaxExtra       = 0.3
)

// Resistance term weights.
const (
	WeightWall      = 0.35
	WeightBending   = 0.20
	WeightStenosis  = 0.20
	WeightContact   = 0.15
	WeightCurvature = 0.05
	WeightStent     = 0.05
)

// ResistanceModel parameterizes the resistance terms. It is derived whole
// from the active device presets and procedure step.
type ResistanceModel struct {
	VesselRadius     float64
	WireRadius       float64
	FrictionCoeff    float64
	BendingStiffness float64
	ContactThreshold float64
	StenosisFactor   float64
	CurvatureFactor  float64
	StentOversize    float64 // percent
	StentDeployed    bool
}

// DefaultResistanceModel returns the model used when no wire preset is
// selected.
func DefaultResistanceModel() ResistanceModel {
	return ResistanceModel{
		VesselRadius:     DefaultVesselRadius,
		WireRadius:       0.02,
		FrictionCoeff:    0.3,
		BendingStiffness: 0.8,
		ContactThreshold: 0.05,
		StenosisFactor:   1.0,
		CurvatureFactor:  1.0,
	}
}

// DeriveResistanceModel maps device presets and the procedure step onto a
// fresh ResistanceModel. Nil presets keep the defaults for their fields.
func DeriveResistanceModel(wire *model.WirePreset, stent *model.StentPreset, step model.Step) ResistanceModel {
	m := DefaultResistanceModel()
	if wire != nil {
		flex := clamp01(wire.Flexibility)
		push := clamp01(wire.Pushability)
		m.FrictionCoeff = 0.1 + 0.8*(1-flex)
		m.BendingStiffness = 0.2 + 1.6*push
		m.StenosisFactor = 0.5 + 1.5*(1-flex)
		m.CurvatureFactor = 0.3 + 1.4*push
	}
	if stent != nil {
		m.StentOversize = math.Max(0, stent.OversizePct)
	}
	m.StentDeployed = step.StentInVessel()
	return m
}

// SampleInput is one resistance query at the wire tip.
type SampleInput struct {
	Tip     Vec3
	Dir     Vec3
	PrevDir Vec3 // zero when no previous direction is known

	// PathPoints and Index select a discrete curvature estimate. When
	// PathPoints is empty the sampler's centerline is used at Progress.
	PathPoints []Vec3
	Index      int

	Progress float64
}

// Terms holds the individual resistance contributions before weighting.
type Terms struct {
	Wall      float64
	Bending   float64
	Stenosis  float64
	Contact   float64
	Curvature float64
	Stent     float64
}

// Weighted returns the weighted, clamped sum of the terms.
func (t Terms) Weighted() float64 {
	sum := clamp01(t.Wall)*WeightWall +
		clamp01(t.Bending)*WeightBending +
		clamp01(t.Stenosis)*WeightStenosis +
		clamp01(t.Contact)*WeightContact +
		clamp01(t.Curvature)*WeightCurvature +
		clamp01(t.Stent)*WeightStent
	return clamp01(sum)
}

// SampleResult is the outcome of a resistance query.
type SampleResult struct {
	R        float64
	Distance float64
	Normal   Vec3
	Terms    Terms
	Cached   bool
}

// SampleRecorder receives sampler telemetry.
type SampleRecorder interface {
	ObserveResistanceSample(d time.Duration, cached bool)
}

// ResistanceSampler combines wall contact, bending, stenosis, curvature and
// stent terms into a single resistance value. Results are memoized by a
// quantized tip pose for a short TTL.
type ResistanceSampler struct {
	mu       sync.Mutex
	surface  SurfaceQuery
	cl       *Centerline
	model    ResistanceModel
	cache    *sampleCache
	log      logging.Logger
	recorder SampleRecorder
	now      func() time.Time
	warned   bool
}

// SamplerOption configures a ResistanceSampler.
type SamplerOption func(*ResistanceSampler)

// WithSamplerLogger sets the logger used for degraded-mode warnings.
func WithSamplerLogger(l logging.Logger) SamplerOption {
	return func(s *ResistanceSampler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSampleRecorder wires sampler telemetry.
func WithSampleRecorder(r SampleRecorder) SamplerOption {
	return func(s *ResistanceSampler) {
		s.recorder = r
	}
}

// WithSamplerClock overrides the clock used for cache expiry.
func WithSamplerClock(now func() time.Time) SamplerOption {
	return func(s *ResistanceSampler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSampleCache overrides the memo TTL and capacity. A non-positive size
// disables memoization.
func WithSampleCache(ttl time.Duration, size int) SamplerOption {
	return func(s *ResistanceSampler) {
		s.cache = newSampleCache(ttl, size)
	}
}

// NewResistanceSampler builds a sampler over surface and cl with the default
// model. Either may be nil; sampling then degrades to zero resistance.
func NewResistanceSampler(surface SurfaceQuery, cl *Centerline, opts ...SamplerOption) *ResistanceSampler {
	s := &ResistanceSampler{
		surface: surface,
		cl:      cl,
		model:   DefaultResistanceModel(),
		cache:   newSampleCache(DefaultSampleCacheTTL, DefaultSampleCacheSize),
		log:     logging.Noop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the active resistance model.
func (s *ResistanceSampler) Model() ResistanceModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel replaces the resistance model and drops memoized samples.
func (s *ResistanceSampler) SetModel(m ResistanceModel) {
	s.mu.Lock()
	s.model = m
	s.cache.invalidateAll()
	s.mu.Unlock()
}

// SetCenterline replaces the centerline and drops memoized samples.
func (s *ResistanceSampler) SetCenterline(cl *Centerline) {
	s.mu.Lock()
	s.cl = cl
	s.cache.invalidateAll()
	s.mu.Unlock()
}

// SetSurface replaces the surface and drops memoized samples.
func (s *ResistanceSampler) SetSurface(surface SurfaceQuery) {
	s.mu.Lock()
	s.surface = surface
	s.warned = false
	s.cache.invalidateAll()
	s.mu.Unlock()
}

// SurfaceAvailable reports whether the current surface can answer probes.
func (s *ResistanceSampler) SurfaceAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SurfaceAvailable(s.surface)
}

// Invalidate drops all memoized samples.
func (s *ResistanceSampler) Invalidate() {
	s.mu.Lock()
	s.cache.invalidateAll()
	s.mu.Unlock()
}

// CacheStats returns memo hits, misses and wholesale invalidations.
func (s *ResistanceSampler) CacheStats() (hits, misses, invalids int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.hits, s.cache.misses, s.cache.invalids
}

// Sample computes resistance for in. It never fails: a missing surface or
// centerline yields zero resistance.
func (s *ResistanceSampler) Sample(ctx context.Context, in SampleInput) SampleResult {
	start := time.Now()
	res, cached := s.sample(ctx, in)
	elapsed := time.Since(start)
	if s.recorder != nil {
		s.recorder.ObserveResistanceSample(elapsed, cached)
	}
	if elapsed > slowSampleThreshold {
		s.log.Warn(ctx, "slow resistance sample",
			logging.Duration("elapsed", elapsed),
			logging.Float("progress", in.Progress),
		)
	}
	return res
}

func (s *ResistanceSampler) sample(ctx context.Context, in SampleInput) (SampleResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	neutral := SampleResult{Distance: MaxProbe}
	if !SurfaceAvailable(s.surface) {
		if !s.warned {
			s.warned = true
			s.log.Warn(ctx, "vessel surface unavailable, resistance disabled")
		}
		return neutral, false
	}
	if s.cl.Len() < MinCenterlinePoints {
		return neutral, false
	}

	now := s.now()
	key := quantizeSample(in)
	if res, ok := s.cache.get(key, now); ok {
		res.Cached = true
		return res, true
	}

	res := s.compute(in)
	s.cache.put(key, res, now)
	return res, false
}

func (s *ResistanceSampler) compute(in SampleInput) SampleResult {
	m := s.model
	dir := in.Dir.Normalize()
	res := SampleResult{Distance: MaxProbe}

	var t Terms
	hit, ok := s.surface.NearestSurface(in.Tip, dir, MaxProbe)
	if ok {
		res.Distance = math.Max(minWallDistance, hit.Distance)
		res.Normal = hit.Normal
		t.Wall = wallTerm(m, res.Distance)
		// A miss carries no wall proximity, so the stent term stays zero.
		t.Stent = stentTerm(m, res.Distance, in.Progress)
	}
	t.Bending = bendingTerm(m, dir, in.PrevDir)
	t.Stenosis = stenosisTerm(m, in.Progress)
	t.Contact = contactTerm(m, res.Distance, res.Normal, dir)
	t.Curvature = s.curvatureTerm(m, in)

	res.Terms = t
	res.R = t.Weighted()
	return res
}

func wallTerm(m ResistanceModel, d float64) float64 {
	if m.VesselRadius <= 0 {
		return 0
	}
	return smoothstep((m.VesselRadius - d) / m.VesselRadius)
}

func bendingTerm(m ResistanceModel, dir, prev Vec3) float64 {
	if prev.IsZero() || dir.IsZero() {
		return 0
	}
	a := math.Min(dir.AngleTo(prev)/maxBendAngle, 1)
	return clamp01(m.BendingStiffness * a * a)
}

func stenosisTerm(m ResistanceModel, u float64) float64 {
	d := clamp01(u) - narrowingCenter
	g := math.Exp(-(d * d) / (2 * narrowingWidth * narrowingWidth))
	return clamp01(m.StenosisFactor * g)
}

func contactTerm(m ResistanceModel, d float64, n, dir Vec3) float64 {
	if m.ContactThreshold <= 0 || d > m.ContactThreshold {
		return 0
	}
	area := 1 - d/m.ContactThreshold
	return clamp01(m.FrictionCoeff * area * math.Abs(dir.Dot(n)))
}

func (s *ResistanceSampler) curvatureTerm(m ResistanceModel, in SampleInput) float64 {
	var kappa float64
	if len(in.PathPoints) > 0 {
		kappa = discreteCurvature(in.PathPoints, in.Index)
	} else {
		i := s.cl.IndexAt(in.Progress)
		if i < 2 || i >= s.cl.Len()-2 {
			return 0
		}
		kappa = s.cl.CurvatureAt(in.Progress)
	}
	return clamp01(m.CurvatureFactor * math.Min(1, kappa*curvatureScale))
}

// discreteCurvature returns the turning angle at pts[i] per unit of index
// parameter, matching the units of Centerline.CurvatureAt.
func discreteCurvature(pts []Vec3, i int) float64 {
	if i < 2 || i >= len(pts)-2 {
		return 0
	}
	v1 := pts[i].Sub(pts[i-1])
	v2 := pts[i+1].Sub(pts[i])
	if v1.Norm() < 1e-6 || v2.Norm() < 1e-6 {
		return 0
	}
	return v1.AngleTo(v2) * float64(len(pts)-1)
}

func stentTerm(m ResistanceModel, d, u float64) float64 {
	if !m.StentDeployed || m.StentOversize <= 0 {
		return 0
	}
	if u < stentWindowStart || u > stentWindowEnd {
		return 0
	}
	if m.VesselRadius <= 0 {
		return 0
	}
	wall := math.Max(0, (m.VesselRadius-d)/m.VesselRadius)
	return clamp01(m.StentOversize / 100 * stentMaxExtra * wall)
}
