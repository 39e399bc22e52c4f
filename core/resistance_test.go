package core

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"github.com/lior-linho/openmed-portfolio/model"
)

type captureLogger struct {
	mu    sync.Mutex
	warns []string
}

func (c *captureLogger) With(...logging.Field) logging.Logger            { return c }
func (c *captureLogger) Debug(context.Context, string, ...logging.Field) {}
func (c *captureLogger) Info(context.Context, string, ...logging.Field)  {}
func (c *captureLogger) Error(context.Context, string, ...logging.Field) {}
func (c *captureLogger) Warn(_ context.Context, msg string, _ ...logging.Field) {
	c.mu.Lock()
	c.warns = append(c.warns, msg)
	c.mu.Unlock()
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDeriveResistanceModel(t *testing.T) {
	wire, _ := model.LookupWire(model.WireHighSupport)
	stent, _ := model.LookupStent(model.StentOversize10)

	m := DeriveResistanceModel(&wire, &stent, model.StepDeploy)
	if !approx(m.FrictionCoeff, 0.1+0.8*0.7) || !approx(m.BendingStiffness, 0.2+1.6*0.9) {
		t.Fatalf("friction/bending = %v/%v", m.FrictionCoeff, m.BendingStiffness)
	}
	if !approx(m.StenosisFactor, 0.5+1.5*0.7) || !approx(m.CurvatureFactor, 0.3+1.4*0.9) {
		t.Fatalf("stenosis/curvature = %v/%v", m.StenosisFactor, m.CurvatureFactor)
	}
	if m.StentOversize != 10 || !m.StentDeployed {
		t.Fatalf("stent fields = %v/%v, want 10/true", m.StentOversize, m.StentDeployed)
	}

	if m := DeriveResistanceModel(&wire, &stent, model.StepCross); m.StentDeployed {
		t.Fatalf("stent must not be deployed during Cross")
	}
	if m := DeriveResistanceModel(nil, nil, model.StepPostDilate); m.FrictionCoeff != 0.3 || m.BendingStiffness != 0.8 || !m.StentDeployed {
		t.Fatalf("nil presets should keep defaults, got %+v", m)
	}
}

func TestSampleWithoutSurfaceDegrades(t *testing.T) {
	log := &captureLogger{}
	s := NewResistanceSampler(nil, StandardBendCenterline(200), WithSamplerLogger(log))
	for i := 0; i < 3; i++ {
		res := s.Sample(context.Background(), SampleInput{Tip: Vec3{}, Dir: Vec3{X: 1}, Progress: 0.55})
		if res.R != 0 || res.Distance != MaxProbe {
			t.Fatalf("degraded sample = %+v, want R=0 d=MaxProbe", res)
		}
	}
	if len(log.warns) != 1 {
		t.Fatalf("warnings = %v, want exactly one", log.warns)
	}
	s.SetSurface(nil)
	s.Sample(context.Background(), SampleInput{Dir: Vec3{X: 1}})
	if len(log.warns) != 2 {
		t.Fatalf("replacing the surface should re-arm the warning, got %v", log.warns)
	}
}

func TestSampleWithoutCenterlineIsNeutral(t *testing.T) {
	cl := straightLine(t, 11, 1)
	surf, _ := NewTubeSurface(cl, ConstantRadius(0.01))
	s := NewResistanceSampler(surf, nil)
	res := s.Sample(context.Background(), SampleInput{Tip: Vec3{X: 5}, Dir: Vec3{Y: 1}, Progress: 0.55})
	if res.R != 0 {
		t.Fatalf("R = %v, want 0 without centerline", res.R)
	}
}

func TestSampleOpenLumenHasNoResistance(t *testing.T) {
	cl := straightLine(t, 11, 1)
	surf, _ := NewTubeSurface(cl, ConstantRadius(1))
	s := NewResistanceSampler(surf, cl)
	res := s.Sample(context.Background(), SampleInput{Tip: Vec3{X: 0.5}, Dir: Vec3{X: 1}, Progress: 0.05})
	if res.R > 1e-6 {
		t.Fatalf("R = %v (%+v), want ~0", res.R, res.Terms)
	}
	if res.Distance != MaxProbe || !res.Normal.IsZero() {
		t.Fatalf("miss should report MaxProbe and zero normal, got %+v", res)
	}
}

func TestSampleWallContact(t *testing.T) {
	cl := straightLine(t, 11, 1)
	surf, _ := NewTubeSurface(cl, ConstantRadius(0.01))
	s := NewResistanceSampler(surf, cl)
	res := s.Sample(context.Background(), SampleInput{Tip: Vec3{X: 0.5}, Dir: Vec3{Y: 1}, Progress: 0.05})
	if math.Abs(res.Distance-0.01) > 1e-6 {
		t.Fatalf("distance = %v, want 0.01", res.Distance)
	}
	wantWall := smoothstep((0.12 - res.Distance) / 0.12)
	if math.Abs(res.Terms.Wall-wantWall) > 1e-9 {
		t.Fatalf("wall term = %v, want %v", res.Terms.Wall, wantWall)
	}
	wantContact := 0.3 * (1 - res.Distance/0.05)
	if math.Abs(res.Terms.Contact-wantContact) > 1e-4 {
		t.Fatalf("contact term = %v, want %v", res.Terms.Contact, wantContact)
	}
	if res.R < WeightWall*wantWall || res.R > 1 {
		t.Fatalf("R = %v out of expected range", res.R)
	}
}

func TestSampleBendingAndStenosis(t *testing.T) {
	cl := straightLine(t, 11, 1)
	surf, _ := NewTubeSurface(cl, ConstantRadius(1))
	s := NewResistanceSampler(surf, cl)

	res := s.Sample(context.Background(), SampleInput{Tip: Vec3{X: 0.5}, Dir: Vec3{X: 1}, PrevDir: Vec3{Y: 1}, Progress: 0.05})
	if !approx(res.Terms.Bending, 0.8) {
		t.Fatalf("bending term = %v, want 0.8 at >=45 degrees", res.Terms.Bending)
	}

	res = s.Sample(context.Background(), SampleInput{Tip: Vec3{X: 5.5}, Dir: Vec3{X: 1}, Progress: 0.55})
	if !approx(res.Terms.Stenosis, 1) {
		t.Fatalf("stenosis term = %v, want 1 at narrowing center", res.Terms.Stenosis)
	}
	if !approx(res.R, WeightStenosis) {
		t.Fatalf("R = %v, want %v", res.R, WeightStenosis)
	}
}

func TestSampleStentWindow(t *testing.T) {
	cl := straightLine(t, 11, 1)
	surf, _ := NewTubeSurface(cl, ConstantRadius(0.01))
	s := NewResistanceSampler(surf, cl)
	stent, _ := model.LookupStent(model.StentOversize15)
	s.SetModel(DeriveResistanceModel(nil, &stent, model.StepDeploy))

	in := SampleInput{Tip: Vec3{X: 7}, Dir: Vec3{Y: 1}, Progress: 0.7}
	if res := s.Sample(context.Background(), in); res.Terms.Stent <= 0 {
		t.Fatalf("stent term = %v, want > 0 inside window", res.Terms.Stent)
	}
	in.Tip = Vec3{X: 3}
	in.Progress = 0.3
	if res := s.Sample(context.Background(), in); res.Terms.Stent != 0 {
		t.Fatalf("stent term = %v, want 0 outside window", res.Terms.Stent)
	}
}

type missSurface struct{}

func (missSurface) NearestSurface(Vec3, Vec3, float64) (Hit, bool) { return Hit{}, false }

func TestSampleStentNeedsWallHit(t *testing.T) {
	cl := straightLine(t, 11, 1)
	s := NewResistanceSampler(missSurface{}, cl)
	stent, _ := model.LookupStent(model.StentOversize15)
	s.SetModel(DeriveResistanceModel(nil, &stent, model.StepDeploy))

	res := s.Sample(context.Background(), SampleInput{Tip: Vec3{X: 7}, Dir: Vec3{Y: 1}, Progress: 0.7})
	if res.Terms.Stent != 0 {
		t.Fatalf("stent term on a miss = %v, want 0", res.Terms.Stent)
	}
	if res.Terms.Wall != 0 || res.Distance != MaxProbe {
		t.Fatalf("miss should leave wall term 0 at MaxProbe, got %+v", res)
	}
}

func TestCurvatureTermIndexGuard(t *testing.T) {
	pts := []Vec3{{}, {X: 1}, {X: 2}, {X: 3, Y: 1}, {X: 4, Y: 1}, {X: 5, Y: 1}}
	if got := discreteCurvature(pts, 1); got != 0 {
		t.Fatalf("curvature at index 1 = %v, want 0", got)
	}
	if got := discreteCurvature(pts, 4); got != 0 {
		t.Fatalf("curvature at len-2 = %v, want 0", got)
	}
	if got := discreteCurvature(pts, 2); got <= 0 {
		t.Fatalf("curvature at bend = %v, want > 0", got)
	}
}

func TestSampleCacheTTLAndInvalidation(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cl := straightLine(t, 11, 1)
	surf, _ := NewTubeSurface(cl, ConstantRadius(1))
	s := NewResistanceSampler(surf, cl, WithSamplerClock(clock.Now))
	in := SampleInput{Tip: Vec3{X: 2}, Dir: Vec3{X: 1}, Progress: 0.2}

	if res := s.Sample(context.Background(), in); res.Cached {
		t.Fatalf("first sample must not be cached")
	}
	clock.Advance(50 * time.Millisecond)
	if res := s.Sample(context.Background(), in); !res.Cached {
		t.Fatalf("second sample within TTL should be cached")
	}
	clock.Advance(60 * time.Millisecond)
	if res := s.Sample(context.Background(), in); res.Cached {
		t.Fatalf("sample after TTL must be recomputed")
	}
	s.SetModel(DefaultResistanceModel())
	if res := s.Sample(context.Background(), in); res.Cached {
		t.Fatalf("model change must invalidate the cache")
	}
	hits, misses, invalids := s.CacheStats()
	if hits != 1 || misses != 3 || invalids != 1 {
		t.Fatalf("stats = %d/%d/%d, want 1/3/1", hits, misses, invalids)
	}
}

func TestSampleCacheEvictsOldest(t *testing.T) {
	c := newSampleCache(time.Second, 2)
	now := time.Unix(0, 0)
	keys := []sampleKey{{px: 1}, {px: 2}, {px: 3}}
	for _, k := range keys {
		c.put(k, SampleResult{R: float64(k.px)}, now)
	}
	if c.size() != 2 {
		t.Fatalf("size = %d, want 2", c.size())
	}
	if _, ok := c.get(keys[0], now); ok {
		t.Fatalf("oldest entry should have been evicted")
	}
	if res, ok := c.get(keys[2], now); !ok || res.R != 3 {
		t.Fatalf("newest entry missing: %+v %v", res, ok)
	}
}

func TestQuantizedKeyMergesNearbyPoses(t *testing.T) {
	a := quantizeSample(SampleInput{Tip: Vec3{X: 1.001}, Dir: Vec3{X: 1}})
	b := quantizeSample(SampleInput{Tip: Vec3{X: 1.002}, Dir: Vec3{X: 1, Y: 0.01}})
	if a != b {
		t.Fatalf("nearby poses should share a key: %+v vs %+v", a, b)
	}
	c := quantizeSample(SampleInput{Tip: Vec3{X: 1.02}, Dir: Vec3{X: 1}})
	if a == c {
		t.Fatalf("distinct positions should not share a key")
	}
}

func TestSampleResistanceAlwaysBounded(t *testing.T) {
	cl := StandardBendCenterline(200)
	surf, _ := NewTubeSurface(cl, nil)
	wire, _ := model.LookupWire(model.WireHighSupport)
	stent, _ := model.LookupStent(model.StentOversize15)
	s := NewResistanceSampler(surf, cl, WithSampleCache(time.Millisecond, 0))
	s.SetModel(DeriveResistanceModel(&wire, &stent, model.StepPostDilate))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		u := rng.Float64()
		tip := cl.PointAt(u).Add(Vec3{X: rng.Float64()*0.1 - 0.05, Y: rng.Float64()*0.1 - 0.05})
		in := SampleInput{
			Tip:      tip,
			Dir:      Vec3{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()},
			PrevDir:  cl.TangentAt(u),
			Progress: u,
		}
		res := s.Sample(context.Background(), in)
		if res.R < 0 || res.R > 1 || math.IsNaN(res.R) {
			t.Fatalf("R = %v out of [0,1] for %+v", res.R, in)
		}
	}
}
