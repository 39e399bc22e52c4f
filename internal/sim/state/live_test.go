package state

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/lior-linho/openmed-portfolio/core"
	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"github.com/lior-linho/openmed-portfolio/internal/params"
	"github.com/lior-linho/openmed-portfolio/kb"
	"github.com/lior-linho/openmed-portfolio/model"
)

type countingSurfaces struct {
	mu        sync.Mutex
	diameters []float64
	fail      bool
}

func (c *countingSurfaces) build(cl *core.Centerline, p model.Params) (core.SurfaceQuery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diameters = append(c.diameters, p.Vessel.InnerDiameterMm)
	if c.fail {
		return nil, errors.New("surface build failed")
	}
	return DefaultSurfaceFactory(cl, p)
}

func (c *countingSurfaces) builds() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.diameters...)
}

func TestVesselParamRebuildsSurface(t *testing.T) {
	store := params.NewStore()
	surfaces := &countingSurfaces{}
	s := newTestState(t, WithParams(store), WithSurfaceFactory(surfaces.build))
	t.Cleanup(s.Close)
	ctx := context.Background()

	s.SampleResistance(ctx)
	_, _, before := s.sampler.CacheStats()

	if _, err := store.Set("vessel.innerDiameter", 1.5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.SampleResistance(ctx)

	got := surfaces.builds()
	if len(got) != 2 || got[0] != 3 || got[1] != 1.5 {
		t.Fatalf("surface builds = %v, want [3 1.5]", got)
	}
	if _, misses, after := s.sampler.CacheStats(); after <= before || misses != 2 {
		t.Fatalf("invalids %d -> %d, misses %d; want a fresh sample after the rebuild", before, after, misses)
	}
	if r := s.sampler.Model().VesselRadius; math.Abs(r-core.DefaultVesselRadius/2) > 1e-12 {
		t.Fatalf("model vessel radius = %v, want %v", r, core.DefaultVesselRadius/2)
	}
}

func TestNonVesselParamKeepsSurface(t *testing.T) {
	store := params.NewStore()
	surfaces := &countingSurfaces{}
	s := newTestState(t, WithParams(store), WithSurfaceFactory(surfaces.build))
	t.Cleanup(s.Close)

	if _, err := store.Set("guidewire.advanceSpeed", 4); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := surfaces.builds(); len(got) != 1 {
		t.Fatalf("surface builds = %v, want only the initial one", got)
	}
	if r := s.sampler.Model().VesselRadius; r != core.DefaultVesselRadius {
		t.Fatalf("model vessel radius = %v, want default", r)
	}
}

func TestVesselParamRebuildFailureDisablesSurface(t *testing.T) {
	store := params.NewStore()
	surfaces := &countingSurfaces{}
	s := newTestState(t, WithParams(store), WithSurfaceFactory(surfaces.build))
	t.Cleanup(s.Close)

	surfaces.mu.Lock()
	surfaces.fail = true
	surfaces.mu.Unlock()
	if _, err := store.Set("vessel.innerDiameter", 4); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if s.SurfaceAvailable() {
		t.Fatalf("surface should be unavailable after a failed rebuild")
	}
	if res := s.SampleResistance(context.Background()); res.R != 0 {
		t.Fatalf("resistance without surface = %v, want 0", res.R)
	}
}

func TestCloseStopsParamUpdates(t *testing.T) {
	store := params.NewStore()
	surfaces := &countingSurfaces{}
	s := newTestState(t, WithParams(store), WithSurfaceFactory(surfaces.build))
	s.Close()
	s.Close()

	if _, err := store.Set("vessel.innerDiameter", 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := surfaces.builds(); len(got) != 1 {
		t.Fatalf("surface builds after Close = %v, want 1", got)
	}
}

func TestCatalogReplacementReloadsVessel(t *testing.T) {
	catalog := kb.NewKnowledgeBase()
	s, err := NewProcedureState(catalog, logging.Noop(), WithVessel(model.VesselStraight))
	if err != nil {
		t.Fatalf("NewProcedureState: %v", err)
	}
	t.Cleanup(s.Close)
	s.Advance(0.05)

	def, err := catalog.GetVessel(model.VesselStraight)
	if err != nil {
		t.Fatalf("GetVessel: %v", err)
	}
	if err := catalog.RemoveVessel(model.VesselStraight); err != nil {
		t.Fatalf("RemoveVessel: %v", err)
	}
	if s.Vessel() != model.VesselStraight || s.Progress() == 0 {
		t.Fatalf("removal must keep the loaded vessel, got %q at %v", s.Vessel(), s.Progress())
	}

	s.mu.RLock()
	old := s.cl
	s.mu.RUnlock()
	last := def.Centerline[len(def.Centerline)-1]
	def.Centerline = append(def.Centerline, model.Point{X: last.X + 1, Y: last.Y, Z: last.Z})
	if err := catalog.AddVessel(def); err != nil {
		t.Fatalf("AddVessel: %v", err)
	}

	s.mu.RLock()
	cl := s.cl
	s.mu.RUnlock()
	if cl == old || cl.Len() != old.Len()+1 {
		t.Fatalf("replaced vessel was not reloaded")
	}
	if s.Progress() != 0 {
		t.Fatalf("progress after reload = %v, want 0", s.Progress())
	}
}
