package kb

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/lior-linho/openmed-portfolio/core"
	"github.com/lior-linho/openmed-portfolio/model"
)

func TestBuiltinVessels(t *testing.T) {
	store := NewKnowledgeBase()
	ids := store.ListVessels()
	if len(ids) != 2 || ids[0] != model.VesselStandardBend || ids[1] != model.VesselStraight {
		t.Fatalf("ListVessels = %v, want [standard_bend straight]", ids)
	}
	cl, err := store.Centerline(model.VesselStandardBend)
	if err != nil {
		t.Fatalf("Centerline: %v", err)
	}
	if cl.Len() != 200 {
		t.Fatalf("standard bend has %d points, want 200", cl.Len())
	}
	start := cl.PointAt(0)
	if start.X != -1.5 {
		t.Fatalf("standard bend starts at %+v, want x=-1.5", start)
	}
}

func TestAddVesselValidation(t *testing.T) {
	store := NewKnowledgeBase()
	err := store.AddVessel(model.VesselDefinition{ID: "short", Centerline: []model.Point{{}, {X: 1}}})
	if !errors.Is(err, core.ErrDegenerateCenterline) {
		t.Fatalf("AddVessel(short) err = %v, want ErrDegenerateCenterline", err)
	}
	v := model.VesselDefinition{ID: "dup", Centerline: []model.Point{{}, {X: 1}, {X: 2}}}
	if err := store.AddVessel(v); err != nil {
		t.Fatalf("AddVessel: %v", err)
	}
	if err := store.AddVessel(v); !errors.Is(err, ErrVesselExists) {
		t.Fatalf("duplicate AddVessel err = %v, want ErrVesselExists", err)
	}
	if err := store.AddVessel(model.VesselDefinition{Centerline: v.Centerline}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestGetVesselReturnsCopy(t *testing.T) {
	store := NewKnowledgeBase()
	v, err := store.GetVessel(model.VesselStraight)
	if err != nil {
		t.Fatalf("GetVessel: %v", err)
	}
	v.Centerline[0].X = 42
	again, _ := store.GetVessel(model.VesselStraight)
	if again.Centerline[0].X == 42 {
		t.Fatalf("GetVessel leaked internal storage")
	}
	if _, err := store.GetVessel("missing"); !errors.Is(err, ErrVesselNotFound) {
		t.Fatalf("GetVessel(missing) err = %v, want ErrVesselNotFound", err)
	}
}

func TestLoadVessel(t *testing.T) {
	store := NewKnowledgeBase()
	doc := `{"id":"renal_demo","name":"Renal","scale":1,"centerline":[[0,0,0],[1,0,0],[2,1,0],[3,1,0]]}`
	id, err := store.LoadVessel(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadVessel: %v", err)
	}
	cl, err := store.Centerline(id)
	if err != nil {
		t.Fatalf("Centerline: %v", err)
	}
	if cl.Len() != 4 {
		t.Fatalf("loaded centerline has %d points, want 4", cl.Len())
	}
}

func TestPresets(t *testing.T) {
	store := NewKnowledgeBase()
	w, err := store.Wire(model.WireHighSupport)
	if err != nil || w.Pushability != 0.9 {
		t.Fatalf("Wire(wire-b) = %+v, %v", w, err)
	}
	if _, err := store.Wire("wire-z"); !errors.Is(err, ErrPresetNotFound) {
		t.Fatalf("Wire(unknown) err = %v, want ErrPresetNotFound", err)
	}
	if _, err := store.Stent("stent-99"); !errors.Is(err, ErrPresetNotFound) {
		t.Fatalf("Stent(unknown) err = %v, want ErrPresetNotFound", err)
	}
	stents := store.ListStents()
	if len(stents) != 3 || stents[0].OversizePct != 5 || stents[2].OversizePct != 15 {
		t.Fatalf("ListStents = %+v", stents)
	}
	if wires := store.ListWires(); len(wires) != 3 || wires[0].ID != model.WireUltraFlexible {
		t.Fatalf("ListWires = %+v", wires)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	store := NewKnowledgeBase()
	var mu sync.Mutex
	var events []Event
	unsubscribe := store.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	other := store.Subscribe(func(Event) {})
	other()

	v := model.VesselDefinition{ID: "v1", Centerline: []model.Point{{}, {X: 1}, {X: 2}}}
	if err := store.AddVessel(v); err != nil {
		t.Fatalf("AddVessel: %v", err)
	}
	if err := store.RemoveVessel("v1"); err != nil {
		t.Fatalf("RemoveVessel: %v", err)
	}
	unsubscribe()
	if err := store.AddVessel(v); err != nil {
		t.Fatalf("AddVessel: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventVesselAdded || events[1].Type != EventVesselRemoved || events[0].Vessel.ID != "v1" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if err := store.RemoveVessel("v1-missing"); !errors.Is(err, ErrVesselNotFound) {
		t.Fatalf("RemoveVessel(missing) err = %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = store.ListVessels()
				_, _ = store.Wire(model.WireBalanced)
				_, _ = store.Centerline(model.VesselStraight)
			}
		}(i)
	}
	wg.Wait()
}
