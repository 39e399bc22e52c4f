package kb

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/lior-linho/openmed-portfolio/core"
	"github.com/lior-linho/openmed-portfolio/model"
)

var (
	// ErrVesselNotFound is returned when a vessel id is not in the catalog.
	ErrVesselNotFound = errors.New("vessel not found")
	// ErrVesselExists is returned when adding a vessel whose id is taken.
	ErrVesselExists = errors.New("vessel already exists")
	// ErrPresetNotFound is returned for unknown wire or stent ids.
	ErrPresetNotFound = errors.New("device preset not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventVesselAdded EventType = iota
	EventVesselRemoved
)

// Event is emitted to subscribers when the catalog changes.
type Event struct {
	Type   EventType
	Vessel model.VesselDefinition
}

// KnowledgeBase is an in-memory, thread-safe catalog of vessels and device
// presets.
type KnowledgeBase struct {
	mu sync.RWMutex

	vessels map[model.VesselID]model.VesselDefinition
	wires   map[model.WireID]model.WirePreset
	stents  map[model.StentID]model.StentPreset

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs a catalog seeded with the built-in vessels and
// device presets.
func NewKnowledgeBase() *KnowledgeBase {
	kb := &KnowledgeBase{
		vessels: make(map[model.VesselID]model.VesselDefinition),
		wires:   make(map[model.WireID]model.WirePreset, len(model.WirePresets)),
		stents:  make(map[model.StentID]model.StentPreset, len(model.StentPresets)),
		subs:    make(map[int]func(Event)),
	}
	for _, w := range model.WirePresets {
		kb.wires[w.ID] = w
	}
	for _, s := range model.StentPresets {
		kb.stents[s.ID] = s
	}
	for _, v := range BuiltinVessels() {
		kb.vessels[v.ID] = v
	}
	return kb
}

// BuiltinVessels returns the procedural vessels shipped with the sandbox.
func BuiltinVessels() []model.VesselDefinition {
	return []model.VesselDefinition{
		{
			ID:          model.VesselStandardBend,
			Name:        "Standard calcified bend",
			Description: "Procedural bend with a mid-vessel narrowing",
			Centerline:  toPoints(core.StandardBendCenterline(200).Points()),
		},
		{
			ID:          model.VesselStraight,
			Name:        "Straight segment",
			Description: "Straight reference vessel",
			Centerline:  toPoints(core.StraightCenterline(100, 3).Points()),
		},
	}
}

func toPoints(pts []core.Vec3) []model.Point {
	out := make([]model.Point, len(pts))
	for i, p := range pts {
		out[i] = model.Point{X: p.X, Y: p.Y, Z: p.Z}
	}
	return out
}

// AddVessel adds a new vessel. It fails if the id exists or the centerline
// is degenerate.
func (kb *KnowledgeBase) AddVessel(v model.VesselDefinition) error {
	if v.ID == "" {
		return fmt.Errorf("add vessel: empty id")
	}
	if len(v.Centerline) < core.MinCenterlinePoints {
		return fmt.Errorf("add vessel %q: %w", v.ID, core.ErrDegenerateCenterline)
	}
	v = cloneVessel(v)

	kb.mu.Lock()
	if _, exists := kb.vessels[v.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("vessel %q: %w", v.ID, ErrVesselExists)
	}
	kb.vessels[v.ID] = v
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventVesselAdded, Vessel: cloneVessel(v)})
	return nil
}

// LoadVessel decodes a vessel document from r and adds it.
func (kb *KnowledgeBase) LoadVessel(r io.Reader) (model.VesselID, error) {
	def, err := core.LoadVesselDefinition(r)
	if err != nil {
		return "", err
	}
	if err := kb.AddVessel(def); err != nil {
		return "", err
	}
	return def.ID, nil
}

// RemoveVessel deletes a vessel from the catalog.
func (kb *KnowledgeBase) RemoveVessel(id model.VesselID) error {
	kb.mu.Lock()
	v, ok := kb.vessels[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("vessel %q: %w", id, ErrVesselNotFound)
	}
	delete(kb.vessels, id)
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventVesselRemoved, Vessel: v})
	return nil
}

// GetVessel returns a copy of the vessel with the given id.
func (kb *KnowledgeBase) GetVessel(id model.VesselID) (model.VesselDefinition, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	v, ok := kb.vessels[id]
	if !ok {
		return model.VesselDefinition{}, fmt.Errorf("vessel %q: %w", id, ErrVesselNotFound)
	}
	return cloneVessel(v), nil
}

// Centerline builds the centerline model for a catalogued vessel.
func (kb *KnowledgeBase) Centerline(id model.VesselID) (*core.Centerline, error) {
	v, err := kb.GetVessel(id)
	if err != nil {
		return nil, err
	}
	return core.NewCenterline(core.FromPoints(v.Centerline))
}

// ListVessels returns all vessel ids in sorted order.
func (kb *KnowledgeBase) ListVessels() []model.VesselID {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.VesselID, 0, len(kb.vessels))
	for id := range kb.vessels {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// Wire returns the wire preset with the given id.
func (kb *KnowledgeBase) Wire(id model.WireID) (model.WirePreset, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	w, ok := kb.wires[id]
	if !ok {
		return model.WirePreset{}, fmt.Errorf("wire %q: %w", id, ErrPresetNotFound)
	}
	return w, nil
}

// Stent returns the stent preset with the given id.
func (kb *KnowledgeBase) Stent(id model.StentID) (model.StentPreset, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	s, ok := kb.stents[id]
	if !ok {
		return model.StentPreset{}, fmt.Errorf("stent %q: %w", id, ErrPresetNotFound)
	}
	return s, nil
}

// ListWires returns every wire preset ordered by id.
func (kb *KnowledgeBase) ListWires() []model.WirePreset {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.WirePreset, 0, len(kb.wires))
	for _, w := range kb.wires {
		res = append(res, w)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// ListStents returns every stent preset ordered by oversize.
func (kb *KnowledgeBase) ListStents() []model.StentPreset {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.StentPreset, 0, len(kb.stents))
	for _, s := range kb.stents {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].OversizePct < res[j].OversizePct })
	return res
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// snapshotSubs copies the subscriber list. Callers hold kb.mu.
func (kb *KnowledgeBase) snapshotSubs() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

// notify runs subscribers outside the lock to avoid deadlocks.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}

func cloneVessel(v model.VesselDefinition) model.VesselDefinition {
	v.Centerline = append([]model.Point(nil), v.Centerline...)
	return v
}
