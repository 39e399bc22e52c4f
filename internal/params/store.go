// Package params holds the live parameter feed read by the simulation.
package params

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/lior-linho/openmed-portfolio/model"
)

// ErrInvalidPath is returned when a dotted parameter path does not exist.
var ErrInvalidPath = errors.New("invalid parameter path")

type field struct {
	ref      func(*model.Params) *float64
	min, max float64
}

var fields = map[string]field{
	"vessel.innerDiameter":   {ref: func(p *model.Params) *float64 { return &p.Vessel.InnerDiameterMm }, min: 1.5, max: 5.5},
	"vessel.elasticity":      {ref: func(p *model.Params) *float64 { return &p.Vessel.ElasticityMPa }, min: 1.5, max: 3.8},
	"vessel.curvature":       {ref: func(p *model.Params) *float64 { return &p.Vessel.Curvature }, min: 0, max: 1},
	"blood.flowVelocity":     {ref: func(p *model.Params) *float64 { return &p.Blood.FlowVelocityCms }, min: 10, max: 40},
	"blood.viscosity":        {ref: func(p *model.Params) *float64 { return &p.Blood.ViscosityCp }, min: 3, max: 4},
	"blood.pulsatility":      {ref: func(p *model.Params) *float64 { return &p.Blood.Pulsatility }, min: 0, max: 1},
	"guidewire.diameter":     {ref: func(p *model.Params) *float64 { return &p.Guidewire.DiameterInch }, min: 0.014, max: 0.038},
	"guidewire.length":       {ref: func(p *model.Params) *float64 { return &p.Guidewire.LengthCm }, min: 80, max: 450},
	"guidewire.stiffness":    {ref: func(p *model.Params) *float64 { return &p.Guidewire.Stiffness }, min: 10, max: 100},
	"guidewire.advanceSpeed": {ref: func(p *model.Params) *float64 { return &p.Guidewire.AdvanceSpeedCmPerS }, min: 0, max: 10},
	"friction.catheter":      {ref: func(p *model.Params) *float64 { return &p.Friction.Catheter }, min: 0.05, max: 0.25},
	"friction.stent":         {ref: func(p *model.Params) *float64 { return &p.Friction.Stent }, min: 0.03, max: 0.06},
	"friction.mu":            {ref: func(p *model.Params) *float64 { return &p.Friction.Mu }, min: 0, max: 1},
}

// Paths lists every settable parameter path in sorted order.
func Paths() []string {
	out := make([]string, 0, len(fields))
	for p := range fields {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Store is a thread-safe holder of the live parameter set. Writes clamp to
// each parameter's supported range.
type Store struct {
	mu     sync.RWMutex
	p      model.Params
	subs   map[int]func(path string, p model.Params)
	nextID int
}

// NewStore returns a store seeded with model.DefaultParams.
func NewStore() *Store {
	return &Store{
		p:    model.DefaultParams(),
		subs: make(map[int]func(string, model.Params)),
	}
}

// Params returns a copy of the current parameter set.
func (s *Store) Params() model.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

// Get returns the value at a dotted path such as "guidewire.advanceSpeed".
func (s *Store) Get(path string) (float64, error) {
	f, ok := fields[normalize(path)]
	if !ok {
		return 0, fmt.Errorf("get %q: %w", path, ErrInvalidPath)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *f.ref(&s.p), nil
}

// Set writes v at a dotted path, clamped to the parameter's range, and
// returns the stored value.
func (s *Store) Set(path string, v float64) (float64, error) {
	key := normalize(path)
	f, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("set %q: %w", path, ErrInvalidPath)
	}
	if math.IsNaN(v) {
		v = f.min
	}
	v = math.Max(f.min, math.Min(f.max, v))

	s.mu.Lock()
	*f.ref(&s.p) = v
	snap := s.p
	subs := make([]func(string, model.Params), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(key, snap)
	}
	return v, nil
}

// Reset restores the default parameter set.
func (s *Store) Reset() {
	s.mu.Lock()
	s.p = model.DefaultParams()
	s.mu.Unlock()
}

// Subscribe registers fn for parameter changes. It returns an unsubscribe
// function.
func (s *Store) Subscribe(fn func(path string, p model.Params)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func normalize(path string) string {
	parts := strings.Split(path, ".")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}
