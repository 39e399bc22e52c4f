// core/centerline_loader.go
package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/lior-linho/openmed-portfolio/model"
)

// DefaultCenterlineScale converts exported centerlines from metres to
// millimetres.
const DefaultCenterlineScale = 1000.0

// ErrUnknownCenterlineShape is returned when centerline JSON matches none of
// the supported layouts.
var ErrUnknownCenterlineShape = errors.New("unrecognised centerline layout")

// internal JSON shapes, unexported so they can evolve freely.
type pointJSON struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

type pointsWrapperJSON struct {
	Points json.RawMessage `json:"points"`
}

type vesselJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Scale       *float64        `json:"scale"` // optional; defaults to DefaultCenterlineScale
	Centerline  json.RawMessage `json:"centerline"`
}

// LoadCenterlineJSON reads centerline points from r and multiplies every
// coordinate by scale (DefaultCenterlineScale when scale <= 0).
//
// Accepted layouts: [[x,y,z],...], [{"x":..,"y":..,"z":..},...],
// {"points": <either>} and a nested [[[x,y,z],...]] whose first polyline is
// used.
func LoadCenterlineJSON(r io.Reader, scale float64) ([]Vec3, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("LoadCenterlineJSON: read failed: %w", err)
	}
	pts, err := decodeCenterline(raw)
	if err != nil {
		return nil, fmt.Errorf("LoadCenterlineJSON: %w", err)
	}
	return scalePoints(pts, scale), nil
}

// LoadVesselDefinition reads a vessel document with id, name, description,
// optional scale and a centerline in any layout LoadCenterlineJSON accepts.
func LoadVesselDefinition(r io.Reader) (model.VesselDefinition, error) {
	var doc vesselJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return model.VesselDefinition{}, fmt.Errorf("LoadVesselDefinition: decode failed: %w", err)
	}
	if doc.ID == "" {
		return model.VesselDefinition{}, errors.New("LoadVesselDefinition: missing id")
	}
	pts, err := decodeCenterline(doc.Centerline)
	if err != nil {
		return model.VesselDefinition{}, fmt.Errorf("LoadVesselDefinition %q: %w", doc.ID, err)
	}
	scale := DefaultCenterlineScale
	if doc.Scale != nil {
		scale = *doc.Scale
	}
	pts = scalePoints(pts, scale)
	if len(pts) < MinCenterlinePoints {
		return model.VesselDefinition{}, fmt.Errorf("LoadVesselDefinition %q: %w", doc.ID, ErrDegenerateCenterline)
	}

	def := model.VesselDefinition{
		ID:          model.VesselID(doc.ID),
		Name:        doc.Name,
		Description: doc.Description,
		Centerline:  make([]model.Point, len(pts)),
	}
	for i, p := range pts {
		def.Centerline[i] = model.Point{X: p.X, Y: p.Y, Z: p.Z}
	}
	return def, nil
}

func decodeCenterline(raw []byte) ([]Vec3, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrUnknownCenterlineShape
	}

	if raw[0] == '{' {
		var w pointsWrapperJSON
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode failed: %w", err)
		}
		if len(w.Points) == 0 {
			return nil, ErrUnknownCenterlineShape
		}
		return decodeCenterline(w.Points)
	}

	var triples [][]float64
	if err := json.Unmarshal(raw, &triples); err == nil {
		return fromTriples(triples)
	}

	var nested [][][]float64
	if err := json.Unmarshal(raw, &nested); err == nil {
		if len(nested) == 0 {
			return nil, ErrUnknownCenterlineShape
		}
		return fromTriples(nested[0])
	}

	var objs []pointJSON
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil, ErrUnknownCenterlineShape
	}
	out := make([]Vec3, 0, len(objs))
	for i, o := range objs {
		if o.X == nil || o.Y == nil || o.Z == nil {
			return nil, fmt.Errorf("point %d: missing coordinate: %w", i, ErrUnknownCenterlineShape)
		}
		out = append(out, Vec3{X: *o.X, Y: *o.Y, Z: *o.Z})
	}
	return out, nil
}

func fromTriples(triples [][]float64) ([]Vec3, error) {
	out := make([]Vec3, 0, len(triples))
	for i, t := range triples {
		if len(t) < 3 {
			return nil, fmt.Errorf("point %d has %d coordinates: %w", i, len(t), ErrUnknownCenterlineShape)
		}
		out = append(out, Vec3{X: t[0], Y: t[1], Z: t[2]})
	}
	return out, nil
}

func scalePoints(pts []Vec3, scale float64) []Vec3 {
	if scale <= 0 {
		scale = DefaultCenterlineScale
	}
	for i := range pts {
		pts[i] = pts[i].Scale(scale)
	}
	return pts
}
