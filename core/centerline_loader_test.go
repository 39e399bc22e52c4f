package core

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadCenterlineJSONLayouts(t *testing.T) {
	cases := map[string]string{
		"triples": `[[0,0,0],[0.001,0,0],[0.002,0,0]]`,
		"objects": `[{"x":0,"y":0,"z":0},{"x":0.001,"y":0,"z":0},{"x":0.002,"y":0,"z":0}]`,
		"wrapped": `{"points":[[0,0,0],[0.001,0,0],[0.002,0,0]]}`,
		"nested":  `[[[0,0,0],[0.001,0,0],[0.002,0,0]],[[9,9,9]]]`,
	}
	for name, doc := range cases {
		pts, err := LoadCenterlineJSON(strings.NewReader(doc), 0)
		if err != nil {
			t.Fatalf("%s: LoadCenterlineJSON: %v", name, err)
		}
		if len(pts) != 3 {
			t.Fatalf("%s: got %d points, want 3", name, len(pts))
		}
		if got := pts[2].X; got < 1.999 || got > 2.001 {
			t.Fatalf("%s: scaled x = %v, want 2 (mm)", name, got)
		}
	}
}

func TestLoadCenterlineJSONCustomScale(t *testing.T) {
	pts, err := LoadCenterlineJSON(strings.NewReader(`[[1,2,3],[4,5,6],[7,8,9]]`), 1)
	if err != nil {
		t.Fatalf("LoadCenterlineJSON: %v", err)
	}
	if pts[1] != (Vec3{X: 4, Y: 5, Z: 6}) {
		t.Fatalf("pts[1] = %+v", pts[1])
	}
}

func TestLoadCenterlineJSONRejectsGarbage(t *testing.T) {
	for _, doc := range []string{`"hello"`, `{"nope":1}`, `[[1,2]]`, `[{"x":1}]`, ``} {
		if _, err := LoadCenterlineJSON(strings.NewReader(doc), 1); !errors.Is(err, ErrUnknownCenterlineShape) {
			t.Fatalf("doc %q: err = %v, want ErrUnknownCenterlineShape", doc, err)
		}
	}
}

func TestLoadVesselDefinition(t *testing.T) {
	doc := `{
		"id": "coronary_lad",
		"name": "LAD",
		"description": "straight coronary segment",
		"scale": 100,
		"centerline": {"points": [[0,0,0],[0,0,0.1],[0,0,0.2],[0,0,0.3]]}
	}`
	def, err := LoadVesselDefinition(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadVesselDefinition: %v", err)
	}
	if def.ID != "coronary_lad" || def.Name != "LAD" || len(def.Centerline) != 4 {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if z := def.Centerline[3].Z; z < 29.999 || z > 30.001 {
		t.Fatalf("scaled z = %v, want 30", z)
	}
}

func TestLoadVesselDefinitionErrors(t *testing.T) {
	if _, err := LoadVesselDefinition(strings.NewReader(`{"name":"x","centerline":[[0,0,0],[1,0,0],[2,0,0]]}`)); err == nil {
		t.Fatalf("expected error for missing id")
	}
	_, err := LoadVesselDefinition(strings.NewReader(`{"id":"short","centerline":[[0,0,0],[1,0,0]]}`))
	if !errors.Is(err, ErrDegenerateCenterline) {
		t.Fatalf("err = %v, want ErrDegenerateCenterline", err)
	}
	if _, err := LoadVesselDefinition(strings.NewReader(`{`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
