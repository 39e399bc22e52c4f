package core

import (
	"errors"
	"math"
)

// ErrEmptyMesh is returned when a triangle surface is built without any
// usable triangles.
var ErrEmptyMesh = errors.New("surface mesh has no triangles")

// Hit describes the first vessel wall found along a probe ray.
type Hit struct {
	Distance float64
	Normal   Vec3
}

// SurfaceQuery answers bounded ray probes against a vessel wall. Any spatial
// index can implement it.
type SurfaceQuery interface {
	// NearestSurface returns the first wall crossing along dir within
	// maxDist of origin, or false when nothing is found.
	NearestSurface(origin, dir Vec3, maxDist float64) (Hit, bool)
}

// availability is implemented by surfaces whose backing structure may fail
// to build.
type availability interface {
	Available() bool
}

// SurfaceAvailable reports whether s can answer queries.
func SurfaceAvailable(s SurfaceQuery) bool {
	if s == nil {
		return false
	}
	if a, ok := s.(availability); ok {
		return a.Available()
	}
	return true
}

// RadiusFunc returns the lumen radius at curve parameter u.
type RadiusFunc func(u float64) float64

const (
	narrowingCenter = 0.55
	narrowingWidth  = 0.06
	narrowingDepth  = 0.6
	bendPenaltyRate = 0.15
	bendPenaltyMax  = 0.6
	radiusFloorFrac = 3.0 / 14.0
)

// ProfileRadius returns the built-in lumen profile for cl: a Gaussian
// narrowing around u=0.55 plus a penalty on tight bends, never below 3/14
// of base.
func ProfileRadius(cl *Centerline, base float64) RadiusFunc {
	return func(u float64) float64 {
		g := math.Exp(-((u - narrowingCenter) * (u - narrowingCenter)) / (2 * narrowingWidth * narrowingWidth))
		r := base * (1 - narrowingDepth*g)
		bend := math.Min(bendPenaltyMax, cl.CurvatureAt(u)*bendPenaltyRate)
		return math.Max(base*radiusFloorFrac, r*(1-bend))
	}
}

// ConstantRadius returns a RadiusFunc with a fixed radius.
func ConstantRadius(r float64) RadiusFunc {
	return func(float64) float64 { return r }
}

const (
	tubeMarchSteps = 24
	tubeBisections = 24
)

// TubeSurface is an implicit tube around a centerline. Probes march the
// signed clearance field and refine the crossing by bisection.
type TubeSurface struct {
	cl     *Centerline
	radius RadiusFunc
}

// NewTubeSurface builds a tube around cl. A nil radius uses
// ProfileRadius(cl, 0.12).
func NewTubeSurface(cl *Centerline, radius RadiusFunc) (*TubeSurface, error) {
	if cl.Len() < MinCenterlinePoints {
		return nil, ErrDegenerateCenterline
	}
	if radius == nil {
		radius = ProfileRadius(cl, DefaultVesselRadius)
	}
	return &TubeSurface{cl: cl, radius: radius}, nil
}

// Available reports whether the tube has a usable centerline.
func (s *TubeSurface) Available() bool {
	return s != nil && s.cl.Len() >= MinCenterlinePoints
}

// Clearance returns the signed distance from p to the wall (positive inside
// the lumen) and the outward wall direction at the nearest axis point.
func (s *TubeSurface) Clearance(p Vec3) (float64, Vec3) {
	axis, u := s.nearestAxis(p)
	off := p.Sub(axis)
	return s.radius(u) - off.Norm(), off.Normalize()
}

func (s *TubeSurface) nearestAxis(p Vec3) (Vec3, float64) {
	pts := s.cl.points
	best := math.Inf(1)
	var bestPt Vec3
	var bestU float64
	last := float64(len(pts) - 1)
	for i := 0; i < len(pts)-1; i++ {
		q, t := closestOnSegment(p, pts[i], pts[i+1])
		d := p.Sub(q)
		if dd := d.Dot(d); dd < best {
			best = dd
			bestPt = q
			bestU = (float64(i) + t) / last
		}
	}
	return bestPt, bestU
}

// NearestSurface implements SurfaceQuery.
func (s *TubeSurface) NearestSurface(origin, dir Vec3, maxDist float64) (Hit, bool) {
	if !s.Available() || maxDist <= 0 {
		return Hit{}, false
	}
	dir = dir.Normalize()
	if dir.IsZero() {
		return Hit{}, false
	}
	c0, n0 := s.Clearance(origin)
	if c0 <= 0 {
		return Hit{Distance: 0, Normal: n0}, true
	}
	step := maxDist / tubeMarchSteps
	lo := 0.0
	for i := 1; i <= tubeMarchSteps; i++ {
		hi := step * float64(i)
		c, _ := s.Clearance(origin.Add(dir.Scale(hi)))
		if c > 0 {
			lo = hi
			continue
		}
		for j := 0; j < tubeBisections; j++ {
			mid := 0.5 * (lo + hi)
			if cm, _ := s.Clearance(origin.Add(dir.Scale(mid))); cm > 0 {
				lo = mid
			} else {
				hi = mid
			}
		}
		_, n := s.Clearance(origin.Add(dir.Scale(hi)))
		return Hit{Distance: hi, Normal: n}, true
	}
	return Hit{}, false
}

// Triangle is one face of a vessel wall mesh.
type Triangle struct {
	A, B, C Vec3
}

// Normal returns the unit face normal following the A, B, C winding.
func (t Triangle) Normal() Vec3 {
	return t.B.Sub(t.A).Cross(t.C.Sub(t.A)).Normalize()
}

// TriangleSurface answers probes against a triangle mesh by brute force.
type TriangleSurface struct {
	tris []Triangle
}

// NewTriangleSurface copies the non-degenerate triangles of tris.
func NewTriangleSurface(tris []Triangle) (*TriangleSurface, error) {
	out := make([]Triangle, 0, len(tris))
	for _, t := range tris {
		if t.Normal().IsZero() {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, ErrEmptyMesh
	}
	return &TriangleSurface{tris: out}, nil
}

// Available reports whether the mesh has any triangles.
func (s *TriangleSurface) Available() bool {
	return s != nil && len(s.tris) > 0
}

// Len returns the number of triangles.
func (s *TriangleSurface) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tris)
}

// NearestSurface implements SurfaceQuery.
func (s *TriangleSurface) NearestSurface(origin, dir Vec3, maxDist float64) (Hit, bool) {
	if !s.Available() || maxDist <= 0 {
		return Hit{}, false
	}
	dir = dir.Normalize()
	if dir.IsZero() {
		return Hit{}, false
	}
	best := math.Inf(1)
	var hit Hit
	for _, t := range s.tris {
		d, ok := rayTriangle(origin, dir, t)
		if !ok || d > maxDist || d >= best {
			continue
		}
		best = d
		hit = Hit{Distance: d, Normal: t.Normal()}
	}
	return hit, !math.IsInf(best, 1)
}

// rayTriangle is the Moller-Trumbore intersection test.
func rayTriangle(origin, dir Vec3, t Triangle) (float64, bool) {
	const eps = 1e-12
	e1 := t.B.Sub(t.A)
	e2 := t.C.Sub(t.A)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(det) < eps {
		return 0, false
	}
	inv := 1 / det
	s := origin.Sub(t.A)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	d := e2.Dot(q) * inv
	if d < 0 {
		return 0, false
	}
	return d, true
}

// BuildTubeMesh tessellates a tube around cl with the given number of
// rings along the axis and segments around it. Face normals point outward.
func BuildTubeMesh(cl *Centerline, radius RadiusFunc, rings, segments int) []Triangle {
	if cl.Len() < MinCenterlinePoints || radius == nil {
		return nil
	}
	if rings < 2 {
		rings = 2
	}
	if segments < 3 {
		segments = 3
	}
	grid := make([][]Vec3, rings)
	for i := range grid {
		u := float64(i) / float64(rings-1)
		c := cl.PointAt(u)
		tan := cl.TangentAt(u)
		if tan.IsZero() {
			tan = Vec3{X: 1}
		}
		up := Vec3{Y: 1}
		if math.Abs(tan.Dot(up)) > 0.9 {
			up = Vec3{Z: 1}
		}
		b1 := tan.Cross(up).Normalize()
		b2 := tan.Cross(b1).Normalize()
		r := radius(u)
		ring := make([]Vec3, segments)
		for j := range ring {
			a := 2 * math.Pi * float64(j) / float64(segments)
			off := b1.Scale(math.Cos(a) * r).Add(b2.Scale(math.Sin(a) * r))
			ring[j] = c.Add(off)
		}
		grid[i] = ring
	}
	tris := make([]Triangle, 0, 2*(rings-1)*segments)
	for i := 0; i < rings-1; i++ {
		c := cl.PointAt(float64(i) / float64(rings-1))
		for j := 0; j < segments; j++ {
			k := (j + 1) % segments
			a, b := grid[i][j], grid[i][k]
			d, e := grid[i+1][j], grid[i+1][k]
			for _, t := range []Triangle{{A: a, B: d, C: b}, {A: b, B: d, C: e}} {
				if t.Normal().Dot(t.A.Sub(c)) < 0 {
					t.B, t.C = t.C, t.B
				}
				tris = append(tris, t)
			}
		}
	}
	return tris
}
