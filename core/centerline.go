package core

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerateCenterline is returned when a centerline has fewer than
// MinCenterlinePoints points or contains non-finite coordinates.
var ErrDegenerateCenterline = errors.New("degenerate centerline")

const (
	// MinCenterlinePoints is the smallest polyline accepted as a centerline.
	MinCenterlinePoints = 3

	// MaxArcParam is the upper bound applied to u before arc-length lookup.
	MaxArcParam = 0.999999

	curvatureStep = 0.002
	curvatureUMax = 0.999
	minChord      = 1e-5
	minDeltaU     = 1e-9
)

// Centerline is an immutable ordered polyline approximating the vessel's
// medial axis, from proximal to distal. The arc-length table is built once
// on construction.
type Centerline struct {
	points []Vec3
	cum    []float64
}

// NewCenterline copies pts and builds the arc-length table.
func NewCenterline(pts []Vec3) (*Centerline, error) {
	if len(pts) < MinCenterlinePoints {
		return nil, fmt.Errorf("%w: %d points, need at least %d", ErrDegenerateCenterline, len(pts), MinCenterlinePoints)
	}
	cp := make([]Vec3, len(pts))
	for i, p := range pts {
		if !p.Finite() {
			return nil, fmt.Errorf("%w: point %d is not finite", ErrDegenerateCenterline, i)
		}
		cp[i] = p
	}
	return &Centerline{points: cp, cum: accumulateArcLengths(cp)}, nil
}

// StandardBendCenterline returns the built-in gently bending vessel with the
// given number of samples (200 when samples < MinCenterlinePoints).
func StandardBendCenterline(samples int) *Centerline {
	if samples < MinCenterlinePoints {
		samples = 200
	}
	pts := make([]Vec3, samples)
	for i := range pts {
		t := float64(i) / float64(samples-1)
		pts[i] = Vec3{
			X: t*3 - 1.5,
			Y: math.Sin(t*math.Pi*1.5) * 0.4,
			Z: math.Cos(t*math.Pi) * 0.2,
		}
	}
	return &Centerline{points: pts, cum: accumulateArcLengths(pts)}
}

// StraightCenterline returns a straight vessel of the given length along +X.
func StraightCenterline(samples int, length float64) *Centerline {
	if samples < MinCenterlinePoints {
		samples = 100
	}
	pts := make([]Vec3, samples)
	for i := range pts {
		t := float64(i) / float64(samples-1)
		pts[i] = Vec3{X: t * length}
	}
	return &Centerline{points: pts, cum: accumulateArcLengths(pts)}
}

func accumulateArcLengths(pts []Vec3) []float64 {
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + pts[i].DistanceTo(pts[i-1])
	}
	return cum
}

// Len returns the number of control points.
func (c *Centerline) Len() int {
	if c == nil {
		return 0
	}
	return len(c.points)
}

// Points returns a copy of the control points.
func (c *Centerline) Points() []Vec3 {
	if c == nil {
		return nil
	}
	out := make([]Vec3, len(c.points))
	copy(out, c.points)
	return out
}

// ArcLengths returns a copy of the cumulative arc-length table.
func (c *Centerline) ArcLengths() []float64 {
	if c == nil {
		return nil
	}
	out := make([]float64, len(c.cum))
	copy(out, c.cum)
	return out
}

// TotalLength returns the polyline length.
func (c *Centerline) TotalLength() float64 {
	if c == nil || len(c.cum) == 0 {
		return 0
	}
	return c.cum[len(c.cum)-1]
}

// IndexAt maps u to the nearest lower control point index.
func (c *Centerline) IndexAt(u float64) int {
	n := c.Len()
	if n == 0 {
		return 0
	}
	i := int(math.Floor(clamp01(u) * float64(n-1)))
	if i > n-1 {
		i = n - 1
	}
	return i
}

// PointAt maps u in [0,1] to a point on the Catmull-Rom spline through the
// control points. Neighbour indices are clamped at the ends.
func (c *Centerline) PointAt(u float64) Vec3 {
	n := c.Len()
	if n == 0 {
		return Vec3{}
	}
	u = clamp01(u)
	if u == 0 {
		return c.points[0]
	}
	if u == 1 {
		return c.points[n-1]
	}
	f := u * float64(n-1)
	i := int(math.Floor(f))
	if i >= n-1 {
		return c.points[n-1]
	}
	t := f - float64(i)
	return catmullRom(c.at(i-1), c.at(i), c.at(i+1), c.at(i+2), t)
}

// TangentAt returns the unit tangent at u, estimated by central differences.
func (c *Centerline) TangentAt(u float64) Vec3 {
	if c.Len() == 0 {
		return Vec3{}
	}
	const h = 1e-4
	a := c.PointAt(math.Max(0, u-h))
	b := c.PointAt(math.Min(1, u+h))
	return b.Sub(a).Normalize()
}

// ArcLengthBetween returns the arc length between two curve parameters.
// Both parameters are clamped to [0, MaxArcParam] before lookup.
func (c *Centerline) ArcLengthBetween(u0, u1 float64) float64 {
	if c.Len() < 2 {
		return 0
	}
	if math.Abs(u0-u1) < minDeltaU {
		return 0
	}
	return math.Abs(c.arcAt(u1) - c.arcAt(u0))
}

func (c *Centerline) arcAt(u float64) float64 {
	u = clamp(u, 0, MaxArcParam)
	if math.IsNaN(u) {
		u = 0
	}
	f := u * float64(len(c.cum)-1)
	i := int(math.Floor(f))
	if i >= len(c.cum)-1 {
		return c.cum[len(c.cum)-1]
	}
	frac := f - float64(i)
	return c.cum[i] + (c.cum[i+1]-c.cum[i])*frac
}

// CurvatureAt returns the turning angle per unit of u around u, in radians.
// It returns 0 when either neighbouring chord is too short to give a
// direction.
func (c *Centerline) CurvatureAt(u float64) float64 {
	if c.Len() < MinCenterlinePoints {
		return 0
	}
	u = clamp(clamp01(u), 0, curvatureUMax)
	p0 := c.PointAt(math.Max(0, u-curvatureStep))
	p1 := c.PointAt(u)
	p2 := c.PointAt(math.Min(curvatureUMax, u+curvatureStep))
	v1 := p1.Sub(p0)
	v2 := p2.Sub(p1)
	if v1.Norm() < minChord || v2.Norm() < minChord {
		return 0
	}
	return v1.AngleTo(v2) / curvatureStep
}

// SamplePolyline returns n points evenly spaced over u in [0, uEnd].
func (c *Centerline) SamplePolyline(uEnd float64, n int) []Vec3 {
	if c.Len() == 0 || n <= 0 {
		return nil
	}
	end := math.Max(0.001, clamp01(uEnd))
	if n == 1 {
		return []Vec3{c.PointAt(0)}
	}
	out := make([]Vec3, n)
	for i := range out {
		out[i] = c.PointAt(end * float64(i) / float64(n-1))
	}
	return out
}

func (c *Centerline) at(i int) Vec3 {
	if i < 0 {
		i = 0
	}
	if i > len(c.points)-1 {
		i = len(c.points) - 1
	}
	return c.points[i]
}

// catmullRom evaluates the uniform Catmull-Rom segment between p1 and p2.
func catmullRom(p0, p1, p2, p3 Vec3, t float64) Vec3 {
	t2 := t * t
	t3 := t2 * t
	eval := func(a, b, c, d float64) float64 {
		return 0.5 * ((2 * b) +
			(-a+c)*t +
			(2*a-5*b+4*c-d)*t2 +
			(-a+3*b-3*c+d)*t3)
	}
	return Vec3{
		X: eval(p0.X, p1.X, p2.X, p3.X),
		Y: eval(p0.Y, p1.Y, p2.Y, p3.Y),
		Z: eval(p0.Z, p1.Z, p2.Z, p3.Z),
	}
}
