package core

import (
	"errors"
	"math"
	"testing"
)

func colinear(n int) []Vec3 {
	pts := make([]Vec3, n)
	for i := range pts {
		pts[i] = Vec3{X: float64(i)}
	}
	return pts
}

func TestNewCenterlineRejectsDegenerate(t *testing.T) {
	_, err := NewCenterline([]Vec3{{}, {X: 1}})
	if !errors.Is(err, ErrDegenerateCenterline) {
		t.Fatalf("NewCenterline(2 points) err = %v, want ErrDegenerateCenterline", err)
	}
	_, err = NewCenterline([]Vec3{{}, {X: math.NaN()}, {X: 2}})
	if !errors.Is(err, ErrDegenerateCenterline) {
		t.Fatalf("NewCenterline(NaN) err = %v, want ErrDegenerateCenterline", err)
	}
}

func TestArcLengthsMonotonic(t *testing.T) {
	cl := StandardBendCenterline(200)
	cum := cl.ArcLengths()
	if cum[0] != 0 {
		t.Fatalf("cum[0] = %v, want 0", cum[0])
	}
	for i := 1; i < len(cum); i++ {
		if cum[i] < cum[i-1] {
			t.Fatalf("cum[%d] = %v < cum[%d] = %v", i, cum[i], i-1, cum[i-1])
		}
	}
	for _, u := range []float64{0, 0.1, 0.5, 0.999, 1} {
		if got := cl.ArcLengthBetween(u, u); got != 0 {
			t.Fatalf("ArcLengthBetween(%v, %v) = %v, want 0", u, u, got)
		}
	}
}

func TestArcLengthBetweenColinear(t *testing.T) {
	cl, err := NewCenterline(colinear(100))
	if err != nil {
		t.Fatalf("NewCenterline: %v", err)
	}
	if got := cl.ArcLengthBetween(0, 1); math.Abs(got-99) > 1e-3 {
		t.Fatalf("ArcLengthBetween(0, 1) = %v, want 99", got)
	}
	if got := cl.ArcLengthBetween(1, 0); math.Abs(got-99) > 1e-3 {
		t.Fatalf("ArcLengthBetween(1, 0) = %v, want 99", got)
	}
	if got := cl.ArcLengthBetween(0.25, 0.5); math.Abs(got-24.75) > 1e-9 {
		t.Fatalf("ArcLengthBetween(0.25, 0.5) = %v, want 24.75", got)
	}
	if got := cl.ArcLengthBetween(-3, 7); math.Abs(got-99) > 1e-3 {
		t.Fatalf("ArcLengthBetween clamps out-of-range input, got %v", got)
	}
}

func TestPointAtEndpointsAndColinear(t *testing.T) {
	cl, err := NewCenterline(colinear(11))
	if err != nil {
		t.Fatalf("NewCenterline: %v", err)
	}
	if got := cl.PointAt(0); got != (Vec3{}) {
		t.Fatalf("PointAt(0) = %+v, want origin", got)
	}
	if got := cl.PointAt(1); got != (Vec3{X: 10}) {
		t.Fatalf("PointAt(1) = %+v, want (10,0,0)", got)
	}
	// Catmull-Rom reproduces evenly spaced colinear points exactly.
	if got := cl.PointAt(0.55); math.Abs(got.X-5.5) > 1e-9 || got.Y != 0 || got.Z != 0 {
		t.Fatalf("PointAt(0.55) = %+v, want (5.5,0,0)", got)
	}
}

func TestPointAtContinuousAcrossSegments(t *testing.T) {
	cl := StandardBendCenterline(20)
	for i := 1; i < 19; i++ {
		u := float64(i) / 19
		a := cl.PointAt(u - 1e-9)
		b := cl.PointAt(u + 1e-9)
		if a.DistanceTo(b) > 1e-6 {
			t.Fatalf("PointAt jumps at knot %d: %+v vs %+v", i, a, b)
		}
	}
}

func TestCurvatureAt(t *testing.T) {
	straight, err := NewCenterline(colinear(50))
	if err != nil {
		t.Fatalf("NewCenterline: %v", err)
	}
	for _, u := range []float64{0, 0.3, 0.7, 1} {
		if got := straight.CurvatureAt(u); got > 1e-3 {
			t.Fatalf("straight CurvatureAt(%v) = %v, want ~0", u, got)
		}
	}
	bend := StandardBendCenterline(200)
	if got := bend.CurvatureAt(0.5); got <= 0 {
		t.Fatalf("bend CurvatureAt(0.5) = %v, want > 0", got)
	}
	// coincident points have no direction
	flat, err := NewCenterline([]Vec3{{}, {}, {}})
	if err != nil {
		t.Fatalf("NewCenterline: %v", err)
	}
	if got := flat.CurvatureAt(0.5); got != 0 {
		t.Fatalf("coincident CurvatureAt = %v, want 0", got)
	}
}

func TestSamplePolyline(t *testing.T) {
	cl, err := NewCenterline(colinear(11))
	if err != nil {
		t.Fatalf("NewCenterline: %v", err)
	}
	pts := cl.SamplePolyline(0.5, 6)
	if len(pts) != 6 {
		t.Fatalf("len = %d, want 6", len(pts))
	}
	if pts[0] != (Vec3{}) || math.Abs(pts[5].X-5) > 1e-9 {
		t.Fatalf("SamplePolyline endpoints = %+v .. %+v", pts[0], pts[5])
	}
	pts = cl.SamplePolyline(0, 3)
	if pts[2].X <= 0 {
		t.Fatalf("SamplePolyline(0) must span a minimal interval, got %+v", pts)
	}
}

func TestTangentAtStraight(t *testing.T) {
	cl, err := NewCenterline(colinear(10))
	if err != nil {
		t.Fatalf("NewCenterline: %v", err)
	}
	if got := cl.TangentAt(0.5); math.Abs(got.X-1) > 1e-9 {
		t.Fatalf("TangentAt(0.5) = %+v, want +X", got)
	}
}

func TestIndexAt(t *testing.T) {
	cl, _ := NewCenterline(colinear(101))
	if got := cl.IndexAt(0.5); got != 50 {
		t.Fatalf("IndexAt(0.5) = %d, want 50", got)
	}
	if got := cl.IndexAt(2); got != 100 {
		t.Fatalf("IndexAt(2) = %d, want 100", got)
	}
}
