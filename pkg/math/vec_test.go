package math

import (
	"math"
	"testing"
)

func TestVec3Cross(t *testing.T) {
	x := Vec3{1, 0, 0}
	y := Vec3{0, 1, 0}
	got := x.Cross(y)
	want := Vec3{0, 0, 1}
	if got != want {
		t.Errorf("Vec3.Cross() = %v, want %v", got, want)
	}
}

func TestVec3Length(t *testing.T) {
	v := Vec3{3, 4, 12}
	if got := v.Length(); got != 13 {
		t.Errorf("Vec3.Length() = %v, want 13", got)
	}
	if got := v.LengthSq(); got != 169 {
		t.Errorf("Vec3.LengthSq() = %v, want 169", got)
	}
}

func TestVec3Normalize(t *testing.T) {
	n := Vec3{3, 4, 0}.Normalize()
	if l := n.Length(); math.Abs(l-1) > 1e-12 {
		t.Errorf("Vec3.Normalize().Length() = %v, want 1", l)
	}
	if z := (Vec3{}).Normalize(); z != (Vec3{}) {
		t.Errorf("zero vector should normalize to zero, got %v", z)
	}
}

func TestVec3Axis(t *testing.T) {
	v := Vec3{1, 2, 3}
	for i, want := range []float64{1, 2, 3} {
		if got := v.Axis(i); got != want {
			t.Errorf("Axis(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestCentroidAndBounds(t *testing.T) {
	pts := []Vec3{{0, 0, 0}, {2, 0, 0}, {2, 4, 0}, {0, 4, -2}}

	c := Centroid(pts)
	if !c.ApproxEqual(Vec3{1, 2, -0.5}, 1e-12) {
		t.Errorf("Centroid = %v, want (1, 2, -0.5)", c)
	}

	lo, hi := Bounds(pts)
	if lo != (Vec3{0, 0, -2}) || hi != (Vec3{2, 4, 0}) {
		t.Errorf("Bounds = %v %v", lo, hi)
	}

	if Centroid(nil) != (Vec3{}) {
		t.Error("Centroid of nothing should be zero")
	}
}

func TestVec3Lerp(t *testing.T) {
	a := Vec3{0, 0, 0}
	b := Vec3{10, 20, 30}

	result := a.Lerp(b, 0.5)
	expected := Vec3{5, 10, 15}
	if !result.ApproxEqual(expected, 1e-12) {
		t.Errorf("Lerp: expected %v, got %v", expected, result)
	}
}
