package mesh

import (
	gomath "math"

	"github.com/Faultbox/meshmorph/pkg/math"
)

// Ray represents a ray in 3D space with origin and direction.
type Ray struct {
	Origin    math.Vec3
	Direction math.Vec3 // Normalized direction
}

// NewRay creates a ray, normalizing dir. ok is false for a zero direction.
func NewRay(origin, dir math.Vec3) (r Ray, ok bool) {
	d := dir.Normalize()
	if d == (math.Vec3{}) {
		return Ray{}, false
	}
	return Ray{Origin: origin, Direction: d}, true
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float64) math.Vec3 {
	return r.Origin.Add(r.Direction.Scale(t))
}

// AABB represents an axis-aligned bounding box.
type AABB struct {
	Min math.Vec3
	Max math.Vec3
}

// NewAABB returns the bounding box of points.
func NewAABB(points []math.Vec3) AABB {
	lo, hi := math.Bounds(points)
	return AABB{Min: lo, Max: hi}
}

// IntersectAABB tests ray intersection with an axis-aligned bounding box.
// Returns the distance to intersection (t) and whether intersection occurred.
// If the ray starts inside the box, returns the exit distance.
func (r Ray) IntersectAABB(box AABB) (t float64, hit bool) {
	tmin := -gomath.MaxFloat64
	tmax := gomath.MaxFloat64

	for axis := 0; axis < 3; axis++ {
		o := r.Origin.Axis(axis)
		d := r.Direction.Axis(axis)
		lo, hi := box.Min.Axis(axis), box.Max.Axis(axis)
		if d == 0 {
			if o < lo || o > hi {
				return 0, false
			}
			continue
		}
		t1 := (lo - o) / d
		t2 := (hi - o) / d
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = gomath.Max(tmin, t1)
		tmax = gomath.Min(tmax, t2)
	}

	// Check if intersection is valid
	if tmax < tmin || tmax < 0 {
		return 0, false
	}

	// Return entry point, or exit point if starting inside
	if tmin < 0 {
		return tmax, true
	}
	return tmin, true
}

// IntersectTriangle intersects the ray with triangle (a, b, c) from either
// side (Möller–Trumbore). It returns the distance along the ray and the
// barycentric weights of the hit point.
func (r Ray) IntersectTriangle(a, b, c math.Vec3) (t float64, weights [3]float64, hit bool) {
	const eps = 1e-12

	e1 := b.Sub(a)
	e2 := c.Sub(a)
	p := r.Direction.Cross(e2)
	det := e1.Dot(p)
	if gomath.Abs(det) < eps {
		return 0, weights, false // Ray parallel to triangle
	}
	inv := 1 / det

	s := r.Origin.Sub(a)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, weights, false
	}
	q := s.Cross(e1)
	v := r.Direction.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, weights, false
	}
	t = e2.Dot(q) * inv
	if t < 0 {
		return 0, weights, false // Intersection behind ray origin
	}
	return t, [3]float64{1 - u - v, u, v}, true
}
