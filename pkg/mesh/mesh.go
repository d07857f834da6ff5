// Package mesh is an in-memory polygon mesh: vertex positions plus polygon
// faces given as vertex index loops. Faces are fan-triangulated from their
// first corner.
package mesh

import (
	"errors"
	"fmt"

	"github.com/Faultbox/meshmorph/pkg/barycentric"
	"github.com/Faultbox/meshmorph/pkg/math"
)

var (
	// ErrNoFaces is returned by surface queries on a mesh without faces.
	ErrNoFaces = errors.New("mesh: no faces")
	// ErrVertexIndex is returned for an out-of-range vertex index.
	ErrVertexIndex = errors.New("mesh: vertex index out of range")
	// ErrFaceIndex is returned for an out-of-range face or triangle index.
	ErrFaceIndex = errors.New("mesh: face index out of range")
)

// Mesh is a named polygon mesh.
type Mesh struct {
	name     string
	vertices []math.Vec3
	faces    [][]int
}

// New creates a mesh. vertices and faces are copied. Every face needs at
// least three corners, each a valid vertex index.
func New(name string, vertices []math.Vec3, faces [][]int) (*Mesh, error) {
	m := &Mesh{
		name:     name,
		vertices: append([]math.Vec3(nil), vertices...),
		faces:    make([][]int, len(faces)),
	}
	for i, f := range faces {
		if len(f) < 3 {
			return nil, fmt.Errorf("mesh %q: face %d has %d corners", name, i, len(f))
		}
		for _, v := range f {
			if v < 0 || v >= len(vertices) {
				return nil, fmt.Errorf("mesh %q: face %d: %w: %d", name, i, ErrVertexIndex, v)
			}
		}
		m.faces[i] = append([]int(nil), f...)
	}
	return m, nil
}

// Name returns the mesh name.
func (m *Mesh) Name() string { return m.name }

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int { return len(m.vertices) }

// Vertices returns a copy of the vertex positions.
func (m *Mesh) Vertices() []math.Vec3 {
	return append([]math.Vec3(nil), m.vertices...)
}

// Vertex returns the position of vertex i.
func (m *Mesh) Vertex(i int) (math.Vec3, error) {
	if i < 0 || i >= len(m.vertices) {
		return math.Vec3{}, fmt.Errorf("mesh %q: %w: %d", m.name, ErrVertexIndex, i)
	}
	return m.vertices[i], nil
}

// SetVertex moves vertex i to p.
func (m *Mesh) SetVertex(i int, p math.Vec3) error {
	if i < 0 || i >= len(m.vertices) {
		return fmt.Errorf("mesh %q: %w: %d", m.name, ErrVertexIndex, i)
	}
	m.vertices[i] = p
	return nil
}

// SetVertices replaces every vertex position. len(ps) must equal VertexCount.
func (m *Mesh) SetVertices(ps []math.Vec3) error {
	if len(ps) != len(m.vertices) {
		return fmt.Errorf("mesh %q: %d positions for %d vertices", m.name, len(ps), len(m.vertices))
	}
	copy(m.vertices, ps)
	return nil
}

// FaceCount returns the number of polygon faces.
func (m *Mesh) FaceCount() int { return len(m.faces) }

// Face returns a copy of the vertex loop of face i, or nil when out of range.
func (m *Mesh) Face(i int) []int {
	if i < 0 || i >= len(m.faces) {
		return nil
	}
	return append([]int(nil), m.faces[i]...)
}

// TriangleCount returns the number of fan triangles of face, 0 when the
// face does not exist.
func (m *Mesh) TriangleCount(face int) int {
	if face < 0 || face >= len(m.faces) {
		return 0
	}
	return len(m.faces[face]) - 2
}

// TriangleIndices returns the vertex indices of triangle tri of face.
func (m *Mesh) TriangleIndices(face, tri int) ([3]int, error) {
	if face < 0 || face >= len(m.faces) {
		return [3]int{}, fmt.Errorf("mesh %q: %w: face %d", m.name, ErrFaceIndex, face)
	}
	f := m.faces[face]
	if tri < 0 || tri >= len(f)-2 {
		return [3]int{}, fmt.Errorf("mesh %q: %w: face %d triangle %d", m.name, ErrFaceIndex, face, tri)
	}
	return [3]int{f[0], f[tri+1], f[tri+2]}, nil
}

// Triangle returns the corner positions of triangle tri of face.
func (m *Mesh) Triangle(face, tri int) ([3]math.Vec3, error) {
	idx, err := m.TriangleIndices(face, tri)
	if err != nil {
		return [3]math.Vec3{}, err
	}
	return [3]math.Vec3{m.vertices[idx[0]], m.vertices[idx[1]], m.vertices[idx[2]]}, nil
}

// ClosestPoint returns the closest point on the surface to p. Ties keep the
// lowest face and triangle.
func (m *Mesh) ClosestPoint(p math.Vec3) (barycentric.Hit, error) {
	var best barycentric.Hit
	bestDist := -1.0
	for fi, f := range m.faces {
		for t := 0; t < len(f)-2; t++ {
			a, b, c := m.vertices[f[0]], m.vertices[f[t+1]], m.vertices[f[t+2]]
			q, w := closestOnTriangle(p, a, b, c)
			if d := p.DistanceSq(q); bestDist < 0 || d < bestDist {
				bestDist = d
				best = barycentric.Hit{Face: fi, Triangle: t, Point: q, Weights: w}
			}
		}
	}
	if bestDist < 0 {
		return barycentric.Hit{}, fmt.Errorf("mesh %q: %w", m.name, ErrNoFaces)
	}
	return best, nil
}

// RayHit is the result of a ray query.
type RayHit struct {
	Face     int
	Triangle int
	Point    math.Vec3
	Distance float64
	Weights  [3]float64
}

// Intersect returns the nearest intersection of the ray from origin along
// dir with the surface. maxDist <= 0 means unlimited.
func (m *Mesh) Intersect(origin, dir math.Vec3, maxDist float64) (RayHit, bool) {
	ray, ok := NewRay(origin, dir)
	if !ok || len(m.faces) == 0 {
		return RayHit{}, false
	}
	if _, hit := ray.IntersectAABB(m.Bounds()); !hit {
		return RayHit{}, false
	}

	var best RayHit
	found := false
	for fi, f := range m.faces {
		for t := 0; t < len(f)-2; t++ {
			a, b, c := m.vertices[f[0]], m.vertices[f[t+1]], m.vertices[f[t+2]]
			d, w, hit := ray.IntersectTriangle(a, b, c)
			if !hit || (maxDist > 0 && d > maxDist) {
				continue
			}
			if !found || d < best.Distance {
				best = RayHit{Face: fi, Triangle: t, Point: ray.At(d), Distance: d, Weights: w}
				found = true
			}
		}
	}
	return best, found
}

// Bounds returns the bounding box of the vertices.
func (m *Mesh) Bounds() AABB {
	return NewAABB(m.vertices)
}

// Transform applies xf to every vertex in place.
func (m *Mesh) Transform(xf math.Mat4) {
	for i, v := range m.vertices {
		m.vertices[i] = xf.TransformPoint(v)
	}
}

// Clone returns a deep copy of m under a new name. An empty name keeps the
// current one.
func (m *Mesh) Clone(name string) *Mesh {
	if name == "" {
		name = m.name
	}
	c := &Mesh{
		name:     name,
		vertices: append([]math.Vec3(nil), m.vertices...),
		faces:    make([][]int, len(m.faces)),
	}
	for i, f := range m.faces {
		c.faces[i] = append([]int(nil), f...)
	}
	return c
}

// closestOnTriangle returns the point of triangle (a, b, c) closest to p and
// its barycentric weights.
func closestOnTriangle(p, a, b, c math.Vec3) (math.Vec3, [3]float64) {
	ab := b.Sub(a)
	ac := c.Sub(a)
	ap := p.Sub(a)
	d1 := ab.Dot(ap)
	d2 := ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return a, [3]float64{1, 0, 0}
	}

	bp := p.Sub(b)
	d3 := ab.Dot(bp)
	d4 := ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return b, [3]float64{0, 1, 0}
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		v := d1 / (d1 - d3)
		return a.Add(ab.Scale(v)), [3]float64{1 - v, v, 0}
	}

	cp := p.Sub(c)
	d5 := ab.Dot(cp)
	d6 := ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return c, [3]float64{0, 0, 1}
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		w := d2 / (d2 - d6)
		return a.Add(ac.Scale(w)), [3]float64{1 - w, 0, w}
	}

	va := d3*d6 - d5*d4
	if va <= 0 && d4-d3 >= 0 && d5-d6 >= 0 {
		w := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return b.Add(c.Sub(b).Scale(w)), [3]float64{0, 1 - w, w}
	}

	denom := 1 / (va + vb + vc)
	v := vb * denom
	w := vc * denom
	return a.Add(ab.Scale(v)).Add(ac.Scale(w)), [3]float64{1 - v - w, v, w}
}
