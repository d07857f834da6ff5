// Package barycentric re-expresses points relative to a mesh surface so they
// can be recomputed after the mesh is deformed.
//
// An Attachment stores the closest face and triangle, the barycentric weights
// of the closest surface point and the remaining offset expressed in a frame
// built from the triangle. Decoding against a mesh of the same topology in a
// different pose carries the point along with the surface.
package barycentric

import (
	"errors"
	"fmt"

	"github.com/Faultbox/meshmorph/pkg/math"
)

// offsetEpsilon is the distance below which a point is considered on the surface.
const offsetEpsilon = 1e-10

// ErrDegenerateTriangle is returned when a triangle has no usable normal or edge.
var ErrDegenerateTriangle = errors.New("barycentric: degenerate triangle")

// Hit is the closest surface point to a query.
type Hit struct {
	Face     int
	Triangle int
	Point    math.Vec3
	// Weights are the barycentric coordinates of Point in the triangle.
	Weights [3]float64
}

// SurfaceMesh is the mesh surface points are attached to. Faces are polygons
// split into triangles; Triangle returns the corners in world space.
type SurfaceMesh interface {
	ClosestPoint(p math.Vec3) (Hit, error)
	Triangle(face, triangle int) ([3]math.Vec3, error)
	FaceCount() int
	TriangleCount(face int) int
}

// Attachment is a point (and optional rotation) expressed relative to a
// triangle of a mesh.
type Attachment struct {
	Face     int        `json:"face"`
	Triangle int        `json:"triangle"`
	Weights  [3]float64 `json:"weights"`
	Offset   math.Vec3  `json:"offset"`
	// Rotation is relative to the triangle frame. Nil when no rotation was encoded.
	Rotation *math.Quat `json:"rotation,omitempty"`
}

// StaleReferenceError reports an attachment whose face or triangle no longer
// exists on the mesh it is decoded against.
type StaleReferenceError struct {
	Face      int
	Triangle  int
	FaceCount int
	// TriangleCount is the triangle count of Face, or -1 when Face itself is missing.
	TriangleCount int
}

func (e *StaleReferenceError) Error() string {
	if e.TriangleCount < 0 {
		return fmt.Sprintf("barycentric: stale reference: face %d out of range (mesh has %d faces)", e.Face, e.FaceCount)
	}
	return fmt.Sprintf("barycentric: stale reference: triangle %d of face %d out of range (face has %d triangles)",
		e.Triangle, e.Face, e.TriangleCount)
}

// PointError identifies the point of a batch that failed.
type PointError struct {
	Index int
	Err   error
}

func (e *PointError) Error() string {
	return fmt.Sprintf("point %d: %v", e.Index, e.Err)
}

func (e *PointError) Unwrap() error { return e.Err }

// triangleFrame is the frame of tri: X along the geometric normal, Y along
// the edge from the second corner to the first.
func triangleFrame(tri [3]math.Vec3) (math.Frame, error) {
	normal := tri[1].Sub(tri[0]).Cross(tri[2].Sub(tri[0]))
	edge := tri[0].Sub(tri[1])
	f, ok := math.FrameFromVectors(normal, edge)
	if !ok {
		return math.Frame{}, ErrDegenerateTriangle
	}
	return f, nil
}

// Encode attaches point to the closest triangle of mesh. rotation may be nil.
func Encode(mesh SurfaceMesh, point math.Vec3, rotation *math.Quat) (Attachment, error) {
	hit, err := mesh.ClosestPoint(point)
	if err != nil {
		return Attachment{}, fmt.Errorf("barycentric: closest point: %w", err)
	}
	tri, err := mesh.Triangle(hit.Face, hit.Triangle)
	if err != nil {
		return Attachment{}, fmt.Errorf("barycentric: face %d triangle %d: %w", hit.Face, hit.Triangle, err)
	}
	frame, err := triangleFrame(tri)
	if err != nil {
		return Attachment{}, fmt.Errorf("face %d triangle %d: %w", hit.Face, hit.Triangle, err)
	}

	a := Attachment{Face: hit.Face, Triangle: hit.Triangle, Weights: hit.Weights}
	if d := point.Sub(hit.Point); d.Length() >= offsetEpsilon {
		a.Offset = frame.ToLocal(d)
	}
	if rotation != nil {
		rel := frame.Quat().Inverse().Mul(rotation.Normalize()).Normalize()
		a.Rotation = &rel
	}
	return a, nil
}

// Decode recomputes the world position, and rotation when one was encoded,
// of a against the current state of mesh.
func Decode(mesh SurfaceMesh, a Attachment) (math.Vec3, *math.Quat, error) {
	faces := mesh.FaceCount()
	if a.Face < 0 || a.Face >= faces {
		return math.Vec3{}, nil, &StaleReferenceError{Face: a.Face, Triangle: a.Triangle, FaceCount: faces, TriangleCount: -1}
	}
	if tris := mesh.TriangleCount(a.Face); a.Triangle < 0 || a.Triangle >= tris {
		return math.Vec3{}, nil, &StaleReferenceError{Face: a.Face, Triangle: a.Triangle, FaceCount: faces, TriangleCount: tris}
	}
	tri, err := mesh.Triangle(a.Face, a.Triangle)
	if err != nil {
		return math.Vec3{}, nil, fmt.Errorf("barycentric: face %d triangle %d: %w", a.Face, a.Triangle, err)
	}
	frame, err := triangleFrame(tri)
	if err != nil {
		return math.Vec3{}, nil, fmt.Errorf("face %d triangle %d: %w", a.Face, a.Triangle, err)
	}

	p := tri[0].Scale(a.Weights[0]).Add(tri[1].Scale(a.Weights[1])).Add(tri[2].Scale(a.Weights[2]))
	p = p.Add(frame.ToWorld(a.Offset))

	if a.Rotation == nil {
		return p, nil, nil
	}
	rot := frame.Quat().Mul(*a.Rotation).Normalize()
	return p, &rot, nil
}

// EncodeAll encodes every point. rotations may be nil, otherwise it must be
// as long as points and may hold nil entries. The first failure is returned
// as a *PointError.
func EncodeAll(mesh SurfaceMesh, points []math.Vec3, rotations []*math.Quat) ([]Attachment, error) {
	if rotations != nil && len(rotations) != len(points) {
		return nil, fmt.Errorf("barycentric: %d rotations for %d points", len(rotations), len(points))
	}
	out := make([]Attachment, len(points))
	for i, p := range points {
		var rot *math.Quat
		if rotations != nil {
			rot = rotations[i]
		}
		a, err := Encode(mesh, p, rot)
		if err != nil {
			return nil, &PointError{Index: i, Err: err}
		}
		out[i] = a
	}
	return out, nil
}

// DecodeAll decodes every attachment. The returned rotation slice holds nil
// for attachments without a rotation.
func DecodeAll(mesh SurfaceMesh, attachments []Attachment) ([]math.Vec3, []*math.Quat, error) {
	points := make([]math.Vec3, len(attachments))
	rots := make([]*math.Quat, len(attachments))
	for i, a := range attachments {
		p, r, err := Decode(mesh, a)
		if err != nil {
			return nil, nil, &PointError{Index: i, Err: err}
		}
		points[i], rots[i] = p, r
	}
	return points, rots, nil
}
