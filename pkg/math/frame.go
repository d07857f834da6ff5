package math

import "math"

// Frame is a right-handed orthonormal basis. X, Y and Z are the world-space
// directions of the local axes.
type Frame struct {
	X, Y, Z Vec3
}

// FrameIdentity returns the world axes.
func FrameIdentity() Frame {
	return Frame{X: Vec3{1, 0, 0}, Y: Vec3{0, 1, 0}, Z: Vec3{0, 0, 1}}
}

// FrameFromVectors builds a frame whose X axis is primary and whose Y axis is
// secondary made orthogonal to primary (Gram–Schmidt). Z completes the basis.
// ok is false when either vector is zero or they are parallel.
func FrameFromVectors(primary, secondary Vec3) (f Frame, ok bool) {
	x := primary.Normalize()
	s := secondary.Normalize()
	if x == (Vec3{}) || s == (Vec3{}) {
		return FrameIdentity(), false
	}
	y := s.Sub(x.Scale(x.Dot(s)))
	if y.Length() < 1e-12 {
		return FrameIdentity(), false
	}
	y = y.Normalize()
	return Frame{X: x, Y: y, Z: x.Cross(y)}, true
}

// ToLocal expresses the world vector v in frame coordinates.
func (f Frame) ToLocal(v Vec3) Vec3 {
	return Vec3{v.Dot(f.X), v.Dot(f.Y), v.Dot(f.Z)}
}

// ToWorld maps frame coordinates back to a world vector.
func (f Frame) ToWorld(l Vec3) Vec3 {
	return f.X.Scale(l.X).Add(f.Y.Scale(l.Y)).Add(f.Z.Scale(l.Z))
}

// Quat returns the rotation that carries the world axes onto the frame.
func (f Frame) Quat() Quat {
	m00, m01, m02 := f.X.X, f.Y.X, f.Z.X
	m10, m11, m12 := f.X.Y, f.Y.Y, f.Z.Y
	m20, m21, m22 := f.X.Z, f.Y.Z, f.Z.Z

	var q Quat
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = Quat{W: 0.25 * s, X: (m21 - m12) / s, Y: (m02 - m20) / s, Z: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = Quat{W: (m21 - m12) / s, X: 0.25 * s, Y: (m01 + m10) / s, Z: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = Quat{W: (m02 - m20) / s, X: (m01 + m10) / s, Y: 0.25 * s, Z: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = Quat{W: (m10 - m01) / s, X: (m02 + m20) / s, Y: (m12 + m21) / s, Z: 0.25 * s}
	}
	return q.Normalize()
}

// Mat4 returns the frame as a rotation matrix.
func (f Frame) Mat4() Mat4 {
	return Mat4{
		f.X.X, f.X.Y, f.X.Z, 0,
		f.Y.X, f.Y.Y, f.Y.Z, 0,
		f.Z.X, f.Z.Y, f.Z.Z, 0,
		0, 0, 0, 1,
	}
}
