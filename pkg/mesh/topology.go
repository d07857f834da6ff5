package mesh

import "fmt"

// Topology is the connectivity of a mesh, independent of vertex positions.
type Topology struct {
	VertexCount int
	Faces       [][]int
}

// Topology returns a copy of the mesh connectivity.
func (m *Mesh) Topology() Topology {
	t := Topology{VertexCount: len(m.vertices), Faces: make([][]int, len(m.faces))}
	for i, f := range m.faces {
		t.Faces[i] = append([]int(nil), f...)
	}
	return t
}

// Equal reports whether t and o describe the same connectivity.
func (t Topology) Equal(o Topology) bool {
	return t.Diff(o) == nil
}

// Diff describes the first difference between t and o, or returns nil.
func (t Topology) Diff(o Topology) error {
	if t.VertexCount != o.VertexCount {
		return fmt.Errorf("vertex count %d != %d", t.VertexCount, o.VertexCount)
	}
	if len(t.Faces) != len(o.Faces) {
		return fmt.Errorf("face count %d != %d", len(t.Faces), len(o.Faces))
	}
	for i := range t.Faces {
		a, b := t.Faces[i], o.Faces[i]
		if len(a) != len(b) {
			return fmt.Errorf("face %d has %d corners, want %d", i, len(b), len(a))
		}
		for j := range a {
			if a[j] != b[j] {
				return fmt.Errorf("face %d corner %d is vertex %d, want %d", i, j, b[j], a[j])
			}
		}
	}
	return nil
}

// SameTopology reports whether a and b share vertex count and face loops.
func SameTopology(a, b *Mesh) bool {
	return a.Topology().Equal(b.Topology())
}
