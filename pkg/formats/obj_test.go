package formats

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Faultbox/meshmorph/pkg/math"
	"github.com/Faultbox/meshmorph/pkg/mesh"
)

const testOBJ = `# a quad and a triangle
mtllib scene.mtl
o Plane
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vn 0 0 1
v 0.5 0.5 1.25 1.0
s off
f 1/1/1 2/1/1 3/1/1 4/1/1
f -5//1 -4//1 -1//1
`

func TestParseOBJ_ValidFile(t *testing.T) {
	obj, err := ParseOBJ([]byte(testOBJ))
	if err != nil {
		t.Fatalf("ParseOBJ failed: %v", err)
	}

	if obj.Name != "Plane" {
		t.Errorf("expected name Plane, got %q", obj.Name)
	}
	if len(obj.Vertices) != 5 {
		t.Fatalf("expected 5 vertices, got %d", len(obj.Vertices))
	}
	if obj.Vertices[4] != math.V3(0.5, 0.5, 1.25) {
		t.Errorf("expected vertex 4 (0.5,0.5,1.25), got %v", obj.Vertices[4])
	}
	if len(obj.Faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(obj.Faces))
	}

	wantFaces := [][]int{{0, 1, 2, 3}, {0, 1, 4}}
	for i, want := range wantFaces {
		got := obj.Faces[i]
		if len(got) != len(want) {
			t.Fatalf("face %d: expected %v, got %v", i, want, got)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("face %d: expected %v, got %v", i, want, got)
				break
			}
		}
	}
}

func TestParseOBJ_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"short vertex", "v 1 2\n", ErrInvalidOBJVertex},
		{"bad float", "v 1 x 2\n", ErrInvalidOBJVertex},
		{"short face", "v 0 0 0\nv 1 0 0\nf 1 2\n", ErrInvalidOBJFace},
		{"zero index", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 0 1 2\n", ErrInvalidOBJFace},
		{"index past end", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 4\n", ErrOBJFaceIndex},
		{"relative before start", "v 0 0 0\nf -1 -2 -3\n", ErrOBJFaceIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOBJ([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestOBJ_RoundTrip(t *testing.T) {
	m, err := mesh.New("thing", []math.Vec3{
		math.V3(0.1, -2.5e-7, 3),
		math.V3(1.0/3.0, 0, 0),
		math.V3(0, 1, 1e10),
		math.V3(-4, 5, 6),
	}, [][]int{{0, 1, 2, 3}, {3, 2, 1}})
	if err != nil {
		t.Fatalf("mesh.New failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "thing.obj")
	if err := WriteOBJFile(path, m); err != nil {
		t.Fatalf("WriteOBJFile failed: %v", err)
	}

	got, err := LoadMesh(path)
	if err != nil {
		t.Fatalf("LoadMesh failed: %v", err)
	}
	if got.Name() != "thing" {
		t.Errorf("expected name thing, got %q", got.Name())
	}
	if !mesh.SameTopology(m, got) {
		t.Errorf("topology changed: %v", m.Topology().Diff(got.Topology()))
	}
	want := m.Vertices()
	for i, v := range got.Vertices() {
		if v != want[i] {
			t.Errorf("vertex %d: expected %v, got %v", i, want[i], v)
		}
	}
}

func TestLoadMesh_NameFallsBackToPath(t *testing.T) {
	m, _ := mesh.New("", []math.Vec3{{}, {X: 1}, {Y: 1}}, [][]int{{0, 1, 2}})
	var buf bytes.Buffer
	if err := WriteOBJ(&buf, m); err != nil {
		t.Fatalf("WriteOBJ failed: %v", err)
	}
	if bytes.Contains(buf.Bytes(), []byte("o ")) {
		t.Errorf("unnamed mesh should not write an object line")
	}

	obj, err := ParseOBJ(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseOBJ failed: %v", err)
	}
	named, err := obj.Mesh("fallback")
	if err != nil {
		t.Fatalf("Mesh failed: %v", err)
	}
	if named.Name() != "fallback" {
		t.Errorf("expected fallback, got %q", named.Name())
	}
}

func TestParseOBJFile_Missing(t *testing.T) {
	if _, err := ParseOBJFile(filepath.Join(t.TempDir(), "nope.obj")); err == nil {
		t.Error("expected error for missing file")
	}
}
