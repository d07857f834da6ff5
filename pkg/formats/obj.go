// Package formats reads and writes mesh file formats.
// OBJ (Wavefront) format parser and writer for polygon meshes.
package formats

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Faultbox/meshmorph/pkg/math"
	"github.com/Faultbox/meshmorph/pkg/mesh"
)

// OBJ format errors.
var (
	ErrInvalidOBJVertex = errors.New("invalid OBJ vertex")
	ErrInvalidOBJFace   = errors.New("invalid OBJ face")
	ErrOBJFaceIndex     = errors.New("OBJ face index out of range")
)

// OBJ is the geometry of a Wavefront OBJ file. Texture coordinates, normals
// and materials are skipped. Vertex and face order follow the file.
type OBJ struct {
	Name     string       // First object (o) or group (g) name
	Vertices []math.Vec3  // Vertex positions
	Faces    [][]int      // Zero-based vertex index loops
}

// ParseOBJ parses OBJ data from bytes.
func ParseOBJ(data []byte) (*OBJ, error) {
	return ReadOBJ(bytes.NewReader(data))
}

// ReadOBJ parses OBJ data from r.
func ReadOBJ(r io.Reader) (*OBJ, error) {
	obj := &OBJ{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "v":
			v, err := parseOBJVertex(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			obj.Vertices = append(obj.Vertices, v)
		case "f":
			face, err := parseOBJFace(fields[1:], len(obj.Vertices))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			obj.Faces = append(obj.Faces, face)
		case "o", "g":
			if obj.Name == "" && len(fields) > 1 {
				obj.Name = strings.Join(fields[1:], " ")
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading OBJ: %w", err)
	}

	// Faces may only reference vertices declared before them, but a
	// forward reference is still checked against the final count.
	for fi, f := range obj.Faces {
		for _, v := range f {
			if v >= len(obj.Vertices) {
				return nil, fmt.Errorf("face %d: %w: %d", fi, ErrOBJFaceIndex, v+1)
			}
		}
	}
	return obj, nil
}

func parseOBJVertex(fields []string) (math.Vec3, error) {
	if len(fields) < 3 {
		return math.Vec3{}, fmt.Errorf("%w: need 3 coordinates, got %d", ErrInvalidOBJVertex, len(fields))
	}
	var c [3]float64
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return math.Vec3{}, fmt.Errorf("%w: %v", ErrInvalidOBJVertex, err)
		}
		c[i] = f
	}
	return math.V3(c[0], c[1], c[2]), nil
}

// parseOBJFace parses "f v/vt/vn ..." corners. Negative indices are relative
// to the vertices read so far.
func parseOBJFace(fields []string, seen int) ([]int, error) {
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: need 3 corners, got %d", ErrInvalidOBJFace, len(fields))
	}
	face := make([]int, len(fields))
	for i, f := range fields {
		ref := f
		if j := strings.IndexByte(f, '/'); j >= 0 {
			ref = f[:j]
		}
		idx, err := strconv.Atoi(ref)
		if err != nil || idx == 0 {
			return nil, fmt.Errorf("%w: corner %q", ErrInvalidOBJFace, f)
		}
		if idx < 0 {
			idx = seen + idx
		} else {
			idx--
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrOBJFaceIndex, f)
		}
		face[i] = idx
	}
	return face, nil
}

// ParseOBJFile reads and parses an OBJ file from disk.
func ParseOBJFile(path string) (*OBJ, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening OBJ file: %w", err)
	}
	defer f.Close()
	return ReadOBJ(f)
}

// Mesh converts the OBJ into a mesh. An empty name uses the OBJ name.
func (o *OBJ) Mesh(name string) (*mesh.Mesh, error) {
	if name == "" {
		name = o.Name
	}
	return mesh.New(name, o.Vertices, o.Faces)
}

// LoadMesh reads an OBJ file as a mesh. The mesh is named after the OBJ
// object, or the file path when the file has none.
func LoadMesh(path string) (*mesh.Mesh, error) {
	obj, err := ParseOBJFile(path)
	if err != nil {
		return nil, err
	}
	name := obj.Name
	if name == "" {
		name = path
	}
	return obj.Mesh(name)
}

// WriteOBJ writes m as OBJ text. Floats use the shortest representation
// that reads back exactly.
func WriteOBJ(w io.Writer, m *mesh.Mesh) error {
	bw := bufio.NewWriter(w)
	if m.Name() != "" {
		fmt.Fprintf(bw, "o %s\n", m.Name())
	}
	for _, v := range m.Vertices() {
		bw.WriteString("v ")
		bw.WriteString(strconv.FormatFloat(v.X, 'g', -1, 64))
		bw.WriteByte(' ')
		bw.WriteString(strconv.FormatFloat(v.Y, 'g', -1, 64))
		bw.WriteByte(' ')
		bw.WriteString(strconv.FormatFloat(v.Z, 'g', -1, 64))
		bw.WriteByte('\n')
	}
	for i := 0; i < m.FaceCount(); i++ {
		bw.WriteByte('f')
		for _, v := range m.Face(i) {
			bw.WriteByte(' ')
			bw.WriteString(strconv.Itoa(v + 1))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteOBJFile writes m to path, replacing any existing file.
func WriteOBJFile(path string, m *mesh.Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating OBJ file: %w", err)
	}
	if err := WriteOBJ(f, m); err != nil {
		f.Close()
		return fmt.Errorf("writing OBJ file: %w", err)
	}
	return f.Close()
}
