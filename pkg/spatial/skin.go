package spatial

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/Faultbox/meshmorph/pkg/math"
)

const (
	// DefaultWeightThreshold is the weight a vertex must exceed to be selected.
	DefaultWeightThreshold = 0.001
	// DefaultSkinMaxVertices caps the selection per query point. 0 means no cap.
	DefaultSkinMaxVertices = 100
)

// SkinMesh is the mesh a SkinBinder binds influences to.
type SkinMesh interface {
	Name() string
	Vertices() []math.Vec3
}

// SkinBinder creates a temporary binding of one influence per position to a
// mesh, each vertex bound to at most one influence.
type SkinBinder interface {
	Bind(mesh SkinMesh, influences []math.Vec3) (SkinBinding, error)
}

// SkinBinding is a temporary skin. Release must be called exactly once.
type SkinBinding interface {
	// Weights returns, per influence, the weight of every mesh vertex.
	Weights() ([][]float64, error)
	Release() error
}

// SkinQuery selects the mesh vertices a binder assigns to each query point.
// Controls must be the vertices of Mesh, in order.
type SkinQuery struct {
	Binder SkinBinder
	Mesh   SkinMesh
	// MaxVertices keeps only the nearest vertices when more are selected.
	// 0 keeps all of them.
	MaxVertices int
	// WeightThreshold defaults to DefaultWeightThreshold when zero.
	WeightThreshold float64
}

func (*SkinQuery) Kind() Kind { return KindSkin }

func (q *SkinQuery) Indices(controls, queries []math.Vec3) (_ [][]int, err error) {
	if q.Binder == nil || q.Mesh == nil {
		return nil, fmt.Errorf("spatial: skin query needs a binder and a mesh")
	}
	if n := len(q.Mesh.Vertices()); n != len(controls) {
		return nil, fmt.Errorf("spatial: mesh %q vertex count mismatch: %d != %d", q.Mesh.Name(), len(controls), n)
	}
	if q.MaxVertices < 0 {
		return nil, fmt.Errorf("spatial: negative max vertices %d", q.MaxVertices)
	}
	threshold := q.WeightThreshold
	if threshold == 0 {
		threshold = DefaultWeightThreshold
	}

	binding, err := q.Binder.Bind(q.Mesh, queries)
	if err != nil {
		return nil, fmt.Errorf("spatial: bind %q: %w", q.Mesh.Name(), err)
	}
	defer func() {
		if rerr := binding.Release(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("spatial: release binding: %w", rerr))
		}
	}()

	weights, err := binding.Weights()
	if err != nil {
		return nil, fmt.Errorf("spatial: read weights: %w", err)
	}
	if len(weights) != len(queries) {
		return nil, fmt.Errorf("spatial: binding returned %d influences for %d queries", len(weights), len(queries))
	}

	out := make([][]int, len(queries))
	for i, w := range weights {
		if len(w) != len(controls) {
			return nil, fmt.Errorf("spatial: influence %d has %d weights for %d vertices", i, len(w), len(controls))
		}
		var selected []int
		for v, x := range w {
			if x > threshold {
				selected = append(selected, v)
			}
		}
		if q.MaxVertices > 0 && len(selected) > q.MaxVertices {
			selected = closest(controls, queries[i], selected, q.MaxVertices)
		}
		out[i] = selected
	}
	return out, nil
}

// closest keeps the n members of idx nearest to p, nearest first.
func closest(controls []math.Vec3, p math.Vec3, idx []int, n int) []int {
	ns := make([]Neighbor, len(idx))
	for i, v := range idx {
		ns[i] = Neighbor{Index: v, Distance: controls[v].Distance(p)}
	}
	sortNeighbors(ns)
	return indicesOf(ns[:n])
}
