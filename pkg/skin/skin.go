// Package skin provides a geometric stand-in for a host skinning system.
//
// ClosestInfluenceBinder binds each mesh vertex with weight 1 to its nearest
// influence, the result a skin bind limited to one influence per vertex
// produces on a rest pose.
package skin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Faultbox/meshmorph/pkg/math"
	"github.com/Faultbox/meshmorph/pkg/spatial"
)

// ErrReleased is returned when a binding is used after Release.
var ErrReleased = errors.New("skin: binding already released")

// ClosestInfluenceBinder implements spatial.SkinBinder. It keeps count of
// the bindings that have not been released yet.
type ClosestInfluenceBinder struct {
	mu   sync.Mutex
	live int
}

// NewClosestInfluenceBinder creates a binder.
func NewClosestInfluenceBinder() *ClosestInfluenceBinder {
	return &ClosestInfluenceBinder{}
}

// Bind weights every vertex of mesh to its closest influence.
func (b *ClosestInfluenceBinder) Bind(mesh spatial.SkinMesh, influences []math.Vec3) (spatial.SkinBinding, error) {
	if len(influences) == 0 {
		return nil, fmt.Errorf("skin: bind %q: no influences", mesh.Name())
	}
	verts := mesh.Vertices()
	tree := spatial.NewTree(influences)

	weights := make([][]float64, len(influences))
	for i := range weights {
		weights[i] = make([]float64, len(verts))
	}
	for v, p := range verts {
		// KNearest breaks distance ties on the lower influence index.
		nearest := tree.KNearest(p, 1)
		weights[nearest[0].Index][v] = 1
	}

	b.mu.Lock()
	b.live++
	b.mu.Unlock()
	return &binding{binder: b, weights: weights}, nil
}

// Live returns the number of bindings not yet released.
func (b *ClosestInfluenceBinder) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

type binding struct {
	binder   *ClosestInfluenceBinder
	weights  [][]float64
	released bool
}

func (s *binding) Weights() ([][]float64, error) {
	if s.released {
		return nil, ErrReleased
	}
	return s.weights, nil
}

func (s *binding) Release() error {
	if s.released {
		return ErrReleased
	}
	s.released = true
	s.weights = nil
	s.binder.mu.Lock()
	s.binder.live--
	s.binder.mu.Unlock()
	return nil
}
