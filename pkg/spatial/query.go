// Package spatial selects, for each query point, the control points that take
// part in its local interpolation.
package spatial

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Faultbox/meshmorph/pkg/math"
)

// Kind tags an IndexQuery strategy.
type Kind int

const (
	KindDistance Kind = iota
	KindRadius
	KindNearestRadius
	KindSkin
)

var kindNames = map[Kind]string{
	KindDistance:      "distance",
	KindRadius:        "radius",
	KindNearestRadius: "nearest_radius",
	KindSkin:          "skin",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

var (
	// ErrUnknownKind is returned for an unrecognised strategy name.
	ErrUnknownKind = errors.New("spatial: unknown query kind")
	// ErrNoControls is returned when a strategy is asked to select from an empty set.
	ErrNoControls = errors.New("spatial: no control points")
)

// IndexQuery selects control indices for each query point.
// Result entry i corresponds to queries[i]. Strategies never pad entries to a
// minimum size; see EnsureMinimum.
type IndexQuery interface {
	Indices(controls, queries []math.Vec3) ([][]int, error)
	Kind() Kind
}

// DistanceQuery selects the K closest controls, nearest first. Ties keep the
// lower control index first.
type DistanceQuery struct {
	K int
}

func (DistanceQuery) Kind() Kind { return KindDistance }

func (q DistanceQuery) Indices(controls, queries []math.Vec3) ([][]int, error) {
	if q.K <= 0 {
		return nil, fmt.Errorf("spatial: distance query needs K > 0, got %d", q.K)
	}
	if len(controls) == 0 {
		return nil, ErrNoControls
	}
	tree := NewTree(controls)
	out := make([][]int, len(queries))
	for i, p := range queries {
		out[i] = indicesOf(tree.KNearest(p, q.K))
	}
	return out, nil
}

// RadiusQuery selects every control within Radius (inclusive) in ascending
// index order. Entries may be empty.
type RadiusQuery struct {
	Radius float64
}

func (RadiusQuery) Kind() Kind { return KindRadius }

func (q RadiusQuery) Indices(controls, queries []math.Vec3) ([][]int, error) {
	if q.Radius < 0 {
		return nil, fmt.Errorf("spatial: negative radius %g", q.Radius)
	}
	tree := NewTree(controls)
	out := make([][]int, len(queries))
	for i, p := range queries {
		idx := indicesOf(tree.Within(p, q.Radius))
		sort.Ints(idx)
		out[i] = idx
	}
	return out, nil
}

// NearestRadiusQuery selects every control within Multiplier times the
// distance to the nearest control. The nearest control is always included.
type NearestRadiusQuery struct {
	Multiplier float64
}

func (NearestRadiusQuery) Kind() Kind { return KindNearestRadius }

func (q NearestRadiusQuery) Indices(controls, queries []math.Vec3) ([][]int, error) {
	if q.Multiplier <= 0 {
		return nil, fmt.Errorf("spatial: nearest radius multiplier must be positive, got %g", q.Multiplier)
	}
	if len(controls) == 0 {
		return nil, ErrNoControls
	}
	tree := NewTree(controls)
	out := make([][]int, len(queries))
	for i, p := range queries {
		nearest, _ := tree.Nearest(p)
		found := tree.Within(p, nearest.Distance*q.Multiplier)
		idx := indicesOf(found)
		if !containsInt(idx, nearest.Index) {
			idx = append(idx, nearest.Index)
		}
		sort.Ints(idx)
		out[i] = idx
	}
	return out, nil
}

// EnsureMinimum re-resolves every entry of result holding fewer than min
// indices with a DistanceQuery of size min. result is modified in place and
// returned.
func EnsureMinimum(controls, queries []math.Vec3, result [][]int, min int) ([][]int, error) {
	if len(result) != len(queries) {
		return nil, fmt.Errorf("spatial: %d results for %d queries", len(result), len(queries))
	}
	var short []int
	for i, r := range result {
		if len(r) < min {
			short = append(short, i)
		}
	}
	if len(short) == 0 {
		return result, nil
	}
	if len(controls) == 0 {
		return nil, ErrNoControls
	}
	tree := NewTree(controls)
	for _, i := range short {
		result[i] = indicesOf(tree.KNearest(queries[i], min))
	}
	return result, nil
}

// Config describes a strategy by name. Fields irrelevant to the chosen kind
// are ignored.
type Config struct {
	Kind            string
	K               int
	Radius          float64
	Multiplier      float64
	Binder          SkinBinder
	Mesh            SkinMesh
	MaxVertices     int
	WeightThreshold float64
}

// New builds the strategy named by cfg.Kind.
func New(cfg Config) (IndexQuery, error) {
	kind, err := ParseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindDistance:
		return DistanceQuery{K: cfg.K}, nil
	case KindRadius:
		return RadiusQuery{Radius: cfg.Radius}, nil
	case KindNearestRadius:
		return NearestRadiusQuery{Multiplier: cfg.Multiplier}, nil
	case KindSkin:
		if cfg.Binder == nil || cfg.Mesh == nil {
			return nil, errors.New("spatial: skin query needs a binder and a mesh")
		}
		return &SkinQuery{
			Binder:          cfg.Binder,
			Mesh:            cfg.Mesh,
			MaxVertices:     cfg.MaxVertices,
			WeightThreshold: cfg.WeightThreshold,
		}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
