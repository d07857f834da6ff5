package spatial

import (
	gomath "math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/Faultbox/meshmorph/pkg/math"
)

// point is a kd-tree entry that remembers its index in the input slice.
type point struct {
	math.Vec3
	idx int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	return p.Axis(int(d)) - q.Axis(int(d))
}

func (p point) Dims() int { return 3 }

// Distance returns the squared euclidean distance, as kdtree keepers expect.
func (p point) Distance(c kdtree.Comparable) float64 {
	return p.DistanceSq(c.(point).Vec3)
}

type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Pivot(d kdtree.Dim) int                { return plane{points: p, Dim: d}.Pivot() }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }

type plane struct {
	kdtree.Dim
	points
}

func (p plane) Less(i, j int) bool {
	return p.points[i].Axis(int(p.Dim)) < p.points[j].Axis(int(p.Dim))
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

// Neighbor is a control index with its distance to a query.
type Neighbor struct {
	Index    int
	Distance float64
}

// Tree answers nearest-neighbour and radius queries over a fixed point set.
// Indices refer to positions in the slice passed to NewTree.
type Tree struct {
	tree *kdtree.Tree
	n    int
}

// NewTree builds a kd-tree over pts. pts is not retained.
func NewTree(pts []math.Vec3) *Tree {
	entries := make(points, len(pts))
	for i, p := range pts {
		entries[i] = point{Vec3: p, idx: i}
	}
	t := &Tree{n: len(pts)}
	if len(pts) > 0 {
		t.tree = kdtree.New(entries, false)
	}
	return t
}

// Len returns the number of indexed points.
func (t *Tree) Len() int { return t.n }

// Nearest returns the closest point to q. ok is false for an empty tree.
func (t *Tree) Nearest(q math.Vec3) (n Neighbor, ok bool) {
	if t.tree == nil {
		return Neighbor{}, false
	}
	c, d := t.tree.Nearest(point{Vec3: q, idx: -1})
	if c == nil {
		return Neighbor{}, false
	}
	return Neighbor{Index: c.(point).idx, Distance: gomath.Sqrt(d)}, true
}

// Within returns every point within radius of q (inclusive), sorted by
// ascending distance with ties broken by index.
func (t *Tree) Within(q math.Vec3, radius float64) []Neighbor {
	if t.tree == nil || radius < 0 || gomath.IsNaN(radius) {
		return nil
	}
	r2 := radius * radius
	// Search slightly wider so points exactly on the sphere survive
	// plane pruning, then trim to the exact bound.
	keeper := kdtree.NewDistKeeper(r2*(1+1e-9) + 1e-300)
	t.tree.NearestSet(keeper, point{Vec3: q, idx: -1})
	h := keeper.Heap[:0]
	for _, cd := range keeper.Heap {
		if cd.Dist <= r2 {
			h = append(h, cd)
		}
	}
	return collect(h)
}

// KNearest returns the k closest points to q sorted by ascending distance,
// ties broken by index. Fewer than k are returned when the tree is smaller.
func (t *Tree) KNearest(q math.Vec3, k int) []Neighbor {
	if t.tree == nil || k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keeper, point{Vec3: q, idx: -1})
	found := collect(keeper.Heap)
	if len(found) < k {
		return found
	}

	// The keeper drops arbitrary members of a tie at the k-th distance.
	// Re-query everything at that distance so the lowest indices win.
	kth := found[len(found)-1].Distance
	all := t.Within(q, kth*(1+1e-12))
	if len(all) > k {
		all = all[:k]
	}
	return all
}

func collect(h kdtree.Heap) []Neighbor {
	out := make([]Neighbor, 0, len(h))
	for _, cd := range h {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{Index: cd.Comparable.(point).idx, Distance: gomath.Sqrt(cd.Dist)})
	}
	sortNeighbors(out)
	return out
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Distance != ns[j].Distance {
			return ns[i].Distance < ns[j].Distance
		}
		return ns[i].Index < ns[j].Index
	})
}

func indicesOf(ns []Neighbor) []int {
	out := make([]int, len(ns))
	for i, n := range ns {
		out[i] = n.Index
	}
	return out
}
