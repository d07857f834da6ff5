package cluster

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// InvalidClusterCountError is returned when fewer than one cluster is requested.
type InvalidClusterCountError struct {
	K int
}

func (e *InvalidClusterCountError) Error() string {
	return fmt.Sprintf("cluster: invalid cluster count %d", e.K)
}

// Assignment is a partition of the vertex indices [0, VertexCount).
// Groups are sorted ascending and ordered by their smallest index.
type Assignment struct {
	Groups      [][]int
	VertexCount int
}

// Len returns the number of groups.
func (a Assignment) Len() int { return len(a.Groups) }

// Validate checks that the groups are non-empty, disjoint and cover every
// vertex index exactly once.
func (a Assignment) Validate() error {
	seen := roaring.New()
	for gi, g := range a.Groups {
		if len(g) == 0 {
			return fmt.Errorf("cluster: group %d is empty", gi)
		}
		for _, v := range g {
			if v < 0 || v >= a.VertexCount {
				return fmt.Errorf("cluster: group %d: vertex %d out of range [0, %d)", gi, v, a.VertexCount)
			}
			if !seen.CheckedAdd(uint32(v)) {
				return fmt.Errorf("cluster: group %d: vertex %d assigned twice", gi, v)
			}
		}
	}
	if got := seen.GetCardinality(); got != uint64(a.VertexCount) {
		return fmt.Errorf("cluster: %d of %d vertices assigned", got, a.VertexCount)
	}
	return nil
}

// CountFor returns how many clusters of at most maxPerCluster vertices are
// needed for vertexCount vertices. It is never less than 1.
func CountFor(vertexCount, maxPerCluster int) int {
	if maxPerCluster <= 0 || vertexCount <= maxPerCluster {
		return 1
	}
	return (vertexCount + maxPerCluster - 1) / maxPerCluster
}

// Single returns the assignment holding every vertex in one group.
func Single(vertexCount int) Assignment {
	a := Assignment{VertexCount: vertexCount}
	if vertexCount == 0 {
		return a
	}
	g := make([]int, vertexCount)
	for i := range g {
		g[i] = i
	}
	a.Groups = [][]int{g}
	return a
}

// fromLabels turns a per-vertex label slice into an ordered Assignment.
func fromLabels(labels []int, k int) Assignment {
	buckets := make([][]int, k)
	for v, l := range labels {
		buckets[l] = append(buckets[l], v)
	}
	a := Assignment{VertexCount: len(labels)}
	for _, b := range buckets {
		if len(b) > 0 {
			a.Groups = append(a.Groups, b)
		}
	}
	// Vertices were appended in index order, so each group is sorted and
	// its first element is its smallest.
	sort.Slice(a.Groups, func(i, j int) bool { return a.Groups[i][0] < a.Groups[j][0] })
	return a
}
