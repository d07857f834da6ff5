package cluster

import (
	"fmt"
	"sort"

	"github.com/Faultbox/meshmorph/pkg/math"
)

// SplitAxis sorts the vertices along axis (0, 1 or 2 for X, Y, Z) and cuts
// them into splits contiguous groups whose sizes differ by at most one.
// splits larger than len(positions) is clamped.
func SplitAxis(positions []math.Vec3, splits, axis int) (Assignment, error) {
	if splits < 2 {
		return Assignment{}, &InvalidClusterCountError{K: splits}
	}
	if axis < 0 || axis > 2 {
		return Assignment{}, fmt.Errorf("cluster: invalid axis %d", axis)
	}
	n := len(positions)
	if n == 0 {
		return Assignment{}, nil
	}
	if splits > n {
		splits = n
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return positions[order[i]].Axis(axis) < positions[order[j]].Axis(axis)
	})

	labels := make([]int, n)
	base, extra := n/splits, n%splits
	pos := 0
	for s := 0; s < splits; s++ {
		size := base
		if s < extra {
			size++
		}
		for _, v := range order[pos : pos+size] {
			labels[v] = s
		}
		pos += size
	}
	return fromLabels(labels, splits), nil
}
