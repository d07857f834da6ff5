package cluster

import (
	gomath "math"
	"math/rand"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/Faultbox/meshmorph/pkg/math"
)

// Defaults for Options.
const (
	DefaultSeed          = 42
	DefaultRestarts      = 10
	DefaultMaxIterations = 300
)

// Options configures Partition. Zero fields take the defaults.
type Options struct {
	Seed          int64
	Restarts      int
	MaxIterations int
	Logger        *zap.Logger
}

// DefaultOptions returns the default k-means settings.
func DefaultOptions() Options {
	return Options{Seed: DefaultSeed, Restarts: DefaultRestarts, MaxIterations: DefaultMaxIterations}
}

func (o Options) withDefaults() Options {
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.Restarts <= 0 {
		o.Restarts = DefaultRestarts
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Partition groups positions into at most k clusters by k-means. k larger
// than len(positions) is clamped and clusters that end up empty are dropped,
// so the returned Assignment may hold fewer than k groups. Callers must use
// Len rather than k.
func Partition(positions []math.Vec3, k int, opts Options) (Assignment, error) {
	if k < 1 {
		return Assignment{}, &InvalidClusterCountError{K: k}
	}
	n := len(positions)
	if n == 0 {
		return Assignment{}, nil
	}
	if k > n {
		k = n
	}
	if k == 1 {
		return Single(n), nil
	}
	opts = opts.withDefaults()

	rng := rand.New(rand.NewSource(opts.Seed))
	var (
		bestLabels  []int
		bestInertia = gomath.Inf(1)
	)
	for r := 0; r < opts.Restarts; r++ {
		centers := seedPlusPlus(rng, positions, k)
		labels, inertia, iters := lloyd(positions, centers, opts.MaxIterations)
		opts.Logger.Debug("kmeans restart",
			zap.Int("restart", r),
			zap.Int("iterations", iters),
			zap.Float64("inertia", inertia))
		if inertia < bestInertia {
			bestInertia = inertia
			bestLabels = labels
		}
	}

	a := fromLabels(bestLabels, k)
	opts.Logger.Debug("kmeans done",
		zap.Int("vertices", n),
		zap.Int("k", k),
		zap.Int("groups", a.Len()),
		zap.Float64("inertia", bestInertia))
	return a, nil
}

// seedPlusPlus picks k initial centers: the first uniformly, each next one
// with probability proportional to its squared distance to the nearest
// chosen center.
func seedPlusPlus(rng *rand.Rand, positions []math.Vec3, k int) []math.Vec3 {
	n := len(positions)
	centers := make([]math.Vec3, 0, k)
	centers = append(centers, positions[rng.Intn(n)])

	d2 := make([]float64, n)
	for i, p := range positions {
		d2[i] = p.DistanceSq(centers[0])
	}
	cum := make([]float64, n)
	for len(centers) < k {
		floats.CumSum(cum, d2)
		total := cum[n-1]

		var next int
		if total <= 0 {
			// Every point coincides with a center.
			next = rng.Intn(n)
		} else {
			next = sort.SearchFloat64s(cum, rng.Float64()*total)
			if next >= n {
				next = n - 1
			}
		}
		c := positions[next]
		centers = append(centers, c)
		for i, p := range positions {
			if d := p.DistanceSq(c); d < d2[i] {
				d2[i] = d
			}
		}
	}
	return centers
}

// lloyd refines centers in place and returns the final labels, the inertia
// (sum of squared distances to the assigned center) and the iterations run.
// An emptied cluster keeps its previous center.
func lloyd(positions []math.Vec3, centers []math.Vec3, maxIter int) ([]int, float64, int) {
	k := len(centers)
	labels := make([]int, len(positions))
	for i := range labels {
		labels[i] = -1
	}
	sums := make([]math.Vec3, k)
	counts := make([]int, k)

	iter := 0
	for iter < maxIter {
		iter++
		changed := false
		for i, p := range positions {
			best := nearestCenter(p, centers)
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		for j := range sums {
			sums[j] = math.Vec3{}
			counts[j] = 0
		}
		for i, p := range positions {
			sums[labels[i]] = sums[labels[i]].Add(p)
			counts[labels[i]]++
		}
		for j := range centers {
			if counts[j] > 0 {
				centers[j] = sums[j].Scale(1 / float64(counts[j]))
			}
		}
	}

	var inertia float64
	for i, p := range positions {
		inertia += p.DistanceSq(centers[labels[i]])
	}
	return labels, inertia, iter
}

func nearestCenter(p math.Vec3, centers []math.Vec3) int {
	best := 0
	bestDist := p.DistanceSq(centers[0])
	for j := 1; j < len(centers); j++ {
		if d := p.DistanceSq(centers[j]); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}
