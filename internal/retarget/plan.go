package retarget

import (
	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/meshmorph/pkg/cluster"
	"github.com/Faultbox/meshmorph/pkg/math"
	"github.com/Faultbox/meshmorph/pkg/rbf"
	"github.com/Faultbox/meshmorph/pkg/spatial"
)

// clusterPlan is the destination-independent part of one cluster: which
// target vertices it moves, which source vertices drive it, and the
// factored system over those source positions.
type clusterPlan struct {
	id       int
	vertices []int
	subset   []int
	radius   float64
	system   *rbf.System
}

type targetPlan struct {
	target    Source
	positions []math.Vec3
	clusters  []*clusterPlan
	err       *ClusterError
}

// source is the rest pose every target is planned against.
type source struct {
	positions []math.Vec3
	tree      *spatial.Tree
}

func (r *Retargeter) planTarget(src *source, target Source) *targetPlan {
	p := &targetPlan{target: target, positions: target.Vertices()}
	n := len(p.positions)

	assignment := cluster.Single(n)
	if n > r.opts.MaxVertices {
		k := cluster.CountFor(n, r.opts.MaxVertices)
		a, err := cluster.Partition(p.positions, k, r.clusterOptions())
		if err != nil {
			p.err = &ClusterError{Target: target.Name(), Cluster: -1, Err: err}
			return p
		}
		assignment = a
	}

	// Source selection may call collaborators and must stay on the calling
	// goroutine. Only the factorizations run in parallel.
	p.clusters = make([]*clusterPlan, assignment.Len())
	for i, vertices := range assignment.Groups {
		c, err := r.selectControls(src, p.positions, i, vertices)
		if err != nil {
			p.err = &ClusterError{Target: target.Name(), Cluster: i, Err: err}
			return p
		}
		p.clusters[i] = c
	}

	errs := make([]error, len(p.clusters))
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i, c := range p.clusters {
		g.Go(func() error {
			errs[i] = r.buildSystem(src, c)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			p.err = &ClusterError{Target: target.Name(), Cluster: i, Err: err}
			return p
		}
	}

	r.log.Info("planned target",
		zap.String("target", target.Name()),
		zap.Int("vertices", n),
		zap.Int("clusters", len(p.clusters)))
	return p
}

// selectControls picks the source vertices that drive one cluster.
func (r *Retargeter) selectControls(src *source, positions []math.Vec3, id int, vertices []int) (*clusterPlan, error) {
	pts := make([]math.Vec3, len(vertices))
	for j, v := range vertices {
		pts[j] = positions[v]
	}

	var radius float64
	for _, p := range pts {
		if nb, ok := src.tree.Nearest(p); ok && nb.Distance > radius {
			radius = nb.Distance
		}
	}
	radius *= r.opts.RadiusMultiplier

	query := r.opts.Query
	if query == nil {
		query = spatial.RadiusQuery{Radius: radius}
	}
	res, err := query.Indices(src.positions, pts)
	if err != nil {
		return nil, err
	}
	res, err = spatial.EnsureMinimum(src.positions, pts, res, rbf.MinControlPoints)
	if err != nil {
		return nil, err
	}

	union := roaring.New()
	for _, idx := range res {
		for _, v := range idx {
			union.Add(uint32(v))
		}
	}
	subset := make([]int, 0, union.GetCardinality())
	it := union.Iterator()
	for it.HasNext() {
		subset = append(subset, int(it.Next()))
	}
	if len(subset) < rbf.MinControlPoints {
		return nil, &rbf.InsufficientControlPointsError{Have: len(subset), Need: rbf.MinControlPoints}
	}
	return &clusterPlan{id: id, vertices: vertices, subset: subset, radius: radius}, nil
}

// buildSystem factors the system over the cluster's source subset.
func (r *Retargeter) buildSystem(src *source, c *clusterPlan) error {
	before := make([]math.Vec3, len(c.subset))
	for j, v := range c.subset {
		before[j] = src.positions[v]
	}
	sys, err := rbf.Build(before, r.rbfOptions()...)
	if err != nil {
		return err
	}
	c.system = sys

	r.log.Debug("planned cluster",
		zap.Int("cluster", c.id),
		zap.Int("vertices", len(c.vertices)),
		zap.Int("controls", len(c.subset)),
		zap.Float64("radius", c.radius),
		zap.Float64("condition", sys.Condition()))
	return nil
}
