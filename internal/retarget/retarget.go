// Package retarget transfers the deformation between two poses of a source
// mesh onto other meshes of any topology.
//
// Every target is split into clusters of nearby vertices. Each cluster is
// driven by a local RBF model fitted on the source vertices around it, from
// the source pose to each destination pose. Clustering, source selection and
// the factorization of every cluster system depend only on the source and
// the target, so they are computed once and reused for every destination.
package retarget

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/meshmorph/pkg/cluster"
	"github.com/Faultbox/meshmorph/pkg/math"
	"github.com/Faultbox/meshmorph/pkg/mesh"
	"github.com/Faultbox/meshmorph/pkg/rbf"
	"github.com/Faultbox/meshmorph/pkg/spatial"
)

// Defaults for Options.
const (
	DefaultMaxVertices      = 1000
	DefaultRadiusMultiplier = 1.0
)

// Source is a read-only mesh.
type Source interface {
	Name() string
	Vertices() []math.Vec3
	Topology() mesh.Topology
}

// TargetWriter receives the retargeted positions of one target.
type TargetWriter interface {
	SetVertex(i int, p math.Vec3) error
}

// OutputFunc returns the writer for the result of moving target by dst.
// It is only called once every cluster of the pair has succeeded.
type OutputFunc func(dst, target Source) (TargetWriter, error)

// Request names the meshes of one run.
type Request struct {
	// Source is the rest pose.
	Source Source
	// Destinations are deformed poses of Source with the same topology.
	Destinations []Source
	// Targets are the meshes to deform.
	Targets []Source
	Output  OutputFunc
}

// Options configures a Retargeter. Zero fields take the defaults.
type Options struct {
	// MaxVertices is the largest target that is solved as one cluster.
	MaxVertices int
	// RadiusMultiplier scales the per-cluster source selection radius.
	RadiusMultiplier float64
	// Query replaces the radius selection of source vertices.
	Query spatial.IndexQuery
	// Workers bounds the clusters solved concurrently.
	Workers int
	Cluster cluster.Options
	// ConditionLimit is passed to the rbf solver when positive.
	ConditionLimit float64
	Logger         *zap.Logger
	Hooks          Hooks
}

// Result is the outcome of one (destination, target) pair.
type Result struct {
	Destination string
	Target      string
	Clusters    int
	// Degenerate counts clusters solved with the pseudo-inverse.
	Degenerate int
	Err        error
}

// Retargeter runs retargeting requests.
type Retargeter struct {
	opts Options
	log  *zap.Logger
}

// New creates a Retargeter.
func New(opts Options) *Retargeter {
	if opts.MaxVertices <= 0 {
		opts.MaxVertices = DefaultMaxVertices
	}
	if opts.RadiusMultiplier <= 0 {
		opts.RadiusMultiplier = DefaultRadiusMultiplier
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Hooks == nil {
		opts.Hooks = NoopHooks{}
	}
	return &Retargeter{opts: opts, log: opts.Logger}
}

func (r *Retargeter) clusterOptions() cluster.Options {
	o := r.opts.Cluster
	if o.Logger == nil {
		o.Logger = r.log
	}
	return o
}

func (r *Retargeter) rbfOptions() []rbf.Option {
	o := []rbf.Option{rbf.WithLogger(r.log)}
	if r.opts.ConditionLimit > 0 {
		o = append(o, rbf.WithConditionLimit(r.opts.ConditionLimit))
	}
	return o
}

// Validate checks a request without doing any work.
func Validate(req Request) error {
	if req.Source == nil {
		return &ValidationError{Reason: "source mesh is required"}
	}
	if len(req.Destinations) == 0 {
		return &ValidationError{Reason: "at least one destination mesh is required"}
	}
	if len(req.Targets) == 0 {
		return &ValidationError{Reason: "at least one target mesh is required"}
	}
	if req.Output == nil {
		return &ValidationError{Reason: "output is required"}
	}
	if n := len(req.Source.Vertices()); n < rbf.MinControlPoints {
		return &ValidationError{Mesh: req.Source.Name(),
			Reason: fmt.Sprintf("source has %d vertices, need at least %d", n, rbf.MinControlPoints)}
	}

	topo := req.Source.Topology()
	for i, dst := range req.Destinations {
		if dst == nil {
			return &ValidationError{Reason: fmt.Sprintf("destination %d is missing", i)}
		}
		if err := topo.Diff(dst.Topology()); err != nil {
			return &ValidationError{Mesh: dst.Name(), Reason: fmt.Sprintf("topology differs from source %q: %v", req.Source.Name(), err)}
		}
	}
	for i, t := range req.Targets {
		if t == nil {
			return &ValidationError{Reason: fmt.Sprintf("target %d is missing", i)}
		}
	}
	return nil
}

// Run retargets every target onto every destination. A failing pair does
// not stop the others. The returned error combines the failures of every
// pair; each Result carries its own.
func (r *Retargeter) Run(ctx context.Context, req Request) ([]Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	positions := req.Source.Vertices()
	src := &source{positions: positions, tree: spatial.NewTree(positions)}

	plans := make([]*targetPlan, len(req.Targets))
	for i, t := range req.Targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		plans[i] = r.planTarget(src, t)
	}

	results := make([]Result, 0, len(req.Destinations)*len(req.Targets))
	var errs error
	for _, dst := range req.Destinations {
		dstPositions := dst.Vertices()
		for _, plan := range plans {
			res := Result{Destination: dst.Name(), Target: plan.target.Name(), Clusters: len(plan.clusters)}
			if err := ctx.Err(); err != nil {
				res.Err = err
			} else {
				res.Degenerate, res.Err = r.runPair(ctx, req, dst, dstPositions, plan)
			}
			if res.Err != nil {
				r.log.Warn("retarget failed",
					zap.String("destination", res.Destination),
					zap.String("target", res.Target),
					zap.Error(res.Err))
				errs = multierr.Append(errs, res.Err)
			}
			results = append(results, res)
		}
	}
	return results, errs
}

func (r *Retargeter) runPair(ctx context.Context, req Request, dst Source, dstPositions []math.Vec3, plan *targetPlan) (degenerate int, err error) {
	start := time.Now()
	r.opts.Hooks.OnTargetStart(ctx, dst.Name(), plan.target.Name(), len(plan.clusters))
	defer func() {
		r.opts.Hooks.OnTargetComplete(ctx, dst.Name(), plan.target.Name(), time.Since(start), err)
	}()

	if plan.err != nil {
		return 0, plan.err.forDestination(dst.Name())
	}

	out := make([]math.Vec3, len(plan.positions))
	degen := make([]bool, len(plan.clusters))
	errs := make([]error, len(plan.clusters))
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i, c := range plan.clusters {
		g.Go(func() error {
			degen[i], errs[i] = r.solveCluster(c, plan.positions, dstPositions, out)
			return nil
		})
	}
	_ = g.Wait()

	for i, e := range errs {
		if e != nil {
			return 0, &ClusterError{Destination: dst.Name(), Target: plan.target.Name(), Cluster: i, Err: e}
		}
		if degen[i] {
			degenerate++
		}
	}

	w, err := req.Output(dst, plan.target)
	if err != nil {
		return degenerate, fmt.Errorf("retarget: %q -> target %q: output: %w", dst.Name(), plan.target.Name(), err)
	}
	for i, p := range out {
		if err := w.SetVertex(i, p); err != nil {
			return degenerate, fmt.Errorf("retarget: %q -> target %q: write vertex %d: %w", dst.Name(), plan.target.Name(), i, err)
		}
	}

	r.log.Debug("retargeted",
		zap.String("destination", dst.Name()),
		zap.String("target", plan.target.Name()),
		zap.Int("clusters", len(plan.clusters)),
		zap.Int("degenerate", degenerate))
	return degenerate, nil
}

// solveCluster fits the cluster's system to the destination pose and writes
// the moved cluster vertices into out. Clusters are disjoint, so concurrent
// calls never write the same element.
func (r *Retargeter) solveCluster(c *clusterPlan, positions, dstPositions, out []math.Vec3) (bool, error) {
	after := make([]math.Vec3, len(c.subset))
	for j, v := range c.subset {
		after[j] = dstPositions[v]
	}
	model, err := c.system.Fit(after)
	if err != nil {
		return false, err
	}

	queries := make([]math.Vec3, len(c.vertices))
	for j, v := range c.vertices {
		queries[j] = positions[v]
	}
	moved := model.Evaluate(queries)
	for j, v := range c.vertices {
		out[v] = moved[j]
	}
	return model.Degenerate, nil
}
