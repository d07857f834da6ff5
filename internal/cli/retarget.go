package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/meshmorph/internal/config"
	"github.com/Faultbox/meshmorph/internal/retarget"
	"github.com/Faultbox/meshmorph/pkg/cluster"
	"github.com/Faultbox/meshmorph/pkg/formats"
	"github.com/Faultbox/meshmorph/pkg/mesh"
	"github.com/Faultbox/meshmorph/pkg/skin"
	"github.com/Faultbox/meshmorph/pkg/spatial"
)

type retargetOpts struct {
	source       string
	destinations []string
	targets      []string
	outDir       string
}

func (c *CLI) retargetCommand() *cobra.Command {
	var opts retargetOpts

	cmd := &cobra.Command{
		Use:   "retarget",
		Short: "Deform target meshes by the motion from a source to each destination",
		Long: `Retarget moves every target mesh by the deformation that carries the source
mesh onto each destination mesh. Destinations must share the source topology;
targets may have any topology. One OBJ file is written per destination and
target, named <destination>_<target>.obj.`,
		Example: `  meshmorph retarget --source body.obj --dest body_fat.obj --target shirt.obj --out out/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runRetarget(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "source mesh in the rest pose (required)")
	cmd.Flags().StringArrayVar(&opts.destinations, "dest", nil, "deformed source mesh (repeatable, required)")
	cmd.Flags().StringArrayVarP(&opts.targets, "target", "t", nil, "mesh to deform (repeatable, required)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", ".", "output directory")
	cmd.Flags().IntVar(&c.overrides.MaxVertices, "max-vertices", 0, "largest target solved as one cluster")
	cmd.Flags().IntVarP(&c.overrides.Workers, "workers", "w", 0, "clusters solved concurrently")
	cmd.Flags().StringVar(&c.overrides.Query, "query", "", "source selection: radius, distance, nearest_radius or skin")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("dest")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func (c *CLI) runRetarget(cmd *cobra.Command, opts retargetOpts) error {
	src, err := c.loadMesh(opts.source)
	if err != nil {
		return err
	}
	dsts, err := c.loadMeshes(opts.destinations)
	if err != nil {
		return err
	}
	targets, err := c.loadMeshes(opts.targets)
	if err != nil {
		return err
	}

	query, err := retargetQuery(c.cfg, src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.outDir, 0755); err != nil {
		return err
	}

	// Results are kept in memory and written once Run returns.
	type output struct {
		path string
		mesh *mesh.Mesh
	}
	var outputs []output
	out := func(dst, target retarget.Source) (retarget.TargetWriter, error) {
		t, ok := target.(*mesh.Mesh)
		if !ok {
			return nil, fmt.Errorf("unexpected target type %T", target)
		}
		name := dst.Name() + "_" + t.Name()
		m := t.Clone(name)
		outputs = append(outputs, output{path: filepath.Join(opts.outDir, name+".obj"), mesh: m})
		return m, nil
	}

	r := retarget.New(retarget.Options{
		MaxVertices:      c.cfg.Retarget.MaxVertices,
		RadiusMultiplier: c.cfg.Retarget.RadiusMultiplier,
		Query:            query,
		Workers:          c.cfg.Retarget.Workers,
		Cluster: cluster.Options{
			Seed:          c.cfg.Cluster.Seed,
			Restarts:      c.cfg.Cluster.Restarts,
			MaxIterations: c.cfg.Cluster.MaxIterations,
		},
		ConditionLimit: c.cfg.RBF.DegeneracyCondition,
		Logger:         c.log.Named("engine"),
		Hooks:          logHooks{log: c.log},
	})

	req := retarget.Request{Source: src, Output: out}
	for _, d := range dsts {
		req.Destinations = append(req.Destinations, d)
	}
	for _, t := range targets {
		req.Targets = append(req.Targets, t)
	}

	results, runErr := r.Run(cmd.Context(), req)

	var writeErr error
	for _, o := range outputs {
		if err := formats.WriteOBJFile(o.path, o.mesh); err != nil {
			writeErr = multierr.Append(writeErr, fmt.Errorf("%s: %w", o.path, err))
			continue
		}
		c.log.Debug("wrote mesh", zap.String("path", o.path))
	}

	w := cmd.OutOrStdout()
	failed := 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
			fmt.Fprintf(w, "FAIL %s -> %s: %v\n", res.Destination, res.Target, res.Err)
		case res.Degenerate > 0:
			fmt.Fprintf(w, "ok   %s -> %s (%d clusters, %d degenerate)\n", res.Destination, res.Target, res.Clusters, res.Degenerate)
		default:
			fmt.Fprintf(w, "ok   %s -> %s (%d clusters)\n", res.Destination, res.Target, res.Clusters)
		}
	}

	if runErr != nil && failed > 0 {
		runErr = fmt.Errorf("%d of %d retargets failed", failed, len(results))
	}
	return multierr.Append(runErr, writeErr)
}

// retargetQuery builds the configured source selection. The radius query is
// left nil so the orchestrator derives a radius per cluster.
func retargetQuery(cfg *config.Config, src *mesh.Mesh) (spatial.IndexQuery, error) {
	kind, err := spatial.ParseKind(cfg.Retarget.Query)
	if err != nil {
		return nil, err
	}
	switch kind {
	case spatial.KindRadius:
		return nil, nil
	case spatial.KindSkin:
		return spatial.New(spatial.Config{
			Kind:            cfg.Retarget.Query,
			Binder:          skin.NewClosestInfluenceBinder(),
			Mesh:            src,
			MaxVertices:     cfg.Skin.MaxVertices,
			WeightThreshold: cfg.Skin.WeightThreshold,
		})
	}
	return spatial.New(spatial.Config{
		Kind:       cfg.Retarget.Query,
		K:          cfg.Retarget.DistanceK,
		Multiplier: cfg.Retarget.NearestRadiusMultiplier,
	})
}

// logHooks reports retarget progress through the logger.
type logHooks struct {
	log *zap.Logger
}

func (h logHooks) OnTargetStart(_ context.Context, destination, target string, clusters int) {
	h.log.Info("retargeting",
		zap.String("destination", destination),
		zap.String("target", target),
		zap.Int("clusters", clusters))
}

func (h logHooks) OnTargetComplete(_ context.Context, destination, target string, d time.Duration, err error) {
	if err != nil {
		return
	}
	h.log.Info("retargeted",
		zap.String("destination", destination),
		zap.String("target", target),
		zap.Duration("took", d))
}
