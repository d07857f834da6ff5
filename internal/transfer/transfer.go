// Package transfer records transform positions against a mesh and restores
// them after the mesh has been deformed.
package transfer

import (
	"errors"
	"fmt"
	gomath "math"

	"go.uber.org/zap"

	"github.com/Faultbox/meshmorph/pkg/attachment"
	"github.com/Faultbox/meshmorph/pkg/barycentric"
	"github.com/Faultbox/meshmorph/pkg/math"
	"github.com/Faultbox/meshmorph/pkg/mesh"
	"github.com/Faultbox/meshmorph/pkg/rbf"
	"github.com/Faultbox/meshmorph/pkg/spatial"
)

// Defaults for Options.
const (
	DefaultRBFRadiusMultiplier = 1.5
	DefaultRayMaxDistance      = 100.0
	// DefaultProbeLength is used when neither probe ray hits the mesh.
	DefaultProbeLength = 1.0
)

var (
	// ErrMeshRequired is returned when a mesh method is used without a mesh.
	ErrMeshRequired = errors.New("transfer: method requires a mesh")
	// ErrTopologyMismatch is returned when importing against a mesh whose
	// vertex count differs from the recorded one.
	ErrTopologyMismatch = errors.New("transfer: mesh topology mismatch")
)

// Transform is a named world-space transform.
type Transform struct {
	Name     string
	Parent   string
	Position math.Vec3
	Rotation *math.Quat
}

// Mesh is the surface transforms are recorded against.
type Mesh interface {
	barycentric.SurfaceMesh
	Name() string
	Vertices() []math.Vec3
	Intersect(origin, dir math.Vec3, maxDist float64) (mesh.RayHit, bool)
}

// Options configures Export and Import.
type Options struct {
	// RBFRadiusMultiplier scales the nearest-vertex distance when picking
	// the vertices that drive an rbf point.
	RBFRadiusMultiplier float64
	// RayMaxDistance limits the probe rays of the rbf method.
	RayMaxDistance float64
	// Query overrides the vertex selection of the rbf method.
	Query spatial.IndexQuery
	// ConditionLimit is passed to the rbf solver when positive.
	ConditionLimit float64
	Logger         *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.RBFRadiusMultiplier <= 0 {
		o.RBFRadiusMultiplier = DefaultRBFRadiusMultiplier
	}
	if o.RayMaxDistance <= 0 {
		o.RayMaxDistance = DefaultRayMaxDistance
	}
	if o.Query == nil {
		o.Query = spatial.NearestRadiusQuery{Multiplier: o.RBFRadiusMultiplier}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (o Options) rbfOptions() []rbf.Option {
	ro := []rbf.Option{rbf.WithLogger(o.Logger)}
	if o.ConditionLimit > 0 {
		ro = append(ro, rbf.WithConditionLimit(o.ConditionLimit))
	}
	return ro
}

// Export records transforms with method. m may be nil for MethodDefault.
func Export(transforms []Transform, method attachment.Method, m Mesh, opts Options) (*attachment.Record, error) {
	opts = opts.withDefaults()
	if _, err := attachment.ParseMethod(string(method)); err != nil {
		return nil, err
	}
	if method.NeedsMesh() && m == nil {
		return nil, fmt.Errorf("%w: %s", ErrMeshRequired, method)
	}

	names := make([]string, len(transforms))
	positions := make([]math.Vec3, len(transforms))
	rotations := make([]*math.Quat, len(transforms))
	hierarchy := make(map[string]string)
	for i, t := range transforms {
		names[i] = t.Name
		positions[i] = t.Position
		rotations[i] = t.Rotation
		if t.Parent != "" {
			hierarchy[t.Name] = t.Parent
		}
	}

	rec := attachment.New(method, names)
	if len(hierarchy) > 0 {
		rec.Hierarchy = hierarchy
	}
	if m != nil && method.NeedsMesh() {
		rec.Mesh = m.Name()
		rec.SourceMeshVertexCount = len(m.Vertices())
	}

	switch method {
	case attachment.MethodDefault:
		rec.Default = make([]attachment.Pose, len(transforms))
		for i := range transforms {
			rec.Default[i] = attachment.Pose{Position: positions[i], Rotation: rotations[i]}
		}
	case attachment.MethodBarycentric:
		as, err := barycentric.EncodeAll(m, positions, rotations)
		if err != nil {
			return nil, transformError(names, err)
		}
		rec.Attachments = as
	case attachment.MethodRBF:
		data, err := exportRBF(m, positions, rotations, opts)
		if err != nil {
			return nil, err
		}
		rec.RBF = data
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	opts.Logger.Debug("exported transform positions",
		zap.String("method", string(method)),
		zap.String("mesh", rec.Mesh),
		zap.Int("transforms", len(transforms)))
	return rec, nil
}

func exportRBF(m Mesh, positions []math.Vec3, rotations []*math.Quat, opts Options) (*attachment.RBFData, error) {
	verts := m.Vertices()
	if len(verts) < rbf.MinControlPoints {
		return nil, &rbf.InsufficientControlPointsError{Have: len(verts), Need: rbf.MinControlPoints}
	}

	indices, err := opts.Query.Indices(verts, positions)
	if err != nil {
		return nil, fmt.Errorf("transfer: select vertices: %w", err)
	}
	indices, err = spatial.EnsureMinimum(verts, positions, indices, rbf.MinControlPoints)
	if err != nil {
		return nil, fmt.Errorf("transfer: select vertices: %w", err)
	}

	data := &attachment.RBFData{
		VertexPositions: verts,
		Points:          make([]attachment.RBFPoint, len(positions)),
	}
	for i, p := range positions {
		pt := attachment.RBFPoint{Position: p, Indices: indices[i]}
		if rotations[i] != nil {
			pt.Probes = probes(m, p, *rotations[i], opts.RayMaxDistance)
		}
		data.Points[i] = pt
	}
	return data, nil
}

// probes returns the points along the rotated X and Y axes of p, at the
// shortest distance either axis ray travels before hitting the mesh.
func probes(m Mesh, p math.Vec3, rot math.Quat, maxDist float64) []math.Vec3 {
	f := rot.Frame()
	length := gomath.Inf(1)
	for _, dir := range []math.Vec3{f.X, f.Y} {
		if hit, ok := m.Intersect(p, dir, maxDist); ok && hit.Distance > 0 {
			length = gomath.Min(length, hit.Distance)
		}
	}
	if gomath.IsInf(length, 1) {
		length = DefaultProbeLength
	}
	return []math.Vec3{p.Add(f.X.Scale(length)), p.Add(f.Y.Scale(length))}
}

// Import restores the transforms of rec against m, which may be nil for
// MethodDefault. Results are ordered parent first.
func Import(rec *attachment.Record, m Mesh, opts Options) ([]Transform, error) {
	opts = opts.withDefaults()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.Method.NeedsMesh() {
		if m == nil {
			return nil, fmt.Errorf("%w: %s", ErrMeshRequired, rec.Method)
		}
		if n := len(m.Vertices()); rec.SourceMeshVertexCount != 0 && n != rec.SourceMeshVertexCount {
			return nil, fmt.Errorf("%w: %q has %d vertices, record %q expects %d",
				ErrTopologyMismatch, m.Name(), n, rec.Mesh, rec.SourceMeshVertexCount)
		}
	}

	var (
		positions []math.Vec3
		rotations []*math.Quat
		err       error
	)
	switch rec.Method {
	case attachment.MethodDefault:
		positions = make([]math.Vec3, len(rec.Default))
		rotations = make([]*math.Quat, len(rec.Default))
		for i, p := range rec.Default {
			positions[i], rotations[i] = p.Position, p.Rotation
		}
	case attachment.MethodBarycentric:
		positions, rotations, err = barycentric.DecodeAll(m, rec.Attachments)
		if err != nil {
			return nil, transformError(rec.Transforms, err)
		}
	case attachment.MethodRBF:
		positions, rotations, err = importRBF(rec, m, opts)
		if err != nil {
			return nil, err
		}
	}

	out := make([]Transform, 0, len(rec.Transforms))
	for _, i := range rec.ParentFirst() {
		name := rec.Transforms[i]
		parent, _ := rec.Parent(name)
		out = append(out, Transform{Name: name, Parent: parent, Position: positions[i], Rotation: rotations[i]})
	}
	opts.Logger.Debug("imported transform positions",
		zap.String("method", string(rec.Method)),
		zap.String("record", rec.ID.String()),
		zap.Int("transforms", len(out)))
	return out, nil
}

func importRBF(rec *attachment.Record, m Mesh, opts Options) ([]math.Vec3, []*math.Quat, error) {
	stored := rec.RBF.VertexPositions
	current := m.Vertices()

	positions := make([]math.Vec3, len(rec.RBF.Points))
	rotations := make([]*math.Quat, len(rec.RBF.Points))
	for i, pt := range rec.RBF.Points {
		pair := rbf.Pair{
			Before: make([]math.Vec3, len(pt.Indices)),
			After:  make([]math.Vec3, len(pt.Indices)),
		}
		for j, v := range pt.Indices {
			pair.Before[j] = stored[v]
			pair.After[j] = current[v]
		}
		model, err := rbf.Fit(pair, opts.rbfOptions()...)
		if err != nil {
			return nil, nil, fmt.Errorf("transfer: transform %q: %w", rec.Transforms[i], err)
		}

		queries := append([]math.Vec3{pt.Position}, pt.Probes...)
		out := model.Evaluate(queries)
		positions[i] = out[0]
		if len(pt.Probes) == 2 {
			f, ok := math.FrameFromVectors(out[1].Sub(out[0]), out[2].Sub(out[0]))
			if !ok {
				return nil, nil, fmt.Errorf("transfer: transform %q: deformed probes are degenerate", rec.Transforms[i])
			}
			q := f.Quat()
			rotations[i] = &q
		}
	}
	return positions, rotations, nil
}

// transformError names the transform behind a batch codec failure.
func transformError(names []string, err error) error {
	var pe *barycentric.PointError
	if errors.As(err, &pe) && pe.Index >= 0 && pe.Index < len(names) {
		return fmt.Errorf("transfer: transform %q: %w", names[pe.Index], err)
	}
	return fmt.Errorf("transfer: %w", err)
}
