package retarget

import (
	"context"
	"errors"
	gomath "math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/meshmorph/pkg/math"
	"github.com/Faultbox/meshmorph/pkg/mesh"
	"github.com/Faultbox/meshmorph/pkg/spatial"
)

func lattice(n int, offset float64) []math.Vec3 {
	var pts []math.Vec3
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				pts = append(pts, math.V3(float64(x)+offset, float64(y)+offset, float64(z)+offset))
			}
		}
	}
	return pts
}

func cloud(t *testing.T, name string, pts []math.Vec3) *mesh.Mesh {
	t.Helper()
	m, err := mesh.New(name, pts, nil)
	require.NoError(t, err)
	return m
}

func deformed(t *testing.T, src *mesh.Mesh, name string, fn func(math.Vec3) math.Vec3) *mesh.Mesh {
	t.Helper()
	d := src.Clone(name)
	pts := d.Vertices()
	for i, p := range pts {
		pts[i] = fn(p)
	}
	require.NoError(t, d.SetVertices(pts))
	return d
}

// collector stores a copy of every target written by Run, keyed by
// destination and target name.
type collector struct {
	mu  sync.Mutex
	out map[[2]string]*mesh.Mesh
}

func newCollector() *collector {
	return &collector{out: make(map[[2]string]*mesh.Mesh)}
}

func (c *collector) output(dst, target Source) (TargetWriter, error) {
	m, ok := target.(*mesh.Mesh)
	if !ok {
		return nil, errors.New("not a mesh")
	}
	out := m.Clone(dst.Name() + "_" + target.Name())
	c.mu.Lock()
	c.out[[2]string{dst.Name(), target.Name()}] = out
	c.mu.Unlock()
	return out, nil
}

func (c *collector) get(dst, target string) *mesh.Mesh {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out[[2]string{dst, target}]
}

func assertMoved(t *testing.T, want []math.Vec3, got *mesh.Mesh, eps float64) {
	t.Helper()
	require.NotNil(t, got)
	pts := got.Vertices()
	require.Len(t, pts, len(want))
	for i := range want {
		assert.Truef(t, want[i].ApproxEqual(pts[i], eps), "vertex %d: got %v, want %v", i, pts[i], want[i])
	}
}

func TestRun_Identity(t *testing.T) {
	src := cloud(t, "src", lattice(3, 0))
	target := cloud(t, "target", lattice(2, 0.5))
	out := newCollector()

	results, err := New(Options{RadiusMultiplier: 1.5}).Run(context.Background(), Request{
		Source:       src,
		Destinations: []Source{src.Clone("dst")},
		Targets:      []Source{target},
		Output:       out.output,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].Clusters)
	assertMoved(t, target.Vertices(), out.get("dst", "target"), 1e-8)
}

func TestRun_FlatSourceKeepsOffPlaneTargets(t *testing.T) {
	var grid []math.Vec3
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			grid = append(grid, math.V3(float64(x), float64(y), 0))
		}
	}
	src := cloud(t, "plane", grid)
	target := cloud(t, "hover", []math.Vec3{{X: 1.5, Y: 1.5, Z: 0.5}, {X: 2.5, Y: 2.5, Z: -0.3}})
	out := newCollector()

	results, err := New(Options{}).Run(context.Background(), Request{
		Source:       src,
		Destinations: []Source{src.Clone("dst")},
		Targets:      []Source{target},
		Output:       out.output,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.GreaterOrEqual(t, results[0].Degenerate, 1)
	assertMoved(t, target.Vertices(), out.get("dst", "hover"), 1e-6)
}

func TestRun_UnitCubeScaled(t *testing.T) {
	src := cloud(t, "cube", lattice(2, 0))
	dst := deformed(t, src, "big", func(p math.Vec3) math.Vec3 { return p.Scale(2) })
	target := cloud(t, "center", []math.Vec3{{X: 0.5, Y: 0.5, Z: 0.5}})
	out := newCollector()

	_, err := New(Options{RadiusMultiplier: 1.5}).Run(context.Background(), Request{
		Source:       src,
		Destinations: []Source{dst},
		Targets:      []Source{target},
		Output:       out.output,
	})
	require.NoError(t, err)
	assertMoved(t, []math.Vec3{{X: 1, Y: 1, Z: 1}}, out.get("big", "center"), 1e-8)
}

func TestRun_RigidMotion(t *testing.T) {
	src := cloud(t, "src", lattice(3, 0))
	xf := math.Translate(math.V3(4, -1, 2)).Mul(math.RotateAxis(math.V3(1, 1, 0).Normalize(), 0.7))
	dst := deformed(t, src, "moved", xf.TransformPoint)
	target := cloud(t, "target", lattice(2, 0.5))
	out := newCollector()

	_, err := New(Options{RadiusMultiplier: 1.5}).Run(context.Background(), Request{
		Source:       src,
		Destinations: []Source{dst},
		Targets:      []Source{target},
		Output:       out.output,
	})
	require.NoError(t, err)

	want := target.Vertices()
	for i, p := range want {
		want[i] = xf.TransformPoint(p)
	}
	assertMoved(t, want, out.get("moved", "target"), 1e-6)
}

func TestRun_CoincidentVerticesFollowSource(t *testing.T) {
	src := cloud(t, "src", lattice(4, 0))
	dst := deformed(t, src, "warped", func(p math.Vec3) math.Vec3 {
		return math.V3(p.X+0.2*gomath.Sin(p.Y), p.Y*1.1, p.Z+0.05*p.X*p.Y)
	})

	picks := []int{0, 5, 21, 30, 42, 63}
	srcPts, dstPts := src.Vertices(), dst.Vertices()
	var pts, want []math.Vec3
	for _, i := range picks {
		pts = append(pts, srcPts[i])
		want = append(want, dstPts[i])
	}
	target := cloud(t, "picked", pts)
	out := newCollector()

	_, err := New(Options{}).Run(context.Background(), Request{
		Source:       src,
		Destinations: []Source{dst},
		Targets:      []Source{target},
		Output:       out.output,
	})
	require.NoError(t, err)
	assertMoved(t, want, out.get("warped", "picked"), 1e-6)
}

func TestRun_Clustered(t *testing.T) {
	src := cloud(t, "src", lattice(4, 0))
	xf := math.Translate(math.V3(0, 3, 0)).Mul(math.Scale(1, 2, 0.5))
	dst := deformed(t, src, "stretched", xf.TransformPoint)
	target := cloud(t, "dense", lattice(3, 0.5))
	out := newCollector()

	results, err := New(Options{MaxVertices: 10, RadiusMultiplier: 1.5, Workers: 3}).Run(context.Background(), Request{
		Source:       src,
		Destinations: []Source{dst},
		Targets:      []Source{target},
		Output:       out.output,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Greater(t, results[0].Clusters, 1)

	want := target.Vertices()
	for i, p := range want {
		want[i] = xf.TransformPoint(p)
	}
	assertMoved(t, want, out.get("stretched", "dense"), 1e-6)
}

// countingQuery counts Indices calls and fails for query sets of length
// failOn.
type countingQuery struct {
	calls  atomic.Int32
	failOn int
}

var errQuery = errors.New("query failed")

func (*countingQuery) Kind() spatial.Kind { return spatial.KindDistance }

func (q *countingQuery) Indices(controls, queries []math.Vec3) ([][]int, error) {
	q.calls.Add(1)
	if len(queries) == q.failOn {
		return nil, errQuery
	}
	return spatial.DistanceQuery{K: 8}.Indices(controls, queries)
}

func TestRun_PlansOncePerTarget(t *testing.T) {
	src := cloud(t, "src", lattice(3, 0))
	a := deformed(t, src, "a", func(p math.Vec3) math.Vec3 { return p.Add(math.V3(1, 0, 0)) })
	b := deformed(t, src, "b", func(p math.Vec3) math.Vec3 { return p.Scale(3) })
	target := cloud(t, "target", lattice(2, 0.5))
	q := &countingQuery{}
	out := newCollector()

	results, err := New(Options{Query: q}).Run(context.Background(), Request{
		Source:       src,
		Destinations: []Source{a, b},
		Targets:      []Source{target},
		Output:       out.output,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int32(1), q.calls.Load())

	wantA, wantB := target.Vertices(), target.Vertices()
	for i, p := range wantA {
		wantA[i] = p.Add(math.V3(1, 0, 0))
		wantB[i] = p.Scale(3)
	}
	assertMoved(t, wantA, out.get("a", "target"), 1e-8)
	assertMoved(t, wantB, out.get("b", "target"), 1e-8)
}

func TestRun_FailureIsScopedToTarget(t *testing.T) {
	src := cloud(t, "src", lattice(3, 0))
	dst := deformed(t, src, "dst", func(p math.Vec3) math.Vec3 { return p.Add(math.V3(0, 0, 1)) })
	good := cloud(t, "good", lattice(2, 0.5))
	bad := cloud(t, "bad", []math.Vec3{{X: 0.5, Y: 0.5, Z: 0.5}, {X: 1.5, Y: 0.5, Z: 0.5}, {X: 0.5, Y: 1.5, Z: 0.5}})
	out := newCollector()

	results, err := New(Options{Query: &countingQuery{failOn: 3}}).Run(context.Background(), Request{
		Source:       src,
		Destinations: []Source{dst},
		Targets:      []Source{bad, good},
		Output:       out.output,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errQuery)
	require.Len(t, results, 2)

	var ce *ClusterError
	require.ErrorAs(t, results[0].Err, &ce)
	assert.Equal(t, "dst", ce.Destination)
	assert.Equal(t, "bad", ce.Target)
	assert.Equal(t, 0, ce.Cluster)
	assert.Nil(t, out.get("dst", "bad"))

	assert.NoError(t, results[1].Err)
	assert.NotNil(t, out.get("dst", "good"))
}

func TestRun_OutputError(t *testing.T) {
	src := cloud(t, "src", lattice(3, 0))
	target := cloud(t, "target", lattice(2, 0.5))
	errOut := errors.New("disk full")

	results, err := New(Options{}).Run(context.Background(), Request{
		Source:       src,
		Destinations: []Source{src.Clone("dst")},
		Targets:      []Source{target},
		Output:       func(Source, Source) (TargetWriter, error) { return nil, errOut },
	})
	assert.ErrorIs(t, err, errOut)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, errOut)
}

func TestValidate(t *testing.T) {
	src := cloud(t, "src", lattice(2, 0))
	tiny := cloud(t, "tiny", lattice(2, 0)[:3])
	other := cloud(t, "other", lattice(3, 0))
	target := cloud(t, "target", []math.Vec3{{X: 0.5, Y: 0.5, Z: 0.5}})
	out := newCollector().output

	tests := []struct {
		name string
		req  Request
		mesh string
	}{
		{"no source", Request{Destinations: []Source{src}, Targets: []Source{target}, Output: out}, ""},
		{"no destinations", Request{Source: src, Targets: []Source{target}, Output: out}, ""},
		{"no targets", Request{Source: src, Destinations: []Source{src}, Output: out}, ""},
		{"no output", Request{Source: src, Destinations: []Source{src}, Targets: []Source{target}}, ""},
		{"small source", Request{Source: tiny, Destinations: []Source{tiny}, Targets: []Source{target}, Output: out}, "tiny"},
		{"topology", Request{Source: src, Destinations: []Source{other}, Targets: []Source{target}, Output: out}, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Options{}).Run(context.Background(), tt.req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.mesh, ve.Mesh)
		})
	}

	assert.NoError(t, Validate(Request{Source: src, Destinations: []Source{src}, Targets: []Source{target}, Output: out}))
}

type recordingHooks struct {
	mu     sync.Mutex
	starts []string
	ends   []string
}

func (h *recordingHooks) OnTargetStart(_ context.Context, dst, target string, _ int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, dst+"/"+target)
}

func (h *recordingHooks) OnTargetComplete(_ context.Context, dst, target string, _ time.Duration, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends = append(h.ends, dst+"/"+target)
}

func TestRun_Hooks(t *testing.T) {
	src := cloud(t, "src", lattice(3, 0))
	t1 := cloud(t, "t1", lattice(2, 0.5))
	t2 := cloud(t, "t2", []math.Vec3{{X: 1, Y: 1, Z: 1}})
	h := &recordingHooks{}

	results, err := New(Options{Hooks: h}).Run(context.Background(), Request{
		Source:       src,
		Destinations: []Source{src.Clone("d1"), src.Clone("d2")},
		Targets:      []Source{t1, t2},
		Output:       newCollector().output,
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	want := []string{"d1/t1", "d1/t2", "d2/t1", "d2/t2"}
	assert.Equal(t, want, h.starts)
	assert.Equal(t, want, h.ends)
	for i, r := range results {
		assert.Equal(t, want[i], r.Destination+"/"+r.Target)
	}
}

func TestRun_Canceled(t *testing.T) {
	src := cloud(t, "src", lattice(3, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{}).Run(ctx, Request{
		Source:       src,
		Destinations: []Source{src.Clone("dst")},
		Targets:      []Source{cloud(t, "target", lattice(2, 0.5))},
		Output:       newCollector().output,
	})
	assert.ErrorIs(t, err, context.Canceled)
}
