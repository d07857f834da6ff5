package rbf

import (
	gomath "math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Faultbox/meshmorph/pkg/math"
)

func unitCube() []math.Vec3 {
	var pts []math.Vec3
	for _, x := range []float64{0, 1} {
		for _, y := range []float64{0, 1} {
			for _, z := range []float64{0, 1} {
				pts = append(pts, math.V3(x, y, z))
			}
		}
	}
	return pts
}

func randomCloud(n int, seed uint64) []math.Vec3 {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	pts := make([]math.Vec3, n)
	for i := range pts {
		pts[i] = math.V3(r.Float64()*2-1, r.Float64()*2-1, r.Float64()*2-1)
	}
	return pts
}

func warp(p math.Vec3) math.Vec3 {
	return math.V3(
		p.X+0.3*gomath.Sin(2*p.Y),
		p.Y*1.2+0.1*p.Z*p.Z,
		p.Z-0.25*p.X*p.Y,
	)
}

func TestBuild_Matrix(t *testing.T) {
	before := []math.Vec3{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 2, Z: 0}, {X: 0, Y: 0, Z: 3}}
	sys, err := Build(before)
	require.NoError(t, err)

	a := sys.Matrix()
	r, c := a.Dims()
	require.Equal(t, 8, r)
	require.Equal(t, 8, c)

	// Kernel block is the symmetric distance matrix with a zero diagonal.
	assert.Equal(t, 0.0, a.At(0, 0))
	assert.InDelta(t, 1.0, a.At(0, 1), 1e-15)
	assert.InDelta(t, gomath.Sqrt(5), a.At(1, 2), 1e-15)
	assert.Equal(t, a.At(1, 3), a.At(3, 1))

	// Affine block and its transpose.
	assert.Equal(t, 3.0, a.At(3, 6))
	assert.Equal(t, 3.0, a.At(6, 3))
	assert.Equal(t, 1.0, a.At(2, 7))
	assert.Equal(t, 1.0, a.At(7, 2))

	// Zero corner.
	for i := 4; i < 8; i++ {
		for j := 4; j < 8; j++ {
			assert.Equal(t, 0.0, a.At(i, j))
		}
	}
}

func TestBuild_InsufficientControlPoints(t *testing.T) {
	for n := 0; n < MinControlPoints; n++ {
		_, err := Build(randomCloud(n, 1))
		var ice *InsufficientControlPointsError
		require.ErrorAs(t, err, &ice)
		assert.Equal(t, n, ice.Have)
		assert.Equal(t, MinControlPoints, ice.Need)
	}
}

func TestFit_InterpolatesTrainingPoints(t *testing.T) {
	before := randomCloud(40, 7)
	after := make([]math.Vec3, len(before))
	for i, p := range before {
		after[i] = warp(p)
	}

	m, err := Fit(Pair{Before: before, After: after})
	require.NoError(t, err)
	assert.False(t, m.Degenerate)

	got := m.Evaluate(before)
	for i := range got {
		assert.True(t, got[i].ApproxEqual(after[i], 1e-4), "point %d: got %v want %v", i, got[i], after[i])
	}
}

func TestFit_UnitCubeScaled(t *testing.T) {
	before := unitCube()
	after := make([]math.Vec3, len(before))
	for i, p := range before {
		after[i] = p.Scale(2)
	}

	m, err := Fit(Pair{Before: before, After: after})
	require.NoError(t, err)

	got := m.EvaluatePoint(math.V3(0, 0, 0))
	assert.True(t, got.ApproxEqual(math.V3(0, 0, 0), 1e-6), "got %v", got)

	// A uniform scale is affine, so it is reproduced everywhere.
	got = m.EvaluatePoint(math.V3(0.5, 0.25, 3))
	assert.True(t, got.ApproxEqual(math.V3(1, 0.5, 6), 1e-6), "got %v", got)
}

func TestFit_Identity(t *testing.T) {
	before := randomCloud(25, 3)
	m, err := Fit(Pair{Before: before, After: before})
	require.NoError(t, err)

	queries := randomCloud(50, 99)
	got := m.Evaluate(queries)
	for i := range queries {
		assert.True(t, got[i].ApproxEqual(queries[i], 1e-8), "query %d moved: %v -> %v", i, queries[i], got[i])
	}
}

func TestFit_PairLengthMismatch(t *testing.T) {
	_, err := Fit(Pair{Before: unitCube(), After: unitCube()[:7]})
	require.ErrorIs(t, err, ErrPairLength)
}

func TestFit_CoplanarFallsBackToPseudoInverse(t *testing.T) {
	// A flat grid leaves the z column of the affine block empty, so the system
	// is singular.
	var before, after []math.Vec3
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			p := math.V3(float64(x), float64(y), 0)
			before = append(before, p)
			after = append(after, p.Add(math.V3(0, 0, 0.1*float64(x*y))))
		}
	}

	core, logs := observer.New(zapcore.WarnLevel)
	m, err := Fit(Pair{Before: before, After: after}, WithLogger(zap.New(core)))
	require.NoError(t, err)
	assert.True(t, m.Degenerate)
	assert.Equal(t, 3, logs.FilterMessage("singular RBF system, using pseudo-inverse").Len())

	got := m.Evaluate(before)
	for i := range got {
		assert.True(t, got[i].ApproxEqual(after[i], 1e-6), "point %d: got %v want %v", i, got[i], after[i])
	}
}

func flatGrid(n int) []math.Vec3 {
	var pts []math.Vec3
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			pts = append(pts, math.V3(float64(x), float64(y), 0))
		}
	}
	return pts
}

func TestFit_CoplanarKeepsOffPlanePoints(t *testing.T) {
	before := flatGrid(5)
	queries := []math.Vec3{{X: 1.5, Y: 1.5, Z: 0.5}, {X: 2.5, Y: 2.5, Z: -0.3}, {X: 0.25, Y: 3.75, Z: 2}}

	rot := math.QuatFromAxisAngle(math.V3(0, 0, 1), 0.4)
	tests := []struct {
		name string
		move func(math.Vec3) math.Vec3
	}{
		{"identity", func(p math.Vec3) math.Vec3 { return p }},
		{"translation", func(p math.Vec3) math.Vec3 { return p.Add(math.V3(1, -2, 0.5)) }},
		{"rotation in plane", rot.Rotate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			after := make([]math.Vec3, len(before))
			for i, p := range before {
				after[i] = tt.move(p)
			}
			m, err := Fit(Pair{Before: before, After: after})
			require.NoError(t, err)
			assert.True(t, m.Degenerate)

			got := m.Evaluate(queries)
			for i, q := range queries {
				want := tt.move(q)
				assert.True(t, got[i].ApproxEqual(want, 1e-6), "query %d: got %v want %v", i, got[i], want)
			}
		})
	}
}

func TestSolveWeights_Degeneracy(t *testing.T) {
	pts := unitCube()
	pts[1] = pts[0] // duplicated control point

	sys, err := Build(pts)
	require.NoError(t, err)

	values := make([]float64, len(pts))
	for i, p := range pts {
		values[i] = p.X + 2*p.Y
	}
	w, err := sys.SolveWeights(values)
	require.Error(t, err)
	assert.True(t, IsDegeneracy(err))
	require.Len(t, w, len(pts)+4)
	for _, v := range w {
		assert.False(t, gomath.IsNaN(v) || gomath.IsInf(v, 0))
	}
}

func TestSolveWeights_ValueLength(t *testing.T) {
	sys, err := Build(unitCube())
	require.NoError(t, err)

	_, err = sys.SolveWeights([]float64{1, 2, 3})
	require.ErrorIs(t, err, ErrValueLength)
}

func TestEvaluate_MatchesPointwiseSum(t *testing.T) {
	before := randomCloud(12, 11)
	after := make([]math.Vec3, len(before))
	for i, p := range before {
		after[i] = warp(p)
	}
	m, err := Fit(Pair{Before: before, After: after})
	require.NoError(t, err)

	n := m.Len()
	for _, q := range randomCloud(10, 5) {
		var want [3]float64
		for axis := 0; axis < 3; axis++ {
			w := m.Weights(axis)
			sum := q.Axis(axis) + w[n]*q.X + w[n+1]*q.Y + w[n+2]*q.Z + w[n+3]
			for i, c := range before {
				sum += w[i] * q.Distance(c)
			}
			want[axis] = sum
		}
		got := m.EvaluatePoint(q)
		assert.InDelta(t, want[0], got.X, 1e-9)
		assert.InDelta(t, want[1], got.Y, 1e-9)
		assert.InDelta(t, want[2], got.Z, 1e-9)
	}

	assert.Empty(t, m.Evaluate(nil))
}

func TestNewModel(t *testing.T) {
	before := unitCube()
	var weights [3][]float64
	for axis := range weights {
		weights[axis] = make([]float64, len(before)+4)
	}
	m, err := NewModel(before, weights)
	require.NoError(t, err)

	p := math.V3(4, -2, 0.5)
	assert.True(t, m.EvaluatePoint(p).ApproxEqual(p, 1e-12))

	weights[0][len(before)+3] = 1 // constant x displacement
	m, err = NewModel(before, weights)
	require.NoError(t, err)
	assert.True(t, m.EvaluatePoint(p).ApproxEqual(math.V3(5, -2, 0.5), 1e-12))

	weights[1] = weights[1][:3]
	_, err = NewModel(before, weights)
	require.ErrorIs(t, err, ErrValueLength)
}

func TestSystem_FitReusedAcrossPoses(t *testing.T) {
	before := randomCloud(20, 3)
	sys, err := Build(before)
	require.NoError(t, err)

	for _, shift := range []math.Vec3{math.V3(1, 2, 3), math.V3(-4, 0, 0.5)} {
		after := make([]math.Vec3, len(before))
		for i, p := range before {
			after[i] = warp(p).Add(shift)
		}
		reused, err := sys.Fit(after)
		require.NoError(t, err)
		fresh, err := Fit(Pair{Before: before, After: after})
		require.NoError(t, err)

		q := randomCloud(10, 99)
		a, b := reused.Evaluate(q), fresh.Evaluate(q)
		for i := range a {
			assert.True(t, a[i].ApproxEqual(b[i], 1e-12))
		}
	}

	_, err = sys.Fit(before[:3])
	assert.ErrorIs(t, err, ErrPairLength)
}
