package barycentric_test

import (
	"errors"
	gomath "math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/meshmorph/pkg/barycentric"
	"github.com/Faultbox/meshmorph/pkg/math"
	"github.com/Faultbox/meshmorph/pkg/mesh"
)

func quad(t *testing.T) *mesh.Mesh {
	t.Helper()
	m, err := mesh.New("quad", []math.Vec3{
		math.V3(0, 0, 0),
		math.V3(1, 0, 0),
		math.V3(1, 1, 0),
		math.V3(0, 1, 0),
	}, [][]int{{0, 1, 2, 3}})
	require.NoError(t, err)
	return m
}

// bumpyGrid is an n×n grid of quads with a height field, so no two faces
// share a frame.
func bumpyGrid(t *testing.T, n int) *mesh.Mesh {
	t.Helper()
	var verts []math.Vec3
	for j := 0; j <= n; j++ {
		for i := 0; i <= n; i++ {
			x, y := float64(i), float64(j)
			verts = append(verts, math.V3(x, y, 0.3*gomath.Sin(x)*gomath.Cos(0.7*y)))
		}
	}
	var faces [][]int
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			v := j*(n+1) + i
			faces = append(faces, []int{v, v + 1, v + n + 2, v + n + 1})
		}
	}
	m, err := mesh.New("grid", verts, faces)
	require.NoError(t, err)
	return m
}

func TestRoundTrip_Unmodified(t *testing.T) {
	m := bumpyGrid(t, 4)
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 100; i++ {
		p := math.V3(rng.Float64()*5-0.5, rng.Float64()*5-0.5, rng.Float64()*2-1)
		axis := math.V3(rng.Float64()-0.5, rng.Float64()-0.5, rng.Float64()-0.5)
		q := math.QuatFromAxisAngle(axis.Normalize(), rng.Float64()*gomath.Pi)

		a, err := barycentric.Encode(m, p, &q)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, a.Weights[0]+a.Weights[1]+a.Weights[2], 1e-9)

		got, rot, err := barycentric.Decode(m, a)
		require.NoError(t, err)
		assert.True(t, got.ApproxEqual(p, 1e-5), "point %d: got %v want %v", i, got, p)
		require.NotNil(t, rot)
		assert.True(t, rot.Equivalent(q, 1e-5), "point %d rotation", i)
	}
}

func TestQuadCenter_FollowsTranslation(t *testing.T) {
	m := quad(t)
	center := math.V3(0.5, 0.5, 0)

	a, err := barycentric.Encode(m, center, nil)
	require.NoError(t, err)
	assert.Equal(t, math.Vec3{}, a.Offset, "on-surface points store a zero offset")
	assert.Nil(t, a.Rotation)

	shift := math.V3(3, -2, 7)
	m.Transform(math.Translate(shift))

	got, rot, err := barycentric.Decode(m, a)
	require.NoError(t, err)
	assert.Nil(t, rot)
	assert.True(t, got.ApproxEqual(center.Add(shift), 1e-9), "got %v", got)
}

func TestDecode_FollowsRigidRotation(t *testing.T) {
	m := bumpyGrid(t, 3)
	p := math.V3(1.3, 1.6, 0.8)
	q := math.QuatFromAxisAngle(math.V3(1, 1, 0).Normalize(), 0.4)

	a, err := barycentric.Encode(m, p, &q)
	require.NoError(t, err)
	assert.NotEqual(t, math.Vec3{}, a.Offset)

	r := math.QuatFromAxisAngle(math.V3(0.2, -1, 0.5).Normalize(), 1.1)
	m.Transform(r.ToMat4())

	got, rot, err := barycentric.Decode(m, a)
	require.NoError(t, err)
	assert.True(t, got.ApproxEqual(r.Rotate(p), 1e-9), "got %v want %v", got, r.Rotate(p))
	require.NotNil(t, rot)
	assert.True(t, rot.Equivalent(r.Mul(q), 1e-9))
}

func TestDecode_StaleReference(t *testing.T) {
	m := quad(t)
	var stale *barycentric.StaleReferenceError

	_, _, err := barycentric.Decode(m, barycentric.Attachment{Face: 1})
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, -1, stale.TriangleCount)
	assert.Equal(t, 1, stale.FaceCount)

	_, _, err = barycentric.Decode(m, barycentric.Attachment{Face: 0, Triangle: 2})
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, 2, stale.TriangleCount)
	assert.Contains(t, err.Error(), "triangle 2 of face 0")
}

func TestEncode_DegenerateTriangle(t *testing.T) {
	m, err := mesh.New("line", []math.Vec3{
		math.V3(0, 0, 0),
		math.V3(1, 0, 0),
		math.V3(2, 0, 0),
	}, [][]int{{0, 1, 2}})
	require.NoError(t, err)

	_, err = barycentric.Encode(m, math.V3(0.5, 1, 0), nil)
	assert.ErrorIs(t, err, barycentric.ErrDegenerateTriangle)
}

func TestEncode_NoFaces(t *testing.T) {
	m, err := mesh.New("cloud", []math.Vec3{{}}, nil)
	require.NoError(t, err)
	_, err = barycentric.Encode(m, math.Vec3{}, nil)
	assert.ErrorIs(t, err, mesh.ErrNoFaces)
}

func TestBatch(t *testing.T) {
	m := bumpyGrid(t, 2)
	points := []math.Vec3{math.V3(0.2, 0.2, 0.5), math.V3(1.5, 0.5, -0.2), math.V3(1.9, 1.9, 0)}
	q := math.QuatFromAxisAngle(math.V3(0, 0, 1), 0.3)
	rots := []*math.Quat{nil, &q, nil}

	as, err := barycentric.EncodeAll(m, points, rots)
	require.NoError(t, err)
	require.Len(t, as, 3)

	got, gotRots, err := barycentric.DecodeAll(m, as)
	require.NoError(t, err)
	for i := range points {
		assert.True(t, got[i].ApproxEqual(points[i], 1e-5))
	}
	assert.Nil(t, gotRots[0])
	require.NotNil(t, gotRots[1])
	assert.True(t, gotRots[1].Equivalent(q, 1e-9))

	_, err = barycentric.EncodeAll(m, points, rots[:1])
	assert.Error(t, err)

	as[2].Face = 99
	_, _, err = barycentric.DecodeAll(m, as)
	var pe *barycentric.PointError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.Index)
	var stale *barycentric.StaleReferenceError
	assert.ErrorAs(t, err, &stale)
}
