package rbf

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/meshmorph/pkg/math"
)

// Pair is a deformation training set: Before[i] moves to After[i].
type Pair struct {
	Before []math.Vec3
	After  []math.Vec3
}

// Model is a fitted deformation. Its weights interpolate the displacement of
// a point, which Evaluate adds to the point. It is immutable and safe for
// concurrent evaluation.
type Model struct {
	before  []math.Vec3
	weights [3][]float64

	// Degenerate is set when any axis was solved with the pseudo-inverse.
	Degenerate bool
}

// Fit builds the system for pair.Before and solves the weights for x, y and z.
// A singular system is recovered with the pseudo-inverse and logged; only
// validation failures and insufficient control points are returned as errors.
func Fit(pair Pair, opts ...Option) (*Model, error) {
	if len(pair.Before) != len(pair.After) {
		return nil, fmt.Errorf("%w: %d before, %d after", ErrPairLength, len(pair.Before), len(pair.After))
	}

	sys, err := Build(pair.Before, opts...)
	if err != nil {
		return nil, err
	}
	return sys.Fit(pair.After)
}

// Fit solves the weights that carry the system's controls onto after. The
// factorization is reused, so one System can be fitted to many poses.
func (s *System) Fit(after []math.Vec3) (*Model, error) {
	if len(after) != len(s.before) {
		return nil, fmt.Errorf("%w: %d before, %d after", ErrPairLength, len(s.before), len(after))
	}

	m := &Model{before: s.before}
	values := make([]float64, len(after))
	for axis := 0; axis < 3; axis++ {
		for i, p := range after {
			values[i] = p.Axis(axis) - s.before[i].Axis(axis)
		}
		w, err := s.SolveWeights(values)
		if err != nil {
			var de *NumericDegeneracyError
			if !errors.As(err, &de) {
				return nil, err
			}
			de.Axis = axis
			m.Degenerate = true
			s.opts.logger.Warn("singular RBF system, using pseudo-inverse",
				zap.Int("axis", axis),
				zap.Int("controls", len(s.before)),
				zap.Float64("condition", de.Condition))
		}
		m.weights[axis] = w
	}
	return m, nil
}

// NewModel assembles a model from precomputed displacement weights. Each
// weight vector must have length len(before)+4; all-zero weights give the
// identity.
func NewModel(before []math.Vec3, weights [3][]float64) (*Model, error) {
	m := &Model{before: append([]math.Vec3(nil), before...)}
	for axis, w := range weights {
		if len(w) != len(before)+4 {
			return nil, fmt.Errorf("%w: axis %d has %d weights for %d controls", ErrValueLength, axis, len(w), len(before))
		}
		m.weights[axis] = append([]float64(nil), w...)
	}
	return m, nil
}

// Len returns the number of control points.
func (m *Model) Len() int { return len(m.before) }

// Weights returns a copy of the weight vector for axis (0=x, 1=y, 2=z).
func (m *Model) Weights(axis int) []float64 {
	return append([]float64(nil), m.weights[axis]...)
}

// Evaluate maps every query point through the model. The displacement is
// computed as one Q×N distance matrix multiplied by the N×3 weight block plus
// a Q×4 matrix times the 4×3 affine block.
func (m *Model) Evaluate(queries []math.Vec3) []math.Vec3 {
	q := len(queries)
	if q == 0 {
		return []math.Vec3{}
	}
	n := len(m.before)

	dist := mat.NewDense(q, n, nil)
	homog := mat.NewDense(q, 4, nil)
	for i, p := range queries {
		row := dist.RawRowView(i)
		for j, c := range m.before {
			row[j] = p.Distance(c)
		}
		homog.SetRow(i, []float64{p.X, p.Y, p.Z, 1})
	}

	kernelW := mat.NewDense(n, 3, nil)
	affineW := mat.NewDense(4, 3, nil)
	for axis := 0; axis < 3; axis++ {
		w := m.weights[axis]
		for j := 0; j < n; j++ {
			kernelW.Set(j, axis, w[j])
		}
		for j := 0; j < 4; j++ {
			affineW.Set(j, axis, w[n+j])
		}
	}

	var out, affine mat.Dense
	out.Mul(dist, kernelW)
	affine.Mul(homog, affineW)
	out.Add(&out, &affine)

	result := make([]math.Vec3, q)
	for i := range result {
		row := out.RawRowView(i)
		result[i] = queries[i].Add(math.Vec3{X: row[0], Y: row[1], Z: row[2]})
	}
	return result
}

// EvaluatePoint maps a single point.
func (m *Model) EvaluatePoint(p math.Vec3) math.Vec3 {
	return m.Evaluate([]math.Vec3{p})[0]
}
