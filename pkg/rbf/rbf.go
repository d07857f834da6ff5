// Package rbf fits and evaluates radial-basis-function deformation models.
//
// A model is fitted from a before/after pair of control point sets and maps
// any query point from the "before" space into the "after" space. The basis is
// the plain euclidean distance augmented with an affine term, so affine
// deformations are reproduced exactly. The interpolant carries displacements
// (after - before) rather than positions, so a query point stays put unless
// the controls move, even when the controls are coplanar and the system has
// to be solved with the pseudo-inverse. Outside the convex hull of the
// controls the interpolant may overshoot.
package rbf

import (
	"fmt"
	gomath "math"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/meshmorph/pkg/math"
)

// DefaultConditionLimit is the LU condition estimate above which a system is
// treated as singular and solved with the pseudo-inverse.
const DefaultConditionLimit = 1e14

type options struct {
	logger         *zap.Logger
	conditionLimit float64
}

// Option configures Build and Fit.
type Option func(*options)

// WithLogger sets the logger used to report degenerate systems.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConditionLimit overrides DefaultConditionLimit.
func WithConditionLimit(limit float64) Option {
	return func(o *options) {
		if limit > 0 {
			o.conditionLimit = limit
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), conditionLimit: DefaultConditionLimit}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// System is the augmented interpolation matrix for one control set.
//
//	| K   P |
//	| Pᵀ  0 |
//
// K is the N×N matrix of pairwise control distances and P holds the controls
// as rows [x y z 1]. The factorization is shared by all three axes.
type System struct {
	before []math.Vec3
	a      *mat.Dense
	opts   options

	lu       mat.LU
	cond     float64
	singular bool

	pinvOnce sync.Once
	pinv     *mat.Dense
	pinvErr  error
}

// Build constructs the (N+4)×(N+4) system for the before control points.
func Build(before []math.Vec3, opts ...Option) (*System, error) {
	n := len(before)
	if n < MinControlPoints {
		return nil, &InsufficientControlPointsError{Have: n, Need: MinControlPoints}
	}

	size := n + 4
	a := mat.NewDense(size, size, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := before[i].Distance(before[j])
			a.Set(i, j, d)
			a.Set(j, i, d)
		}
		for c := 0; c < 3; c++ {
			v := before[i].Axis(c)
			a.Set(i, n+c, v)
			a.Set(n+c, i, v)
		}
		a.Set(i, n+3, 1)
		a.Set(n+3, i, 1)
	}

	s := &System{
		before: append([]math.Vec3(nil), before...),
		a:      a,
		opts:   buildOptions(opts),
	}
	s.lu.Factorize(a)
	s.cond = s.lu.Cond()
	s.singular = gomath.IsNaN(s.cond) || gomath.IsInf(s.cond, 0) || s.cond > s.opts.conditionLimit
	return s, nil
}

// Len returns the number of control points.
func (s *System) Len() int { return len(s.before) }

// Matrix returns a copy of the augmented system matrix.
func (s *System) Matrix() *mat.Dense {
	return mat.DenseCopyOf(s.a)
}

// Condition returns the LU condition number estimate of the system.
func (s *System) Condition() float64 { return s.cond }

// SolveWeights solves the system for one axis of target values. values holds
// one entry per control point; the four affine constraint zeros are appended
// here. The returned weights have length N+4.
//
// When the system is singular the weights come from the Moore–Penrose
// pseudo-inverse and a *NumericDegeneracyError is returned with them.
func (s *System) SolveWeights(values []float64) ([]float64, error) {
	n := len(s.before)
	if len(values) != n {
		return nil, fmt.Errorf("%w: got %d values for %d controls", ErrValueLength, len(values), n)
	}

	b := mat.NewVecDense(n+4, nil)
	for i, v := range values {
		b.SetVec(i, v)
	}

	if !s.singular {
		var x mat.VecDense
		err := s.lu.SolveVecTo(&x, false, b)
		if err == nil {
			return vecData(&x), nil
		}
		return s.solvePinv(b, err)
	}
	return s.solvePinv(b, nil)
}

func (s *System) solvePinv(b *mat.VecDense, cause error) ([]float64, error) {
	s.pinvOnce.Do(func() {
		s.pinv, s.pinvErr = pseudoInverse(s.a)
	})
	if s.pinvErr != nil {
		return nil, s.pinvErr
	}
	var x mat.VecDense
	x.MulVec(s.pinv, b)
	return vecData(&x), &NumericDegeneracyError{Axis: -1, Condition: s.cond, cause: cause}
}

// pseudoInverse computes the Moore–Penrose inverse from a thin SVD, dropping
// singular values below max(m,n)·eps·σmax.
func pseudoInverse(a *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("rbf: SVD factorization failed")
	}
	values := svd.Values(nil)

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	r, c := a.Dims()
	tol := float64(max(r, c)) * eps * values[0]

	// V · Σ⁺ · Uᵀ
	vs := mat.DenseCopyOf(&v)
	_, k := vs.Dims()
	for j := 0; j < k; j++ {
		inv := 0.0
		if values[j] > tol {
			inv = 1 / values[j]
		}
		for i := 0; i < c; i++ {
			vs.Set(i, j, vs.At(i, j)*inv)
		}
	}
	var p mat.Dense
	p.Mul(vs, u.T())
	return &p, nil
}

const eps = 2.220446049250313e-16

func vecData(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
