package rbf

import (
	"errors"
	"fmt"
)

// MinControlPoints is the smallest control set that determines the affine part.
const MinControlPoints = 4

var (
	// ErrPairLength is returned when before and after differ in length.
	ErrPairLength = errors.New("rbf: before and after control sets differ in length")

	// ErrValueLength is returned when a per-axis value vector does not match the system.
	ErrValueLength = errors.New("rbf: value count does not match control count")
)

// InsufficientControlPointsError is returned when fewer than
// MinControlPoints control points are supplied. The solver does not try to
// recover from an under-determined system.
type InsufficientControlPointsError struct {
	Have int
	Need int
}

func (e *InsufficientControlPointsError) Error() string {
	return fmt.Sprintf("rbf: insufficient control points: have %d, need at least %d", e.Have, e.Need)
}

// NumericDegeneracyError reports that the interpolation system was singular or
// ill-conditioned and the weights were computed with the pseudo-inverse instead.
// It is recoverable: the weights returned alongside it are usable.
type NumericDegeneracyError struct {
	// Axis is 0, 1 or 2 for x, y, z, or -1 when not tied to one axis.
	Axis      int
	Condition float64
	cause     error
}

func (e *NumericDegeneracyError) Error() string {
	axis := "?"
	if e.Axis >= 0 && e.Axis < 3 {
		axis = string("xyz"[e.Axis])
	}
	return fmt.Sprintf("rbf: degenerate system on axis %s (condition %.3g), solved with pseudo-inverse", axis, e.Condition)
}

func (e *NumericDegeneracyError) Unwrap() error { return e.cause }

// IsDegeneracy reports whether err carries a NumericDegeneracyError.
func IsDegeneracy(err error) bool {
	var de *NumericDegeneracyError
	return errors.As(err, &de)
}
