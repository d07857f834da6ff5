// Package attachment defines the file format for transform positions
// recorded against a mesh, so they can be restored after the mesh changes.
package attachment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Faultbox/meshmorph/pkg/barycentric"
	"github.com/Faultbox/meshmorph/pkg/math"
	"github.com/Faultbox/meshmorph/pkg/rbf"
)

// SchemaVersion is the record layout written by this package.
const SchemaVersion = 1

// Method is how positions are recorded.
type Method string

const (
	// MethodDefault stores world positions verbatim.
	MethodDefault Method = "default"
	// MethodBarycentric stores surface attachments.
	MethodBarycentric Method = "barycentric"
	// MethodRBF stores the mesh vertex positions and, per transform, the
	// vertices that drive a local interpolation.
	MethodRBF Method = "rbf"
)

// ErrUnknownMethod is returned for a method name outside the known set.
var ErrUnknownMethod = errors.New("attachment: unknown method")

// ParseMethod maps a name to a Method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodDefault, MethodBarycentric, MethodRBF:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (options: default, barycentric, rbf)", ErrUnknownMethod, s)
}

// NeedsMesh reports whether the method records positions against a mesh.
func (m Method) NeedsMesh() bool { return m == MethodBarycentric || m == MethodRBF }

// Pose is a world-space position with an optional rotation.
type Pose struct {
	Position math.Vec3  `json:"position"`
	Rotation *math.Quat `json:"rotation,omitempty"`
}

// RBFPoint is one transform recorded with the rbf method.
type RBFPoint struct {
	Position math.Vec3 `json:"position"`
	// Probes are the points one probe length along the transform's X and Y
	// axes. Empty when no rotation was recorded.
	Probes []math.Vec3 `json:"probes,omitempty"`
	// Indices are the mesh vertices driving this point.
	Indices []int `json:"indices"`
}

// RBFData is the payload of the rbf method.
type RBFData struct {
	VertexPositions []math.Vec3 `json:"vertex_positions"`
	Points          []RBFPoint  `json:"points"`
}

// Record is a persisted set of transform positions.
type Record struct {
	SchemaVersion int       `json:"schema_version"`
	ID            uuid.UUID `json:"id"`
	Method        Method    `json:"method"`
	// Mesh names the mesh the positions were recorded against.
	Mesh string `json:"mesh,omitempty"`
	// Transforms are unique transform names, in recording order. Every
	// per-transform slice below is indexed the same way.
	Transforms  []string                 `json:"transforms"`
	Default     []Pose                   `json:"default,omitempty"`
	Attachments []barycentric.Attachment `json:"attachments,omitempty"`
	RBF         *RBFData                 `json:"rbf,omitempty"`
	// SourceMeshVertexCount is the vertex count of Mesh when recorded.
	SourceMeshVertexCount int `json:"source_mesh_vertex_count,omitempty"`
	// Hierarchy maps a transform name to its parent name.
	Hierarchy map[string]string `json:"hierarchy,omitempty"`
}

// New returns an empty record with a fresh ID.
func New(method Method, transforms []string) *Record {
	return &Record{
		SchemaVersion: SchemaVersion,
		ID:            uuid.New(),
		Method:        method,
		Transforms:    append([]string(nil), transforms...),
	}
}

// ValidationError describes a malformed record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("attachment: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks that the record is complete and self-consistent.
func (r *Record) Validate() error {
	if r.SchemaVersion != SchemaVersion {
		return invalid("schema_version", "got %d, want %d", r.SchemaVersion, SchemaVersion)
	}
	if _, err := ParseMethod(string(r.Method)); err != nil {
		return invalid("method", "%q", r.Method)
	}
	if len(r.Transforms) == 0 {
		return invalid("transforms", "empty")
	}
	seen := make(map[string]bool, len(r.Transforms))
	for _, name := range r.Transforms {
		if name == "" {
			return invalid("transforms", "empty name")
		}
		if seen[name] {
			return invalid("transforms", "duplicate name %q", name)
		}
		seen[name] = true
	}

	n := len(r.Transforms)
	switch r.Method {
	case MethodDefault:
		if len(r.Default) != n {
			return invalid("default", "%d poses for %d transforms", len(r.Default), n)
		}
	case MethodBarycentric:
		if len(r.Attachments) != n {
			return invalid("attachments", "%d attachments for %d transforms", len(r.Attachments), n)
		}
	case MethodRBF:
		if err := r.validateRBF(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Record) validateRBF() error {
	if r.RBF == nil {
		return invalid("rbf", "missing")
	}
	verts := len(r.RBF.VertexPositions)
	if verts < rbf.MinControlPoints {
		return invalid("rbf.vertex_positions", "%d vertices, need at least %d", verts, rbf.MinControlPoints)
	}
	if r.SourceMeshVertexCount != verts {
		return invalid("source_mesh_vertex_count", "%d, but %d vertex positions stored", r.SourceMeshVertexCount, verts)
	}
	if len(r.RBF.Points) != len(r.Transforms) {
		return invalid("rbf.points", "%d points for %d transforms", len(r.RBF.Points), len(r.Transforms))
	}
	for i, p := range r.RBF.Points {
		if len(p.Probes) != 0 && len(p.Probes) != 2 {
			return invalid("rbf.points", "point %d has %d probes", i, len(p.Probes))
		}
		if len(p.Indices) < rbf.MinControlPoints {
			return invalid("rbf.points", "point %d has %d indices, need at least %d", i, len(p.Indices), rbf.MinControlPoints)
		}
		for _, v := range p.Indices {
			if v < 0 || v >= verts {
				return invalid("rbf.points", "point %d: vertex %d out of range", i, v)
			}
		}
	}
	return nil
}

// Parent returns the recorded parent of name, if any.
func (r *Record) Parent(name string) (string, bool) {
	p, ok := r.Hierarchy[name]
	return p, ok && p != ""
}

// ParentFirst returns the indices of Transforms ordered so that every
// transform comes after its recorded parent when the parent is part of the
// record. Otherwise recording order is kept.
func (r *Record) ParentFirst() []int {
	index := make(map[string]int, len(r.Transforms))
	for i, name := range r.Transforms {
		index[name] = i
	}
	visited := make([]bool, len(r.Transforms))
	order := make([]int, 0, len(r.Transforms))

	var visit func(i int, depth int)
	visit = func(i int, depth int) {
		if visited[i] || depth > len(r.Transforms) {
			return
		}
		if p, ok := r.Parent(r.Transforms[i]); ok {
			if pi, ok := index[p]; ok {
				visit(pi, depth+1)
			}
		}
		if !visited[i] {
			visited[i] = true
			order = append(order, i)
		}
	}
	for i := range r.Transforms {
		visit(i, 0)
	}
	return order
}
