// Package body defines the point-mass Body type, its XML file codec, and
// the closure-based random generators used to seed a run (spec §3, §4.9,
// §6 "Body input file").
package body

import (
	"github.com/nbody-sim/barnes-hut/internal/vector"
)

// Body is a point mass: created at initialisation, mutated only by the
// integrator, never destroyed until end of run (spec §3).
type Body[T vector.Scalar] struct {
	Position vector.Vector[T]
	Velocity vector.Vector[T]
	Mass     T
}

// Bodies is the full, ordered population. Its length must be divisible by
// the process-group size; rank r's slice is [r*N/P, (r+1)*N/P).
type Bodies[T vector.Scalar] []Body[T]

// Clone returns a deep copy, so local per-step mutation never aliases the
// authoritative array shared across ranks between all-gathers.
func (bs Bodies[T]) Clone() Bodies[T] {
	out := make(Bodies[T], len(bs))
	for i, b := range bs {
		out[i] = Body[T]{
			Position: b.Position.Clone(),
			Velocity: b.Velocity.Clone(),
			Mass:     b.Mass,
		}
	}
	return out
}

// TotalMass sums every body's mass, used to check spec §8 property 5 (mass
// conservation across a step).
func (bs Bodies[T]) TotalMass() T {
	var total T
	for _, b := range bs {
		total += b.Mass
	}
	return total
}

// Positions extracts just the position vectors, the shape space.LocalBounds
// and the tree builder want.
func (bs Bodies[T]) Positions() []vector.Vector[T] {
	out := make([]vector.Vector[T], len(bs))
	for i, b := range bs {
		out[i] = b.Position
	}
	return out
}
