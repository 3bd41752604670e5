package body

import (
	"context"
	"math"

	"github.com/nbody-sim/barnes-hut/internal/collective"
	"github.com/nbody-sim/barnes-hut/internal/prng"
	"github.com/nbody-sim/barnes-hut/internal/space"
	"github.com/nbody-sim/barnes-hut/internal/vector"
	apperrors "github.com/nbody-sim/barnes-hut/pkg/errors"
)

// Generator produces the body at global index i. It is a first-class value
// holding its own RNG state rather than relying on any captured shared
// state (spec §9 "closure-based body generators"), so a rank can safely
// call it sequentially for its own slice.
type Generator[T vector.Scalar] func(i int) Body[T]

// CubeGenerator returns a Generator that scatters bodies uniformly through
// a cube of the given side length centered on the origin, with mass drawn
// uniformly from [minMass, maxMass] and zero initial velocity. Recovered
// from original_source/generator/cube.cpp's intent (a density-driven cube
// of bodies); the original's main() never reached its generation logic
// (an early, seemingly accidental `return 0` before the body-emitting
// code), so the distribution itself is this transform's own design,
// parameterised the way the original's CLI options (`number`, `density`)
// suggest.
func CubeGenerator[T vector.Scalar](stream *prng.Stream, dim int, sideLength, minMass, maxMass float64) Generator[T] {
	half := sideLength / 2
	return func(i int) Body[T] {
		pos := vector.New[T](dim)
		vel := vector.New[T](dim)
		for d := 0; d < dim; d++ {
			pos[d] = T(stream.Uniform(-half, half))
		}
		mass := T(stream.Uniform(minMass, maxMass))
		return Body[T]{Position: pos, Velocity: vel, Mass: mass}
	}
}

// ThreeBodyPreset returns the fixed figure-eight three-body initial state
// used by spec §8 Scenario A, recovered verbatim (values and ordering)
// from original_source/generator/three_body.cpp. It panics on an index
// argument outside [0,3); it only seeds a 3-body run.
func ThreeBodyPreset[T vector.Scalar]() Generator[T] {
	bodies := []Body[T]{
		{
			Position: vector.Vector[T]{-0.97000436, 0.24308753},
			Velocity: vector.Vector[T]{0.4662036850, 0.4323657300},
			Mass:     1,
		},
		{
			Position: vector.Vector[T]{0, 0},
			Velocity: vector.Vector[T]{-0.93240737, -0.86473146},
			Mass:     1,
		},
		{
			Position: vector.Vector[T]{0.97000436, -0.24308753},
			Velocity: vector.Vector[T]{0.4662036850, 0.4323657300},
			Mass:     1,
		},
	}
	return func(i int) Body[T] {
		if i < 0 || i >= len(bodies) {
			panic("body: three-body preset only defines 3 bodies")
		}
		b := bodies[i]
		return Body[T]{
			Position: b.Position.Clone(),
			Velocity: b.Velocity.Clone(),
			Mass:     b.Mass,
		}
	}
}

// GenerateDistributed implements spec §4.9: each rank computes its slice,
// calls gen in index order to fill it, then all-gathers every slice into
// the full, globally ordered Bodies array every rank holds afterward.
func GenerateDistributed[T vector.Scalar](ctx context.Context, comm collective.Communicator, total int, gen Generator[T]) (Bodies[T], error) {
	div := space.DivideWork(total, comm.Rank(), comm.Size())

	local := make(Bodies[T], div.Count)
	for i := 0; i < div.Count; i++ {
		b := gen(div.Begin + i)
		if !finite(b) {
			return nil, apperrors.New(apperrors.CodeFloatingPointTrap, "generator produced a non-finite body")
		}
		local[i] = b
	}

	data, err := collective.EncodeGob(local)
	if err != nil {
		return nil, err
	}
	gathered, err := comm.AllGather(ctx, data)
	if err != nil {
		return nil, err
	}

	out := make(Bodies[T], 0, total)
	for _, raw := range gathered {
		var slice Bodies[T]
		if err := collective.DecodeGob(raw, &slice); err != nil {
			return nil, err
		}
		out = append(out, slice...)
	}
	return out, nil
}

// finite reports whether every component of a body's state is a real
// number, checked at generation time so a bad generator trips
// FLOATING_POINT_TRAP immediately instead of propagating into the tree
// (spec §7, §9).
func finite[T vector.Scalar](b Body[T]) bool {
	if !vector.Finite(b.Position) || !vector.Finite(b.Velocity) {
		return false
	}
	f := float64(b.Mass)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
