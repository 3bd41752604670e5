// Package integrator advances one simulation step: the tree-approximated
// force is evaluated per body, velocity and position are updated with the
// velocity-averaged midpoint rule, and the result is all-gathered back into
// an authoritative, globally ordered Bodies array (spec §4.8).
package integrator

import (
	"context"

	"github.com/nbody-sim/barnes-hut/internal/body"
	"github.com/nbody-sim/barnes-hut/internal/bodytree"
	"github.com/nbody-sim/barnes-hut/internal/collective"
	"github.com/nbody-sim/barnes-hut/internal/force"
	"github.com/nbody-sim/barnes-hut/internal/space"
	"github.com/nbody-sim/barnes-hut/internal/vector"
	apperrors "github.com/nbody-sim/barnes-hut/pkg/errors"
	"github.com/nbody-sim/barnes-hut/pkg/parallel"
)

// Step applies one time-step of length dt to bodies using tree's force
// approximation, and returns the new, full, rank-identical Bodies array.
// poolConfig controls the intra-rank data parallelism across the local
// slice (spec §5 permits this as long as per-body results don't depend on
// evaluation order, which they don't here: each body's new state depends
// only on its own old state and the read-only tree).
func Step[T vector.Scalar](ctx context.Context, comm collective.Communicator, tree *bodytree.Tree[T], bodies body.Bodies[T], dt T, cfg force.Config[T], poolConfig parallel.PoolConfig) (body.Bodies[T], error) {
	div := space.DivideWork(len(bodies), comm.Rank(), comm.Size())

	local := make(body.Bodies[T], div.Count)
	indices := make([]int, div.Count)
	for i := range indices {
		indices[i] = i
	}

	_, stepErr := parallel.ForEach(ctx, indices, poolConfig, func(_ context.Context, i int) error {
		b := bodies[div.Begin+i]

		a := force.GravityPerUnitMass(cfg, tree, b.Position)
		newVelocity := vector.Add(b.Velocity, vector.Scale(a, dt))
		avgVelocity := vector.Scale(vector.Add(b.Velocity, newVelocity), T(0.5))
		newPosition := vector.Add(b.Position, vector.Scale(avgVelocity, dt))

		if !vector.Finite(a) || !vector.Finite(newVelocity) || !vector.Finite(newPosition) {
			return apperrors.New(apperrors.CodeFloatingPointTrap, "non-finite body state after integration step")
		}

		local[i] = body.Body[T]{Position: newPosition, Velocity: newVelocity, Mass: b.Mass}
		return nil
	})
	if stepErr != nil {
		return nil, stepErr
	}

	data, err := collective.EncodeGob(local)
	if err != nil {
		return nil, err
	}
	gathered, err := comm.AllGather(ctx, data)
	if err != nil {
		return nil, err
	}

	out := make(body.Bodies[T], 0, len(bodies))
	for _, raw := range gathered {
		var slice body.Bodies[T]
		if err := collective.DecodeGob(raw, &slice); err != nil {
			return nil, err
		}
		out = append(out, slice...)
	}
	return out, nil
}
