package bodytree

import (
	"context"

	"github.com/nbody-sim/barnes-hut/internal/body"
	"github.com/nbody-sim/barnes-hut/internal/collective"
	"github.com/nbody-sim/barnes-hut/internal/space"
	"github.com/nbody-sim/barnes-hut/internal/vector"
)

// ParallelBuild implements spec §4.6's parallel tree construction: every
// rank inserts its own slice of bodies into a tree rooted at rootSpace,
// then the group folds every rank's partial tree into one through an
// associative AllReduce using Merge as the binary operator. Every rank
// ends the call holding a byte-identical tree (spec §5's ordering
// guarantee), since the full Bodies array (needed by Merge's leaf-push
// path) is already available to every rank before this is called.
func ParallelBuild[T vector.Scalar](ctx context.Context, comm collective.Communicator, rootSpace space.Space[T], bodies body.Bodies[T]) (*Tree[T], error) {
	div := space.DivideWork(len(bodies), comm.Rank(), comm.Size())

	local := New[T](rootSpace)
	for i := div.Begin; i < div.End; i++ {
		if err := local.Push(bodies, i); err != nil {
			return nil, err
		}
	}

	data, err := local.Encode()
	if err != nil {
		return nil, err
	}

	var mergeErr error
	reduce := func(a, b []byte) []byte {
		if mergeErr != nil {
			return a
		}
		ta, err := Decode[T](a)
		if err != nil {
			mergeErr = err
			return a
		}
		tb, err := Decode[T](b)
		if err != nil {
			mergeErr = err
			return a
		}
		merged, err := Merge(ta, tb, bodies)
		if err != nil {
			mergeErr = err
			return a
		}
		encoded, err := merged.Encode()
		if err != nil {
			mergeErr = err
			return a
		}
		return encoded
	}

	result, err := comm.AllReduce(ctx, data, reduce)
	if err != nil {
		return nil, err
	}
	if mergeErr != nil {
		return nil, mergeErr
	}
	return Decode[T](result)
}
