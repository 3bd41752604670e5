// Package space implements the axis-aligned bounding box, octant
// (2^D-way subspace) indexing, and body work-division arithmetic the body
// tree is built on (spec §3, §4.2, §4.4, §4.5).
package space

import (
	"context"

	"github.com/nbody-sim/barnes-hut/internal/collective"
	"github.com/nbody-sim/barnes-hut/internal/vector"
)

// Space is an axis-aligned box. Center is redundant with Min/Max but
// cached, per spec §3.
type Space[T vector.Scalar] struct {
	Min, Max, Center vector.Vector[T]
}

// New builds a Space from min/max bounds, computing Center = (Min+Max)/2.
func New[T vector.Scalar](min, max vector.Vector[T]) Space[T] {
	return Space[T]{
		Min:    min,
		Max:    max,
		Center: vector.DivScalar(vector.Add(min, max), T(2)),
	}
}

// Size is the side length used by the Barnes-Hut acceptance criterion:
// only dimension 0 defines it, per spec §4.4 (boxes are typically, but not
// required to be, cubical).
func (s Space[T]) Size() T {
	return s.Max[0] - s.Min[0]
}

// Contains reports whether p lies within the closed box [Min, Max].
func (s Space[T]) Contains(p vector.Vector[T]) bool {
	for d := range p {
		if p[d] < s.Min[d] || p[d] > s.Max[d] {
			return false
		}
	}
	return true
}

// PartOf returns the octant index (in [0, 2^D)) of p within this space:
// bit d is 1 iff p[d] < Center[d] — a coordinate equal to the center
// belongs to the non-negative (bit=0) side, per spec §4.4.
func (s Space[T]) PartOf(p vector.Vector[T]) int {
	part := 0
	for d := range p {
		if p[d] < s.Center[d] {
			part |= 1 << d
		}
	}
	return part
}

// Subspace returns the child box for the given octant: for each dimension
// d, the half of [Min[d], Max[d]] determined by bit d of part (set ⇒ the
// lower half, below Center[d]; clear ⇒ the upper half).
func (s Space[T]) Subspace(part int) Space[T] {
	min := make(vector.Vector[T], len(s.Min))
	max := make(vector.Vector[T], len(s.Max))
	for d := range s.Min {
		if part&(1<<d) != 0 {
			min[d] = s.Min[d]
			max[d] = s.Center[d]
		} else {
			min[d] = s.Center[d]
			max[d] = s.Max[d]
		}
	}
	return New(min, max)
}

// Dim returns the number of dimensions this space is defined over.
func (s Space[T]) Dim() int {
	return len(s.Min)
}

// NumOctants returns 2^D, the number of children a space's root Inner node
// can have.
func (s Space[T]) NumOctants() int {
	return 1 << s.Dim()
}

// Division is a contiguous, equal-sized work partition over N items across
// P ranks, per spec §4.2.
type Division struct {
	Begin, End, Count int
}

// DivideWork computes rank r's contiguous slice [r*N/P, (r+1)*N/P) of total
// items. Callers must have already verified total%size == 0 (spec's
// DIVISIBILITY error kind); DivideWork itself does not validate that, since
// the config layer is responsible for rejecting the run before any rank
// reaches here.
func DivideWork(total, rank, size int) Division {
	per := total / size
	begin := rank * per
	end := begin + per
	return Division{Begin: begin, End: end, Count: end - begin}
}

// LocalBounds computes the component-wise min/max over a (possibly empty)
// slice of positions. Called per-rank before the global all-reduce in
// GlobalBounds.
func LocalBounds[T vector.Scalar](positions []vector.Vector[T]) (min, max vector.Vector[T]) {
	if len(positions) == 0 {
		return nil, nil
	}
	dim := len(positions[0])
	min = make(vector.Vector[T], dim)
	max = make(vector.Vector[T], dim)
	copy(min, positions[0])
	copy(max, positions[0])
	for _, p := range positions[1:] {
		for d := 0; d < dim; d++ {
			if p[d] < min[d] {
				min[d] = p[d]
			}
			if p[d] > max[d] {
				max[d] = p[d]
			}
		}
	}
	return min, max
}

// GlobalBounds all-reduces every rank's local min/max (spec §4.5) into the
// Space every rank will root its tree at this step.
func GlobalBounds[T vector.Scalar](ctx context.Context, comm collective.Communicator, localMin, localMax vector.Vector[T]) (Space[T], error) {
	globalMin, err := allReduceVector(ctx, comm, localMin, componentMin[T])
	if err != nil {
		return Space[T]{}, err
	}
	globalMax, err := allReduceVector(ctx, comm, localMax, componentMax[T])
	if err != nil {
		return Space[T]{}, err
	}
	return New(globalMin, globalMax), nil
}

func componentMin[T vector.Scalar](a, b vector.Vector[T]) vector.Vector[T] {
	out := make(vector.Vector[T], len(a))
	for d := range a {
		if a[d] < b[d] {
			out[d] = a[d]
		} else {
			out[d] = b[d]
		}
	}
	return out
}

func componentMax[T vector.Scalar](a, b vector.Vector[T]) vector.Vector[T] {
	out := make(vector.Vector[T], len(a))
	for d := range a {
		if a[d] > b[d] {
			out[d] = a[d]
		} else {
			out[d] = b[d]
		}
	}
	return out
}

func allReduceVector[T vector.Scalar](ctx context.Context, comm collective.Communicator, v vector.Vector[T], op func(a, b vector.Vector[T]) vector.Vector[T]) (vector.Vector[T], error) {
	data, err := collective.EncodeGob(v)
	if err != nil {
		return nil, err
	}

	reduce := func(a, b []byte) []byte {
		var va, vb vector.Vector[T]
		if err := collective.DecodeGob(a, &va); err != nil {
			return a
		}
		if err := collective.DecodeGob(b, &vb); err != nil {
			return a
		}
		encoded, err := collective.EncodeGob(op(va, vb))
		if err != nil {
			return a
		}
		return encoded
	}

	result, err := comm.AllReduce(ctx, data, reduce)
	if err != nil {
		return nil, err
	}

	var out vector.Vector[T]
	if err := collective.DecodeGob(result, &out); err != nil {
		return nil, err
	}
	return out, nil
}
