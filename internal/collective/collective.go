// Package collective provides the rank-addressed collective-messaging
// substrate the rest of the engine is built on: broadcast, scatter,
// all-gather, all-reduce, and a process-group abort. Spec §1/§6 treat this
// transport as an assumed external collaborator (the real deployment target
// is something like an MPI process group); this package is the in-process
// goroutine/channel substrate used to drive and test the engine without
// depending on a cgo MPI binding that has no pure-Go equivalent in the
// ecosystem.
package collective

import (
	"bytes"
	"context"
	"encoding/gob"
)

// Communicator is the set of operations every rank needs to coordinate a
// simulation step with the rest of its process group.
type Communicator interface {
	// Rank returns this process's position in the group, in [0, Size()).
	Rank() int

	// Size returns the number of ranks in the group.
	Size() int

	// Broadcast sends root's data to every rank, itself included. Every
	// rank in the group must call Broadcast with the same root for a given
	// round; only root's data argument is used.
	Broadcast(ctx context.Context, root int, data []byte) ([]byte, error)

	// Scatter distributes chunks[r] to rank r. Every rank must call
	// Scatter with the same root; only root's chunks argument is used, and
	// it must have exactly Size() elements.
	Scatter(ctx context.Context, root int, chunks [][]byte) ([]byte, error)

	// AllGather collects every rank's data and returns it to every rank,
	// ordered by rank.
	AllGather(ctx context.Context, data []byte) ([][]byte, error)

	// AllReduce folds every rank's data through reduce (in rank order) and
	// returns the fold result to every rank. reduce must be associative;
	// only one rank's reduce function is actually invoked, so it must be
	// pure and side-effect free.
	AllReduce(ctx context.Context, data []byte, reduce func(a, b []byte) []byte) ([]byte, error)

	// Abort unblocks every rank currently waiting on a collective call (and
	// every future call) with reason, modelling an MPI process-group abort
	// after a fatal error on any one rank (spec §7).
	Abort(reason error)

	// Done is closed once Abort has been called.
	Done() <-chan struct{}

	// Err returns the abort reason once Done is closed, nil otherwise.
	Err() error
}

// EncodeGob gob-encodes v into a byte slice, for use as a Communicator
// payload. Gob's fixed field order makes round-trips bit-identical, which
// spec §4.6 requires for tree transport between ranks.
func EncodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeGob decodes data produced by EncodeGob into v.
func DecodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// BroadcastValue gob-encodes value on root and decodes the broadcast result
// into out on every rank.
func BroadcastValue(ctx context.Context, c Communicator, root int, value any, out any) error {
	var payload []byte
	if c.Rank() == root {
		encoded, err := EncodeGob(value)
		if err != nil {
			return err
		}
		payload = encoded
	}
	result, err := c.Broadcast(ctx, root, payload)
	if err != nil {
		return err
	}
	return DecodeGob(result, out)
}

// AllGatherValue gob-encodes value on every rank and decodes the per-rank
// results into outs, which must have exactly Size() elements (outs[r]
// receives rank r's value).
func AllGatherValue(ctx context.Context, c Communicator, value any, outs []any) error {
	encoded, err := EncodeGob(value)
	if err != nil {
		return err
	}
	results, err := c.AllGather(ctx, encoded)
	if err != nil {
		return err
	}
	for i, raw := range results {
		if err := DecodeGob(raw, outs[i]); err != nil {
			return err
		}
	}
	return nil
}
