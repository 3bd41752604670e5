// Package bodytree implements the 2^D-way spatial decomposition bodies are
// inserted into each step (spec §3, §4.6): a pool-arena tree whose nodes are
// a tagged Leaf/Inner union, addressed by integer index rather than pointer
// so the whole structure is trivially copyable, mergeable, and
// serialisable for inter-rank transport.
package bodytree

import (
	"github.com/nbody-sim/barnes-hut/internal/body"
	"github.com/nbody-sim/barnes-hut/internal/collective"
	"github.com/nbody-sim/barnes-hut/internal/space"
	"github.com/nbody-sim/barnes-hut/internal/vector"
	apperrors "github.com/nbody-sim/barnes-hut/pkg/errors"
)

// Kind discriminates the two node variants a BodyTreeNode can hold.
type Kind uint8

const (
	// KindLeaf holds a single body.
	KindLeaf Kind = iota
	// KindInner holds up to 2^D children.
	KindInner
)

// noChild marks an absent child slot. Index 0 is a valid node (the root),
// so a negative sentinel is used instead of 0.
const noChild = -1

// Node is one entry in a Tree's pool: a Leaf carries BodyIndex, an Inner
// carries Children. Mass and CenterOfMass are the mass-weighted aggregate
// of every leaf beneath this node (for a Leaf, that's just its own body).
type Node[T vector.Scalar] struct {
	Space        space.Space[T]
	Mass         T
	CenterOfMass vector.Vector[T]
	Kind         Kind
	BodyIndex    int
	Children     []int
}

// Tree is a contiguous pool of Nodes, rooted (when non-empty) at index 0.
// A fresh Tree is built from scratch every step; nothing in this package
// mutates a Tree across steps.
type Tree[T vector.Scalar] struct {
	RootSpace space.Space[T]
	Nodes     []Node[T]
}

// New returns an empty tree rooted at rootSpace, ready to receive pushes.
func New[T vector.Scalar](rootSpace space.Space[T]) *Tree[T] {
	return &Tree[T]{RootSpace: rootSpace}
}

// Empty reports whether the tree holds no bodies yet.
func (t *Tree[T]) Empty() bool {
	return len(t.Nodes) == 0
}

func newChildren(n int) []int {
	children := make([]int, n)
	for i := range children {
		children[i] = noChild
	}
	return children
}

func leafNode[T vector.Scalar](sp space.Space[T], mass T, pos vector.Vector[T], bodyIndex int) Node[T] {
	return Node[T]{
		Space:        sp,
		Mass:         mass,
		CenterOfMass: pos.Clone(),
		Kind:         KindLeaf,
		BodyIndex:    bodyIndex,
	}
}

// Push inserts bodies[bodyIndex] into the tree (spec §4.6). It returns a
// COINCIDENT_BODIES *errors.AppError if the new body's position exactly
// matches an existing leaf's.
func (t *Tree[T]) Push(bodies body.Bodies[T], bodyIndex int) error {
	pos := bodies[bodyIndex].Position
	mass := bodies[bodyIndex].Mass

	if t.Empty() {
		t.Nodes = append(t.Nodes, leafNode(t.RootSpace, mass, pos, bodyIndex))
		return nil
	}
	return t.pushAt(0, bodies, bodyIndex)
}

// pushAt descends from node idx, inserting bodies[bodyIndex] per spec
// §4.6's Leaf-expansion / Inner-accumulate rules. idx must already exist in
// the pool (it need not be the tree's global root: Merge reuses this to
// push a single body into an arbitrary subtree).
func (t *Tree[T]) pushAt(idx int, bodies body.Bodies[T], bodyIndex int) error {
	pos := bodies[bodyIndex].Position
	mass := bodies[bodyIndex].Mass

	for {
		switch t.Nodes[idx].Kind {
		case KindInner:
			vector.AccumulateCentroidInPlace(t.Nodes[idx].CenterOfMass, &t.Nodes[idx].Mass, pos, mass)
			part := t.Nodes[idx].Space.PartOf(pos)
			if child := t.Nodes[idx].Children[part]; child != noChild {
				idx = child
				continue
			}
			childSpace := t.Nodes[idx].Space.Subspace(part)
			newIdx := len(t.Nodes)
			t.Nodes = append(t.Nodes, leafNode(childSpace, mass, pos, bodyIndex))
			t.Nodes[idx].Children[part] = newIdx
			return nil

		case KindLeaf:
			existing := t.Nodes[idx]
			existingPos := bodies[existing.BodyIndex].Position
			if vector.Equal(existingPos, pos) {
				return apperrors.New(apperrors.CodeCoincidentBodies,
					"two bodies share an exact position during tree insertion")
			}

			// Expand the leaf: re-home the existing body one level down,
			// turn this slot into an Inner node, then retry — the Inner
			// branch above will now take over and update mass/centroid.
			existingPart := existing.Space.PartOf(existingPos)
			expandedIdx := len(t.Nodes)
			t.Nodes = append(t.Nodes, leafNode(existing.Space.Subspace(existingPart), existing.Mass, existingPos, existing.BodyIndex))

			children := newChildren(existing.Space.NumOctants())
			children[existingPart] = expandedIdx
			t.Nodes[idx] = Node[T]{
				Space:        existing.Space,
				Mass:         existing.Mass,
				CenterOfMass: existing.CenterOfMass,
				Kind:         KindInner,
				Children:     children,
			}
			continue
		}
	}
}

// Clone returns a deep copy: every node's slices are independent of t's, so
// mutating the copy never aliases t.
func (t *Tree[T]) Clone() *Tree[T] {
	out := &Tree[T]{RootSpace: t.RootSpace, Nodes: make([]Node[T], len(t.Nodes))}
	for i, n := range t.Nodes {
		out.Nodes[i] = Node[T]{
			Space:        n.Space,
			Mass:         n.Mass,
			CenterOfMass: n.CenterOfMass.Clone(),
			Kind:         n.Kind,
			BodyIndex:    n.BodyIndex,
		}
		if n.Kind == KindInner {
			out.Nodes[i].Children = append([]int(nil), n.Children...)
		}
	}
	return out
}

// deepCopySubtree appends src's subtree rooted at srcIdx onto dst's pool,
// rewriting child indices to their new positions, and returns the new root
// index. Used by Merge when only one side has a child at some octant.
func deepCopySubtree[T vector.Scalar](dst *Tree[T], src *Tree[T], srcIdx int) int {
	n := src.Nodes[srcIdx]
	copied := Node[T]{
		Space:        n.Space,
		Mass:         n.Mass,
		CenterOfMass: n.CenterOfMass.Clone(),
		Kind:         n.Kind,
		BodyIndex:    n.BodyIndex,
	}
	if n.Kind == KindInner {
		copied.Children = newChildren(len(n.Children))
		for part, child := range n.Children {
			if child == noChild {
				continue
			}
			copied.Children[part] = deepCopySubtree(dst, src, child)
		}
	}
	newIdx := len(dst.Nodes)
	dst.Nodes = append(dst.Nodes, copied)
	return newIdx
}

// copyInto overwrites dst.Nodes[dstIdx] with an independent copy of src's
// subtree rooted at srcIdx; any children are appended fresh to dst's pool.
// Used when a's slot must become a structural copy of b's subtree (the
// Leaf-meets-Inner merge case) without aliasing b's (or a stale copy's)
// backing slices.
func copyInto[T vector.Scalar](dst *Tree[T], dstIdx int, src *Tree[T], srcIdx int) {
	n := src.Nodes[srcIdx]
	node := Node[T]{
		Space:        n.Space,
		Mass:         n.Mass,
		CenterOfMass: n.CenterOfMass.Clone(),
		Kind:         n.Kind,
		BodyIndex:    n.BodyIndex,
	}
	if n.Kind == KindInner {
		node.Children = newChildren(len(n.Children))
		for part, child := range n.Children {
			if child == noChild {
				continue
			}
			node.Children[part] = deepCopySubtree(dst, src, child)
		}
	}
	dst.Nodes[dstIdx] = node
}

// Merge folds b's leaves into a, equivalent to inserting every one of b's
// bodies into a via Push, per spec §4.6. a is mutated in place and
// returned; b is read-only throughout. Both trees must share the same
// root space (they were built from the same global bounding box).
func Merge[T vector.Scalar](a, b *Tree[T], bodies body.Bodies[T]) (*Tree[T], error) {
	if b.Empty() {
		return a, nil
	}
	if a.Empty() {
		return b.Clone(), nil
	}
	if err := mergeNodes(a, 0, b, 0, bodies); err != nil {
		return nil, err
	}
	return a, nil
}

func mergeNodes[T vector.Scalar](a *Tree[T], aIdx int, b *Tree[T], bIdx int, bodies body.Bodies[T]) error {
	bNode := b.Nodes[bIdx]

	if bNode.Kind == KindLeaf {
		return a.pushAt(aIdx, bodies, bNode.BodyIndex)
	}

	aNode := a.Nodes[aIdx]
	if aNode.Kind == KindLeaf {
		// b is Inner, a is a single body: graft b's subtree in a's place,
		// then re-insert a's body into it.
		existingBodyIndex := aNode.BodyIndex
		copyInto(a, aIdx, b, bIdx)
		return a.pushAt(aIdx, bodies, existingBodyIndex)
	}

	// Both Inner: accumulate b's aggregate into a's, then merge children
	// part-by-part, part index 0 upward (spec §5 ordering guarantee).
	vector.AccumulateCentroidInPlace(a.Nodes[aIdx].CenterOfMass, &a.Nodes[aIdx].Mass, bNode.CenterOfMass, bNode.Mass)
	for part := 0; part < len(bNode.Children); part++ {
		bChild := bNode.Children[part]
		if bChild == noChild {
			continue
		}
		aChild := a.Nodes[aIdx].Children[part]
		if aChild == noChild {
			a.Nodes[aIdx].Children[part] = deepCopySubtree(a, b, bChild)
			continue
		}
		if err := mergeNodes(a, aChild, b, bChild, bodies); err != nil {
			return err
		}
	}
	return nil
}

// Encode gob-encodes the tree for inter-rank transport (spec §4.6
// Serialisation). Gob's fixed field order makes the round-trip
// bit-identical, which the parallel tree reduction depends on.
func (t *Tree[T]) Encode() ([]byte, error) {
	return collective.EncodeGob(t)
}

// Decode reconstructs a tree previously produced by Encode.
func Decode[T vector.Scalar](data []byte) (*Tree[T], error) {
	var t Tree[T]
	if err := collective.DecodeGob(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
