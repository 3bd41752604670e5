package bodytree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbody-sim/barnes-hut/internal/body"
	"github.com/nbody-sim/barnes-hut/internal/space"
	"github.com/nbody-sim/barnes-hut/internal/vector"
	apperrors "github.com/nbody-sim/barnes-hut/pkg/errors"
)

func rootSpace2D() space.Space[float64] {
	return space.New(vector.Vector[float64]{-1, -1}, vector.Vector[float64]{1, 1})
}

// gridBodies8 is spec §8 Scenario B's fixture: 8 bodies at (+-1,+-1) and
// (+-0.1,+-0.1) with masses 10..17.
func gridBodies8() body.Bodies[float64] {
	positions := []vector.Vector[float64]{
		{1, 1}, {1, -1}, {-1, 1}, {-1, -1},
		{0.1, 0.1}, {0.1, -0.1}, {-0.1, 0.1}, {-0.1, -0.1},
	}
	bodies := make(body.Bodies[float64], len(positions))
	for i, p := range positions {
		bodies[i] = body.Body[float64]{Position: p, Velocity: vector.Vector[float64]{0, 0}, Mass: float64(10 + i)}
	}
	return bodies
}

func buildSequential(t *testing.T, bodies body.Bodies[float64], root space.Space[float64]) *Tree[float64] {
	t.Helper()
	tree := New(root)
	for i := range bodies {
		require.NoError(t, tree.Push(bodies, i))
	}
	return tree
}

func TestPushEmptyTreeCreatesRootLeaf(t *testing.T) {
	bodies := body.Bodies[float64]{{Position: vector.Vector[float64]{0.5, 0.5}, Mass: 3}}
	tree := New(rootSpace2D())
	require.NoError(t, tree.Push(bodies, 0))

	require.Len(t, tree.Nodes, 1)
	assert.Equal(t, KindLeaf, tree.Nodes[0].Kind)
	assert.Equal(t, 0, tree.Nodes[0].BodyIndex)
	assert.InDelta(t, 3.0, tree.Nodes[0].Mass, 1e-12)
}

func TestPushCoincidentBodiesErrors(t *testing.T) {
	bodies := body.Bodies[float64]{
		{Position: vector.Vector[float64]{0.2, 0.2}, Mass: 1},
		{Position: vector.Vector[float64]{0.2, 0.2}, Mass: 1},
	}
	tree := New(rootSpace2D())
	require.NoError(t, tree.Push(bodies, 0))
	err := tree.Push(bodies, 1)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeCoincidentBodies, apperrors.GetErrorCode(err))
}

// TestGridTreeMassAndOctants checks spec §8 Scenario B: root mass 108, and
// four part-indexed children with masses {24, 30, 28, 26}.
func TestGridTreeMassAndOctants(t *testing.T) {
	bodies := gridBodies8()
	tree := buildSequential(t, bodies, rootSpace2D())

	root := tree.Nodes[0]
	require.Equal(t, KindInner, root.Kind)
	assert.InDelta(t, 108.0, root.Mass, 1e-9)

	wantPartMass := map[int]float64{}
	for i, b := range bodies {
		part := rootSpace2D().PartOf(b.Position)
		wantPartMass[part] += b.Mass
	}
	assert.Equal(t, map[int]float64{0: 24, 1: 28, 2: 26, 3: 30}, wantPartMass)

	for part, want := range wantPartMass {
		childIdx := root.Children[part]
		require.NotEqual(t, noChild, childIdx, "part %d should have a child", part)
		assert.InDelta(t, want, tree.Nodes[childIdx].Mass, 1e-9)
	}
}

// TestInnerMassIsLeafSum verifies spec §8 invariant 3: every Inner node's
// mass equals the sum of leaf masses beneath it, and its center_of_mass is
// the mass-weighted average of those leaves' positions.
func TestInnerMassIsLeafSum(t *testing.T) {
	bodies := gridBodies8()
	tree := buildSequential(t, bodies, rootSpace2D())

	var walk func(idx int) (float64, vector.Vector[float64])
	walk = func(idx int) (float64, vector.Vector[float64]) {
		n := tree.Nodes[idx]
		if n.Kind == KindLeaf {
			return bodies[n.BodyIndex].Mass, bodies[n.BodyIndex].Position
		}
		var mass float64
		weighted := vector.New[float64](2)
		for _, c := range n.Children {
			if c == noChild {
				continue
			}
			m, pos := walk(c)
			weighted = vector.Add(weighted, vector.Scale(pos, m))
			mass += m
		}
		centroid := vector.DivScalar(weighted, mass)
		assert.InDelta(t, mass, n.Mass, 1e-9)
		assert.InDelta(t, centroid[0], n.CenterOfMass[0], 1e-9)
		assert.InDelta(t, centroid[1], n.CenterOfMass[1], 1e-9)
		return mass, centroid
	}
	walk(0)
}

// leafBodyMapping returns, for every leaf in the tree, the body index it
// holds, keyed by a deterministic walk order (part index 0 upward at every
// Inner node) so two structurally-equivalent trees produce the same
// sequence regardless of incidental node-pool ordering differences.
func leafBodyMapping(tree *Tree[float64]) []int {
	if tree.Empty() {
		return nil
	}
	var out []int
	var walk func(idx int)
	walk = func(idx int) {
		n := tree.Nodes[idx]
		if n.Kind == KindLeaf {
			out = append(out, n.BodyIndex)
			return
		}
		for _, c := range n.Children {
			if c != noChild {
				walk(c)
			}
		}
	}
	walk(0)
	return out
}

// TestMergeMatchesSequentialInsertion checks spec §8 Scenario B: merging
// any split of the 8-body grid must yield a tree with the same leaf->body
// mapping as single-pass sequential insertion.
func TestMergeMatchesSequentialInsertion(t *testing.T) {
	bodies := gridBodies8()
	root := rootSpace2D()
	want := leafBodyMapping(buildSequential(t, bodies, root))

	for split := 0; split <= len(bodies); split++ {
		a := New(root)
		for i := 0; i < split; i++ {
			require.NoError(t, a.Push(bodies, i))
		}
		b := New(root)
		for i := split; i < len(bodies); i++ {
			require.NoError(t, b.Push(bodies, i))
		}

		merged, err := Merge(a, b, bodies)
		require.NoError(t, err, "split=%d", split)
		got := leafBodyMapping(merged)
		assert.Equal(t, want, got, "split=%d", split)
	}
}

func TestMergeEmptyReturnsOther(t *testing.T) {
	bodies := gridBodies8()
	root := rootSpace2D()
	populated := buildSequential(t, bodies, root)
	empty := New(root)

	merged, err := Merge(empty, populated, bodies)
	require.NoError(t, err)
	assert.Equal(t, len(populated.Nodes), len(merged.Nodes))

	merged2, err := Merge(populated, empty, bodies)
	require.NoError(t, err)
	assert.Same(t, populated, merged2)
}

// TestEncodeDecodeRoundTrip checks spec §8's tree-serialisation round-trip
// property: encode -> decode -> encode yields an identical byte sequence,
// and merging a decoded partial tree behaves identically to merging the
// original (spec §4.6: "merge(a, serialise->deserialise(b)) ≡ merge(a, b)").
func TestEncodeDecodeRoundTrip(t *testing.T) {
	bodies := gridBodies8()
	root := rootSpace2D()

	split := 3
	a := New(root)
	for i := 0; i < split; i++ {
		require.NoError(t, a.Push(bodies, i))
	}
	b := New(root)
	for i := split; i < len(bodies); i++ {
		require.NoError(t, b.Push(bodies, i))
	}

	encoded, err := b.Encode()
	require.NoError(t, err)

	decoded, err := Decode[float64](encoded)
	require.NoError(t, err)

	reEncoded, err := decoded.Encode()
	require.NoError(t, err)
	assert.Equal(t, encoded, reEncoded)

	mergedWithOriginal, err := Merge(a.Clone(), b, bodies)
	require.NoError(t, err)
	mergedWithDecoded, err := Merge(a.Clone(), decoded, bodies)
	require.NoError(t, err)

	assert.Equal(t, leafBodyMapping(mergedWithOriginal), leafBodyMapping(mergedWithDecoded))
}

func TestCloneIsIndependent(t *testing.T) {
	bodies := gridBodies8()
	tree := buildSequential(t, bodies, rootSpace2D())
	clone := tree.Clone()

	clone.Nodes[0].Mass = -1
	assert.NotEqual(t, clone.Nodes[0].Mass, tree.Nodes[0].Mass)
}
