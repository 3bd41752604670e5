// Package force implements the Barnes-Hut multipole acceptance criterion
// and the softened point-mass kernel it bottoms out at (spec §4.7).
package force

import (
	"math"

	"github.com/nbody-sim/barnes-hut/internal/bodytree"
	"github.com/nbody-sim/barnes-hut/internal/vector"
)

// Config holds the physical constants the force kernel and acceptance
// criterion need: the gravitational constant, the opening-angle threshold,
// and the softening length.
type Config[T vector.Scalar] struct {
	G         T
	Theta     T
	Softening T
}

// Kernel returns the acceleration a unit mass at p feels from a point mass
// otherMass at otherPos, using the softened Plummer-like form
// G*m*dp/(eps^2+r^2)^1.5. dp = otherPos - p, fixing the attractive
// direction per spec §9(a) (the three-body figure-eight scenario only
// conserves its center of mass with this sign convention). Coincident
// points (r=0) contribute nothing — the singularity guard.
func Kernel[T vector.Scalar](otherPos vector.Vector[T], otherMass T, p vector.Vector[T], g, softening T) vector.Vector[T] {
	dp := vector.Sub(otherPos, p)
	r := vector.Norm(dp)
	if r == 0 {
		return vector.New[T](len(p))
	}
	denom := T(math.Pow(float64(softening*softening+r*r), 1.5))
	return vector.Scale(dp, g*otherMass/denom)
}

// GravityPerUnitMass walks tree from the root, applying the Barnes-Hut
// acceptance criterion at every Inner node, and returns the total
// acceleration felt by a unit mass at p (spec §4.7). An empty tree
// contributes zero.
func GravityPerUnitMass[T vector.Scalar](cfg Config[T], tree *bodytree.Tree[T], p vector.Vector[T]) vector.Vector[T] {
	if tree.Empty() {
		return vector.New[T](len(p))
	}
	return accumulate(cfg, tree, 0, p)
}

func accumulate[T vector.Scalar](cfg Config[T], tree *bodytree.Tree[T], idx int, p vector.Vector[T]) vector.Vector[T] {
	node := tree.Nodes[idx]

	if node.Kind == bodytree.KindLeaf || accepts(cfg, node, p) {
		return Kernel(node.CenterOfMass, node.Mass, p, cfg.G, cfg.Softening)
	}

	acc := vector.New[T](len(p))
	for _, child := range node.Children {
		if child < 0 {
			continue
		}
		vector.AddInPlace(acc, accumulate(cfg, tree, child, p))
	}
	return acc
}

// accepts implements the Inner-node acceptance test: s/d < theta, AND p is
// not contained in the node's space. The contained-point guard (spec
// §9(c)) keeps a point sitting inside a cell from being summarised by that
// same cell, which would otherwise pull it toward its own aggregate
// centroid. Ordinary float division handles the d=0 edge case correctly
// without a special branch: s/0 is +Inf (or NaN if s is also 0), and
// neither compares less than a finite theta, so the traversal falls
// through to recursion exactly as it should when p coincides with the
// node's centroid.
func accepts[T vector.Scalar](cfg Config[T], node bodytree.Node[T], p vector.Vector[T]) bool {
	if node.Space.Contains(p) {
		return false
	}
	s := node.Space.Size()
	d := vector.Norm(vector.Sub(p, node.CenterOfMass))
	return s/d < cfg.Theta
}
