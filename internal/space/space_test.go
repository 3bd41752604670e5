package space

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbody-sim/barnes-hut/internal/collective"
	"github.com/nbody-sim/barnes-hut/internal/vector"
)

func TestNewComputesCenter(t *testing.T) {
	s := New(vector.Vector[float64]{-1, -1}, vector.Vector[float64]{1, 1})
	assert.Equal(t, vector.Vector[float64]{0, 0}, s.Center)
}

func TestSizeUsesDimensionZero(t *testing.T) {
	s := New(vector.Vector[float64]{-2, -1}, vector.Vector[float64]{4, 1})
	assert.InDelta(t, 6.0, s.Size(), 1e-12)
}

func TestContains(t *testing.T) {
	s := New(vector.Vector[float64]{-1, -1}, vector.Vector[float64]{1, 1})
	assert.True(t, s.Contains(vector.Vector[float64]{0, 0}))
	assert.True(t, s.Contains(vector.Vector[float64]{1, 1}))
	assert.False(t, s.Contains(vector.Vector[float64]{1.01, 0}))
}

func TestPartOfTieBreaksToNonNegativeSide(t *testing.T) {
	s := New(vector.Vector[float64]{-1, -1}, vector.Vector[float64]{1, 1})
	// at the center exactly: bit should be 0 for both dims.
	assert.Equal(t, 0, s.PartOf(vector.Vector[float64]{0, 0}))
	// strictly below center in both dims: both bits set.
	assert.Equal(t, 3, s.PartOf(vector.Vector[float64]{-0.5, -0.5}))
	// below center in dim 0 only.
	assert.Equal(t, 1, s.PartOf(vector.Vector[float64]{-0.5, 0.5}))
}

func TestSubspacePartitionsExactly(t *testing.T) {
	s := New(vector.Vector[float64]{-1, -1}, vector.Vector[float64]{1, 1})
	for part := 0; part < s.NumOctants(); part++ {
		child := s.Subspace(part)
		assert.InDelta(t, 1.0, child.Size(), 1e-12)
		assert.Equal(t, part, s.PartOf(vector.Vector[float64]{
			child.Center[0] - 1e-9*signOf(part, 0),
			child.Center[1] - 1e-9*signOf(part, 1),
		}))
	}
}

func signOf(part, dim int) float64 {
	if part&(1<<dim) != 0 {
		return 1
	}
	return -1
}

func TestDivideWork(t *testing.T) {
	d := DivideWork(100, 0, 4)
	assert.Equal(t, Division{Begin: 0, End: 25, Count: 25}, d)

	d = DivideWork(100, 3, 4)
	assert.Equal(t, Division{Begin: 75, End: 100, Count: 25}, d)
}

func TestLocalBounds(t *testing.T) {
	positions := []vector.Vector[float64]{
		{1, 2}, {-3, 5}, {0, -1},
	}
	min, max := LocalBounds(positions)
	assert.Equal(t, vector.Vector[float64]{-3, -1}, min)
	assert.Equal(t, vector.Vector[float64]{1, 5}, max)
}

func TestLocalBoundsEmpty(t *testing.T) {
	min, max := LocalBounds[float64](nil)
	assert.Nil(t, min)
	assert.Nil(t, max)
}

func TestGlobalBounds(t *testing.T) {
	comms := NewTestGroup(t, 3)
	ctx := context.Background()

	local := [][]vector.Vector[float64]{
		{{1, 1}, {2, 2}},
		{{-5, 0}, {3, 3}},
		{{0, -7}},
	}

	var wg sync.WaitGroup
	results := make([]Space[float64], len(comms))
	errs := make([]error, len(comms))
	for r, c := range comms {
		wg.Add(1)
		go func(r int, c collective.Communicator) {
			defer wg.Done()
			min, max := LocalBounds(local[r])
			s, err := GlobalBounds[float64](ctx, c, min, max)
			results[r] = s
			errs[r] = err
		}(r, c)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "rank %d", i)
	}
	for _, s := range results {
		assert.Equal(t, vector.Vector[float64]{-5, -7}, s.Min)
		assert.Equal(t, vector.Vector[float64]{3, 3}, s.Max)
	}
}

// NewTestGroup is a small helper so space_test.go doesn't need to import
// collective's constructor name directly in every test.
func NewTestGroup(t *testing.T, size int) []collective.Communicator {
	t.Helper()
	return collective.NewLocalGroup(size)
}
