package collective

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcast(t *testing.T) {
	comms := NewLocalGroup(4)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]byte, len(comms))
	for r, c := range comms {
		wg.Add(1)
		go func(r int, c Communicator) {
			defer wg.Done()
			var payload []byte
			if r == 2 {
				payload = []byte("hello from root")
			}
			out, err := c.Broadcast(ctx, 2, payload)
			require.NoError(t, err)
			results[r] = out
		}(r, c)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "hello from root", string(r))
	}
}

func TestScatter(t *testing.T) {
	comms := NewLocalGroup(3)
	ctx := context.Background()
	chunks := [][]byte{[]byte("a"), []byte("b"), []byte("c")}

	var wg sync.WaitGroup
	results := make([][]byte, len(comms))
	for r, c := range comms {
		wg.Add(1)
		go func(r int, c Communicator) {
			defer wg.Done()
			var in [][]byte
			if r == 0 {
				in = chunks
			}
			out, err := c.Scatter(ctx, 0, in)
			require.NoError(t, err)
			results[r] = out
		}(r, c)
	}
	wg.Wait()

	assert.Equal(t, "a", string(results[0]))
	assert.Equal(t, "b", string(results[1]))
	assert.Equal(t, "c", string(results[2]))
}

func TestAllGather(t *testing.T) {
	comms := NewLocalGroup(3)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][][]byte, len(comms))
	for r, c := range comms {
		wg.Add(1)
		go func(r int, c Communicator) {
			defer wg.Done()
			out, err := c.AllGather(ctx, []byte{byte(r)})
			require.NoError(t, err)
			results[r] = out
		}(r, c)
	}
	wg.Wait()

	for _, gathered := range results {
		require.Len(t, gathered, 3)
		for i, v := range gathered {
			assert.Equal(t, byte(i), v[0])
		}
	}
}

func TestAllReduceSum(t *testing.T) {
	comms := NewLocalGroup(5)
	ctx := context.Background()
	sum := func(a, b []byte) []byte {
		return []byte{a[0] + b[0]}
	}

	var wg sync.WaitGroup
	results := make([][]byte, len(comms))
	for r, c := range comms {
		wg.Add(1)
		go func(r int, c Communicator) {
			defer wg.Done()
			out, err := c.AllReduce(ctx, []byte{1}, sum)
			require.NoError(t, err)
			results[r] = out
		}(r, c)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, byte(5), r[0])
	}
}

func TestAbortUnblocksWaiters(t *testing.T) {
	comms := NewLocalGroup(3)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, len(comms))
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			_, err := comms[r].AllGather(ctx, []byte{0})
			errs[r] = err
		}(r)
	}

	// give the first two ranks time to block on the third
	time.Sleep(20 * time.Millisecond)
	abortErr := assertAbortError()
	comms[2].Abort(abortErr)

	wg.Wait()
	assert.ErrorIs(t, errs[0], abortErr)
	assert.ErrorIs(t, errs[1], abortErr)

	_, err := comms[0].AllGather(ctx, []byte{0})
	assert.ErrorIs(t, err, abortErr)
}

type sentinelError struct{ msg string }

func (e *sentinelError) Error() string { return e.msg }

func assertAbortError() error {
	return &sentinelError{msg: "rank 2: floating point trap"}
}

func TestBroadcastValueAndAllGatherValue(t *testing.T) {
	comms := NewLocalGroup(2)
	ctx := context.Background()

	type payload struct {
		N int
		S string
	}

	var wg sync.WaitGroup
	broadcasted := make([]payload, len(comms))
	for r, c := range comms {
		wg.Add(1)
		go func(r int, c Communicator) {
			defer wg.Done()
			var in payload
			if r == 1 {
				in = payload{N: 7, S: "root"}
			}
			var out payload
			err := BroadcastValue(ctx, c, 1, in, &out)
			require.NoError(t, err)
			broadcasted[r] = out
		}(r, c)
	}
	wg.Wait()

	for _, p := range broadcasted {
		assert.Equal(t, payload{N: 7, S: "root"}, p)
	}

	gathered := make([][]payload, len(comms))
	wg = sync.WaitGroup{}
	for r, c := range comms {
		wg.Add(1)
		go func(r int, c Communicator) {
			defer wg.Done()
			outs := make([]any, len(comms))
			results := make([]payload, len(comms))
			for i := range outs {
				outs[i] = &results[i]
			}
			err := AllGatherValue(ctx, c, payload{N: r, S: "rank"}, outs)
			require.NoError(t, err)
			gathered[r] = results
		}(r, c)
	}
	wg.Wait()

	for _, g := range gathered {
		require.Len(t, g, 2)
		assert.Equal(t, 0, g[0].N)
		assert.Equal(t, 1, g[1].N)
	}
}
