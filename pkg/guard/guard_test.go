package guard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryAcquireIsExclusive(t *testing.T) {
	cell := &Cell{}

	g1, err := TryAcquire(cell, Exclusive)
	require.NoError(t, err)
	require.True(t, cell.Held())

	_, err = TryAcquire(cell, Exclusive)
	require.ErrorIs(t, err, ErrBusy)

	g1.Release()
	require.False(t, cell.Held())

	g2, err := TryAcquire(cell, Exclusive)
	require.NoError(t, err)
	g2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	cell := &Cell{}
	g, err := TryAcquire(cell, Exclusive)
	require.NoError(t, err)

	g.Release()
	g.Release() // must not panic or double-clear someone else's hold

	g2, err := TryAcquire(cell, Exclusive)
	require.NoError(t, err)
	g2.Release()
}

func TestAcquireRetriesThenGivesUp(t *testing.T) {
	cell := &Cell{}
	holder, err := TryAcquire(cell, Exclusive)
	require.NoError(t, err)
	defer holder.Release()

	start := time.Now()
	_, err = Acquire(context.Background(), cell, Exclusive)
	require.ErrorIs(t, err, ErrBusy)
	require.GreaterOrEqual(t, time.Since(start), 4*retryInterval)
}

// TestExclusivityUnderConcurrency exercises property 1 from the spec:
// for every pair of concurrent acquirers on the same cell, at most one
// holds the guard at any instant.
func TestExclusivityUnderConcurrency(t *testing.T) {
	cell := &Cell{}
	const workers = 20

	var successes atomicCounter
	var holdersMu sync.Mutex
	holders, maxHolders := 0, 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			g, err := TryAcquire(cell, Exclusive)
			if err == nil {
				successes.inc()
				holdersMu.Lock()
				holders++
				if holders > maxHolders {
					maxHolders = holders
				}
				holdersMu.Unlock()
				time.Sleep(time.Millisecond)
				holdersMu.Lock()
				holders--
				holdersMu.Unlock()
				g.Release()
			}
		}()
	}
	wg.Wait()

	require.GreaterOrEqual(t, successes.get(), 1)
	require.Equal(t, 1, maxHolders, "two acquirers held the guard at the same time")
}

// atomicCounter is a tiny mutex-guarded int counter shared by the test
// goroutines.
type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (a *atomicCounter) inc() { a.mu.Lock(); a.n++; a.mu.Unlock() }
func (a *atomicCounter) get() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}
