package tasklock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	l := New(time.Minute)

	require.NoError(t, l.Acquire("t1"))
	assert.ErrorIs(t, l.Acquire("t1"), ErrBusy)
	assert.True(t, l.Held("t1"))

	require.NoError(t, l.Acquire("t2"), "locks are per task")

	l.Release("t1")
	assert.False(t, l.Held("t1"))
	require.NoError(t, l.Acquire("t1"))
}

func TestReleaseUnheldIsNoop(t *testing.T) {
	l := New(time.Minute)
	l.Release("never-acquired")
	assert.Equal(t, 0, l.Len())
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	l := New(time.Minute)

	const goroutines = 32
	wins := make(chan struct{}, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire("t1") == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent acquire wins")
}

func TestExpiredLockReclaimedOnAcquire(t *testing.T) {
	l := New(10 * time.Millisecond)

	require.NoError(t, l.Acquire("t1"))
	time.Sleep(20 * time.Millisecond)

	assert.False(t, l.Held("t1"))
	require.NoError(t, l.Acquire("t1"), "expired holders do not block")
}

func TestSweepRemovesExpired(t *testing.T) {
	l := New(10 * time.Millisecond)

	require.NoError(t, l.Acquire("old"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Acquire("fresh"))

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Held("fresh"))
}

func TestBoundedEvictsOldest(t *testing.T) {
	l := New(time.Minute, WithMaxEntries(2))

	require.NoError(t, l.Acquire("a"))
	require.NoError(t, l.Acquire("b"))
	require.NoError(t, l.Acquire("c"))

	assert.Equal(t, 2, l.Len())
	assert.False(t, l.Held("a"), "oldest entry is evicted first")
	assert.True(t, l.Held("b"))
	assert.True(t, l.Held("c"))
}
