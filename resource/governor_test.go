package resource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyGate(t *testing.T) {
	g := NewGovernor(Config{MaxConcurrency: 2})

	rel1, ok := g.TryAdmit()
	require.True(t, ok)
	rel2, ok := g.TryAdmit()
	require.True(t, ok)
	assert.Equal(t, int64(2), g.InFlight())

	_, ok = g.TryAdmit()
	assert.False(t, ok)

	rel1()
	rel1() // double release is a no-op
	assert.Equal(t, int64(1), g.InFlight())

	rel3, ok := g.TryAdmit()
	require.True(t, ok)
	rel2()
	rel3()
	assert.Equal(t, int64(0), g.InFlight())
}

func TestMemoryBudget(t *testing.T) {
	g := NewGovernor(Config{MaxConcurrency: 1, MemoryBudgetBytes: 100})

	assert.True(t, g.TryReserveBytes(60))
	assert.True(t, g.TryReserveBytes(40))
	assert.False(t, g.TryReserveBytes(1))
	assert.Equal(t, int64(100), g.UsedBytes())

	g.ReleaseBytes(50)
	assert.True(t, g.TryReserveBytes(50))

	g.ReleaseBytes(1000) // clamps at zero
	assert.Equal(t, int64(0), g.UsedBytes())
}

func TestUnlimitedBudgetStillTracks(t *testing.T) {
	g := NewGovernor(Config{MaxConcurrency: 1})
	assert.True(t, g.TryReserveBytes(1<<40))
	assert.Equal(t, int64(1<<40), g.UsedBytes())
}

func TestMemoryBudgetConcurrent(t *testing.T) {
	g := NewGovernor(Config{MaxConcurrency: 1, MemoryBudgetBytes: 1000})

	var wg sync.WaitGroup
	granted := make(chan struct{}, 2000)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if g.TryReserveBytes(1) {
					granted <- struct{}{}
				}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, 1000, count)
	assert.Equal(t, int64(1000), g.UsedBytes())
}

func TestWaitIO(t *testing.T) {
	g := NewGovernor(Config{MaxConcurrency: 1, IOLimitBytesPerSec: 1 << 20})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// An initial burst-sized request is admitted immediately.
	require.NoError(t, g.WaitIO(ctx, 1<<20))

	// No limiter configured is a pass-through.
	g2 := NewGovernor(Config{MaxConcurrency: 1})
	require.NoError(t, g2.WaitIO(ctx, 1<<30))
}
