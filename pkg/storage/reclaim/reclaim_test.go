package reclaim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Defer_RunsImmediatelyWithNoActiveReaders(t *testing.T) {
	m := New(Options{})
	ran := make(chan struct{})
	m.Defer(func() { close(ran) })

	m.drainOnce()
	select {
	case <-ran:
	default:
		t.Fatal("closure should have run: no reader was pinned")
	}
}

func TestManager_Defer_WaitsForActiveReaderToExit(t *testing.T) {
	m := New(Options{})
	guard := m.Enter()

	ran := false
	m.Defer(func() { ran = true })

	m.drainOnce()
	assert.False(t, ran, "a closure deferred while a reader is pinned must not run yet")

	guard.Exit()
	m.drainOnce()
	assert.True(t, ran, "closure must run once the pinning reader exits")
}

func TestManager_Defer_NewReaderAfterDeferDoesNotBlockIt(t *testing.T) {
	m := New(Options{})

	ran := false
	m.Defer(func() { ran = true })

	// A reader entering after the closure was deferred pins an epoch
	// strictly greater than the closure's tag, so it must not hold up
	// reclamation.
	guard := m.Enter()
	defer guard.Exit()

	m.drainOnce()
	assert.True(t, ran)
}

func TestManager_EnterExit_SlotReuse(t *testing.T) {
	m := New(Options{MaxReaders: 2})
	g1 := m.Enter()
	g2 := m.Enter()
	g1.Exit()
	g3 := m.Enter() // must reuse g1's freed slot rather than block forever
	g2.Exit()
	g3.Exit()
}

func TestManager_Run_DrainsOnTickerUntilCancelled(t *testing.T) {
	m := New(Options{})
	ran := make(chan struct{})
	m.Defer(func() { close(ran) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, 5*time.Millisecond) }()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("Run never drained the deferred closure")
	}
	cancel()
	require.Error(t, <-done)
}

func TestManager_ConcurrentEnterDeferExit(t *testing.T) {
	m := New(Options{MaxReaders: 8, QueueCapacity: 256})
	var wg sync.WaitGroup
	var counter int64
	var mu sync.Mutex

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := m.Enter()
			defer g.Exit()
			m.Defer(func() {
				mu.Lock()
				counter++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	// Drive enough drain passes to flush everything; each pass only
	// retires what's already safe by that pass's own minActiveEpoch.
	for i := 0; i < 100; i++ {
		m.drainOnce()
	}

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 50, counter)
}
