package workers

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarev/fanout/internal/testutils"
	"github.com/mkarev/fanout/pkg/types"
)

func newTestCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	cache, err := NewCache(context.Background(), &CacheConfig{Capacity: capacity})
	require.NoError(t, err)
	return cache
}

func TestNewCache_Validation(t *testing.T) {
	_, err := NewCache(context.Background(), &CacheConfig{Capacity: 0})
	assert.Error(t, err)

	_, err = NewCache(context.Background(), &CacheConfig{Capacity: -1})
	assert.Error(t, err)

	cache, err := NewCache(context.Background(), nil)
	assert.NoError(t, err)
	cache.Shutdown()
}

func TestCache_PushEvictsLeastRecentlyUsed(t *testing.T) {
	cache := newTestCache(t, 2)
	addrA, addrB, addrC := testutils.Addr(9001), testutils.Addr(9002), testutils.Addr(9003)

	assert.Nil(t, cache.Push(addrA, NewWorker(1, blockedRun)))
	assert.Nil(t, cache.Push(addrB, NewWorker(1, blockedRun)))

	retired := cache.Push(addrC, NewWorker(1, blockedRun))
	require.NotNil(t, retired)
	assert.Equal(t, addrA, retired.Addr())
	assert.NoError(t, retired.Shutdown())

	assert.False(t, cache.Contains(addrA))
	assert.True(t, cache.Contains(addrB))
	assert.True(t, cache.Contains(addrC))
	assert.Equal(t, 2, cache.Len())

	cache.Shutdown()
}

func TestCache_PushSameAddrReturnsPreviousWorker(t *testing.T) {
	cache := newTestCache(t, 2)
	addr := testutils.Addr(9001)

	cache.Push(addr, NewWorker(1, blockedRun))
	retired := cache.Push(addr, NewWorker(1, blockedRun))
	require.NotNil(t, retired)
	assert.Equal(t, addr, retired.Addr())
	assert.NoError(t, retired.Shutdown())

	assert.Equal(t, 1, cache.Len())
	cache.Shutdown()
}

func TestCache_SendLookupRefreshesRecency(t *testing.T) {
	cache := newTestCache(t, 2)
	addrA, addrB, addrC := testutils.Addr(9001), testutils.Addr(9002), testutils.Addr(9003)

	cache.Push(addrA, NewWorker(4, blockedRun))
	cache.Push(addrB, NewWorker(4, blockedRun))

	// Delivering to A makes B the eviction candidate.
	require.True(t, cache.Contains(addrA))
	assert.NoError(t, cache.TrySend(addrA, testBatch()))

	retired := cache.Push(addrC, NewWorker(4, blockedRun))
	require.NotNil(t, retired)
	assert.Equal(t, addrB, retired.Addr())
	cache.DetachShutdown(retired)

	cache.Shutdown()
}

func TestCache_ContainsDoesNotRefreshRecency(t *testing.T) {
	cache := newTestCache(t, 2)
	addrA, addrB, addrC := testutils.Addr(9001), testutils.Addr(9002), testutils.Addr(9003)

	cache.Push(addrA, NewWorker(1, blockedRun))
	cache.Push(addrB, NewWorker(1, blockedRun))
	cache.Contains(addrA)

	retired := cache.Push(addrC, NewWorker(1, blockedRun))
	require.NotNil(t, retired)
	assert.Equal(t, addrA, retired.Addr())
	cache.DetachShutdown(retired)

	cache.Shutdown()
}

func TestCache_Pop(t *testing.T) {
	cache := newTestCache(t, 2)
	addr := testutils.Addr(9001)

	assert.Nil(t, cache.Pop(addr))

	cache.Push(addr, NewWorker(1, blockedRun))
	retired := cache.Pop(addr)
	require.NotNil(t, retired)
	assert.Equal(t, addr, retired.Addr())
	assert.False(t, cache.Contains(addr))
	assert.NoError(t, retired.Shutdown())

	cache.Shutdown()
}

func TestCache_TrySend_FullChannelKeepsEntry(t *testing.T) {
	cache := newTestCache(t, 2)
	addr := testutils.Addr(9001)
	cache.Push(addr, NewWorker(1, blockedRun))

	require.True(t, cache.Contains(addr))
	assert.NoError(t, cache.TrySend(addr, testBatch()))
	assert.ErrorIs(t, cache.TrySend(addr, testBatch()), types.ErrChannelFull)

	// Backpressure is transient; the worker stays cached.
	assert.True(t, cache.Contains(addr))

	cache.Shutdown()
}

func TestCache_TrySend_ReceiverDroppedPrunesEntry(t *testing.T) {
	cache := newTestCache(t, 2)
	addr := testutils.Addr(9001)

	worker := NewWorker(1, func(ctx context.Context, batches <-chan types.Batch) {})
	cache.Push(addr, worker)
	testutils.WaitFor(t, time.Second, worker.stopped)

	require.True(t, cache.Contains(addr))
	assert.ErrorIs(t, cache.TrySend(addr, testBatch()), types.ErrReceiverDropped)
	assert.False(t, cache.Contains(addr))

	// Shutdown waits for the detached retirement of the dead worker.
	cache.Shutdown()
}

func TestCache_TrySend_MissingEntryPanics(t *testing.T) {
	cache := newTestCache(t, 2)
	defer cache.Shutdown()

	assert.Panics(t, func() {
		_ = cache.TrySend(testutils.Addr(9001), testBatch())
	})
}

func TestCache_Send_MissingEntryPanics(t *testing.T) {
	cache := newTestCache(t, 2)
	defer cache.Shutdown()

	assert.Panics(t, func() {
		_ = cache.Send(testutils.Addr(9001), testBatch())
	})
}

func TestCache_Send_Delivers(t *testing.T) {
	cache := newTestCache(t, 2)
	addr := testutils.Addr(9001)

	d := &drainRun{}
	cache.Push(addr, NewWorker(1, d.run))

	require.True(t, cache.Contains(addr))
	assert.NoError(t, cache.Send(addr, testBatch()))
	testutils.WaitFor(t, time.Second, func() bool { return d.count() == 1 })

	cache.Shutdown()
}

func TestCache_Send_ReceiverDroppedPrunesEntry(t *testing.T) {
	cache := newTestCache(t, 2)
	addr := testutils.Addr(9001)

	worker := NewWorker(1, func(ctx context.Context, batches <-chan types.Batch) {})
	cache.Push(addr, worker)
	testutils.WaitFor(t, time.Second, worker.stopped)

	assert.ErrorIs(t, cache.Send(addr, testBatch()), types.ErrReceiverDropped)
	assert.False(t, cache.Contains(addr))

	cache.Shutdown()
}

func TestCache_Send_InterruptedByShutdown(t *testing.T) {
	cache := newTestCache(t, 2)
	addr := testutils.Addr(9001)
	cache.Push(addr, NewWorker(1, blockedRun))

	// Saturate the channel so the blocking send has to wait.
	require.NoError(t, cache.TrySend(addr, testBatch()))

	sent := make(chan error, 1)
	go func() {
		sent <- cache.Send(addr, testBatch())
	}()

	select {
	case err := <-sent:
		t.Fatalf("send completed before shutdown: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	cache.Shutdown()
	assert.ErrorIs(t, <-sent, types.ErrShuttingDown)
}

func TestCache_DeliveryFailsAfterShutdown(t *testing.T) {
	cache := newTestCache(t, 2)
	cache.Push(testutils.Addr(9001), NewWorker(1, blockedRun))
	cache.Shutdown()

	// Every delivery fails now, even for addresses never cached;
	// the shutdown check runs before the lookup.
	assert.ErrorIs(t, cache.TrySend(testutils.Addr(9001), testBatch()), types.ErrShuttingDown)
	assert.ErrorIs(t, cache.TrySend(testutils.Addr(9099), testBatch()), types.ErrShuttingDown)
	assert.ErrorIs(t, cache.Send(testutils.Addr(9099), testBatch()), types.ErrShuttingDown)
}

func TestCache_ParentContextCancelStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cache, err := NewCache(ctx, &CacheConfig{Capacity: 2})
	require.NoError(t, err)

	addr := testutils.Addr(9001)
	cache.Push(addr, NewWorker(1, blockedRun))

	cancel()
	assert.ErrorIs(t, cache.TrySend(addr, testBatch()), types.ErrShuttingDown)

	cache.Shutdown()
}

// exitRecorder notes the order in which worker goroutines exit; with
// the cache's sequential drain that is the shutdown order.
type exitRecorder struct {
	mu    sync.Mutex
	order []netip.AddrPort
}

func (r *exitRecorder) run(addr netip.AddrPort) RunFunc {
	return func(ctx context.Context, batches <-chan types.Batch) {
		<-ctx.Done()
		r.mu.Lock()
		r.order = append(r.order, addr)
		r.mu.Unlock()
	}
}

func (r *exitRecorder) recorded() []netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]netip.AddrPort(nil), r.order...)
}

func TestCache_Shutdown_DrainsInLRUOrder(t *testing.T) {
	cache := newTestCache(t, 3)
	addrA, addrB, addrC := testutils.Addr(9001), testutils.Addr(9002), testutils.Addr(9003)

	rec := &exitRecorder{}
	cache.Push(addrA, NewWorker(4, rec.run(addrA)))
	cache.Push(addrB, NewWorker(4, rec.run(addrB)))
	cache.Push(addrC, NewWorker(4, rec.run(addrC)))

	// Touch A so the recency order becomes B, C, A.
	require.True(t, cache.Contains(addrA))
	require.NoError(t, cache.TrySend(addrA, testBatch()))

	cache.Shutdown()

	assert.Equal(t, []netip.AddrPort{addrB, addrC, addrA}, rec.recorded())
	assert.Equal(t, 0, cache.Len())
	assert.False(t, cache.Contains(addrA))
	assert.False(t, cache.Contains(addrB))
	assert.False(t, cache.Contains(addrC))
}

func TestCache_Shutdown_ContinuesPastFailedWorkers(t *testing.T) {
	cache := newTestCache(t, 3)
	addrA, addrB := testutils.Addr(9001), testutils.Addr(9002)

	failed := NewWorker(1, func(ctx context.Context, batches <-chan types.Batch) {
		panic("worker exploded")
	})
	cache.Push(addrA, failed)
	cache.Push(addrB, NewWorker(1, blockedRun))
	testutils.WaitFor(t, time.Second, failed.stopped)

	done := make(chan struct{})
	go func() {
		cache.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown hung on a failed worker")
	}
	assert.Equal(t, 0, cache.Len())
}

func TestCache_DetachShutdown_NilIsNoop(t *testing.T) {
	cache := newTestCache(t, 2)
	cache.DetachShutdown(nil)
	cache.Shutdown()
}

func TestCache_DetachShutdown_JoinsWorker(t *testing.T) {
	cache := newTestCache(t, 2)
	addr := testutils.Addr(9001)

	worker := NewWorker(1, blockedRun)
	cache.Push(addr, worker)
	cache.DetachShutdown(cache.Pop(addr))

	// Shutdown returns only once the detached retirement finished.
	cache.Shutdown()
	assert.True(t, worker.stopped())
}
