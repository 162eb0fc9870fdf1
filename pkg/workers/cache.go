package workers

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mkarev/fanout/pkg/types"
)

// CacheConfig defines configuration for the worker cache
type CacheConfig struct {
	// Capacity bounds the number of cached workers; must be positive.
	Capacity int

	// Log receives debug records for evictions, pruned workers and
	// per-worker shutdown failures.
	Log zerolog.Logger
}

// DefaultCacheConfig returns default configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Capacity: 64,
		Log:      zerolog.Nop(),
	}
}

// Cache is a bounded LRU map from destination address to Worker, plus
// a cache-wide cancellation that makes every delivery call fail with
// types.ErrShuttingDown once Shutdown has started.
//
// The cache is not internally locked. Callers must serialize mutating
// calls; Contains is the only read-only operation.
type Cache struct {
	workers *lruCache[netip.AddrPort, *Worker]
	log     zerolog.Logger

	// ctx is cancelled exactly once, by Shutdown, and never reset.
	ctx    context.Context
	cancel context.CancelFunc

	detached sync.WaitGroup
}

// NewCache creates an empty cache. The cache-wide cancellation is
// derived from ctx, so cancelling the parent also moves the cache into
// its shutting-down state.
func NewCache(ctx context.Context, cfg *CacheConfig) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultCacheConfig()
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", cfg.Capacity)
	}

	cacheCtx, cancel := context.WithCancel(ctx)
	return &Cache{
		workers: newLRUCache[netip.AddrPort, *Worker](cfg.Capacity),
		log:     cfg.Log,
		ctx:     cacheCtx,
		cancel:  cancel,
	}, nil
}

// Contains reports whether a worker is cached for addr. It does not
// refresh the entry's recency.
func (c *Cache) Contains(addr netip.AddrPort) bool {
	return c.workers.contains(addr)
}

// Len returns the number of cached workers.
func (c *Cache) Len() int {
	return c.workers.size()
}

// Push caches worker for addr as the most recently used entry. The
// displaced worker, if any, is returned for the caller to retire,
// normally by handing it straight to DetachShutdown; Push itself never
// waits for a shutdown. A displaced worker is either the previous
// worker for the same addr or the least recently used entry evicted to
// keep the cache within capacity.
func (c *Cache) Push(addr netip.AddrPort, worker *Worker) *RetiredWorker {
	evictedAddr, evicted, ok := c.workers.push(addr, worker)
	if !ok {
		return nil
	}
	c.log.Debug().Stringer("addr", evictedAddr).Msg("evicting worker")
	return &RetiredWorker{addr: evictedAddr, worker: evicted}
}

// Pop removes the worker for addr regardless of recency and returns it
// for the caller to retire, or nil if none is cached.
func (c *Cache) Pop(addr netip.AddrPort) *RetiredWorker {
	worker, ok := c.workers.pop(addr)
	if !ok {
		return nil
	}
	return &RetiredWorker{addr: addr, worker: worker}
}

// TrySend attempts an immediate delivery of batch to the worker for
// addr, refreshing the entry's recency. It fails with
// types.ErrShuttingDown once Shutdown has started, without touching
// the entry. A types.ErrReceiverDropped result prunes the entry and
// retires the dead worker on a detached goroutine; a
// types.ErrChannelFull result leaves the entry cached, since a full
// channel is backpressure rather than a dead worker.
//
// The caller must have checked Contains(addr) first. A missing entry
// is a caller bug and panics.
func (c *Cache) TrySend(addr netip.AddrPort, batch types.Batch) error {
	if c.ctx.Err() != nil {
		return types.ErrShuttingDown
	}

	worker := c.lookup(addr)
	err := worker.TrySend(batch)
	if errors.Is(err, types.ErrReceiverDropped) {
		c.prune(addr)
	}
	return err
}

// Send delivers batch to the worker for addr, waiting for channel
// capacity. The wait is raced against the cache-wide cancellation:
// once Shutdown starts, in-flight and future calls resolve to
// types.ErrShuttingDown. Receiver-dropped failures prune the entry
// exactly as in TrySend.
//
// The caller must have checked Contains(addr) first. A missing entry
// is a caller bug and panics.
func (c *Cache) Send(addr netip.AddrPort, batch types.Batch) error {
	if c.ctx.Err() != nil {
		return types.ErrShuttingDown
	}

	worker := c.lookup(addr)
	err := worker.Send(c.ctx, batch)
	if c.ctx.Err() != nil {
		// Cancellation fired while the send was in flight; it wins
		// regardless of the send's own outcome.
		return types.ErrShuttingDown
	}
	if errors.Is(err, types.ErrReceiverDropped) {
		c.prune(addr)
	}
	return err
}

// Shutdown cancels the cache-wide context, interrupting any in-flight
// Send, then drains the cache in least-recently-used order, shutting
// each worker down inline. Individual shutdown failures are logged and
// do not stop the drain. Shutdown finally waits for every detached
// shutdown goroutine, so a clean return means all workers are joined.
func (c *Cache) Shutdown() {
	c.cancel()

	for {
		addr, worker, ok := c.workers.popOldest()
		if !ok {
			break
		}
		if err := worker.Shutdown(); err != nil {
			c.log.Debug().Err(err).Stringer("addr", addr).Msg("worker shutdown failed")
		}
	}

	c.detached.Wait()
}

// DetachShutdown retires a worker on its own goroutine, hiding the
// latency of a graceful shutdown from the caller that displaced it.
// A nil retired worker is a no-op. Failures are logged; the goroutine
// is tracked and awaited by Shutdown.
func (c *Cache) DetachShutdown(retired *RetiredWorker) {
	if retired == nil {
		return
	}
	c.detached.Add(1)
	go func() {
		defer c.detached.Done()
		if err := retired.Shutdown(); err != nil {
			c.log.Debug().Err(err).Stringer("addr", retired.Addr()).Msg("worker shutdown failed")
		}
	}()
}

func (c *Cache) lookup(addr netip.AddrPort) *Worker {
	worker, ok := c.workers.get(addr)
	if !ok {
		panic(fmt.Sprintf("workers: no cached worker for %s; check Contains before sending", addr))
	}
	return worker
}

func (c *Cache) prune(addr netip.AddrPort) {
	c.log.Debug().Stringer("addr", addr).Msg("work receiver dropped, pruning worker")
	c.DetachShutdown(c.Pop(addr))
}
