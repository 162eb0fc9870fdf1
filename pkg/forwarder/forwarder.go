package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkarev/fanout/pkg/types"
	"github.com/mkarev/fanout/pkg/workers"
)

// Sender transmits batches to a single destination. Implementations
// own connection setup, framing and wire-level retries.
type Sender interface {
	Send(ctx context.Context, batch types.Batch) error
}

// SenderFactory builds the Sender for a destination the first time a
// batch is routed there.
type SenderFactory func(addr netip.AddrPort) (Sender, error)

// Request asks for one batch to be delivered to each listed
// destination.
type Request struct {
	Batch types.Batch
	Addrs []netip.AddrPort
}

// FullChannelPolicy decides what happens when a worker's channel is
// saturated.
type FullChannelPolicy int

const (
	// DropOnFull drops the batch for that destination.
	DropOnFull FullChannelPolicy = iota
	// BlockOnFull switches to the blocking delivery path, accepting
	// suspension of the forwarding loop as backpressure.
	BlockOnFull
	// RetryOnFull retries the non-blocking delivery with backoff.
	RetryOnFull
)

// String returns the string representation of FullChannelPolicy
func (p FullChannelPolicy) String() string {
	switch p {
	case DropOnFull:
		return "drop"
	case BlockOnFull:
		return "block"
	case RetryOnFull:
		return "retry"
	default:
		return "unknown"
	}
}

// Config defines configuration for the Forwarder
type Config struct {
	// CacheCapacity bounds the number of live destination workers.
	CacheCapacity int

	// WorkerBuffer is the batch channel size of each worker.
	WorkerBuffer int

	// Policy selects the full-channel behavior.
	Policy FullChannelPolicy

	// RetryAttempts caps retries under RetryOnFull.
	RetryAttempts int

	// Backoff paces retries under RetryOnFull (optional, defaults to
	// exponential with full jitter).
	Backoff BackoffStrategy

	// NewSender builds the transport for a new destination. Required.
	NewSender SenderFactory

	// Log receives delivery and lifecycle records.
	Log zerolog.Logger

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock
}

// DefaultConfig returns default configuration; NewSender must still be
// set by the caller.
func DefaultConfig() *Config {
	return &Config{
		CacheCapacity: 64,
		WorkerBuffer:  16,
		Policy:        DropOnFull,
		RetryAttempts: 3,
		Log:           zerolog.Nop(),
		Clock:         types.NewRealClock(),
	}
}

// Forwarder owns a workers.Cache and serializes every mutating call on
// it, as the cache's single-writer discipline requires.
type Forwarder struct {
	cfg *Config

	// statistics
	batchesSent    int64
	batchesDropped int64
	bytesSent      int64
	sendFailures   int64
	retries        int64
	workersCreated int64
	workersPruned  int64
}

// New creates a Forwarder
func New(cfg *Config) (*Forwarder, error) {
	if cfg == nil || cfg.NewSender == nil {
		return nil, fmt.Errorf("sender factory is required")
	}
	if cfg.CacheCapacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", cfg.CacheCapacity)
	}
	if cfg.WorkerBuffer <= 0 {
		return nil, fmt.Errorf("worker buffer must be positive, got %d", cfg.WorkerBuffer)
	}
	if cfg.RetryAttempts < 0 {
		return nil, fmt.Errorf("retry attempts must not be negative, got %d", cfg.RetryAttempts)
	}
	if cfg.Clock == nil {
		cfg.Clock = types.NewRealClock()
	}
	if cfg.Backoff == nil {
		cfg.Backoff = NewExponentialBackoff(5*time.Millisecond, 100*time.Millisecond).WithJitter(FullJitter)
	}
	return &Forwarder{cfg: cfg}, nil
}

// Run consumes requests until ctx is cancelled or the channel closes,
// then shuts the cache down, joining every worker before returning.
// It returns the context error on cancellation and nil on a closed
// ingress channel.
func (f *Forwarder) Run(ctx context.Context, requests <-chan Request) error {
	cache, err := workers.NewCache(ctx, &workers.CacheConfig{
		Capacity: f.cfg.CacheCapacity,
		Log:      f.cfg.Log,
	})
	if err != nil {
		return err
	}
	defer cache.Shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				return nil
			}
			f.dispatch(ctx, cache, req)
		}
	}
}

// dispatch fans one batch out to every requested destination.
func (f *Forwarder) dispatch(ctx context.Context, cache *workers.Cache, req Request) {
	for _, addr := range req.Addrs {
		if err := f.ensureWorker(cache, addr); err != nil {
			atomic.AddInt64(&f.batchesDropped, 1)
			f.cfg.Log.Warn().Err(err).Stringer("addr", addr).Msg("sender setup failed")
			continue
		}
		if err := f.deliver(ctx, cache, addr, req.Batch); err != nil {
			atomic.AddInt64(&f.batchesDropped, 1)
			if errors.Is(err, types.ErrReceiverDropped) {
				atomic.AddInt64(&f.workersPruned, 1)
			}
			f.cfg.Log.Debug().
				Err(types.NewDeliveryError(addr, err)).
				Stringer("batch", req.Batch.ID).
				Msg("batch not delivered")
		}
	}
}

// ensureWorker makes sure a worker is cached for addr, creating one
// through the sender factory if needed. A worker displaced by the new
// entry is retired on a detached goroutine.
func (f *Forwarder) ensureWorker(cache *workers.Cache, addr netip.AddrPort) error {
	if cache.Contains(addr) {
		return nil
	}

	sender, err := f.cfg.NewSender(addr)
	if err != nil {
		return err
	}

	worker := workers.NewWorker(f.cfg.WorkerBuffer, f.senderLoop(sender))
	cache.DetachShutdown(cache.Push(addr, worker))
	atomic.AddInt64(&f.workersCreated, 1)
	return nil
}

// senderLoop is the worker task body: drain batches into the Sender
// until the channel closes or the worker is cancelled.
func (f *Forwarder) senderLoop(sender Sender) workers.RunFunc {
	return func(ctx context.Context, batches <-chan types.Batch) {
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-batches:
				if !ok {
					return
				}
				if err := sender.Send(ctx, batch); err != nil {
					atomic.AddInt64(&f.sendFailures, 1)
					f.cfg.Log.Debug().Err(err).Stringer("batch", batch.ID).Msg("send failed")
					continue
				}
				atomic.AddInt64(&f.batchesSent, 1)
				atomic.AddInt64(&f.bytesSent, int64(batch.Bytes()))
			}
		}
	}
}

// deliver hands the batch to the cached worker according to the
// configured full-channel policy.
func (f *Forwarder) deliver(ctx context.Context, cache *workers.Cache, addr netip.AddrPort, batch types.Batch) error {
	if f.cfg.Policy == BlockOnFull {
		return cache.Send(addr, batch)
	}

	err := cache.TrySend(addr, batch)
	if f.cfg.Policy != RetryOnFull {
		return err
	}

	for attempt := 1; attempt <= f.cfg.RetryAttempts && errors.Is(err, types.ErrChannelFull); attempt++ {
		atomic.AddInt64(&f.retries, 1)
		if waitErr := f.wait(ctx, f.cfg.Backoff.NextDelay(attempt)); waitErr != nil {
			return err
		}
		err = cache.TrySend(addr, batch)
	}
	return err
}

// wait pauses between retries, giving up early on cancellation.
func (f *Forwarder) wait(ctx context.Context, d time.Duration) error {
	timer := f.cfg.Clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
