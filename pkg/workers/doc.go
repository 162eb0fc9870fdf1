/*
Package workers provides a bounded, least-recently-used cache of
per-destination outbound workers used to fan batches of work out to
remote endpoints.

# Overview

Each destination address owns at most one Worker: a goroutine fed
through a bounded channel, joined through a done signal and stopped
through a per-worker cancellation. The Cache maps destination addresses
to workers with a fixed capacity; pushing past capacity retires the
least recently used worker, and a worker whose receiver died is pruned
automatically on the next send attempt.

Two delivery paths are offered. TrySend never suspends and reports a
saturated channel as types.ErrChannelFull. Send blocks until the worker
has capacity and is raced against the cache-wide cancellation, so
shutdown latency stays bounded even under backpressure.

# Ownership

A Worker is owned by exactly one cache slot until it is popped or
evicted, at which point ownership moves into a RetiredWorker. Shutting
down a worker consumes it; the handle must not be reused afterwards.
Errors during detached or cache-wide shutdown are logged and never
abort the drain of remaining workers.

# Concurrency

The Cache is not internally locked. Mutating calls (Push, Pop, TrySend,
Send, Shutdown) must be serialized by the caller, typically by driving
the cache from a single owner goroutine; see the forwarder package for
that arrangement. Contains is read-only. Detached shutdown goroutines
own their worker exclusively and never touch the cache again.

# Usage

	cache, err := workers.NewCache(ctx, &workers.CacheConfig{Capacity: 16})
	if err != nil {
		log.Fatal(err)
	}

	cache.DetachShutdown(cache.Push(addr, worker))

	if cache.Contains(addr) {
		switch err := cache.TrySend(addr, batch); {
		case errors.Is(err, types.ErrChannelFull):
			// transient backpressure, retry or drop
		case errors.Is(err, types.ErrReceiverDropped):
			// worker died and has been pruned
		}
	}

	cache.Shutdown()
*/
package workers
