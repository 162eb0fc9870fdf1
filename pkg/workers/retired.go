package workers

import "net/netip"

// RetiredWorker owns a worker that has left the cache, by eviction,
// explicit Pop, or pruning after a dead receiver. It exists so the
// shutdown can happen away from the caller that displaced the worker;
// Cache.DetachShutdown is the usual consumer.
type RetiredWorker struct {
	addr   netip.AddrPort
	worker *Worker
}

// Addr returns the destination the worker was serving.
func (r *RetiredWorker) Addr() netip.AddrPort {
	return r.addr
}

// Shutdown stops the owned worker and waits for its goroutine to
// finish. It consumes the retired worker.
func (r *RetiredWorker) Shutdown() error {
	return r.worker.Shutdown()
}
