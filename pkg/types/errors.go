// Package types defines the batch value, error taxonomy and clock
// abstractions shared by the fanout packages.
package types

import (
	"errors"
	"fmt"
	"net/netip"
)

// Predefined delivery errors. These four values are the complete set of
// failures a send or shutdown can produce; callers are expected to
// branch on them with errors.Is.
var (
	// ErrReceiverDropped indicates the worker's receiving side is gone
	// (the worker goroutine exited or was killed). The cache entry for
	// such a worker is pruned automatically on the next send attempt.
	ErrReceiverDropped = errors.New("work receiver has been dropped")

	// ErrChannelFull indicates transient backpressure on the
	// non-blocking path. The entry stays cached; the caller decides
	// whether to retry, drop, or switch to the blocking path.
	ErrChannelFull = errors.New("worker channel is full")

	// ErrTaskFailed indicates a worker goroutine did not complete
	// cleanly when joined during shutdown.
	ErrTaskFailed = errors.New("worker task failed to join")

	// ErrShuttingDown indicates the cache is shutting down; no retry
	// is implied.
	ErrShuttingDown = errors.New("worker cache is shutting down")
)

// DeliveryError attributes a delivery failure to a destination.
type DeliveryError struct {
	// Addr is the destination the delivery was meant for.
	Addr netip.AddrPort

	// Cause is the underlying error, one of the predefined set.
	Cause error
}

// Error implements the error interface
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Addr, e.Cause)
}

// Unwrap returns the underlying error
func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is a specific error
func (e *DeliveryError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// NewDeliveryError creates a new DeliveryError
func NewDeliveryError(addr netip.AddrPort, cause error) *DeliveryError {
	return &DeliveryError{
		Addr:  addr,
		Cause: cause,
	}
}
