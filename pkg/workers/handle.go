package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/mkarev/fanout/pkg/types"
)

// RunFunc is the body of a worker task. It owns the receiving side of
// the batch channel and must return when the channel is closed or ctx
// is cancelled, whichever happens first.
type RunFunc func(ctx context.Context, batches <-chan types.Batch)

// Worker is the sending half of one live outbound worker: a bounded
// batch channel, the join state of the goroutine draining it, and a
// cancellation scoped to that goroutine.
//
// A Worker is a move-only value in spirit: it lives in exactly one
// cache slot until retired, and Shutdown consumes it.
type Worker struct {
	batches chan types.Batch
	cancel  context.CancelFunc

	// sendMu serializes sends against the channel close in Shutdown:
	// senders hold the read side, Shutdown takes the write side only
	// after cancelling, so a send blocked on a cancellable context
	// wakes and releases the lock before the channel can close under
	// it.
	sendMu sync.RWMutex
	closed bool

	// done is closed by the worker goroutine on exit; runErr is written
	// before the close and read only after it.
	done   chan struct{}
	runErr error

	closeOnce sync.Once
}

// NewWorker starts a worker goroutine with a batch channel of the given
// buffer size. The goroutine runs with panic recovery so that a failed
// worker is reported through Shutdown instead of crashing the process.
func NewWorker(buffer int, run RunFunc) *Worker {
	if buffer < 0 {
		buffer = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		batches: make(chan types.Batch, buffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		defer func() {
			if r := recover(); r != nil {
				w.runErr = fmt.Errorf("%w: panic: %v", types.ErrTaskFailed, r)
			}
		}()
		run(ctx, w.batches)
	}()
	return w
}

// TrySend attempts an immediate enqueue. It returns
// types.ErrChannelFull when the buffer is saturated and
// types.ErrReceiverDropped when the worker goroutine has exited. It
// never suspends the caller.
func (w *Worker) TrySend(batch types.Batch) error {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()

	if w.closed || w.stopped() {
		return types.ErrReceiverDropped
	}
	select {
	case w.batches <- batch:
		return nil
	default:
	}
	if w.stopped() {
		return types.ErrReceiverDropped
	}
	return types.ErrChannelFull
}

// Send enqueues the batch, waiting for channel capacity. It resolves
// early with types.ErrReceiverDropped when the worker goroutine exits,
// or with the context error when ctx is cancelled. Cancellation is
// checked before waiting, so a context that is already done always
// wins over an enqueue that could also proceed.
func (w *Worker) Send(ctx context.Context, batch types.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.sendMu.RLock()
	defer w.sendMu.RUnlock()

	if w.closed || w.stopped() {
		return types.ErrReceiverDropped
	}
	select {
	case w.batches <- batch:
		return nil
	case <-w.done:
		return types.ErrReceiverDropped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the worker, closes the batch channel so the receive
// loop observes end of input, and waits for the goroutine to finish.
// It returns an error wrapping types.ErrTaskFailed if the run function
// panicked. Shutdown consumes the worker: no send may follow it, which
// the cache guarantees by only shutting down workers it has removed.
func (w *Worker) Shutdown() error {
	w.cancel()

	w.sendMu.Lock()
	w.closed = true
	w.closeOnce.Do(func() {
		close(w.batches)
	})
	w.sendMu.Unlock()

	<-w.done
	return w.runErr
}

// stopped reports whether the worker goroutine has exited. A stopped
// worker can never drain its channel again, so sends to it are
// receiver-dropped failures even when buffer space remains.
func (w *Worker) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
