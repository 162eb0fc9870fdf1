package forwarder

import "sync/atomic"

// Stats is a point-in-time snapshot of forwarder counters.
type Stats struct {
	// BatchesSent counts batches transmitted by worker loops.
	BatchesSent int64

	// BatchesDropped counts batches that never reached a worker
	// channel (setup failure, full channel, dead worker, shutdown).
	BatchesDropped int64

	// BytesSent is the total payload size transmitted.
	BytesSent int64

	// SendFailures counts transmissions the Sender reported as failed.
	SendFailures int64

	// Retries counts full-channel retry attempts.
	Retries int64

	// WorkersCreated counts workers started for new destinations.
	WorkersCreated int64

	// WorkersPruned counts workers removed after a dropped receiver.
	WorkersPruned int64
}

// Stats returns a snapshot of the forwarder's counters. Safe to call
// concurrently with Run.
func (f *Forwarder) Stats() Stats {
	return Stats{
		BatchesSent:    atomic.LoadInt64(&f.batchesSent),
		BatchesDropped: atomic.LoadInt64(&f.batchesDropped),
		BytesSent:      atomic.LoadInt64(&f.bytesSent),
		SendFailures:   atomic.LoadInt64(&f.sendFailures),
		Retries:        atomic.LoadInt64(&f.retries),
		WorkersCreated: atomic.LoadInt64(&f.workersCreated),
		WorkersPruned:  atomic.LoadInt64(&f.workersPruned),
	}
}

// DeliveryRate returns the fraction of attempted batch deliveries that
// were transmitted successfully.
func (s Stats) DeliveryRate() float64 {
	attempted := s.BatchesSent + s.SendFailures + s.BatchesDropped
	if attempted == 0 {
		return 0
	}
	return float64(s.BatchesSent) / float64(attempted)
}
