package types

import "github.com/google/uuid"

// Batch is an ordered collection of wire-ready payloads addressed to a
// single destination. The content of the payloads is opaque to the
// fanout packages; only identity and size are inspected.
type Batch struct {
	// ID identifies the batch in logs and stats.
	ID uuid.UUID

	// Payloads are the serialized units of work, delivered in order.
	Payloads [][]byte
}

// NewBatch creates a batch with a fresh ID. The payload slices are not
// copied; the caller must not mutate them after handing the batch off.
func NewBatch(payloads [][]byte) Batch {
	return Batch{
		ID:       uuid.New(),
		Payloads: payloads,
	}
}

// Len returns the number of payloads in the batch.
func (b Batch) Len() int {
	return len(b.Payloads)
}

// Bytes returns the total payload size in bytes.
func (b Batch) Bytes() int {
	var n int
	for _, p := range b.Payloads {
		n += len(p)
	}
	return n
}
