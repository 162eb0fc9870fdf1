/*
Package forwarder drives a workers.Cache from a single goroutine,
turning fan-out requests into per-destination deliveries.

The cache requires external serialization of its mutating calls; the
Forwarder is that serialization. Run consumes Request values from an
ingress channel, lazily creates a worker per destination through the
configured SenderFactory, and delivers each batch using the policy
chosen for full channels: drop it, block until the worker drains, or
retry with backoff.

Transport is out of scope here. A Sender is whatever can transmit one
batch to one destination; the worker loop simply drains its channel
into the Sender and counts outcomes.
*/
package forwarder
