// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces the conversion workers use to report task progress. The
// hub batches events on a background goroutine and fans them out to pluggable
// sinks such as Prometheus collectors or the Postgres audit store.
package progress
