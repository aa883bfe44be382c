// Package sinks contains progress.Sink implementations: structured logging,
// Prometheus collectors, and the Postgres audit store.
package sinks
