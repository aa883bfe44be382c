// Package relay defines the core types shared across the URL-conversion
// pipeline: extracted URL occurrences, per-occurrence conversion results,
// the task progress record, and the capability interfaces the workers
// depend on (object store, fetcher, publisher, clock, ID generation).
package relay
