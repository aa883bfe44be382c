// Package api exposes the HTTP interface for the relay service: task
// submission, progress polling and streaming, direct uploads, and the
// read-only audit endpoints.
package api
