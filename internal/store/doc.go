// Package store declares interfaces for persisting the conversion audit
// trail: one row per task run and one row per converted URL occurrence.
package store
