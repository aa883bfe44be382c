// Package storage groups the object store backends. Each subpackage
// implements relay.ObjectStore for one provider.
package storage
