package relay

import (
	"context"
	"time"
)

// ObjectStore is the gateway to the S3-compatible backend. Every call is a
// single attempt; retry decisions belong to the caller.
type ObjectStore interface {
	// Put uploads data under key with the given content type.
	Put(ctx context.Context, key string, contentType string, data []byte) error
	// Presign issues a time-limited download link for key.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Exists reports whether an object is already stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// Endpoint returns the store's base endpoint, used to recognize URLs
	// that already point at mirrored objects.
	Endpoint() string
}

// Fetcher downloads a remote resource with a single HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Publisher pushes task-completion notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
