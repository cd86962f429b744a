package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. Transport
// failures are reported as *FetchError. Implementations never retry.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// UpdateFunc receives the current collection and returns its replacement.
type UpdateFunc func(current []Property) ([]Property, error)

// PropertyStore persists the property collection.
type PropertyStore interface {
	// Load returns the full collection in insertion order.
	Load(ctx context.Context) ([]Property, error)
	// Update runs fn against the current collection and persists its result
	// as a single read-modify-write. Concurrent updates never lose writes.
	Update(ctx context.Context, fn UpdateFunc) ([]Property, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Pacer inserts the politeness delay between items.
type Pacer interface {
	Pause(ctx context.Context, delay time.Duration)
}

// RetryPolicy decides whether a failed fetch should be attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
