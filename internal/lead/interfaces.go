package lead

import (
	"context"
	"io"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests of normalized identifiers.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes lead events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Ledger remembers which lead ids have been dispatched.
type Ledger interface {
	// Claim records leadID and reports whether it was new.
	Claim(ctx context.Context, leadID string, kind Kind, at time.Time) (bool, error)
	RecordOutcome(ctx context.Context, leadID string, results []DispatchResult) error
}
