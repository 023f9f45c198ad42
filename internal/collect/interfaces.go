package collect

import (
	"context"
	"io"
	"time"
)

// Materializer produces a RunConfig for one entity.
type Materializer interface {
	Materialize(entity Entity) (RunConfig, error)
}

// Runner invokes the external worker for one materialized config and blocks
// until it exits or ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, cfg RunConfig) error
}

// Persister re-persists a slug's result document after deduplication.
type Persister interface {
	Persist(ctx context.Context, slug string) (PersistResult, error)
}

// Archiver mirrors a persisted document to secondary storage and returns a URI.
type Archiver interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for audit logging.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
