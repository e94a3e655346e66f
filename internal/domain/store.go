package domain

import (
	"context"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// JobStore is the durable journal of relay jobs. The submitter records the
// assigned sequence number here before a transaction leaves the process, so
// a restart never hands the same slot to two submissions.
type JobStore interface {
	Create(ctx context.Context, job RelayJob) error
	// MarkDispatched persists the sequence assignment. It must return before
	// the submission is sent.
	MarkDispatched(ctx context.Context, id string, sequence uint64) error
	MarkSubmitted(ctx context.Context, id string, txHash common.Hash, attempts int) error
	MarkConfirmed(ctx context.Context, id string, txHash common.Hash) error
	MarkFailed(ctx context.Context, id string, reason string) error
	// MarkAbandoned records terminal failure AND releases the journaled
	// sequence number. Used when no submission was ever accepted anywhere,
	// so the slot must be free for the next job.
	MarkAbandoned(ctx context.Context, id string, reason string) error
	// GetBySigHash returns the most recent job for a permit signature, used
	// to serve duplicate relay requests after a restart.
	GetBySigHash(ctx context.Context, sigHash common.Hash) (RelayJob, error)
}

// ReceiptCache is the fast idempotency layer: confirmed receipts keyed by
// permit signature hash.
type ReceiptCache interface {
	Get(ctx context.Context, sigHash common.Hash) (Receipt, bool, error)
	Put(ctx context.Context, sigHash common.Hash, r Receipt) error
}

// RateLimiter bounds request rates per key (client IP for the bet endpoint).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter stores settlement archives in object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Broadcaster pushes market lifecycle events to connected UI clients.
type Broadcaster interface {
	Broadcast(ev Event)
}
