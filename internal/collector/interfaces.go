package collector

import (
	"context"

	"github.com/plain-dev/bodydrain/pkg/fetcher"
	"github.com/plain-dev/bodydrain/pkg/publishers"
)

// DocumentFetcher retrieves a target body on either path.
type DocumentFetcher interface {
	FetchSync(ctx context.Context, d fetcher.Descriptor) (string, error)
	FetchAsync(ctx context.Context, d fetcher.Descriptor) *fetcher.Pending
}

// EventPublisher publishes drained documents downstream.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// Deduper tracks which bodies have already been published per target.
type Deduper interface {
	SeenDigest(targetID, digest string) (bool, error)
	MarkDigest(targetID, digest string) error
}

// SnapshotWriter persists a copy of a drained body.
type SnapshotWriter interface {
	Write(name string, data []byte) (int64, error)
}
