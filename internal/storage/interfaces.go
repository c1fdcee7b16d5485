package storage

import (
	"context"

	"token-stream-lab/internal/domain"
)

// MetadataStore persists resolved token metadata documents, keyed by URI.
type MetadataStore interface {
	// Upsert inserts or replaces the document for m.URI.
	Upsert(ctx context.Context, m *domain.Metadata) error

	// GetByURI returns ErrNotFound if the URI was never stored.
	GetByURI(ctx context.Context, uri string) (*domain.Metadata, error)
}

// KVStore is a string-keyed blob store for user preferences.
type KVStore interface {
	// Get returns ErrNotFound if key is not set.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put sets key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// PricePointStore provides access to price_points storage.
type PricePointStore interface {
	// InsertBulk appends points. Points with an empty mint are rejected.
	InsertBulk(ctx context.Context, points []*domain.PricePoint) error

	// GetByTimeRange returns the points of mint within [start, end] ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, mint string, start, end int64) ([]*domain.PricePoint, error)
}

// TradeStore provides access to trades storage.
type TradeStore interface {
	// InsertBulk appends trades. Signatures already stored are skipped.
	InsertBulk(ctx context.Context, trades []*domain.Trade) error

	// GetRecent returns up to limit trades of mint, newest first.
	GetRecent(ctx context.Context, mint string, limit int) ([]*domain.Trade, error)
}
