package memory

import (
	"context"
	"sync"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/storage"
)

// MetadataStore is an in-memory implementation of storage.MetadataStore.
type MetadataStore struct {
	mu    sync.RWMutex
	byURI map[string]*domain.Metadata
}

// NewMetadataStore creates a new in-memory metadata store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{
		byURI: make(map[string]*domain.Metadata),
	}
}

// Upsert inserts or replaces the document for m.URI.
func (s *MetadataStore) Upsert(_ context.Context, m *domain.Metadata) error {
	if m == nil || m.URI == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	metaCopy := *m
	s.byURI[m.URI] = &metaCopy
	return nil
}

// GetByURI returns ErrNotFound if the URI was never stored.
func (s *MetadataStore) GetByURI(_ context.Context, uri string) (*domain.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.byURI[uri]
	if !exists {
		return nil, storage.ErrNotFound
	}
	metaCopy := *m
	return &metaCopy, nil
}

var _ storage.MetadataStore = (*MetadataStore)(nil)
