package memory

import (
	"context"
	"sort"
	"sync"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/storage"
)

// PricePointStore is an in-memory implementation of storage.PricePointStore.
type PricePointStore struct {
	mu     sync.RWMutex
	byMint map[string][]domain.PricePoint
}

// NewPricePointStore creates a new in-memory price point store.
func NewPricePointStore() *PricePointStore {
	return &PricePointStore{
		byMint: make(map[string][]domain.PricePoint),
	}
}

// InsertBulk appends points. The whole batch is rejected if any point is invalid.
func (s *PricePointStore) InsertBulk(_ context.Context, points []*domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if p == nil || p.Mint == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		s.byMint[p.Mint] = append(s.byMint[p.Mint], *p)
	}
	return nil
}

// GetByTimeRange retrieves points for a mint within [start, end] (inclusive).
func (s *PricePointStore) GetByTimeRange(_ context.Context, mint string, start, end int64) ([]*domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PricePoint
	for _, p := range s.byMint[mint] {
		if p.TimestampMs >= start && p.TimestampMs <= end {
			pointCopy := p
			result = append(result, &pointCopy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}

var _ storage.PricePointStore = (*PricePointStore)(nil)
