package memory

import (
	"context"
	"sort"
	"sync"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu     sync.RWMutex
	seen   map[string]struct{} // signatures
	byMint map[string][]domain.Trade
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		seen:   make(map[string]struct{}),
		byMint: make(map[string][]domain.Trade),
	}
}

// InsertBulk appends trades, skipping signatures already stored.
func (s *TradeStore) InsertBulk(_ context.Context, trades []*domain.Trade) error {
	for _, t := range trades {
		if t == nil || t.Mint == "" || t.Signature == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		if _, dup := s.seen[t.Signature]; dup {
			continue
		}
		s.seen[t.Signature] = struct{}{}
		s.byMint[t.Mint] = append(s.byMint[t.Mint], *t)
	}
	return nil
}

// GetRecent returns up to limit trades of mint, newest first. limit <= 0 means all.
func (s *TradeStore) GetRecent(_ context.Context, mint string, limit int) ([]*domain.Trade, error) {
	s.mu.RLock()
	stored := s.byMint[mint]
	result := make([]*domain.Trade, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		tradeCopy := stored[i]
		result = append(result, &tradeCopy)
	}
	s.mu.RUnlock()

	// Insertion order breaks timestamp ties: later arrivals are newer.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp > result[j].Timestamp
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.TradeStore = (*TradeStore)(nil)
