// Package prefs persists user state under fixed keys of a KVStore. Loads never fail:
// missing or unreadable values fall back to defaults.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/solana"
	"token-stream-lab/internal/storage"
)

// Storage keys.
const (
	KeyFilters       = "filters"
	KeyQuickBuy      = "quickBuySettings"
	KeyWatchlist     = "watchlist"
	KeySearchHistory = "searchHistory"
	KeyWallets       = "wallets"
)

// MaxSearchHistory bounds the stored search history.
const MaxSearchHistory = 20

// HistoryEntry is one token opened from search.
type HistoryEntry struct {
	Mint     string `json:"mint"`
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Logo     string `json:"logo,omitempty"`
	ViewedAt int64  `json:"viewedAt"`
}

// Wallet is a named public address. No key material is stored.
type Wallet struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Store reads and writes preferences.
type Store struct {
	kv     storage.KVStore
	logger *zap.Logger
	now    func() time.Time

	// mu serializes read-modify-write cycles.
	mu sync.Mutex
}

// New creates a Store over kv.
func New(kv storage.KVStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, logger: logger, now: time.Now}
}

// load decodes key into out and reports whether a usable value was found.
// out may be partially written when false is returned.
func (s *Store) load(ctx context.Context, key string, out any) bool {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("preference read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("preference value corrupt, using default", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Filters returns the stored filter merged over the defaults.
func (s *Store) Filters(ctx context.Context) domain.FilterConfig {
	merged := domain.DefaultFilterConfig()
	if !s.load(ctx, KeyFilters, &merged) {
		return domain.DefaultFilterConfig()
	}
	if merged.AMMs == nil {
		merged.AMMs = domain.VenueIDs()
	}
	if _, ok := domain.ParseWindow(merged.Timeframe); !ok {
		merged.Timeframe = domain.Window24h.String()
	}
	return merged
}

// SaveFilters persists f.
func (s *Store) SaveFilters(ctx context.Context, f domain.FilterConfig) error {
	return s.save(ctx, KeyFilters, f)
}

// QuickBuy returns the quick-buy settings. Missing or invalid presets are reset to
// defaults and an unknown active preset falls back to P1.
func (s *Store) QuickBuy(ctx context.Context) domain.QuickBuySettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quickBuy(ctx)
}

func (s *Store) quickBuy(ctx context.Context) domain.QuickBuySettings {
	var stored domain.QuickBuySettings
	if !s.load(ctx, KeyQuickBuy, &stored) {
		return domain.DefaultQuickBuySettings()
	}

	out := domain.DefaultQuickBuySettings()
	for _, name := range domain.PresetNames {
		if p, ok := stored.Presets[name]; ok && p.Validate() == nil {
			out.Presets[name] = p
		}
	}
	if _, ok := out.Presets[stored.ActivePreset]; ok {
		out.ActivePreset = stored.ActivePreset
	}
	return out
}

// SetPreset replaces one preset.
func (s *Store) SetPreset(ctx context.Context, name string, p domain.Preset) error {
	if !slices.Contains(domain.PresetNames, name) {
		return fmt.Errorf("%w: unknown preset %q", storage.ErrInvalidInput, name)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.quickBuy(ctx)
	settings.Presets[name] = p
	return s.save(ctx, KeyQuickBuy, settings)
}

// SetActivePreset selects the preset used by quick buys.
func (s *Store) SetActivePreset(ctx context.Context, name string) error {
	if !slices.Contains(domain.PresetNames, name) {
		return fmt.Errorf("%w: unknown preset %q", storage.ErrInvalidInput, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.quickBuy(ctx)
	settings.ActivePreset = name
	return s.save(ctx, KeyQuickBuy, settings)
}

// Watchlist returns the watched mints in insertion order.
func (s *Store) Watchlist(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchlist(ctx)
}

func (s *Store) watchlist(ctx context.Context) []string {
	var list []string
	if !s.load(ctx, KeyWatchlist, &list) {
		return []string{}
	}
	return slices.DeleteFunc(list, func(m string) bool { return m == "" })
}

// Watch adds mint if absent. It reports whether the list changed.
func (s *Store) Watch(ctx context.Context, mint string) (bool, error) {
	if mint == "" {
		return false, fmt.Errorf("%w: empty mint", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.watchlist(ctx)
	if slices.Contains(list, mint) {
		return false, nil
	}
	return true, s.save(ctx, KeyWatchlist, append(list, mint))
}

// Unwatch removes mint. It reports whether the list changed.
func (s *Store) Unwatch(ctx context.Context, mint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.watchlist(ctx)
	i := slices.Index(list, mint)
	if i < 0 {
		return false, nil
	}
	return true, s.save(ctx, KeyWatchlist, slices.Delete(list, i, i+1))
}

// IsWatched reports whether mint is on the watchlist.
func (s *Store) IsWatched(ctx context.Context, mint string) bool {
	return slices.Contains(s.Watchlist(ctx), mint)
}

// SearchHistory returns the history, newest first.
func (s *Store) SearchHistory(ctx context.Context) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchHistory(ctx)
}

func (s *Store) searchHistory(ctx context.Context) []HistoryEntry {
	var list []HistoryEntry
	if !s.load(ctx, KeySearchHistory, &list) {
		return []HistoryEntry{}
	}
	return slices.DeleteFunc(list, func(e HistoryEntry) bool { return e.Mint == "" })
}

// AddSearchHistory puts t at the head of the history, dropping any older entry for
// the same mint and anything past MaxSearchHistory.
func (s *Store) AddSearchHistory(ctx context.Context, t domain.Token) error {
	if t.Mint == "" {
		return fmt.Errorf("%w: empty mint", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := HistoryEntry{
		Mint:     t.Mint,
		Name:     t.Name,
		Symbol:   t.Symbol,
		Logo:     t.Logo,
		ViewedAt: s.now().UnixMilli(),
	}
	list := slices.DeleteFunc(s.searchHistory(ctx), func(e HistoryEntry) bool { return e.Mint == t.Mint })
	list = append([]HistoryEntry{entry}, list...)
	if len(list) > MaxSearchHistory {
		list = list[:MaxSearchHistory]
	}
	return s.save(ctx, KeySearchHistory, list)
}

// ClearSearchHistory removes all history.
func (s *Store) ClearSearchHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, KeySearchHistory); err != nil {
		return fmt.Errorf("clear %s: %w", KeySearchHistory, err)
	}
	return nil
}

// Wallets returns the stored wallets.
func (s *Store) Wallets(ctx context.Context) []Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets(ctx)
}

func (s *Store) wallets(ctx context.Context) []Wallet {
	var list []Wallet
	if !s.load(ctx, KeyWallets, &list) {
		return []Wallet{}
	}
	return slices.DeleteFunc(list, func(w Wallet) bool { return !solana.IsAddress(w.Address) })
}

// AddWallet stores w, renaming an existing entry with the same address.
func (s *Store) AddWallet(ctx context.Context, w Wallet) error {
	if !solana.IsAddress(w.Address) {
		return fmt.Errorf("%w: wallet address %q", storage.ErrInvalidInput, w.Address)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.wallets(ctx)
	if i := slices.IndexFunc(list, func(e Wallet) bool { return e.Address == w.Address }); i >= 0 {
		list[i].Name = w.Name
	} else {
		list = append(list, w)
	}
	return s.save(ctx, KeyWallets, list)
}

// RemoveWallet deletes the wallet with address.
func (s *Store) RemoveWallet(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.wallets(ctx)
	i := slices.IndexFunc(list, func(e Wallet) bool { return e.Address == address })
	if i < 0 {
		return nil
	}
	return s.save(ctx, KeyWallets, slices.Delete(list, i, i+1))
}
