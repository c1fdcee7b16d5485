package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/schedule"
)

// DefaultDebounce is the quiet period before a typed query is sent.
const DefaultDebounce = 500 * time.Millisecond

// Backend runs a search. *Client implements it.
type Backend interface {
	Search(ctx context.Context, q Query) ([]domain.Token, error)
}

// Result is delivered once per query that was not superseded.
type Result struct {
	Query  Query
	Tokens []domain.Token
	Err    error
}

// Searcher debounces interactive input and keeps at most one request in flight.
// A newer query cancels the older request, whose result is then dropped.
type Searcher struct {
	backend  Backend
	onResult func(Result)
	logger   *zap.Logger
	sortBy   SortOption

	debouncer *schedule.Coalescer[Query]

	mu      sync.Mutex
	seq     uint64
	cancel  context.CancelFunc
	closed  bool
	running sync.WaitGroup
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithSort orders every delivered result.
func WithSort(opt SortOption) SearcherOption {
	return func(s *Searcher) { s.sortBy = opt }
}

// WithSearcherLogger sets the logger.
func WithSearcherLogger(l *zap.Logger) SearcherOption {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSearcher creates a Searcher that sends queries after window of quiet.
func NewSearcher(backend Backend, window time.Duration, onResult func(Result), opts ...SearcherOption) *Searcher {
	if window <= 0 {
		window = DefaultDebounce
	}
	s := &Searcher{
		backend:  backend,
		onResult: onResult,
		logger:   zap.NewNop(),
		sortBy:   SortTime,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.debouncer = schedule.NewDebouncer(window, s.dispatch)
	return s
}

// Input records the latest query text. Queries shorter than MinQueryLength
// cancel any pending or running search and deliver an empty result at once.
func (s *Searcher) Input(q Query) {
	if len(strings.TrimSpace(q.Text)) < MinQueryLength {
		s.debouncer.Cancel()
		if s.supersede() {
			s.onResult(Result{Query: q})
		}
		return
	}
	s.debouncer.Push(q)
}

// supersede cancels the running request. It returns false once closed.
func (s *Searcher) supersede() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.seq++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return true
}

func (s *Searcher) dispatch(q Query) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.running.Done()
		defer cancel()

		tokens, err := s.backend.Search(ctx, q)

		s.mu.Lock()
		current := seq == s.seq && !s.closed
		s.mu.Unlock()
		if !current || errors.Is(err, context.Canceled) {
			s.logger.Debug("search result superseded", zap.String("query", q.Text))
			return
		}
		if err == nil {
			tokens = SortResults(tokens, s.sortBy)
		}
		s.onResult(Result{Query: q, Tokens: tokens, Err: err})
	}()
}

// Close stops the debouncer, aborts the running request and waits for it to return.
func (s *Searcher) Close() {
	s.debouncer.Stop()

	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.running.Wait()
}
