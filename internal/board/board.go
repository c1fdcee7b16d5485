// Package board wires the token stream into a live, filtered view:
// stream -> throttle -> reconciler -> view derivation -> change signals.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/observability"
	"token-stream-lab/internal/reconcile"
	"token-stream-lab/internal/schedule"
	"token-stream-lab/internal/signal"
	"token-stream-lab/internal/stream"
	"token-stream-lab/internal/view"
)

var (
	// ErrInvalidSort is returned by SetSort for unknown keys or directions.
	ErrInvalidSort = errors.New("invalid sort")
	// ErrInvalidQuery is returned by SetQuery for a query the stream rejects.
	ErrInvalidQuery = errors.New("invalid tokens query")
	// ErrClosed is returned once the board has been closed.
	ErrClosed = errors.New("board closed")
)

// Stream names used in logs and metrics.
const (
	streamTokens = "tokens"
	streamToken  = "token"
	streamTrades = "trades"
)

// Config configures a Board.
type Config struct {
	StreamURL    string
	Query        stream.TokensQuery
	Stream       stream.Config
	Throttle     time.Duration
	SignalExpiry time.Duration
	Filter       domain.FilterConfig
	Sort         domain.SortConfig
}

// DefaultConfig returns the board defaults for base.
func DefaultConfig(base string) Config {
	return Config{
		StreamURL:    base,
		Query:        stream.DefaultTokensQuery(),
		Stream:       stream.DefaultConfig(),
		Throttle:     time.Second,
		SignalExpiry: signal.DefaultExpiry,
		Filter:       domain.DefaultFilterConfig(),
	}
}

// Snapshot is one published state of the board.
type Snapshot struct {
	Rows    []domain.Token                         `json:"rows"`
	Signals map[string]map[string]signal.Direction `json:"signals"`
	Status  stream.Status                          `json:"status"`
	Total   int                                    `json:"total"`
	Version uint64                                 `json:"version"`
}

// Board owns the pipeline for one tokens subscription.
type Board struct {
	cfg      Config
	logger   *zap.Logger
	dialer   *websocket.Dialer
	recorder *Recorder

	// streamMu guards the tokens stream, which SetQuery replaces.
	streamMu     sync.Mutex
	manager      *stream.Manager
	query        stream.TokensQuery
	runCtx       context.Context
	streamClosed bool

	// feedMu serializes applying a batch against resetting for a new query.
	// Batches from a replaced stream carry an older feed number and are dropped.
	feedMu   sync.Mutex
	feed     uint64
	throttle *schedule.Coalescer[feedBatch]
	state    *reconcile.Reconciler
	detail   *reconcile.Reconciler
	tracker  *signal.Tracker

	// observing suppresses the tracker callback while Observe runs on the publish path.
	observing atomic.Bool

	mu      sync.Mutex
	filter  domain.FilterConfig
	sort    domain.SortConfig
	latest  []domain.Token
	rows    []domain.Token
	signals signal.Map
	status  stream.Status
	version uint64

	subMu  sync.RWMutex
	subs   map[uint64]func(Snapshot)
	nextID uint64

	followMu  sync.Mutex
	followers map[string]*follower
	closed    bool

	unsubscribe func()
	closeOnce   sync.Once
}

type feedBatch struct {
	feed   uint64
	tokens []domain.Token
}

// Option configures a Board.
type Option func(*Board)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Board) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRecorder sends every published collection and followed trades to r.
func WithRecorder(r *Recorder) Option {
	return func(b *Board) { b.recorder = r }
}

// WithDialer sets the websocket dialer used by every stream.
func WithDialer(d *websocket.Dialer) Option {
	return func(b *Board) { b.dialer = d }
}

// New creates a Board. Start connects it.
func New(cfg Config, opts ...Option) (*Board, error) {
	if err := cfg.Query.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if cfg.StreamURL == "" {
		return nil, errors.New("stream url is required")
	}
	if err := validateSort(cfg.Sort); err != nil {
		return nil, err
	}

	b := &Board{
		cfg:       cfg,
		query:     cfg.Query,
		logger:    zap.NewNop(),
		filter:    cfg.Filter,
		sort:      cfg.Sort,
		signals:   signal.Map{},
		subs:      make(map[uint64]func(Snapshot)),
		followers: make(map[string]*follower),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.state = reconcile.New(b.logger.Named("reconcile"))
	b.detail = reconcile.New(b.logger.Named("detail"))
	b.tracker = signal.NewTracker(signal.DefaultFields(timeframe(cfg.Filter)), cfg.SignalExpiry, b.onSignals)
	b.throttle = schedule.NewThrottle(cfg.Throttle, b.applyFeed)
	b.unsubscribe = b.state.Subscribe(b.onPublish)
	b.manager = b.tokensManager(cfg.Query, 0)
	return b, nil
}

func (b *Board) tokensManager(q stream.TokensQuery, feed uint64) *stream.Manager {
	push := func(tokens []domain.Token) {
		b.throttle.Push(feedBatch{feed: feed, tokens: tokens})
	}
	onStatus := func(s stream.Status) {
		b.feedMu.Lock()
		current := feed == b.feed
		b.feedMu.Unlock()
		if current {
			b.onStatus(s)
		}
	}
	return stream.NewManager(
		stream.TokensEndpoint(b.cfg.StreamURL, q),
		stream.BatchHandler(streamTokens, b.logger, push),
		b.streamOptions(streamTokens, onStatus)...,
	)
}

func (b *Board) applyFeed(batch feedBatch) {
	b.feedMu.Lock()
	defer b.feedMu.Unlock()
	if batch.feed != b.feed {
		return
	}
	b.state.Apply(batch.tokens)
}

func (b *Board) streamOptions(name string, onStatus func(stream.Status)) []stream.Option {
	opts := []stream.Option{
		stream.WithName(name),
		stream.WithConfig(b.cfg.Stream),
		stream.WithLogger(b.logger),
	}
	if onStatus != nil {
		opts = append(opts, stream.WithStatusHandler(onStatus))
	}
	if b.dialer != nil {
		opts = append(opts, stream.WithDialer(b.dialer))
	}
	return opts
}

// Start connects the tokens stream in the background. Streams that SetQuery
// creates later run under the same ctx.
func (b *Board) Start(ctx context.Context) {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	if b.streamClosed {
		return
	}
	b.runCtx = ctx
	b.logger.Info("board starting", zap.String("endpoint", b.manager.Endpoint()))
	b.manager.Start(ctx)
}

// Query returns the active tokens query.
func (b *Board) Query() stream.TokensQuery {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	return b.query
}

// SetQuery switches the board to another page of the tokens stream. The old
// stream is closed, pending batches are dropped, and the collection and its
// signals start empty. The new stream connects at once if the board is started.
func (b *Board) SetQuery(q stream.TokensQuery) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	if b.streamClosed {
		return ErrClosed
	}
	if q == b.query {
		return nil
	}

	b.manager.Close()
	b.throttle.Cancel()

	b.feedMu.Lock()
	b.feed++
	feed := b.feed
	b.state.Reset()
	b.tracker.Reset()
	b.feedMu.Unlock()

	b.mu.Lock()
	b.latest = nil
	b.signals = signal.Map{}
	b.status = stream.Status{}
	b.rederiveLocked()
	b.mu.Unlock()

	b.query = q
	b.manager = b.tokensManager(q, feed)
	b.logger.Info("tokens query changed", zap.String("endpoint", b.manager.Endpoint()))
	if b.runCtx != nil {
		b.manager.Start(b.runCtx)
	}
	b.publish()
	return nil
}

// Close stops every stream and timer. Pending throttled batches are discarded.
func (b *Board) Close() {
	b.closeOnce.Do(func() {
		b.streamMu.Lock()
		b.streamClosed = true
		b.manager.Close()
		b.streamMu.Unlock()

		b.followMu.Lock()
		b.closed = true
		for mint, f := range b.followers {
			f.close()
			delete(b.followers, mint)
		}
		b.followMu.Unlock()

		b.throttle.Stop()
		b.tracker.Stop()
		b.unsubscribe()
	})
}

// Subscribe registers fn for every published snapshot. fn runs on the publishing
// goroutine and must not block.
func (b *Board) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, id)
			b.subMu.Unlock()
		})
	}
}

// Snapshot returns the current state.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Board) snapshotLocked() Snapshot {
	return Snapshot{
		Rows:    append([]domain.Token(nil), b.rows...),
		Signals: b.signals.ByMint(),
		Status:  b.status,
		Total:   len(b.latest),
		Version: b.version,
	}
}

// Status returns the tokens stream status.
func (b *Board) Status() stream.Status {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	return b.manager.Status()
}

// Filter returns the active filter.
func (b *Board) Filter() domain.FilterConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filter
}

// SetFilter replaces the filter and re-derives the rows at once.
func (b *Board) SetFilter(f domain.FilterConfig) {
	b.mu.Lock()
	b.filter = f
	b.rederiveLocked()
	b.mu.Unlock()

	b.tracker.SetFields(signal.DefaultFields(timeframe(f)))
	b.publish()
}

// Sort returns the active sort.
func (b *Board) Sort() domain.SortConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sort
}

// SetSort replaces the sort and re-derives the rows at once.
func (b *Board) SetSort(s domain.SortConfig) error {
	if err := validateSort(s); err != nil {
		return err
	}
	b.mu.Lock()
	b.sort = s
	b.rederiveLocked()
	b.mu.Unlock()

	b.publish()
	return nil
}

func validateSort(s domain.SortConfig) error {
	if s.Key != "" && !view.IsSortKey(s.Key) {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidSort, s.Key)
	}
	switch s.Direction {
	case "", domain.SortAsc, domain.SortDesc:
		return nil
	}
	return fmt.Errorf("%w: direction %q", ErrInvalidSort, s.Direction)
}

// Token returns the freshest known state of mint: the followed detail stream wins
// over the list stream.
func (b *Board) Token(mint string) (domain.Token, bool) {
	if t, ok := b.detail.Get(mint); ok {
		return t, true
	}
	return b.state.Get(mint)
}

func (b *Board) rederiveLocked() {
	start := time.Now()
	b.rows = view.Derive(b.latest, b.filter, b.sort)
	observability.RecordDerive(len(b.rows), time.Since(start).Seconds())
}

// onPublish runs for every reconciler publication, serialized by the reconciler.
func (b *Board) onPublish(tokens []domain.Token) {
	b.mu.Lock()
	b.latest = tokens
	b.rederiveLocked()
	b.mu.Unlock()

	b.observing.Store(true)
	signals := b.tracker.Observe(tokens)
	b.observing.Store(false)

	b.mu.Lock()
	b.signals = signals
	b.mu.Unlock()

	if b.recorder != nil {
		b.recorder.RecordTokens(tokens, time.Now().UnixMilli())
	}
	b.publish()
}

// onSignals handles the tracker's expiry reset.
func (b *Board) onSignals(m signal.Map) {
	if b.observing.Load() {
		return
	}
	b.mu.Lock()
	b.signals = m
	b.mu.Unlock()
	b.publish()
}

func (b *Board) onStatus(s stream.Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
	b.publish()
}

func (b *Board) publish() {
	b.mu.Lock()
	b.version++
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.subMu.RLock()
	subs := make([]func(Snapshot), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.subMu.RUnlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func timeframe(f domain.FilterConfig) domain.Window {
	if w, ok := domain.ParseWindow(f.Timeframe); ok {
		return w
	}
	return domain.Window24h
}
