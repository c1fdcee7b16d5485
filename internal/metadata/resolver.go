package metadata

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/observability"
	"token-stream-lab/internal/storage"
)

// DefaultRevealDelay is how long a lookup stays loading before consumers should
// show a placeholder.
const DefaultRevealDelay = 500 * time.Millisecond

// Resolver turns token URIs into metadata. At most one fetch per URI is in
// flight. Documents and definitive failures are cached; transport failures are
// retried by the next request.
type Resolver struct {
	cache        *Cache
	fetcher      Fetcher
	store        storage.MetadataStore
	locator      Locator
	logger       *zap.Logger
	revealDelay  time.Duration
	fetchTimeout time.Duration

	group singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStore adds a persistent store consulted after a cache miss and written
// after a successful fetch.
func WithStore(s storage.MetadataStore) Option {
	return func(r *Resolver) { r.store = s }
}

// WithLocator finds the URI of tokens that arrive without one.
func WithLocator(l Locator) Option {
	return func(r *Resolver) { r.locator = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRevealDelay overrides DefaultRevealDelay.
func WithRevealDelay(d time.Duration) Option {
	return func(r *Resolver) { r.revealDelay = d }
}

// WithFetchTimeout overrides DefaultFetchTimeout for the shared fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.fetchTimeout = d }
}

// NewResolver creates a Resolver over an injected cache.
func NewResolver(cache *Cache, fetcher Fetcher, opts ...Option) *Resolver {
	r := &Resolver{
		cache:        cache,
		fetcher:      fetcher,
		logger:       zap.NewNop(),
		revealDelay:  DefaultRevealDelay,
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the resolver's cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// Get resolves uri and blocks until done. A nil result with a nil error means
// the URI is empty or unresolvable. The error is non-nil only when ctx ends first.
func (r *Resolver) Get(ctx context.Context, uri string) (*domain.Metadata, error) {
	if uri == "" {
		return nil, nil
	}
	if e, ok := r.cache.Get(uri); ok {
		observability.RecordMetadataCacheHit()
		return e.Metadata, nil
	}

	ch := r.group.DoChan(uri, func() (any, error) {
		return r.load(ctx, uri), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Entry).Metadata, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve starts resolving uri and returns immediately. A cached URI yields a
// completed lookup and no fetch.
func (r *Resolver) Resolve(ctx context.Context, uri string) *Lookup {
	if uri == "" {
		return completed(nil)
	}
	if e, ok := r.cache.Get(uri); ok {
		observability.RecordMetadataCacheHit()
		return completed(e.Metadata)
	}
	return r.start(ctx, func(ctx context.Context) (*domain.Metadata, error) {
		return r.Get(ctx, uri)
	})
}

// ResolveToken resolves t.URI, or locates the URI on chain when t has none and
// a Locator is configured.
func (r *Resolver) ResolveToken(ctx context.Context, t domain.Token) *Lookup {
	if t.URI != "" || r.locator == nil {
		return r.Resolve(ctx, t.URI)
	}
	return r.start(ctx, func(ctx context.Context) (*domain.Metadata, error) {
		uri, err := r.locator.Locate(ctx, t.Mint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Debug("locate metadata uri failed", zap.String("mint", t.Mint), zap.Error(err))
			return nil, nil
		}
		return r.Get(ctx, uri)
	})
}

func (r *Resolver) start(ctx context.Context, resolve func(context.Context) (*domain.Metadata, error)) *Lookup {
	l := &Lookup{loading: true, done: make(chan struct{})}
	l.timer = time.AfterFunc(r.revealDelay, l.revealPlaceholder)

	go func() {
		meta, err := resolve(ctx)
		if err != nil {
			// Caller went away; its lookup is discarded, not marked unresolvable.
			l.Close()
			return
		}
		l.complete(meta)
	}()
	return l
}

// load runs once per URI at a time under the singleflight group. The fetch is
// detached from the first caller's context so a departing caller does not fail
// the others.
func (r *Resolver) load(ctx context.Context, uri string) Entry {
	if e, ok := r.cache.Get(uri); ok {
		return e
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
	defer cancel()

	if r.store != nil {
		m, err := r.store.GetByURI(ctx, uri)
		switch {
		case err == nil:
			e := Entry{Metadata: m}
			r.cache.Put(uri, e)
			return e
		case !errors.Is(err, storage.ErrNotFound):
			r.logger.Warn("metadata store read failed", zap.String("uri", uri), zap.Error(err))
		}
	}

	start := time.Now()
	m, err := r.fetcher.Fetch(ctx, uri)
	elapsed := time.Since(start).Seconds()

	switch {
	case err != nil && !errors.Is(err, ErrUnresolvable):
		observability.RecordMetadataFetch("error", elapsed)
		r.logger.Debug("metadata fetch failed", zap.String("uri", uri), zap.Error(err))
		return Entry{Unresolvable: true}
	case err != nil || m == nil:
		observability.RecordMetadataFetch("unresolvable", elapsed)
		r.logger.Debug("metadata unresolvable", zap.String("uri", uri), zap.Error(err))
		e := Entry{Unresolvable: true}
		r.cache.Put(uri, e)
		return e
	}

	observability.RecordMetadataFetch("ok", elapsed)
	m.URI = uri
	e := Entry{Metadata: m}
	r.cache.Put(uri, e)

	if r.store != nil {
		if err := r.store.Upsert(ctx, m); err != nil {
			r.logger.Warn("metadata store write failed", zap.String("uri", uri), zap.Error(err))
		}
	}
	return e
}

// Lookup is one consumer's view of a resolution in progress.
type Lookup struct {
	mu      sync.Mutex
	meta    *domain.Metadata
	loading bool
	reveal  bool
	closed  bool
	timer   *time.Timer

	done     chan struct{}
	doneOnce sync.Once
}

func completed(meta *domain.Metadata) *Lookup {
	l := &Lookup{meta: meta, done: make(chan struct{})}
	l.finish()
	return l
}

// State returns the resolved metadata (nil while loading or when unresolvable),
// whether the lookup is still loading, and whether the reveal delay has passed
// while loading. Consumers show a loading affordance only when loading && !reveal.
func (l *Lookup) State() (meta *domain.Metadata, loading, reveal bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta, l.loading, l.reveal
}

// Done is closed when the lookup completes or is closed.
func (l *Lookup) Done() <-chan struct{} {
	return l.done
}

// Close stops the reveal timer and discards any later result.
func (l *Lookup) Close() {
	l.mu.Lock()
	l.closed = true
	l.loading = false
	if l.timer != nil {
		l.timer.Stop()
	}
	l.mu.Unlock()
	l.finish()
}

func (l *Lookup) revealPlaceholder() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loading && !l.closed {
		l.reveal = true
	}
}

func (l *Lookup) complete(meta *domain.Metadata) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.meta = meta
	l.loading = false
	if l.timer != nil {
		l.timer.Stop()
	}
	l.mu.Unlock()
	l.finish()
}

func (l *Lookup) finish() {
	l.doneOnce.Do(func() { close(l.done) })
}
