// Package reconcile maintains the canonical per-token state fed by full-snapshot batches.
package reconcile

import (
	"sync"

	"go.uber.org/zap"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/observability"
	"token-stream-lab/internal/stream"
)

// Observer receives each published collection. The slice is freshly allocated per
// publication and owned by the observer.
type Observer func(tokens []domain.Token)

// Result summarizes one Apply.
type Result struct {
	Added     int
	Replaced  int
	Evicted   int
	Unchanged int
}

// Changed reports whether the canonical map was modified.
func (r Result) Changed() bool {
	return r.Added+r.Replaced+r.Evicted > 0
}

// Reconciler holds the latest full snapshot of every token, keyed by mint,
// in order of first observation.
// Mutations and their publications are serialized, so observers see collections in
// the order they were produced. Observers must not call Apply, Upsert or Remove.
type Reconciler struct {
	applyMu sync.Mutex

	mu     sync.Mutex
	tokens map[string]domain.Token
	order  []string

	obsMu     sync.RWMutex
	observers map[uint64]Observer
	nextID    uint64

	logger *zap.Logger
}

// New creates an empty Reconciler.
func New(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		tokens:    make(map[string]domain.Token),
		observers: make(map[uint64]Observer),
		logger:    logger,
	}
}

// Subscribe registers fn for future publications and returns its unsubscribe func.
func (r *Reconciler) Subscribe(fn Observer) (unsubscribe func()) {
	r.obsMu.Lock()
	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	r.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.obsMu.Lock()
			delete(r.observers, id)
			r.obsMu.Unlock()
		})
	}
}

// Apply merges a complete snapshot batch: tokens that are new or differ are written,
// tokens absent from the batch are evicted. Observers are notified only if
// something changed. Tokens without a mint are skipped; if a mint repeats within
// the batch, the later token wins.
func (r *Reconciler) Apply(batch []domain.Token) Result {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.Lock()

	var res Result
	seen := make(map[string]struct{}, len(batch))
	skipped := 0

	for _, tok := range batch {
		if tok.Mint == "" {
			skipped++
			continue
		}
		seen[tok.Mint] = struct{}{}
		res.add(r.put(tok))
	}

	if len(seen) < len(r.tokens) {
		kept := r.order[:0]
		for _, mint := range r.order {
			if _, ok := seen[mint]; ok {
				kept = append(kept, mint)
				continue
			}
			delete(r.tokens, mint)
			res.Evicted++
		}
		clear(r.order[len(kept):])
		r.order = kept
	}

	var snapshot []domain.Token
	if res.Changed() {
		snapshot = r.materialize()
	}
	size := len(r.tokens)
	r.mu.Unlock()

	if skipped > 0 {
		r.logger.Warn("skipped tokens without mint", zap.Int("count", skipped))
	}
	if snapshot != nil {
		observability.RecordPublish(res.Evicted, size)
		r.publish(snapshot)
	}
	return res
}

// Upsert writes a single token without evicting others. Used for single-token
// subscriptions where a frame is not a complete set.
func (r *Reconciler) Upsert(tok domain.Token) bool {
	if tok.Mint == "" {
		return false
	}

	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.Lock()
	outcome := r.put(tok)
	var snapshot []domain.Token
	if outcome != putUnchanged {
		snapshot = r.materialize()
	}
	size := len(r.tokens)
	r.mu.Unlock()

	if snapshot == nil {
		return false
	}
	observability.RecordPublish(0, size)
	r.publish(snapshot)
	return true
}

// Remove evicts a single token.
func (r *Reconciler) Remove(mint string) bool {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.Lock()
	if _, ok := r.tokens[mint]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.tokens, mint)
	for i, m := range r.order {
		if m == mint {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	snapshot := r.materialize()
	size := len(r.tokens)
	r.mu.Unlock()

	observability.RecordPublish(1, size)
	r.publish(snapshot)
	return true
}

// ApplyFrame decodes a raw tokens frame and applies it. Frames that are not arrays
// or not JSON are dropped and reported in err; r is untouched in that case.
func (r *Reconciler) ApplyFrame(frame []byte) (Result, error) {
	tokens, skipped, err := stream.DecodeTokenBatch(frame)
	if err != nil {
		return Result{}, err
	}
	if skipped > 0 {
		r.logger.Warn("skipped malformed entities", zap.Int("count", skipped))
	}
	return r.Apply(tokens), nil
}

// Get returns the stored token for mint.
func (r *Reconciler) Get(mint string) (domain.Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[mint]
	return tok, ok
}

// Snapshot returns a fresh copy of the current collection.
func (r *Reconciler) Snapshot() []domain.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.materialize()
}

// Len returns the number of tokens held.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// Reset drops all state without notifying observers.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.tokens)
	r.order = nil
}

type putOutcome int

const (
	putUnchanged putOutcome = iota
	putAdded
	putReplaced
)

func (res *Result) add(o putOutcome) {
	switch o {
	case putAdded:
		res.Added++
	case putReplaced:
		res.Replaced++
	default:
		res.Unchanged++
	}
}

// put stores tok if it is new or differs. Caller holds mu.
func (r *Reconciler) put(tok domain.Token) putOutcome {
	prev, ok := r.tokens[tok.Mint]
	if !ok {
		r.tokens[tok.Mint] = tok
		r.order = append(r.order, tok.Mint)
		return putAdded
	}
	if prev.Equal(tok) {
		return putUnchanged
	}
	r.tokens[tok.Mint] = tok
	return putReplaced
}

// materialize copies the map into a new slice in canonical order. Caller holds mu.
func (r *Reconciler) materialize() []domain.Token {
	out := make([]domain.Token, 0, len(r.order))
	for _, mint := range r.order {
		out = append(out, r.tokens[mint])
	}
	return out
}

// publish hands each observer its own copy so no observer can affect another.
func (r *Reconciler) publish(snapshot []domain.Token) {
	r.obsMu.RLock()
	observers := make([]Observer, 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.obsMu.RUnlock()

	for i, fn := range observers {
		if i == len(observers)-1 {
			fn(snapshot)
			continue
		}
		fn(append([]domain.Token(nil), snapshot...))
	}
}
