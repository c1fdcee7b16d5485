// Package signal computes per-field directional changes between successive
// collections and expires them after a short delay.
package signal

import (
	"maps"
	"sync"
	"time"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/observability"
)

// Direction of a change.
type Direction int8

// Directions. Unchanged values produce no signal.
const (
	Decrease Direction = -1
	Increase Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Increase:
		return "increase"
	case Decrease:
		return "decrease"
	}
	return "unchanged"
}

// MarshalText encodes the direction by name.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Key identifies one field of one token.
type Key struct {
	Mint  string
	Field string
}

// Map holds the live signals.
type Map map[Key]Direction

// ByMint regroups the signals by token, for encoding.
func (m Map) ByMint() map[string]map[string]Direction {
	out := make(map[string]map[string]Direction)
	for k, d := range m {
		fields, ok := out[k.Mint]
		if !ok {
			fields = make(map[string]Direction)
			out[k.Mint] = fields
		}
		fields[k.Field] = d
	}
	return out
}

// DefaultExpiry is how long a signal batch stays visible.
const DefaultExpiry = 300 * time.Millisecond

// DefaultFields returns the fields tracked for the given timeframe: USD price and
// percent price change.
func DefaultFields(timeframe domain.Window) []string {
	return []string{"usd_price", "price_percent_change_" + timeframe.String()}
}

// Diff compares the tracked fields of tokens present in both collections.
// Absent and invalid values compare as 0. Only strict increases and decreases
// produce entries.
func Diff(prev, cur []domain.Token, fields []string) Map {
	out := make(Map)
	if len(prev) == 0 || len(cur) == 0 {
		return out
	}

	before := make(map[string]domain.Token, len(prev))
	for _, t := range prev {
		before[t.Mint] = t
	}

	for _, t := range cur {
		old, ok := before[t.Mint]
		if !ok {
			continue
		}
		for _, f := range fields {
			a, okA := old.Field(f)
			b, okB := t.Field(f)
			if !okA || !okB {
				continue
			}
			switch {
			case b.Float() > a.Float():
				out[Key{Mint: t.Mint, Field: f}] = Increase
			case b.Float() < a.Float():
				out[Key{Mint: t.Mint, Field: f}] = Decrease
			}
		}
	}
	return out
}

// Tracker diffs every observed collection against the previous one and keeps the
// resulting signals live for the expiry delay. One timer covers a whole batch;
// a newer batch replaces the signals and restarts the timer.
type Tracker struct {
	expiry   time.Duration
	onChange func(Map)

	mu      sync.Mutex
	fields  []string
	prev    []domain.Token
	live    Map
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewTracker creates a Tracker for fields. onChange, if non-nil, receives a copy of
// the live signals whenever they change, including the reset to empty.
func NewTracker(fields []string, expiry time.Duration, onChange func(Map)) *Tracker {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Tracker{
		expiry:   expiry,
		onChange: onChange,
		fields:   append([]string(nil), fields...),
		live:     make(Map),
	}
}

// SetFields changes the tracked fields for subsequent observations.
func (t *Tracker) SetFields(fields []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fields = append([]string(nil), fields...)
}

// Observe diffs cur against the previously observed collection and returns the new
// signals. cur is retained; callers must not modify it afterwards.
func (t *Tracker) Observe(cur []domain.Token) Map {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return Map{}
	}

	signals := Diff(t.prev, cur, t.fields)
	t.prev = cur

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	hadLive := len(t.live) > 0
	t.live = signals

	if len(signals) > 0 {
		gen := t.gen
		t.timer = time.AfterFunc(t.expiry, func() { t.expire(gen) })
	}
	notify := len(signals) > 0 || hadLive
	out := maps.Clone(signals)
	t.mu.Unlock()

	observability.SetActiveSignals(len(out))
	if notify && t.onChange != nil {
		t.onChange(maps.Clone(out))
	}
	return out
}

func (t *Tracker) expire(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.live = make(Map)
	t.timer = nil
	t.mu.Unlock()

	observability.SetActiveSignals(0)
	if t.onChange != nil {
		t.onChange(Map{})
	}
}

// Signals returns a copy of the live signals.
func (t *Tracker) Signals() Map {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.live)
}

// Stop cancels the expiry timer and clears all state.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.prev = nil
	t.live = make(Map)
}

// Reset forgets the previous collection and the live signals without notifying.
// The next Observe diffs against an empty collection.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.prev = nil
	t.live = make(Map)
}
