package stream

import (
	"errors"
	"time"
)

var (
	// ErrGaveUp is returned by Run once the reconnect budget is exhausted.
	ErrGaveUp = errors.New("maximum reconnection attempts reached")
	// ErrClosed is returned by Run when the manager was closed.
	ErrClosed = errors.New("stream closed")
)

// State is a connection lifecycle state.
type State int

// Connection states. GaveUp is terminal.
const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
	StateBackoff
	StateGaveUp
)

var stateNames = [...]string{"idle", "connecting", "open", "closed", "errored", "backoff", "gave_up"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Status is the advisory connectivity view reported on every transition.
type Status struct {
	State        State         `json:"state"`
	Connected    bool          `json:"isConnected"`
	Reconnecting bool          `json:"isReconnecting"`
	Attempt      int           `json:"attempt"`
	NextDelay    time.Duration `json:"nextDelay"`
	Err          string        `json:"error,omitempty"`
}

// Terminal reports whether no further recovery will be attempted.
func (s Status) Terminal() bool { return s.State == StateGaveUp }

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
