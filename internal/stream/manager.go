package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"token-stream-lab/internal/observability"
)

// Handler receives every frame read from the connection, in arrival order.
// It runs on the read goroutine; a slow handler delays the next read.
type Handler func(frame []byte)

// Manager owns one push connection and keeps it open with capped exponential backoff.
type Manager struct {
	name     string
	endpoint string
	cfg      Config
	handler  Handler
	onStatus func(Status)
	logger   *zap.Logger
	dialer   *websocket.Dialer

	conn   *websocket.Conn
	connMu sync.Mutex

	statusMu sync.Mutex
	status   Status

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithStatusHandler registers a callback invoked on every state transition.
func WithStatusHandler(fn func(Status)) Option {
	return func(m *Manager) {
		m.onStatus = fn
	}
}

// WithName sets the stream name used in logs and metrics.
func WithName(name string) Option {
	return func(m *Manager) {
		m.name = name
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// NewManager creates an idle manager for endpoint. Call Start or Run to connect.
func NewManager(endpoint string, handler Handler, opts ...Option) *Manager {
	m := &Manager{
		name:     "stream",
		endpoint: endpoint,
		cfg:      DefaultConfig(),
		handler:  handler,
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	}
	m.logger = m.logger.With(zap.String("stream", m.name))
	return m
}

// Endpoint returns the URL the manager connects to.
func (m *Manager) Endpoint() string { return m.endpoint }

// Status returns the latest reported status.
func (m *Manager) Status() Status {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.status
}

// Start runs the manager in a background goroutine. Close waits for it.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.Run(ctx); err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
			m.logger.Error("stream stopped", zap.Error(err))
		}
	}()
}

// Run connects and reconnects until ctx is cancelled, Close is called, or the
// reconnect budget is exhausted (ErrGaveUp). Each lost connection counts as one failure.
func (m *Manager) Run(ctx context.Context) error {
	attempt := 0

	for {
		if m.closed.Load() {
			m.setStatus(Status{State: StateClosed})
			return ErrClosed
		}

		m.setStatus(Status{State: StateConnecting, Reconnecting: attempt > 0, Attempt: attempt})

		opened, err := m.session(ctx, &attempt)

		if m.closed.Load() {
			m.setStatus(Status{State: StateClosed})
			return ErrClosed
		}
		if ctx.Err() != nil {
			m.setStatus(Status{State: StateClosed})
			return ctx.Err()
		}

		failed := StateErrored
		if opened {
			failed = StateClosed
		}
		m.setStatus(Status{State: failed, Reconnecting: true, Attempt: attempt, Err: err.Error()})

		if attempt >= m.cfg.MaxAttempts {
			m.setStatus(Status{State: StateGaveUp, Attempt: attempt, Err: ErrGaveUp.Error()})
			return ErrGaveUp
		}

		attempt++
		delay := m.cfg.Backoff(attempt)
		observability.RecordReconnect(m.name)
		m.setStatus(Status{
			State:        StateBackoff,
			Reconnecting: true,
			Attempt:      attempt,
			NextDelay:    delay,
			Err:          err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-m.done:
			timer.Stop()
			m.setStatus(Status{State: StateClosed})
			return ErrClosed
		case <-ctx.Done():
			timer.Stop()
			m.setStatus(Status{State: StateClosed})
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session dials once and reads until the connection fails.
// opened reports whether the dial succeeded; a successful open resets attempt.
func (m *Manager) session(ctx context.Context, attempt *int) (opened bool, err error) {
	conn, err := m.dial(ctx)
	if err != nil {
		return false, err
	}

	m.connMu.Lock()
	if m.closed.Load() {
		m.connMu.Unlock()
		conn.Close()
		return true, ErrClosed
	}
	m.conn = conn
	m.connMu.Unlock()

	*attempt = 0
	m.setStatus(Status{State: StateOpen, Connected: true})

	stop := make(chan struct{})
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		m.pingLoop(conn, stop)
	}()
	go func() {
		// Unblock ReadMessage on cancellation.
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	err = m.readLoop(conn)

	close(stop)
	<-pingDone

	m.connMu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.connMu.Unlock()
	conn.Close()

	return true, err
}

// dial establishes the websocket connection.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(ctx, m.endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// readLoop delivers frames to the handler until the connection fails.
func (m *Manager) readLoop(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))

		observability.RecordFrame(m.name)
		if m.handler != nil {
			m.handler(message)
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (m *Manager) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	if m.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.connMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout))
			m.connMu.Unlock()
			if err != nil {
				// Reader observes the failure and drives reconnect.
				m.logger.Debug("ping failed", zap.Error(err))
			}
		}
	}
}

// Close tears down the connection and cancels any pending reconnect. Idempotent.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	close(m.done)

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(m.cfg.WriteTimeout))
		m.conn.Close()
	}
	m.connMu.Unlock()

	m.wg.Wait()
	return nil
}

func (m *Manager) setStatus(s Status) {
	m.statusMu.Lock()
	prev := m.status
	m.status = s
	cb := m.onStatus
	m.statusMu.Unlock()

	observability.SetConnectionState(m.name, int(s.State))

	if prev.State != s.State {
		fields := []zap.Field{
			zap.String("state", s.State.String()),
			zap.Int("attempt", s.Attempt),
		}
		if s.NextDelay > 0 {
			fields = append(fields, zap.Duration("delay", s.NextDelay))
		}
		if s.Err != "" {
			fields = append(fields, zap.String("error", s.Err))
		}
		if s.State == StateGaveUp {
			m.logger.Error("stream gave up", fields...)
		} else {
			m.logger.Info("stream state", fields...)
		}
	}

	if cb != nil {
		cb(s)
	}
}
