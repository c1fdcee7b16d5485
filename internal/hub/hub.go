// Package hub fans board snapshots out to websocket clients.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"token-stream-lab/internal/board"
	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/observability"
	"token-stream-lab/internal/search"
)

// Heartbeat settings.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Frame types.
const (
	TypeSnapshot = "snapshot"
	TypeSearch   = "search"
)

// Message is the frame written to clients. Snapshot frames carry Data, search
// frames carry Search.
type Message struct {
	Type   string          `json:"type"`
	Data   *board.Snapshot `json:"data,omitempty"`
	Search *SearchResult   `json:"search,omitempty"`
}

// SearchResult answers the newest search request of one client.
type SearchResult struct {
	Query   string         `json:"query"`
	Results []domain.Token `json:"results"`
	Error   string         `json:"error,omitempty"`
}

// Request is a frame read from clients.
type Request struct {
	Type    string         `json:"type"`
	Query   string         `json:"query"`
	Filters search.Filters `json:"filters"`
	Sort    string         `json:"sort"`
}

// client owns one connection. send and results each hold at most the newest
// unsent frame of their kind.
type client struct {
	conn    *websocket.Conn
	send    chan []byte
	results chan []byte
	once    sync.Once
	done    chan struct{}

	searcher *search.Searcher // nil unless search is enabled

	sortMu sync.Mutex
	sortBy search.SortOption
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// offer replaces any pending snapshot frame with data.
func (c *client) offer(data []byte) { offerLatest(c.send, data) }

func offerLatest(ch chan []byte, data []byte) {
	for {
		select {
		case ch <- data:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (c *client) setSort(opt search.SortOption) {
	c.sortMu.Lock()
	c.sortBy = opt
	c.sortMu.Unlock()
}

func (c *client) sortOption() search.SortOption {
	c.sortMu.Lock()
	defer c.sortMu.Unlock()
	return c.sortBy
}

// Hub maintains the set of active clients and broadcasts snapshots.
type Hub struct {
	current  func() board.Snapshot
	upgrader websocket.Upgrader
	logger   *zap.Logger

	searchBackend  search.Backend
	searchDebounce time.Duration

	clientsMu sync.Mutex
	clients   map[*client]struct{}
	lastSent  uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithSearch answers search requests from clients. Each client gets its own
// debounced searcher, so typing in one tab never cancels another tab's query.
func WithSearch(backend search.Backend, debounce time.Duration) Option {
	return func(h *Hub) {
		h.searchBackend = backend
		h.searchDebounce = debounce
	}
}

// New creates a Hub. current supplies the snapshot sent on connect.
func New(current func() board.Snapshot, logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		current: current,
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and streams snapshots until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, 1),
		results: make(chan []byte, 1),
		done:    make(chan struct{}),
		sortBy:  search.SortTime,
	}
	if h.searchBackend != nil {
		c.searcher = search.NewSearcher(h.searchBackend, h.searchDebounce,
			func(res search.Result) { h.deliverSearch(c, res) },
			search.WithSearcherLogger(h.logger.Named("search")))
	}
	if h.current != nil {
		snap := h.current()
		if data, err := encode(snap); err == nil {
			c.offer(data)
		}
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// readPump handles client requests and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.stop()
		if c.searcher != nil {
			c.searcher.Close()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleRequest(c, data)
	}
}

func (h *Hub) handleRequest(c *client, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Debug("invalid client frame", zap.Error(err))
		return
	}
	switch req.Type {
	case TypeSearch:
		if c.searcher == nil {
			return
		}
		c.setSort(search.ParseSortOption(req.Sort))
		c.searcher.Input(search.Query{Text: req.Query, Filters: req.Filters})
	default:
		h.logger.Debug("unknown client frame", zap.String("type", req.Type))
	}
}

// deliverSearch queues res for c, replacing an undelivered older result.
func (h *Hub) deliverSearch(c *client, res search.Result) {
	out := &SearchResult{
		Query:   res.Query.Text,
		Results: search.SortResults(res.Tokens, c.sortOption()),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if out.Results == nil {
		out.Results = []domain.Token{}
	}
	data, err := json.Marshal(Message{Type: TypeSearch, Search: out})
	if err != nil {
		h.logger.Error("encode search result", zap.Error(err))
		return
	}
	offerLatest(c.results, data)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case data := <-c.send:
			if !h.write(c, data) {
				return
			}
		case data := <-c.results:
			if !h.write(c, data) {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(c *client, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}

func (h *Hub) register(c *client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.clients[c] = struct{}{}
	observability.SetHubClients(len(h.clients))
	h.logger.Info("client connected", zap.Int("clients", len(h.clients)))
}

func (h *Hub) unregister(c *client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		observability.SetHubClients(len(h.clients))
		h.logger.Info("client disconnected", zap.Int("clients", len(h.clients)))
	}
}

// Broadcast queues snap for every client. Snapshots older than the last broadcast
// are ignored; a slow client only ever receives the newest one.
func (h *Hub) Broadcast(snap board.Snapshot) {
	data, err := encode(snap)
	if err != nil {
		h.logger.Error("encode snapshot", zap.Error(err))
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if snap.Version < h.lastSent {
		return
	}
	h.lastSent = snap.Version
	for c := range h.clients {
		c.offer(data)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		c.stop()
		delete(h.clients, c)
	}
	observability.SetHubClients(0)
}

func encode(snap board.Snapshot) ([]byte, error) {
	return json.Marshal(Message{Type: TypeSnapshot, Data: &snap})
}
