package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"token-stream-lab/internal/board"
	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/metadata"
	"token-stream-lab/internal/observability"
	"token-stream-lab/internal/prefs"
	"token-stream-lab/internal/search"
	"token-stream-lab/internal/storage"
	"token-stream-lab/internal/stream"
	"token-stream-lab/internal/trade"
	"token-stream-lab/internal/view"
)

const maxBodyBytes = 1 << 20

type boardService interface {
	Snapshot() board.Snapshot
	Status() stream.Status
	Filter() domain.FilterConfig
	SetFilter(domain.FilterConfig)
	Sort() domain.SortConfig
	SetSort(domain.SortConfig) error
	Token(mint string) (domain.Token, bool)
	Follow(ctx context.Context, mint string)
	Unfollow(mint string)
	Following() []string
	Query() stream.TokensQuery
	SetQuery(stream.TokensQuery) error
}

type snapshotSource interface {
	Snapshot() board.Snapshot
}

type metadataService interface {
	Get(ctx context.Context, uri string) (*domain.Metadata, error)
	ResolveToken(ctx context.Context, t domain.Token) *metadata.Lookup
}

type orderService interface {
	Buy(ctx context.Context, tokenAddress string, amount decimal.Decimal, mev domain.MevMode) (trade.Receipt, error)
	SellPercentage(ctx context.Context, tokenAddress string, percentage decimal.Decimal, mev domain.MevMode) (trade.SellReceipt, error)
	CreateLimitOrder(ctx context.Context, r trade.LimitOrderRequest) (trade.LimitOrderReceipt, error)
	MyLimitOrders(ctx context.Context) ([]trade.LimitOrder, error)
	UpdateLimitOrder(ctx context.Context, orderID string, status trade.OrderStatus) (trade.LimitOrderReceipt, error)
}

type socketHub interface {
	http.Handler
	Clients() int
}

// handlers serves the HTTP API. ctx is the server lifetime, used for streams that
// outlive a single request.
type handlers struct {
	ctx      context.Context
	board    boardService
	pulse    snapshotSource // the new-pairs feed
	hub      socketHub
	metadata metadataService
	lookups  *lookupSet
	search   search.Backend
	trader   orderService
	prefs    *prefs.Store
	trades   storage.TradeStore
	prices   storage.PricePointStore // nil without clickhouse
	started  time.Time
	logger   *zap.Logger
}

func (h *handlers) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", h.handleStatus)

	mux.HandleFunc("GET /api/tokens", h.handleTokens)
	mux.HandleFunc("GET /api/tokens/{mint}", h.handleToken)
	mux.HandleFunc("GET /api/filters", h.handleGetFilters)
	mux.HandleFunc("PUT /api/filters", h.handlePutFilters)
	mux.HandleFunc("GET /api/sort", h.handleGetSort)
	mux.HandleFunc("PUT /api/sort", h.handlePutSort)
	mux.HandleFunc("GET /api/feed", h.handleGetFeed)
	mux.HandleFunc("PUT /api/feed", h.handlePutFeed)
	mux.HandleFunc("GET /api/pulse", h.handlePulse)
	mux.HandleFunc("GET /api/metadata", h.handleMetadata)
	mux.HandleFunc("GET /api/search", h.handleSearch)

	mux.HandleFunc("POST /api/trade/buy", h.handleBuy)
	mux.HandleFunc("POST /api/trade/sell", h.handleSell)
	mux.HandleFunc("GET /api/limit/orders", h.handleListLimitOrders)
	mux.HandleFunc("POST /api/limit/orders", h.handleCreateLimitOrder)
	mux.HandleFunc("PUT /api/limit/orders/{id}", h.handleUpdateLimitOrder)
	mux.HandleFunc("GET /api/trades", h.handleTrades)
	mux.HandleFunc("GET /api/prices", h.handlePrices)
	mux.HandleFunc("PUT /api/follow/{mint}", h.handleFollow)
	mux.HandleFunc("DELETE /api/follow/{mint}", h.handleUnfollow)

	mux.HandleFunc("GET /api/quickbuy", h.handleGetQuickBuy)
	mux.HandleFunc("PUT /api/quickbuy/presets/{name}", h.handlePutPreset)
	mux.HandleFunc("PUT /api/quickbuy/active", h.handlePutActivePreset)
	mux.HandleFunc("GET /api/watchlist", h.handleGetWatchlist)
	mux.HandleFunc("PUT /api/watchlist/{mint}", h.handleWatch)
	mux.HandleFunc("DELETE /api/watchlist/{mint}", h.handleUnwatch)
	mux.HandleFunc("GET /api/history", h.handleGetHistory)
	mux.HandleFunc("POST /api/history", h.handleAddHistory)
	mux.HandleFunc("DELETE /api/history", h.handleClearHistory)

	mux.Handle("GET /ws", h.hub)
	return mux
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status    string        `json:"status"`
	Uptime    string        `json:"uptime"`
	Stream    stream.Status `json:"stream"`
	Tokens    int           `json:"tokens"`
	Rows      int           `json:"rows"`
	Version   uint64        `json:"version"`
	Clients   int           `json:"clients"`
	Following []string      `json:"following"`
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.board.Snapshot()
	st := h.board.Status()

	status := "running"
	if st.Terminal() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    status,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Stream:    st,
		Tokens:    snap.Total,
		Rows:      len(snap.Rows),
		Version:   snap.Version,
		Clients:   h.hub.Clients(),
		Following: h.board.Following(),
	})
}

func (h *handlers) handleTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.board.Snapshot())
}

func (h *handlers) handleToken(w http.ResponseWriter, r *http.Request) {
	t, ok := h.board.Token(r.PathValue("mint"))
	if !ok {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handlers) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.board.Filter())
}

// handlePutFilters decodes the body over the defaults, so omitted fields reset.
func (h *handlers) handlePutFilters(w http.ResponseWriter, r *http.Request) {
	f := domain.DefaultFilterConfig()
	if !decodeBody(w, r, &f) {
		return
	}
	if _, ok := domain.ParseWindow(f.Timeframe); !ok {
		writeError(w, http.StatusBadRequest, "unknown timeframe "+strconv.Quote(f.Timeframe))
		return
	}
	h.board.SetFilter(f)
	if err := h.prefs.SaveFilters(r.Context(), f); err != nil {
		h.logger.Error("save filters", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *handlers) handleGetSort(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.board.Sort())
}

func (h *handlers) handlePutSort(w http.ResponseWriter, r *http.Request) {
	var s domain.SortConfig
	if !decodeBody(w, r, &s) {
		return
	}
	if err := h.board.SetSort(s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// FeedQuery is the JSON form of the tokens stream query.
type FeedQuery struct {
	Filter string `json:"filter"`
	Order  string `json:"order"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func (h *handlers) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, FeedQuery(h.board.Query()))
}

// handlePutFeed decodes the body over the active query and reconnects the board.
func (h *handlers) handlePutFeed(w http.ResponseWriter, r *http.Request) {
	q := FeedQuery(h.board.Query())
	if !decodeBody(w, r, &q) {
		return
	}
	err := h.board.SetQuery(stream.TokensQuery(q))
	switch {
	case errors.Is(err, board.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handlePulse serves the pulse columns: new pairs as the new-pairs feed delivers
// them, final stretch and migrated bucketed from every token on both boards.
func (h *handlers) handlePulse(w http.ResponseWriter, r *http.Request) {
	fresh := h.pulse.Snapshot().Rows
	all := h.board.Snapshot().Rows
	seen := make(map[string]struct{}, len(all))
	for _, t := range all {
		seen[t.Mint] = struct{}{}
	}
	for _, t := range fresh {
		if _, ok := seen[t.Mint]; !ok {
			all = append(all, t)
		}
	}

	window, ok := domain.ParseWindow(h.board.Filter().Timeframe)
	if !ok {
		window = domain.Window24h
	}
	writeJSON(w, http.StatusOK, view.BuildPulse(fresh, all, window))
}

// MetadataResponse is the JSON response for /api/metadata. Metadata is null when
// the URI cannot be resolved. Loading and Reveal are only set for mint lookups:
// a client shows a loading affordance while loading && !reveal.
type MetadataResponse struct {
	URI      string           `json:"uri,omitempty"`
	Mint     string           `json:"mint,omitempty"`
	Metadata *domain.Metadata `json:"metadata"`
	Loading  bool             `json:"loading"`
	Reveal   bool             `json:"reveal"`
}

// handleMetadata resolves ?uri= and waits for it, or starts resolving ?mint= and
// answers at once with the lookup's current state.
func (h *handlers) handleMetadata(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if mint := r.URL.Query().Get("mint"); uri == "" && mint != "" {
		h.handleMetadataByMint(w, mint)
		return
	}
	if uri == "" {
		writeError(w, http.StatusBadRequest, "uri or mint is required")
		return
	}
	meta, err := h.metadata.Get(r.Context(), uri)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, MetadataResponse{URI: uri, Metadata: meta})
}

func (h *handlers) handleMetadataByMint(w http.ResponseWriter, mint string) {
	t, ok := h.board.Token(mint)
	if !ok {
		t = domain.Token{Mint: mint}
	}
	// The lookup outlives this request; polls share it until it completes.
	lookup := h.lookups.get(mint, func() *metadata.Lookup {
		return h.metadata.ResolveToken(h.ctx, t)
	})
	meta, loading, reveal := lookup.State()
	writeJSON(w, http.StatusOK, MetadataResponse{
		Mint:     mint,
		Metadata: meta,
		Loading:  loading,
		Reveal:   reveal,
	})
}

// SearchResponse is the JSON response for /api/search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []domain.Token `json:"results"`
}

func (h *handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := search.Query{
		Text: params.Get("q"),
		Filters: search.Filters{
			Pump:   params.Get("pump") == "true",
			Bonk:   params.Get("bonk") == "true",
			OG:     params.Get("og") == "true",
			Bonded: params.Get("bonded") == "true",
		},
	}

	tokens, err := h.search.Search(r.Context(), q)
	switch {
	case errors.Is(err, search.ErrQueryTooShort):
		tokens = nil
	case err != nil:
		h.logger.Warn("search failed", zap.String("query", q.Text), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	results := search.SortResults(tokens, search.ParseSortOption(params.Get("sort")))
	if results == nil {
		results = []domain.Token{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: q.Text, Results: results})
}

// BuyRequest is the body of POST /api/trade/buy. MevMode defaults to the active
// quick-buy preset.
type BuyRequest struct {
	TokenAddress string          `json:"tokenAddress"`
	Amount       decimal.Decimal `json:"amount"`
	MevMode      domain.MevMode  `json:"mevMode,omitempty"`
}

func (h *handlers) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mev, ok := h.mevMode(w, r, req.MevMode)
	if !ok {
		return
	}

	receipt, err := h.trader.Buy(r.Context(), req.TokenAddress, req.Amount, mev)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// SellRequest is the body of POST /api/trade/sell.
type SellRequest struct {
	TokenAddress string          `json:"tokenAddress"`
	Percentage   decimal.Decimal `json:"percentage"`
	MevMode      domain.MevMode  `json:"mevMode,omitempty"`
}

func (h *handlers) handleSell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mev, ok := h.mevMode(w, r, req.MevMode)
	if !ok {
		return
	}

	receipt, err := h.trader.SellPercentage(r.Context(), req.TokenAddress, req.Percentage, mev)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *handlers) handleListLimitOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.trader.MyLimitOrders(r.Context())
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *handlers) handleCreateLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req trade.LimitOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	receipt, err := h.trader.CreateLimitOrder(r.Context(), req)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *handlers) handleUpdateLimitOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status trade.OrderStatus `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	receipt, err := h.trader.UpdateLimitOrder(r.Context(), r.PathValue("id"), body.Status)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// mevMode falls back to the active quick-buy preset when requested is empty.
func (h *handlers) mevMode(w http.ResponseWriter, r *http.Request, requested domain.MevMode) (domain.MevMode, bool) {
	if requested == "" {
		return h.prefs.QuickBuy(r.Context()).Active().MevMode, true
	}
	if !requested.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown mevMode "+strconv.Quote(string(requested)))
		return "", false
	}
	return requested, true
}

// writeOrderError passes execution API failures through with their message.
func (h *handlers) writeOrderError(w http.ResponseWriter, err error) {
	var apiErr *trade.APIError
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			status = apiErr.Status
		}
		writeError(w, status, apiErr.Message)
	case errors.Is(err, trade.ErrInvalidAmount), errors.Is(err, trade.ErrInvalidToken),
		errors.Is(err, trade.ErrInvalidLimitOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, trade.ErrUnauthorized):
		writeError(w, http.StatusServiceUnavailable, "order execution is not configured")
	default:
		h.logger.Error("order failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (h *handlers) handleTrades(w http.ResponseWriter, r *http.Request) {
	mint := r.URL.Query().Get("mint")
	if mint == "" {
		writeError(w, http.StatusBadRequest, "mint is required")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be in 1..500")
			return
		}
		limit = n
	}

	trades, err := h.trades.GetRecent(r.Context(), mint, limit)
	if err != nil {
		h.logger.Error("load trades", zap.String("mint", mint), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load trades failed")
		return
	}
	if trades == nil {
		trades = []*domain.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// handlePrices returns recorded price points of mint in [from, to] (Unix ms).
// to defaults to now and from to one hour before to.
func (h *handlers) handlePrices(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		writeError(w, http.StatusNotImplemented, "price history is not recorded")
		return
	}
	params := r.URL.Query()
	mint := params.Get("mint")
	if mint == "" {
		writeError(w, http.StatusBadRequest, "mint is required")
		return
	}

	to := time.Now().UnixMilli()
	if v := params.Get("to"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}
		to = n
	}
	from := to - time.Hour.Milliseconds()
	if v := params.Get("from"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
		from = n
	}
	if from > to {
		writeError(w, http.StatusBadRequest, "from is after to")
		return
	}

	points, err := h.prices.GetByTimeRange(r.Context(), mint, from, to)
	if err != nil {
		h.logger.Error("load price points", zap.String("mint", mint), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load price points failed")
		return
	}
	if points == nil {
		points = []*domain.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *handlers) handleFollow(w http.ResponseWriter, r *http.Request) {
	h.board.Follow(h.ctx, r.PathValue("mint"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	h.board.Unfollow(r.PathValue("mint"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleGetQuickBuy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prefs.QuickBuy(r.Context()))
}

func (h *handlers) handlePutPreset(w http.ResponseWriter, r *http.Request) {
	p := domain.DefaultPreset()
	if !decodeBody(w, r, &p) {
		return
	}
	if !h.writePrefsError(w, h.prefs.SetPreset(r.Context(), r.PathValue("name"), p)) {
		return
	}
	writeJSON(w, http.StatusOK, h.prefs.QuickBuy(r.Context()))
}

func (h *handlers) handlePutActivePreset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActivePreset string `json:"activePreset"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if !h.writePrefsError(w, h.prefs.SetActivePreset(r.Context(), body.ActivePreset)) {
		return
	}
	writeJSON(w, http.StatusOK, h.prefs.QuickBuy(r.Context()))
}

func (h *handlers) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prefs.Watchlist(r.Context()))
}

func (h *handlers) handleWatch(w http.ResponseWriter, r *http.Request) {
	_, err := h.prefs.Watch(r.Context(), r.PathValue("mint"))
	if !h.writePrefsError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, h.prefs.Watchlist(r.Context()))
}

func (h *handlers) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	_, err := h.prefs.Unwatch(r.Context(), r.PathValue("mint"))
	if !h.writePrefsError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, h.prefs.Watchlist(r.Context()))
}

func (h *handlers) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prefs.SearchHistory(r.Context()))
}

func (h *handlers) handleAddHistory(w http.ResponseWriter, r *http.Request) {
	var t domain.Token
	if !decodeBody(w, r, &t) {
		return
	}
	if !h.writePrefsError(w, h.prefs.AddSearchHistory(r.Context(), t)) {
		return
	}
	writeJSON(w, http.StatusOK, h.prefs.SearchHistory(r.Context()))
}

func (h *handlers) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if !h.writePrefsError(w, h.prefs.ClearSearchHistory(r.Context())) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writePrefsError reports whether err was nil; otherwise it writes the response.
func (h *handlers) writePrefsError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("save preferences", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "save preferences failed")
	}
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
