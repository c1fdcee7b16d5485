package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"token-stream-lab/internal/board"
	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/metadata"
	"token-stream-lab/internal/prefs"
	"token-stream-lab/internal/search"
	"token-stream-lab/internal/storage/memory"
	"token-stream-lab/internal/stream"
	"token-stream-lab/internal/trade"
	"token-stream-lab/internal/view"
)

const testMint = "So11111111111111111111111111111111111111112"

type fakeHub struct{ clients int }

func (f *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }
func (f *fakeHub) Clients() int                                     { return f.clients }

type fakeMetadata struct {
	meta     *domain.Metadata
	err      error
	resolver *metadata.Resolver
}

func (f *fakeMetadata) Get(ctx context.Context, uri string) (*domain.Metadata, error) {
	return f.meta, f.err
}

func (f *fakeMetadata) ResolveToken(ctx context.Context, t domain.Token) *metadata.Lookup {
	return f.resolver.ResolveToken(ctx, t)
}

// gatedFetcher serves one document per URI once release is closed.
type gatedFetcher struct {
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedFetcher) Fetch(ctx context.Context, uri string) (*domain.Metadata, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return &domain.Metadata{Name: "Dog"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type mintLocator struct{}

func (mintLocator) Locate(ctx context.Context, mint string) (string, error) {
	return "https://meta.example/" + mint + ".json", nil
}

type fakeSnapshots struct{ snap board.Snapshot }

func (f fakeSnapshots) Snapshot() board.Snapshot { return f.snap }

type fakeSearch struct {
	tokens []domain.Token
	err    error
	calls  int
	last   search.Query
}

func (f *fakeSearch) Search(ctx context.Context, q search.Query) ([]domain.Token, error) {
	f.calls++
	f.last = q
	if len(strings.TrimSpace(q.Text)) < search.MinQueryLength {
		return nil, search.ErrQueryTooShort
	}
	return f.tokens, f.err
}

type fakeTrader struct {
	err     error
	mev     domain.MevMode
	amount  decimal.Decimal
	receipt trade.Receipt
	limit   trade.LimitOrderRequest
	updated trade.OrderStatus
}

func (f *fakeTrader) CreateLimitOrder(ctx context.Context, r trade.LimitOrderRequest) (trade.LimitOrderReceipt, error) {
	f.limit = r
	return trade.LimitOrderReceipt{Message: "created", Order: trade.LimitOrder{ID: "o1", Status: trade.StatusActive}}, f.err
}

func (f *fakeTrader) MyLimitOrders(ctx context.Context) ([]trade.LimitOrder, error) {
	return []trade.LimitOrder{{ID: "o1", Status: trade.StatusActive}}, f.err
}

func (f *fakeTrader) UpdateLimitOrder(ctx context.Context, orderID string, status trade.OrderStatus) (trade.LimitOrderReceipt, error) {
	f.updated = status
	return trade.LimitOrderReceipt{Message: "updated", Order: trade.LimitOrder{ID: orderID, Status: status}}, f.err
}

func (f *fakeTrader) Buy(ctx context.Context, tokenAddress string, amount decimal.Decimal, mev domain.MevMode) (trade.Receipt, error) {
	f.mev = mev
	f.amount = amount
	return f.receipt, f.err
}

func (f *fakeTrader) SellPercentage(ctx context.Context, tokenAddress string, percentage decimal.Decimal, mev domain.MevMode) (trade.SellReceipt, error) {
	f.mev = mev
	return trade.SellReceipt{Message: "sold"}, f.err
}

type fixture struct {
	h      *handlers
	board  *board.Board
	search *fakeSearch
	trader *fakeTrader
	trades *memory.TradeStore
	srv    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b, err := board.New(board.DefaultConfig("ws://127.0.0.1:1"))
	require.NoError(t, err)
	t.Cleanup(b.Close)

	f := &fixture{
		board:  b,
		search: &fakeSearch{},
		trader: &fakeTrader{},
		trades: memory.NewTradeStore(),
	}
	f.h = &handlers{
		ctx:      context.Background(),
		board:    b,
		pulse:    fakeSnapshots{},
		hub:      &fakeHub{clients: 2},
		metadata: &fakeMetadata{},
		lookups:  newLookupSet(),
		search:   f.search,
		trader:   f.trader,
		prefs:    prefs.New(memory.NewKVStore(), zap.NewNop()),
		trades:   f.trades,
		started:  time.Now().Add(-time.Minute),
		logger:   zap.NewNop(),
	}
	f.srv = f.h.routes()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[StatusResponse](t, rec)
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, 2, resp.Clients)
	assert.Equal(t, 0, resp.Tokens)
	assert.Equal(t, "1m0s", resp.Uptime)
}

func TestTokens_EmptyBoard(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/tokens", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = f.do(t, http.MethodGet, "/api/tokens/"+testMint, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFilters_PutPersistsAndApplies(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/filters", `{"searchKeywords":"dog","liquidityMin":1000,"timeframe":"1h"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	applied := f.board.Filter()
	assert.Equal(t, "dog", applied.SearchKeywords)
	require.NotNil(t, applied.LiquidityMin)
	assert.Equal(t, 1000.0, *applied.LiquidityMin)
	assert.Equal(t, domain.VenueIDs(), applied.AMMs)

	saved := f.h.prefs.Filters(context.Background())
	assert.Equal(t, applied, saved)

	rec = f.do(t, http.MethodGet, "/api/filters", "")
	got := decodeJSON[domain.FilterConfig](t, rec)
	assert.Equal(t, "1h", got.Timeframe)
}

func TestFilters_PutRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/filters", `{"timeframe":"2d"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/filters", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSort_Put(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/sort", `{"key":"usd_price","direction":"desc"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.SortConfig{Key: "usd_price", Direction: domain.SortDesc}, f.board.Sort())

	rec = f.do(t, http.MethodPut, "/api/sort", `{"key":"usd_price","direction":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "usd_price", f.board.Sort().Key)
}

func TestMetadata(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/metadata", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/metadata?uri=https://example.com/a.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[MetadataResponse](t, rec)
	assert.Nil(t, resp.Metadata)

	f.h.metadata = &fakeMetadata{meta: &domain.Metadata{Name: "Dog"}}
	rec = f.do(t, http.MethodGet, "/api/metadata?uri=https://example.com/a.json", "")
	resp = decodeJSON[MetadataResponse](t, rec)
	require.NotNil(t, resp.Metadata)
	assert.Equal(t, "Dog", resp.Metadata.Name)
}

func TestMetadata_ByMintDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	fetcher := &gatedFetcher{release: make(chan struct{})}
	f.h.metadata = &fakeMetadata{resolver: metadata.NewResolver(metadata.NewCache(), fetcher,
		metadata.WithLocator(mintLocator{}),
		metadata.WithRevealDelay(20*time.Millisecond),
	)}

	state := func() MetadataResponse {
		rec := f.do(t, http.MethodGet, "/api/metadata?mint="+testMint, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decodeJSON[MetadataResponse](t, rec)
	}

	first := state()
	assert.Equal(t, testMint, first.Mint)
	assert.True(t, first.Loading)
	assert.False(t, first.Reveal)
	assert.Nil(t, first.Metadata)

	require.Eventually(t, func() bool { return state().Reveal }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.h.lookups.len(), "polls share one lookup")

	close(fetcher.release)
	require.Eventually(t, func() bool { return !state().Loading }, 2*time.Second, 5*time.Millisecond)

	done := state()
	require.NotNil(t, done.Metadata)
	assert.Equal(t, "Dog", done.Metadata.Name)
	require.Eventually(t, func() bool { return f.h.lookups.len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestFeed_PutReplacesQuery(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/feed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"filter":"marketcap","order":"desc","offset":0,"limit":20}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/feed", `{"filter":"trending","limit":50}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, stream.TokensQuery{Filter: stream.ModeTrending, Order: "desc", Offset: 0, Limit: 50}, f.board.Query())

	rec = f.do(t, http.MethodPut, "/api/feed", `{"filter":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, stream.ModeTrending, f.board.Query().Filter)
}

func TestPulse(t *testing.T) {
	f := newFixture(t)
	progress := func(mint string, p float64) domain.Token {
		return domain.Token{Mint: mint, AMM: "pump", BondingCurveProgress: domain.Num(p)}
	}
	f.h.pulse = fakeSnapshots{snap: board.Snapshot{Rows: []domain.Token{
		progress("fresh", 0.05), progress("close", 0.7), progress("done", 0.9), progress("edge", 0.6),
	}}}

	rec := f.do(t, http.MethodGet, "/api/pulse", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeJSON[view.PulseBoard](t, rec)

	assert.Len(t, resp.NewPairs, 4)
	require.Len(t, resp.FinalStretch, 1)
	assert.Equal(t, "close", resp.FinalStretch[0].Mint)
	assert.Equal(t, "Pump", resp.FinalStretch[0].Venue)
	require.Len(t, resp.Migrated, 1)
	assert.Equal(t, "done", resp.Migrated[0].Mint)
}

func TestLimitOrders(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/limit/orders",
		`{"tokenAddress":"`+testMint+`","amount":"0.5","type":"Buy","direction":"Below","targetMC":250000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, trade.SideBuy, f.trader.limit.Type)
	assert.True(t, decimal.NewFromInt(250000).Equal(f.trader.limit.TargetMC))
	assert.Contains(t, rec.Body.String(), `"id":"o1"`)

	rec = f.do(t, http.MethodGet, "/api/limit/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decodeJSON[[]trade.LimitOrder](t, rec)
	require.Len(t, orders, 1)

	rec = f.do(t, http.MethodPut, "/api/limit/orders/o1", `{"status":"Cancelled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, trade.StatusCancelled, f.trader.updated)

	f.trader.err = trade.ErrInvalidLimitOrder
	rec = f.do(t, http.MethodPut, "/api/limit/orders/o1", `{"status":"Active"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	f.search.tokens = []domain.Token{
		{Mint: "a", LiquidityUSD: domain.Num(10)},
		{Mint: "b", LiquidityUSD: domain.Num(30)},
	}

	rec := f.do(t, http.MethodGet, "/api/search?q=dog&pump=true&sort=liquidity", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeJSON[SearchResponse](t, rec)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b", resp.Results[0].Mint)
	assert.True(t, f.search.last.Filters.Pump)
	assert.False(t, f.search.last.Filters.Bonk)
}

func TestSearch_ShortQueryReturnsEmpty(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/search?q=do", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"query":"do","results":[]}`, rec.Body.String())
}

func TestSearch_BackendError(t *testing.T) {
	f := newFixture(t)
	f.search.err = errors.New("boom")
	rec := f.do(t, http.MethodGet, "/api/search?q=dog", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestBuy_DefaultsToActivePresetMev(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := domain.DefaultPreset()
	p.MevMode = domain.MevOn
	require.NoError(t, f.h.prefs.SetPreset(ctx, domain.PresetP2, p))
	require.NoError(t, f.h.prefs.SetActivePreset(ctx, domain.PresetP2))
	f.trader.receipt = trade.Receipt{Amount: decimal.RequireFromString("1.5"), Hash: "h1"}

	rec := f.do(t, http.MethodPost, "/api/trade/buy", `{"tokenAddress":"`+testMint+`","amount":"0.25"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.MevOn, f.trader.mev)
	assert.True(t, decimal.RequireFromString("0.25").Equal(f.trader.amount))
	assert.Contains(t, rec.Body.String(), `"hash":"h1"`)
}

func TestBuy_ExplicitMev(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/trade/buy", `{"tokenAddress":"`+testMint+`","amount":1,"mevMode":"reduced"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.MevReduced, f.trader.mev)

	rec = f.do(t, http.MethodPost, "/api/trade/buy", `{"tokenAddress":"`+testMint+`","amount":1,"mevMode":"max"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuy_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"api client error", &trade.APIError{Status: http.StatusBadRequest, Message: "insufficient balance"}, http.StatusBadRequest, "insufficient balance"},
		{"api server error", &trade.APIError{Status: http.StatusInternalServerError, Message: "down"}, http.StatusBadGateway, "down"},
		{"invalid amount", trade.ErrInvalidAmount, http.StatusBadRequest, ""},
		{"invalid token", trade.ErrInvalidToken, http.StatusBadRequest, ""},
		{"unauthorized", trade.ErrUnauthorized, http.StatusServiceUnavailable, "not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.trader.err = tt.err

			rec := f.do(t, http.MethodPost, "/api/trade/buy", `{"tokenAddress":"`+testMint+`","amount":"1"}`)
			assert.Equal(t, tt.status, rec.Code)
			if tt.msg != "" {
				assert.Contains(t, rec.Body.String(), tt.msg)
			}
		})
	}
}

func TestSell(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/trade/sell", `{"tokenAddress":"`+testMint+`","percentage":"50"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.MevOff, f.trader.mev)
	assert.JSONEq(t, `{"message":"sold"}`, rec.Body.String())
}

func TestTrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.trades.InsertBulk(ctx, []*domain.Trade{
		{Signature: "s1", Mint: testMint, Side: domain.TradeSideBuy, Timestamp: 1000},
		{Signature: "s2", Mint: testMint, Side: domain.TradeSideSell, Timestamp: 2000},
	}))

	rec := f.do(t, http.MethodGet, "/api/trades?mint="+testMint+"&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "s2", got[0]["signature"])

	rec = f.do(t, http.MethodGet, "/api/trades?mint="+testMint+"&limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/trades?mint=other", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPrices(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/prices?mint="+testMint, "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	store := memory.NewPricePointStore()
	require.NoError(t, store.InsertBulk(context.Background(), []*domain.PricePoint{
		{Mint: testMint, TimestampMs: 1000, PriceUSD: 1},
		{Mint: testMint, TimestampMs: 2000, PriceUSD: 2},
		{Mint: testMint, TimestampMs: 3000, PriceUSD: 3},
	}))
	f.h.prices = store

	rec = f.do(t, http.MethodGet, "/api/prices?mint="+testMint+"&from=1500&to=3000", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	points := decodeJSON[[]domain.PricePoint](t, rec)
	require.Len(t, points, 2)
	assert.Equal(t, 2.0, points[0].PriceUSD)

	rec = f.do(t, http.MethodGet, "/api/prices?mint="+testMint+"&from=3000&to=1000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFollow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/follow/"+testMint, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{testMint}, f.board.Following())

	rec = f.do(t, http.MethodDelete, "/api/follow/"+testMint, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.board.Following())
}

func TestQuickBuy(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/quickbuy/presets/P3", `{"maxSlippage":0.5,"mevMode":"on"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settings := decodeJSON[domain.QuickBuySettings](t, rec)
	assert.Equal(t, 0.5, settings.Presets[domain.PresetP3].MaxSlippage)
	assert.Equal(t, 0.05, settings.Presets[domain.PresetP3].Bribe)

	rec = f.do(t, http.MethodPut, "/api/quickbuy/presets/P9", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/quickbuy/active", `{"activePreset":"P3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	settings = decodeJSON[domain.QuickBuySettings](t, rec)
	assert.Equal(t, domain.PresetP3, settings.ActivePreset)
}

func TestWatchlist(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/watchlist/"+testMint, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["`+testMint+`"]`, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/api/watchlist/"+testMint, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHistory(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/history", `{"mint":"`+testMint+`","name":"Wrapped SOL","symbol":"SOL"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decodeJSON[[]prefs.HistoryEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "SOL", entries[0].Symbol)

	rec = f.do(t, http.MethodDelete, "/api/history", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.h.prefs.SearchHistory(context.Background()))
}

func TestWebSocketRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
