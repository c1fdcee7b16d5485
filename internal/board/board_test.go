package board

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/signal"
	"token-stream-lab/internal/storage/memory"
	"token-stream-lab/internal/stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type frame struct {
	delay time.Duration
	body  string
}

// feedServer serves scripted frames per path and keeps each connection open.
func feedServer(t *testing.T, routes map[string][]frame) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		frames, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for _, f := range frames {
			time.Sleep(f.delay)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f.body)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(server *httptest.Server) Config {
	cfg := DefaultConfig(wsURL(server))
	cfg.Stream.BaseDelay = 5 * time.Millisecond
	cfg.Stream.MaxDelay = 20 * time.Millisecond
	cfg.Throttle = 20 * time.Millisecond
	cfg.SignalExpiry = 150 * time.Millisecond
	return cfg
}

func rowMints(s Snapshot) []string {
	out := make([]string, len(s.Rows))
	for i, t := range s.Rows {
		out[i] = t.Mint
	}
	return out
}

func startBoard(t *testing.T, cfg Config, opts ...Option) *Board {
	t.Helper()
	b, err := New(cfg, opts...)
	require.NoError(t, err)
	b.Start(context.Background())
	t.Cleanup(b.Close)
	return b
}

func TestBoard_ThrottlesToLatestBatch(t *testing.T) {
	server := feedServer(t, map[string][]frame{
		"/tokens": {
			{body: `[{"mint":"A","amm":"pump"}]`},
			{body: `[{"mint":"A","amm":"pump"},{"mint":"B","amm":"raydium_amm"}]`},
			{body: `[{"mint":"B","amm":"raydium_amm"},{"mint":"C","amm":"pump"}]`},
		},
	})
	b := startBoard(t, testConfig(server))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"B", "C"}, rowMints(b.Snapshot()))
	}, 2*time.Second, 5*time.Millisecond)

	snap := b.Snapshot()
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, stream.StateOpen, snap.Status.State)
	assert.True(t, snap.Status.Connected)
	_, ok := b.Token("A")
	assert.False(t, ok, "A was evicted by the last batch")
}

func TestBoard_SetFilterAndSortRederiveImmediately(t *testing.T) {
	server := feedServer(t, map[string][]frame{
		"/tokens": {{body: `[
			{"mint":"A","amm":"pump","total_liquidity_usd":10},
			{"mint":"B","amm":"raydium_amm","total_liquidity_usd":30},
			{"mint":"C","amm":"pump","total_liquidity_usd":20}
		]`}},
	})
	b := startBoard(t, testConfig(server))
	require.Eventually(t, func() bool { return len(b.Snapshot().Rows) == 3 }, 2*time.Second, 5*time.Millisecond)

	f := domain.DefaultFilterConfig()
	f.AMMs = []string{"pump"}
	b.SetFilter(f)
	assert.Equal(t, []string{"A", "C"}, rowMints(b.Snapshot()))

	require.NoError(t, b.SetSort(domain.SortConfig{Key: "liquidity", Direction: domain.SortDesc}))
	assert.Equal(t, []string{"C", "A"}, rowMints(b.Snapshot()))
	assert.Equal(t, 3, b.Snapshot().Total)

	assert.ErrorIs(t, b.SetSort(domain.SortConfig{Key: "name"}), ErrInvalidSort)
	assert.ErrorIs(t, b.SetSort(domain.SortConfig{Key: "liquidity", Direction: "up"}), ErrInvalidSort)
	assert.Equal(t, "liquidity", b.Sort().Key)
}

func TestBoard_SignalsAppearAndExpire(t *testing.T) {
	server := feedServer(t, map[string][]frame{
		"/tokens": {
			{body: `[{"mint":"A","usd_price":1}]`},
			{delay: 80 * time.Millisecond, body: `[{"mint":"A","usd_price":2}]`},
		},
	})
	b := startBoard(t, testConfig(server))

	require.Eventually(t, func() bool {
		return b.Snapshot().Signals["A"]["usd_price"] == signal.Increase
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(b.Snapshot().Signals) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBoard_SubscribersReceiveSnapshots(t *testing.T) {
	server := feedServer(t, map[string][]frame{
		"/tokens": {{body: `[{"mint":"A"}]`}},
	})
	b, err := New(testConfig(server))
	require.NoError(t, err)
	defer b.Close()

	var mu sync.Mutex
	var got []Snapshot
	unsubscribe := b.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	b.Start(context.Background())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range got {
			if len(s.Rows) == 1 {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	unsubscribe()
	mu.Lock()
	n := len(got)
	mu.Unlock()
	b.SetFilter(domain.DefaultFilterConfig())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, n)
}

func TestBoard_FollowUpsertsAndRecordsTrades(t *testing.T) {
	trade := `{"trade_data":{"Trade":{"Sell":{"Amount":"10","PriceInUSD":"0.5","Currency":{"Symbol":"DOG"}}},"Transaction":{"Signature":"%s"}}}`
	server := feedServer(t, map[string][]frame{
		"/tokens": {{body: `[{"mint":"A","usd_price":1},{"mint":"B"}]`}},
		"/token":  {{body: `{"token":{"mint":"A","usd_price":5},"trades":[` + strings.Replace(trade, "%s", "sig1", 1) + `]}`}},
		"/trades": {{body: `[` + strings.Replace(trade, "%s", "sig2", 1) + `,` + strings.Replace(trade, "%s", "", 1) + `]`}},
	})

	trades := memory.NewTradeStore()
	recorder := NewRecorder(RecorderOptions{Trades: trades, FlushInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recorder.Run(ctx)

	b := startBoard(t, testConfig(server), WithRecorder(recorder))
	require.Eventually(t, func() bool { return b.Snapshot().Total == 2 }, 2*time.Second, 5*time.Millisecond)

	b.Follow(ctx, "A")
	b.Follow(ctx, "A")
	assert.Equal(t, []string{"A"}, b.Following())

	require.Eventually(t, func() bool {
		tok, ok := b.Token("A")
		return ok && tok.USDPrice.Float() == 5
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, b.Snapshot().Total, "detail updates do not touch the list")

	require.Eventually(t, func() bool {
		got, err := trades.GetRecent(context.Background(), "A", 10)
		return err == nil && len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	b.Unfollow("A")
	assert.Empty(t, b.Following())
	tok, ok := b.Token("A")
	require.True(t, ok)
	assert.Equal(t, 1.0, tok.USDPrice.Float(), "list state is used once unfollowed")
}

func TestNew_Validation(t *testing.T) {
	cfg := DefaultConfig("")
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig("ws://localhost")
	cfg.Query.Limit = 0
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	cfg = DefaultConfig("ws://localhost")
	cfg.Sort = domain.SortConfig{Key: "bogus"}
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidSort)
}

// queryServer serves one batch per list mode and records every dialled query.
func queryServer(t *testing.T, batches map[string]string) (*httptest.Server, <-chan string) {
	t.Helper()
	dialled := make(chan string, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokens" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		dialled <- r.URL.RawQuery

		if body, ok := batches[r.URL.Query().Get("filter")]; ok {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(body)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server, dialled
}

func TestBoard_SetQueryDialsNewEndpoint(t *testing.T) {
	server, dialled := queryServer(t, map[string]string{
		stream.ModeMarketCap: `[{"mint":"A","amm":"pump","usd_price":1}]`,
		stream.ModeNew:       `[{"mint":"N","amm":"pump","usd_price":1}]`,
	})
	b := startBoard(t, testConfig(server))

	assert.Equal(t, "filter=marketcap&limit=20&offset=0&order=desc", <-dialled)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"A"}, rowMints(b.Snapshot()))
	}, 2*time.Second, 5*time.Millisecond)

	q := stream.TokensQuery{Filter: stream.ModeNew, Order: "asc", Offset: 0, Limit: 50}
	require.NoError(t, b.SetQuery(q))
	assert.Equal(t, q, b.Query())

	snap := b.Snapshot()
	assert.Empty(t, snap.Rows, "collection restarts empty")
	assert.Empty(t, snap.Signals)

	select {
	case raw := <-dialled:
		assert.Equal(t, "filter=new&limit=50&offset=0&order=asc", raw)
	case <-time.After(2 * time.Second):
		t.Fatal("new query was not dialled")
	}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"N"}, rowMints(b.Snapshot()))
	}, 2*time.Second, 5*time.Millisecond)
	_, ok := b.Token("A")
	assert.False(t, ok)
}

func TestBoard_SetQueryValidation(t *testing.T) {
	b, err := New(DefaultConfig("ws://127.0.0.1:1"))
	require.NoError(t, err)

	err = b.SetQuery(stream.TokensQuery{Filter: "bogus", Order: "desc", Limit: 20})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.Equal(t, stream.DefaultTokensQuery(), b.Query())

	b.Close()
	assert.ErrorIs(t, b.SetQuery(stream.TokensQuery{Filter: stream.ModeNew, Order: "desc", Limit: 20}), ErrClosed)
}
