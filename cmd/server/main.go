// Package main runs the token stream service: the live board, its websocket
// fan-out, and the HTTP API for filters, metadata, search and orders.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"token-stream-lab/internal/board"
	"token-stream-lab/internal/config"
	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/hub"
	"token-stream-lab/internal/logger"
	"token-stream-lab/internal/metadata"
	"token-stream-lab/internal/prefs"
	"token-stream-lab/internal/search"
	"token-stream-lab/internal/solana"
	"token-stream-lab/internal/storage"
	chstore "token-stream-lab/internal/storage/clickhouse"
	"token-stream-lab/internal/storage/memory"
	"token-stream-lab/internal/storage/migrations"
	pgstore "token-stream-lab/internal/storage/postgres"
	"token-stream-lab/internal/storage/sqlite"
	"token-stream-lab/internal/stream"
	"token-stream-lab/internal/trade"
)

// pulseQuery is the new-pairs page behind the pulse view.
var pulseQuery = stream.TokensQuery{Filter: stream.ModeNew, Order: "desc", Offset: 0, Limit: 20}

// allStores holds the storage implementations selected by configuration.
type allStores struct {
	kv          storage.KVStore
	metadata    storage.MetadataStore // nil without postgres
	pricePoints storage.PricePointStore
	trades      storage.TradeStore
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	envFile := flag.String("env-file", ".env", "Path to .env file (ignored if missing)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	streamURL := flag.String("stream-url", "", "Token stream base URL (overrides config)")
	prefsBackend := flag.String("prefs", "", "Preferences backend: memory, sqlite or postgres (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *addr, *streamURL, *prefsBackend, *logLevel)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create stores", zap.Error(err))
	}
	defer cleanup()

	server, err := newServer(ctx, cfg, stores, log)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	done := make(chan struct{})

	// First signal starts a graceful shutdown, a second one forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()

		select {
		case sig := <-sigCh:
			log.Warn("Received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(cfg.HTTP.ShutdownTimeout + 5*time.Second):
			log.Error("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = server.Run(ctx)
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Server error", zap.Error(err))
	}
	log.Info("Shutdown complete")
}

func applyFlags(cfg *config.Config, addr, streamURL, prefsBackend, logLevel string) {
	if addr != "" {
		cfg.HTTP.Addr = addr
	}
	if streamURL != "" {
		cfg.Stream.URL = streamURL
	}
	if prefsBackend != "" {
		cfg.Storage.Prefs = prefsBackend
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
}

// createStores opens the configured backends and runs their migrations.
func createStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*allStores, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	stores := &allStores{trades: memory.NewTradeStore()}

	var pool *pgstore.Pool
	if cfg.Storage.PostgresDSN != "" {
		var err error
		pool, err = pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgres(ctx, pool, log); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		stores.metadata = pgstore.NewMetadataStore(pool)
	}

	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouse(ctx, cfg.Storage.ClickhouseDSN, log)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		stores.pricePoints = chstore.NewPricePointStore(conn)
		stores.trades = chstore.NewTradeStore(conn)
	}

	switch cfg.Storage.Prefs {
	case config.PrefsMemory:
		stores.kv = memory.NewKVStore()
	case config.PrefsSQLite:
		kv, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		closers = append(closers, func() { kv.Close() })
		stores.kv = kv
	case config.PrefsPostgres:
		stores.kv = pgstore.NewKVStore(pool)
	}

	return stores, cleanup, nil
}

// Server holds all components of the service.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	board    *board.Board
	pulse    *board.Board
	hub      *hub.Hub
	recorder *board.Recorder
	handlers *handlers
}

func newServer(ctx context.Context, cfg *config.Config, stores *allStores, log *zap.Logger) (*Server, error) {
	userPrefs := prefs.New(stores.kv, log.Named("prefs"))

	recorder := board.NewRecorder(board.RecorderOptions{
		PricePoints: stores.pricePoints,
		Trades:      stores.trades,
		Logger:      log.Named("recorder"),
	})

	boardCfg := board.DefaultConfig(cfg.Stream.URL)
	boardCfg.Query = stream.TokensQuery{
		Filter: cfg.Stream.Filter,
		Order:  cfg.Stream.Order,
		Offset: cfg.Stream.Offset,
		Limit:  cfg.Stream.Limit,
	}
	boardCfg.Stream.BaseDelay = cfg.Stream.BaseDelay
	boardCfg.Stream.MaxDelay = cfg.Stream.MaxDelay
	boardCfg.Stream.MaxAttempts = cfg.Stream.MaxAttempts
	boardCfg.Throttle = cfg.View.Throttle
	boardCfg.SignalExpiry = cfg.View.SignalExpiry
	boardCfg.Filter = userPrefs.Filters(ctx)

	b, err := board.New(boardCfg, board.WithLogger(log.Named("board")), board.WithRecorder(recorder))
	if err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}
	// The pulse board follows the newest pairs with default filters and records nothing.
	pulseCfg := boardCfg
	pulseCfg.Query = pulseQuery
	pulseCfg.Filter = domain.DefaultFilterConfig()
	pulse, err := board.New(pulseCfg, board.WithLogger(log.Named("pulse")))
	if err != nil {
		return nil, fmt.Errorf("create pulse board: %w", err)
	}

	searchClient := search.NewClient(cfg.API.URL, search.WithLogger(log.Named("search")))
	h := hub.New(b.Snapshot, log.Named("hub"), hub.WithSearch(searchClient, cfg.Search.Debounce))
	b.Subscribe(h.Broadcast)

	resolverOpts := []metadata.Option{
		metadata.WithLogger(log.Named("metadata")),
		metadata.WithRevealDelay(cfg.Metadata.RevealDelay),
		metadata.WithFetchTimeout(cfg.Metadata.FetchTimeout),
	}
	if stores.metadata != nil {
		resolverOpts = append(resolverOpts, metadata.WithStore(stores.metadata))
	}
	if cfg.Metadata.RPCURL != "" {
		rpc := solana.NewHTTPClient(cfg.Metadata.RPCURL)
		if slot, err := rpc.GetSlot(ctx); err != nil {
			log.Warn("RPC endpoint not reachable, on-chain metadata lookup will fail", zap.Error(err))
		} else {
			log.Info("RPC endpoint reachable", zap.Int64("slot", slot))
		}
		resolverOpts = append(resolverOpts, metadata.WithLocator(metadata.NewChainLocator(rpc)))
	}
	resolver := metadata.NewResolver(metadata.NewCache(), metadata.NewHTTPFetcher(cfg.Metadata.FetchTimeout), resolverOpts...)

	return &Server{
		cfg:      cfg,
		logger:   log,
		board:    b,
		pulse:    pulse,
		hub:      h,
		recorder: recorder,
		handlers: &handlers{
			ctx:      ctx,
			board:    b,
			pulse:    pulse,
			hub:      h,
			metadata: resolver,
			lookups:  newLookupSet(),
			search:   searchClient,
			trader:   trade.NewClient(cfg.API.URL, cfg.API.Token, trade.WithLogger(log.Named("trade"))),
			prefs:    userPrefs,
			trades:   stores.trades,
			prices:   stores.pricePoints,
			started:  time.Now(),
			logger:   log,
		},
	}, nil
}

// Run starts every component and blocks until ctx is cancelled or the HTTP server fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("addr", s.cfg.HTTP.Addr),
		zap.String("stream", s.cfg.Stream.URL),
		zap.String("prefs", s.cfg.Storage.Prefs),
	)

	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	go s.recorder.Run(recorderCtx)

	s.board.Start(ctx)
	s.pulse.Start(ctx)

	httpServer := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.handlers.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP shutdown", zap.Error(err))
	}
	wg.Wait()

	s.hub.Close()
	s.board.Close()
	s.pulse.Close()

	// Flush buffered history last so it includes everything the board produced.
	stopRecorder()
	<-s.recorder.Done()

	return runErr
}

