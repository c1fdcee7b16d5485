package board

import (
	"context"
	"time"

	"go.uber.org/zap"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/storage"
)

// Recorder buffers price points and trades and writes them to history stores in
// batches. Writes never block the board: when the queue is full the batch is dropped.
type Recorder struct {
	points        storage.PricePointStore
	trades        storage.TradeStore
	flushInterval time.Duration
	batchSize     int
	writeTimeout  time.Duration
	logger        *zap.Logger

	pointsCh chan []*domain.PricePoint
	tradesCh chan []*domain.Trade
	done     chan struct{}

	pointBuf []*domain.PricePoint
	tradeBuf []*domain.Trade
}

// RecorderOptions contains configuration for creating a Recorder.
type RecorderOptions struct {
	PricePoints   storage.PricePointStore // optional
	Trades        storage.TradeStore      // optional
	FlushInterval time.Duration           // Default: 5s
	BatchSize     int                     // Default: 500 rows per store write
	WriteTimeout  time.Duration           // Default: 10s
	Logger        *zap.Logger
}

// NewRecorder creates a Recorder. Call Run to start writing.
func NewRecorder(opts RecorderOptions) *Recorder {
	flushInterval := opts.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Recorder{
		points:        opts.PricePoints,
		trades:        opts.Trades,
		flushInterval: flushInterval,
		batchSize:     batchSize,
		writeTimeout:  writeTimeout,
		logger:        logger,
		pointsCh:      make(chan []*domain.PricePoint, 64),
		tradesCh:      make(chan []*domain.Trade, 64),
		done:          make(chan struct{}),
	}
}

// RecordTokens queues one price point per token stamped at ts (Unix ms).
func (r *Recorder) RecordTokens(tokens []domain.Token, ts int64) {
	if r.points == nil || len(tokens) == 0 {
		return
	}
	batch := make([]*domain.PricePoint, 0, len(tokens))
	for _, t := range tokens {
		p := domain.PricePointOf(t, ts)
		batch = append(batch, &p)
	}
	select {
	case r.pointsCh <- batch:
	default:
		r.logger.Warn("recorder queue full, dropping price points", zap.Int("count", len(batch)))
	}
}

// RecordTrades queues trades. Trades without a signature cannot be deduplicated and
// are skipped.
func (r *Recorder) RecordTrades(trades []domain.Trade) {
	if r.trades == nil {
		return
	}
	batch := make([]*domain.Trade, 0, len(trades))
	for i := range trades {
		if trades[i].Signature == "" || trades[i].Mint == "" {
			continue
		}
		t := trades[i]
		batch = append(batch, &t)
	}
	if len(batch) == 0 {
		return
	}
	select {
	case r.tradesCh <- batch:
	default:
		r.logger.Warn("recorder queue full, dropping trades", zap.Int("count", len(batch)))
	}
}

// Run writes queued rows until ctx is cancelled, then flushes what is buffered.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			r.flush()
			return

		case batch := <-r.pointsCh:
			r.pointBuf = append(r.pointBuf, batch...)
			if len(r.pointBuf) >= r.batchSize {
				r.flushPoints()
			}

		case batch := <-r.tradesCh:
			r.tradeBuf = append(r.tradeBuf, batch...)
			if len(r.tradeBuf) >= r.batchSize {
				r.flushTrades()
			}

		case <-ticker.C:
			r.flush()
		}
	}
}

// Done is closed once Run has returned.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) drain() {
	for {
		select {
		case batch := <-r.pointsCh:
			r.pointBuf = append(r.pointBuf, batch...)
		case batch := <-r.tradesCh:
			r.tradeBuf = append(r.tradeBuf, batch...)
		default:
			return
		}
	}
}

func (r *Recorder) flush() {
	r.flushPoints()
	r.flushTrades()
}

// writeContext is detached from Run so the shutdown flush can still write.
func (r *Recorder) writeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.writeTimeout)
}

func (r *Recorder) flushPoints() {
	if len(r.pointBuf) == 0 {
		return
	}
	ctx, cancel := r.writeContext()
	defer cancel()

	for start := 0; start < len(r.pointBuf); start += r.batchSize {
		end := min(start+r.batchSize, len(r.pointBuf))
		if err := r.points.InsertBulk(ctx, r.pointBuf[start:end]); err != nil {
			r.logger.Error("write price points failed", zap.Int("count", end-start), zap.Error(err))
		}
	}
	r.pointBuf = nil
}

func (r *Recorder) flushTrades() {
	if len(r.tradeBuf) == 0 {
		return
	}
	ctx, cancel := r.writeContext()
	defer cancel()

	for start := 0; start < len(r.tradeBuf); start += r.batchSize {
		end := min(start+r.batchSize, len(r.tradeBuf))
		if err := r.trades.InsertBulk(ctx, r.tradeBuf[start:end]); err != nil {
			r.logger.Error("write trades failed", zap.Int("count", end-start), zap.Error(err))
		}
	}
	r.tradeBuf = nil
}
