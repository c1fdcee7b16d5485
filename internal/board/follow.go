package board

import (
	"context"

	"go.uber.org/zap"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/stream"
)

// follower holds the single-token and trades streams of one mint.
type follower struct {
	token  *stream.Manager
	trades *stream.Manager
}

func (f *follower) close() {
	f.token.Close()
	f.trades.Close()
}

// Follow subscribes to the detail and trades streams of mint. Detail frames update
// the token in place without evicting anything; trades go to the recorder.
// ctx bounds the lifetime of both streams. Following an already followed mint, or
// following after Close, is a no-op.
func (b *Board) Follow(ctx context.Context, mint string) {
	b.followMu.Lock()
	defer b.followMu.Unlock()
	if _, ok := b.followers[mint]; ok || b.closed {
		return
	}

	logger := b.logger.With(zap.String("mint", mint))
	f := &follower{
		token: stream.NewManager(
			stream.TokenEndpoint(b.cfg.StreamURL, mint),
			stream.EnvelopeHandler(streamToken, logger, b.onEnvelope),
			b.streamOptions(streamToken, nil)...,
		),
		trades: stream.NewManager(
			stream.TradesEndpoint(b.cfg.StreamURL, mint),
			stream.TradesHandler(streamTrades, mint, logger, b.onTrades),
			b.streamOptions(streamTrades, nil)...,
		),
	}
	b.followers[mint] = f
	f.token.Start(ctx)
	f.trades.Start(ctx)
	logger.Info("following token")
}

// Unfollow closes the streams of mint and forgets its detail state.
func (b *Board) Unfollow(mint string) {
	b.followMu.Lock()
	f, ok := b.followers[mint]
	delete(b.followers, mint)
	b.followMu.Unlock()
	if !ok {
		return
	}
	f.close()
	b.detail.Remove(mint)
	b.logger.Info("unfollowed token", zap.String("mint", mint))
}

// Following returns the followed mints.
func (b *Board) Following() []string {
	b.followMu.Lock()
	defer b.followMu.Unlock()
	out := make([]string, 0, len(b.followers))
	for mint := range b.followers {
		out = append(out, mint)
	}
	return out
}

func (b *Board) onEnvelope(env stream.Envelope) {
	b.detail.Upsert(env.Token)
	if env.HasTrades {
		b.onTrades(env.Trades)
	}
}

func (b *Board) onTrades(trades []domain.Trade) {
	if b.recorder != nil {
		b.recorder.RecordTrades(trades)
	}
}
