package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/observability"
)

// ErrNotArray marks a frame whose top-level JSON value is not an array.
var ErrNotArray = errors.New("frame is not an array")

// Envelope is a single-token frame: the token and, optionally, its recent trades.
type Envelope struct {
	Token  domain.Token
	Trades []domain.Trade
	// HasTrades is set when the frame carried a trades list.
	HasTrades bool
}

// DecodeTokenBatch decodes a full-snapshot frame. Entities that fail to decode
// are skipped and counted; only a broken or non-array frame is an error.
func DecodeTokenBatch(frame []byte) (tokens []domain.Token, skipped int, err error) {
	items, err := splitArray(frame)
	if err != nil {
		return nil, 0, err
	}

	tokens = make([]domain.Token, 0, len(items))
	for _, item := range items {
		tok, err := domain.DecodeToken(item)
		if err != nil {
			skipped++
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens, skipped, nil
}

// DecodeTokenEnvelope decodes a single-token frame: {token, trades} or a bare token.
func DecodeTokenEnvelope(frame []byte) (Envelope, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(frame, &keys); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	rawToken, hasToken := keys["token"]
	rawTrades, hasTrades := keys["trades"]
	if !hasToken || !hasTrades || isNull(rawToken) || isNull(rawTrades) {
		tok, err := domain.DecodeToken(frame)
		if err != nil {
			return Envelope{}, fmt.Errorf("decode token: %w", err)
		}
		return Envelope{Token: tok}, nil
	}

	tok, err := domain.DecodeToken(rawToken)
	if err != nil {
		return Envelope{}, fmt.Errorf("decode token: %w", err)
	}
	trades, _, err := DecodeTrades(rawTrades, tok.Mint)
	if err != nil {
		return Envelope{}, fmt.Errorf("decode trades: %w", err)
	}
	return Envelope{Token: tok, Trades: trades, HasTrades: true}, nil
}

// DecodeTrades decodes a trades frame. mint fills trades that do not name their token.
func DecodeTrades(frame []byte, mint string) (trades []domain.Trade, skipped int, err error) {
	items, err := splitArray(frame)
	if err != nil {
		return nil, 0, err
	}

	trades = make([]domain.Trade, 0, len(items))
	for _, item := range items {
		tr, err := domain.DecodeTrade(item, mint)
		if err != nil {
			skipped++
			continue
		}
		trades = append(trades, tr)
	}
	return trades, skipped, nil
}

func splitArray(frame []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("invalid json frame")
		}
		return nil, ErrNotArray
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("decode array: %w", err)
	}
	return items, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// BatchHandler adapts fn to receive decoded token batches. Broken frames are dropped
// and logged; non-array frames are dropped silently.
func BatchHandler(name string, logger *zap.Logger, fn func([]domain.Token)) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(frame []byte) {
		tokens, skipped, err := DecodeTokenBatch(frame)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, ErrNotArray) {
				reason = "not_array"
			} else {
				logger.Warn("dropping frame", zap.String("stream", name), zap.Error(err))
			}
			observability.RecordFrameDropped(name, reason)
			return
		}
		if skipped > 0 {
			logger.Warn("skipped malformed entities", zap.String("stream", name), zap.Int("count", skipped))
			observability.RecordEntitiesDropped(name, skipped)
		}
		fn(tokens)
	}
}

// EnvelopeHandler adapts fn to receive decoded single-token frames.
func EnvelopeHandler(name string, logger *zap.Logger, fn func(Envelope)) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(frame []byte) {
		env, err := DecodeTokenEnvelope(frame)
		if err != nil {
			logger.Warn("dropping frame", zap.String("stream", name), zap.Error(err))
			observability.RecordFrameDropped(name, "malformed")
			return
		}
		fn(env)
	}
}

// TradesHandler adapts fn to receive decoded trade lists for mint.
func TradesHandler(name, mint string, logger *zap.Logger, fn func([]domain.Trade)) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(frame []byte) {
		trades, skipped, err := DecodeTrades(frame, mint)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, ErrNotArray) {
				reason = "not_array"
			} else {
				logger.Warn("dropping frame", zap.String("stream", name), zap.Error(err))
			}
			observability.RecordFrameDropped(name, reason)
			return
		}
		if skipped > 0 {
			observability.RecordEntitiesDropped(name, skipped)
		}
		fn(trades)
	}
}
