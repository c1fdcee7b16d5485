package clickhouse

import (
	"context"
	"fmt"
	"time"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using ClickHouse.
// The trades table is a ReplacingMergeTree keyed by (mint, signature); reads use
// FINAL so a re-delivered trade is returned once.
type TradeStore struct {
	conn *Conn
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(conn *Conn) *TradeStore {
	return &TradeStore{conn: conn}
}

var _ storage.TradeStore = (*TradeStore)(nil)

// InsertBulk appends trades. Duplicate signatures within the batch are dropped.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.Trade) (err error) {
	if len(trades) == 0 {
		return nil
	}
	for _, t := range trades {
		if t == nil || t.Mint == "" || t.Signature == "" {
			return storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) { record("trades_insert", start, err) }(time.Now())

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trades (signature, mint, side, amount, price_usd, timestamp_ms)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	seen := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if _, dup := seen[t.Signature]; dup {
			continue
		}
		seen[t.Signature] = struct{}{}

		err = batch.Append(
			t.Signature, t.Mint, t.Side,
			nullable(t.Amount), nullable(t.PriceUSD),
			uint64(max(t.Timestamp, 0)),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetRecent returns up to limit trades of mint, newest first. limit <= 0 means all.
func (s *TradeStore) GetRecent(ctx context.Context, mint string, limit int) (trades []*domain.Trade, err error) {
	defer func(start time.Time) { record("trades_recent", start, err) }(time.Now())

	query := `
		SELECT signature, mint, side, amount, price_usd, timestamp_ms
		FROM trades FINAL
		WHERE mint = ?
		ORDER BY timestamp_ms DESC, signature ASC
	`
	args := []any{mint}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, uint64(limit))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.Trade
		var amount, price *float64
		var ts uint64
		if err := rows.Scan(&t.Signature, &t.Mint, &t.Side, &amount, &price, &ts); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Amount = fromNullable(amount)
		t.PriceUSD = fromNullable(price)
		t.Timestamp = int64(ts)
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}

func nullable(n domain.Number) *float64 {
	if !n.Valid() {
		return nil
	}
	v := n.Float()
	return &v
}

func fromNullable(v *float64) domain.Number {
	if v == nil {
		return domain.Number{}
	}
	return domain.Num(*v)
}
