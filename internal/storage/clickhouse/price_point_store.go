package clickhouse

import (
	"context"
	"fmt"
	"time"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/storage"
)

// PricePointStore implements storage.PricePointStore using ClickHouse.
type PricePointStore struct {
	conn *Conn
}

// NewPricePointStore creates a new PricePointStore.
func NewPricePointStore(conn *Conn) *PricePointStore {
	return &PricePointStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PricePointStore = (*PricePointStore)(nil)

// InsertBulk appends points in one batch. The batch is rejected if any point has no mint.
func (s *PricePointStore) InsertBulk(ctx context.Context, points []*domain.PricePoint) (err error) {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if p == nil || p.Mint == "" {
			return storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) { record("price_points_insert", start, err) }(time.Now())

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_points (
			mint, timestamp_ms, price_usd, liquidity_usd, market_cap_usd, volume_24h, holders
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.Mint, uint64(p.TimestampMs),
			p.PriceUSD, p.LiquidityUSD, p.MarketCapUSD, p.Volume24h,
			uint64(max(p.Holders, 0)),
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

// GetByTimeRange retrieves points for a mint within [start, end] (inclusive).
func (s *PricePointStore) GetByTimeRange(ctx context.Context, mint string, start, end int64) (points []*domain.PricePoint, err error) {
	defer func(began time.Time) { record("price_points_range", began, err) }(time.Now())

	query := `
		SELECT mint, timestamp_ms, price_usd, liquidity_usd, market_cap_usd, volume_24h, holders
		FROM price_points
		WHERE mint = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, mint, uint64(max(start, 0)), uint64(max(end, 0)))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

func scanPricePoints(rows chRows) ([]*domain.PricePoint, error) {
	var points []*domain.PricePoint

	for rows.Next() {
		var p domain.PricePoint
		var timestampMs, holders uint64

		err := rows.Scan(
			&p.Mint, &timestampMs,
			&p.PriceUSD, &p.LiquidityUSD, &p.MarketCapUSD, &p.Volume24h, &holders,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price point row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		p.Holders = int64(holders)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price point rows: %w", err)
	}
	return points, nil
}
