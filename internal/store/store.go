// Package store defines the time-series store contract (C11) consumed by
// the rest of the system, and a Postgres-backed adapter that honors the
// WAL-visibility retry contract over recency-sensitive reads.
package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// TickPrice is a single tick row.
type TickPrice struct {
	Timestamp float64
	Price     float64
	Volume    float64
}

// OHLCV is a single aggregated candle row.
type OHLCV struct {
	Timestamp float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// IndicatorRow is one persisted indicator value.
type IndicatorRow struct {
	Timestamp   float64
	IndicatorID string
	Value       float64
	Confidence  *float64
}

// IndicatorBatchRow is one row of a batch indicator insert.
type IndicatorBatchRow struct {
	SessionID   string
	Symbol      string
	IndicatorID string
	Timestamp   float64
	Value       float64
}

// Store is the abstract time-series persistence contract (§6).
type Store interface {
	Initialize(ctx context.Context) error
	Close() error

	GetTickPrices(ctx context.Context, sessionID, symbol string) ([]TickPrice, error)
	GetAggregatedOHLCV(ctx context.Context, sessionID, symbol, interval string) ([]OHLCV, error)
	GetOHLCVResample(ctx context.Context, symbol, interval string, start, end float64) ([]OHLCV, error)
	GetLatestIndicators(ctx context.Context, symbol string, indicatorIDs []string) (map[string]float64, error)
	GetIndicators(ctx context.Context, symbol string, ids []string, start, end *float64, limit int) ([]IndicatorRow, error)
	InsertIndicatorsBatch(ctx context.Context, rows []IndicatorBatchRow) (int, error)
	ExecuteQuery(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	Execute(ctx context.Context, query string, args ...any) error
}
