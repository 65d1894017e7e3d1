package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/marketpulse/indicatorengine/internal/errs"
)

// postgresStore is a sqlx-backed Store, grounded on the teacher's
// internal/persistence/postgres repos for the constructor/context-timeout
// idiom, extended with a named circuit breaker and WAL-retry wrapping per
// recency-sensitive read, per infra/breakers/breakers.go.
type postgresStore struct {
	db       *sqlx.DB
	timeout  time.Duration
	breakers map[string]*breaker
}

// NewPostgresStore wraps an already-open sqlx.DB. timeout bounds every
// individual query; recency-sensitive reads additionally apply the WAL
// retry schedule on top of it.
func NewPostgresStore(db *sqlx.DB, timeout time.Duration) Store {
	ops := []string{"get_tick_prices", "get_aggregated_ohlcv", "get_ohlcv_resample",
		"get_latest_indicators", "get_indicators", "insert_indicators_batch",
		"execute_query", "execute"}
	breakers := make(map[string]*breaker, len(ops))
	for _, op := range ops {
		breakers[op] = newBreaker(op)
	}
	return &postgresStore{db: db, timeout: timeout, breakers: breakers}
}

func toTime(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

func fromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// breakerDo runs fn through b, boxing/unboxing the typed result so every
// store operation can sit behind its own named breaker without losing
// type safety at the call site. When the breaker itself refuses the call
// (open/half-open limit), gobreaker hands back an untyped nil result; that
// is surfaced as a TransientStoreError rather than a type-assertion panic.
func breakerDo[T any](b *breaker, fn func() (T, error)) (T, error) {
	var zero T
	v, err := b.execute(func() (any, error) {
		return fn()
	})
	if v == nil {
		if err != nil {
			err = fmt.Errorf("%w: circuit breaker %s: %v", errs.ErrTransientStore, b.name, err)
		}
		return zero, err
	}
	return v.(T), err
}

func (s *postgresStore) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *postgresStore) Close() error { return s.db.Close() }

func (s *postgresStore) GetTickPrices(ctx context.Context, sessionID, symbol string) ([]TickPrice, error) {
	op := "get_tick_prices"
	fetch := func(ctx context.Context) ([]TickPrice, error) {
		return breakerDo(s.breakers[op], func() ([]TickPrice, error) {
			qctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			const q = `SELECT timestamp, price, volume FROM tick_prices
				WHERE session_id = $1 AND symbol = $2 ORDER BY timestamp ASC`
			rows, err := s.db.QueryxContext(qctx, q, sessionID, symbol)
			if err != nil {
				return nil, classify(op, err)
			}
			defer rows.Close()

			var out []TickPrice
			for rows.Next() {
				var ts time.Time
				var p, v float64
				if err := rows.Scan(&ts, &p, &v); err != nil {
					return nil, fmt.Errorf("%w: scanning tick price: %v", errs.ErrFatalStore, err)
				}
				out = append(out, TickPrice{Timestamp: fromTime(ts), Price: p, Volume: v})
			}
			return out, rows.Err()
		})
	}
	return QueryWithWALRetry(ctx, op, fetch, isEmptyRetryable[TickPrice])
}

func (s *postgresStore) GetAggregatedOHLCV(ctx context.Context, sessionID, symbol, interval string) ([]OHLCV, error) {
	op := "get_aggregated_ohlcv"
	return breakerDo(s.breakers[op], func() ([]OHLCV, error) {
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		const q = `SELECT timestamp, open, high, low, close, volume FROM aggregated_ohlcv
			WHERE session_id = $1 AND symbol = $2 AND interval = $3 ORDER BY timestamp ASC`
		rows, err := s.db.QueryxContext(qctx, q, sessionID, symbol, interval)
		if err != nil {
			return nil, classify(op, err)
		}
		defer rows.Close()
		return scanOHLCV(rows)
	})
}

func (s *postgresStore) GetOHLCVResample(ctx context.Context, symbol, interval string, start, end float64) ([]OHLCV, error) {
	op := "get_ohlcv_resample"
	return breakerDo(s.breakers[op], func() ([]OHLCV, error) {
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		const q = `SELECT timestamp, open, high, low, close, volume FROM aggregated_ohlcv
			WHERE symbol = $1 AND interval = $2 AND timestamp >= $3 AND timestamp <= $4
			ORDER BY timestamp ASC`
		rows, err := s.db.QueryxContext(qctx, q, symbol, interval, toTime(start), toTime(end))
		if err != nil {
			return nil, classify(op, err)
		}
		defer rows.Close()
		return scanOHLCV(rows)
	})
}

func scanOHLCV(rows *sqlx.Rows) ([]OHLCV, error) {
	var out []OHLCV
	for rows.Next() {
		var ts time.Time
		var o, h, l, c, v float64
		if err := rows.Scan(&ts, &o, &h, &l, &c, &v); err != nil {
			return nil, fmt.Errorf("%w: scanning ohlcv: %v", errs.ErrFatalStore, err)
		}
		out = append(out, OHLCV{Timestamp: fromTime(ts), Open: o, High: h, Low: l, Close: c, Volume: v})
	}
	return out, rows.Err()
}

func (s *postgresStore) GetLatestIndicators(ctx context.Context, symbol string, indicatorIDs []string) (map[string]float64, error) {
	op := "get_latest_indicators"
	fetch := func(ctx context.Context) (map[string]float64, error) {
		return breakerDo(s.breakers[op], func() (map[string]float64, error) {
			qctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			q := `SELECT DISTINCT ON (indicator_id) indicator_id, value FROM indicators
				WHERE symbol = $1`
			args := []any{symbol}
			if len(indicatorIDs) > 0 {
				placeholders := make([]string, len(indicatorIDs))
				for i, id := range indicatorIDs {
					placeholders[i] = fmt.Sprintf("$%d", i+2)
					args = append(args, id)
				}
				q += " AND indicator_id IN (" + strings.Join(placeholders, ",") + ")"
			}
			q += " ORDER BY indicator_id, timestamp DESC"

			rows, err := s.db.QueryxContext(qctx, q, args...)
			if err != nil {
				return nil, classify(op, err)
			}
			defer rows.Close()

			out := make(map[string]float64)
			for rows.Next() {
				var id string
				var val float64
				if err := rows.Scan(&id, &val); err != nil {
					return nil, fmt.Errorf("%w: scanning latest indicator: %v", errs.ErrFatalStore, err)
				}
				out[id] = val
			}
			return out, rows.Err()
		})
	}
	return QueryWithWALRetry(ctx, op, fetch, func(m map[string]float64, err error) bool {
		return err == nil && len(m) == 0
	})
}

func (s *postgresStore) GetIndicators(ctx context.Context, symbol string, ids []string, start, end *float64, limit int) ([]IndicatorRow, error) {
	op := "get_indicators"
	fetch := func(ctx context.Context) ([]IndicatorRow, error) {
		return breakerDo(s.breakers[op], func() ([]IndicatorRow, error) {
			qctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			q := `SELECT timestamp, indicator_id, value, confidence FROM indicators WHERE symbol = $1`
			args := []any{symbol}
			argN := 1
			next := func() int { argN++; return argN }

			if len(ids) > 0 {
				placeholders := make([]string, len(ids))
				for i, id := range ids {
					placeholders[i] = fmt.Sprintf("$%d", next())
					args = append(args, id)
				}
				q += " AND indicator_id IN (" + strings.Join(placeholders, ",") + ")"
			}
			if start != nil {
				q += fmt.Sprintf(" AND timestamp >= $%d", next())
				args = append(args, toTime(*start))
			}
			if end != nil {
				q += fmt.Sprintf(" AND timestamp <= $%d", next())
				args = append(args, toTime(*end))
			}
			q += " ORDER BY timestamp ASC"
			if limit > 0 {
				q += fmt.Sprintf(" LIMIT $%d", next())
				args = append(args, limit)
			}

			rows, err := s.db.QueryxContext(qctx, q, args...)
			if err != nil {
				return nil, classify(op, err)
			}
			defer rows.Close()

			var out []IndicatorRow
			for rows.Next() {
				var ts time.Time
				var id string
				var val float64
				var conf sql.NullFloat64
				if err := rows.Scan(&ts, &id, &val, &conf); err != nil {
					return nil, fmt.Errorf("%w: scanning indicator row: %v", errs.ErrFatalStore, err)
				}
				row := IndicatorRow{Timestamp: fromTime(ts), IndicatorID: id, Value: val}
				if conf.Valid {
					c := conf.Float64
					row.Confidence = &c
				}
				out = append(out, row)
			}
			return out, rows.Err()
		})
	}
	return QueryWithWALRetry(ctx, op, fetch, isEmptyRetryable[IndicatorRow])
}

func (s *postgresStore) InsertIndicatorsBatch(ctx context.Context, rows []IndicatorBatchRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	op := "insert_indicators_batch"
	return breakerDo(s.breakers[op], func() (int, error) {
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		tx, err := s.db.BeginTxx(qctx, nil)
		if err != nil {
			return 0, fmt.Errorf("%w: beginning batch insert: %v", errs.ErrTransientStore, err)
		}
		defer tx.Rollback()

		const q = `INSERT INTO indicators (session_id, symbol, indicator_id, timestamp, value)
			VALUES ($1,$2,$3,$4,$5)`
		for _, r := range rows {
			if _, err := tx.ExecContext(qctx, q, r.SessionID, r.Symbol, r.IndicatorID, toTime(r.Timestamp), r.Value); err != nil {
				return 0, classify(op, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("%w: committing batch insert: %v", errs.ErrTransientStore, err)
		}
		log.Debug().Int("count", len(rows)).Msg("time_series_store.batch_inserted")
		return len(rows), nil
	})
}

func (s *postgresStore) ExecuteQuery(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	op := "execute_query"
	return breakerDo(s.breakers[op], func() (*sqlx.Rows, error) {
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		rows, err := s.db.QueryxContext(qctx, query, args...)
		if err != nil {
			return nil, classify(op, err)
		}
		return rows, nil
	})
}

func (s *postgresStore) Execute(ctx context.Context, query string, args ...any) error {
	op := "execute"
	_, err := breakerDo(s.breakers[op], func() (struct{}, error) {
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if _, err := s.db.ExecContext(qctx, query, args...); err != nil {
			return struct{}{}, classify(op, err)
		}
		return struct{}{}, nil
	})
	return err
}

// classify maps a raw driver error to a typed store error: constraint and
// schema violations are fatal, everything else (connection blips,
// timeouts) is treated as transient and eligible for retry upstream.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint") || strings.Contains(msg, "violates") ||
		(strings.Contains(msg, "column") && strings.Contains(msg, "does not exist")) {
		return fmt.Errorf("%w: %s: %v", errs.ErrFatalStore, op, err)
	}
	return fmt.Errorf("%w: %s: %v", errs.ErrTransientStore, op, err)
}

func isEmptyRetryable[T any](rows []T, err error) bool {
	return err == nil && len(rows) == 0
}
