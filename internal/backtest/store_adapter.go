package backtest

import (
	"context"
	"fmt"

	"github.com/marketpulse/indicatorengine/internal/errs"
	"github.com/marketpulse/indicatorengine/internal/store"
)

// StoreSessionConfigLoader loads a backtest session's Config from the
// backtest_sessions table through the shared time-series store, reusing
// its ExecuteQuery contract rather than defining a parallel DB handle.
type StoreSessionConfigLoader struct {
	s store.Store
}

// NewStoreSessionConfigLoader constructs a loader bound to s.
func NewStoreSessionConfigLoader(s store.Store) *StoreSessionConfigLoader {
	return &StoreSessionConfigLoader{s: s}
}

// LoadSessionConfig reads one row from backtest_sessions. A missing row
// is reported as errs.ErrSessionNotFound, matching the Engine.Run
// contract that a lookup miss fails the run before any candle loads.
func (l *StoreSessionConfigLoader) LoadSessionConfig(ctx context.Context, sessionID string) (Config, error) {
	rows, err := l.s.ExecuteQuery(ctx, `
		SELECT session_id, strategy_id, symbol, start_date, end_date, timeframe,
		       initial_balance, stop_loss_percent, take_profit_percent,
		       broadcast_interval, use_strategy_manager
		FROM backtest_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Config{}, fmt.Errorf("%w: session %q", errs.ErrSessionNotFound, sessionID)
	}

	var cfg Config
	if err := rows.Scan(
		&cfg.SessionID, &cfg.StrategyID, &cfg.Symbol, &cfg.StartDate, &cfg.EndDate, &cfg.Timeframe,
		&cfg.InitialBalance, &cfg.StopLossPercent, &cfg.TakeProfitPercent,
		&cfg.BroadcastInterval, &cfg.UseStrategyManager,
	); err != nil {
		return Config{}, fmt.Errorf("%w: scanning backtest_sessions row: %v", errs.ErrFatalStore, err)
	}
	return cfg, nil
}

// StoreCandleSource loads OHLCV candles for a backtest replay from the
// shared time-series store's resampling path, so backtests and live
// indicator calculation read candles through the same retry/circuit
// breaker stack.
type StoreCandleSource struct {
	s store.Store
}

// NewStoreCandleSource constructs a candle source bound to s.
func NewStoreCandleSource(s store.Store) *StoreCandleSource {
	return &StoreCandleSource{s: s}
}

func (c *StoreCandleSource) LoadCandles(ctx context.Context, symbol string, start, end float64, timeframe string) ([]Candle, error) {
	rows, err := c.s.GetOHLCVResample(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	candles := make([]Candle, len(rows))
	for i, r := range rows {
		candles[i] = Candle{
			Timestamp: r.Timestamp, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
		}
	}
	return candles, nil
}
