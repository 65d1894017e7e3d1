package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/indicatorengine/internal/errs"
	"github.com/marketpulse/indicatorengine/internal/store"
)

func newMockStore(t *testing.T) (store.Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	return store.NewPostgresStore(db, time.Second), mock
}

func TestLoadSessionConfigScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	loader := NewStoreSessionConfigLoader(s)

	rows := sqlmock.NewRows([]string{
		"session_id", "strategy_id", "symbol", "start_date", "end_date", "timeframe",
		"initial_balance", "stop_loss_percent", "take_profit_percent",
		"broadcast_interval", "use_strategy_manager",
	}).AddRow("sess-1", "strat-1", "BTC-USD", 0.0, 100.0, "1m", 10000.0, 5.0, 10.0, 1.0, false)
	mock.ExpectQuery("SELECT session_id, strategy_id, symbol").WillReturnRows(rows)

	cfg, err := loader.LoadSessionConfig(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", cfg.SessionID)
	assert.Equal(t, "BTC-USD", cfg.Symbol)
	assert.Equal(t, 10000.0, cfg.InitialBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSessionConfigMissingRowIsSessionNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	loader := NewStoreSessionConfigLoader(s)

	rows := sqlmock.NewRows([]string{
		"session_id", "strategy_id", "symbol", "start_date", "end_date", "timeframe",
		"initial_balance", "stop_loss_percent", "take_profit_percent",
		"broadcast_interval", "use_strategy_manager",
	})
	mock.ExpectQuery("SELECT session_id, strategy_id, symbol").WillReturnRows(rows)

	_, err := loader.LoadSessionConfig(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestLoadCandlesMapsOHLCVRows(t *testing.T) {
	s, mock := newMockStore(t)
	candles := NewStoreCandleSource(s)

	rows := sqlmock.NewRows([]string{"timestamp", "open", "high", "low", "close", "volume"}).
		AddRow(time.Unix(0, 0).UTC(), 99.0, 101.0, 99.0, 100.0, 10.0)
	mock.ExpectQuery("SELECT timestamp, open, high, low, close, volume FROM aggregated_ohlcv").
		WillReturnRows(rows)

	out, err := candles.LoadCandles(context.Background(), "BTC-USD", 0, 10, "1m")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 100.0, out[0].Close)
}
