package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/indicatorengine/internal/bus"
	"github.com/marketpulse/indicatorengine/internal/errs"
)

type fakeConfigLoader struct {
	cfg Config
	err error
}

func (f fakeConfigLoader) LoadSessionConfig(_ context.Context, _ string) (Config, error) {
	return f.cfg, f.err
}

type fakeCandleSource struct {
	candles []Candle
	err     error
}

func (f fakeCandleSource) LoadCandles(_ context.Context, _ string, _, _ float64, _ string) ([]Candle, error) {
	return f.candles, f.err
}

func TestRunFailsWithSessionNotFoundWhenConfigLoadFails(t *testing.T) {
	b := bus.New()
	om := NewOrderManager(b, 0, func() float64 { return 0 })
	eng := NewEngine("sess-1", fakeConfigLoader{err: errs.ErrSessionNotFound}, fakeCandleSource{}, b, om, func() float64 { return 0 })

	res := eng.Run(context.Background())
	assert.Equal(t, Failed, res.Status)
	assert.Contains(t, res.ErrorMessage, "session not found")
}

// TestStopLossSynthesizesSellWithNegativePnL covers the literal scenario:
// entry 100.0, stop_loss_percent=5, candle closes 94.0 -> synthesized
// close signal side=SELL, reason is a stop-loss trigger, realized PnL
// negative.
func TestStopLossSynthesizesSellWithNegativePnL(t *testing.T) {
	b := bus.New()
	om := NewOrderManager(b, 0, func() float64 { return 0 })

	cfg := Config{
		SessionID: "sess-2", Symbol: "BTC-USD", StartDate: 0, EndDate: 10, Timeframe: "1m",
		InitialBalance: 10000, StopLossPercent: 5, TakeProfitPercent: 10,
	}
	candles := []Candle{
		{Timestamp: 0, Open: 99, High: 101, Low: 99, Close: 100, Volume: 1},
		{Timestamp: 1, Open: 100, High: 101, Low: 93, Close: 94, Volume: 1},
	}
	eng := NewEngine("sess-2", fakeConfigLoader{cfg: cfg}, fakeCandleSource{candles: candles}, b, om, func() float64 { return 0 })

	_, err := om.SubmitOrder("BTC-USD", Buy, 1, 100, OrderOptions{})
	require.NoError(t, err)

	res := eng.Run(context.Background())
	require.Equal(t, Completed, res.Status)
	require.NotEmpty(t, res.Trades)

	var stopLossTrade *TradeRecord
	for i := range res.Trades {
		if res.Trades[i].SignalType == "E1" {
			stopLossTrade = &res.Trades[i]
		}
	}
	require.NotNil(t, stopLossTrade, "expected a stop-loss (E1) trade")
	assert.Equal(t, "SELL", stopLossTrade.Side)
	assert.Less(t, stopLossTrade.PnL, 0.0)
}

// TestShortProfitableBacktestMatchesExactRealizedPnL covers the literal
// scenario: SHORT 10 @ 100, COVER 10 @ 90, slippage_pct=0 -> realized_pnl
// = 100.0 exactly.
func TestShortProfitableBacktestMatchesExactRealizedPnL(t *testing.T) {
	b := bus.New()
	om := NewOrderManager(b, 0, func() float64 { return 0 })

	_, err := om.SubmitOrder("BTC-USD", Short, 10, 100, OrderOptions{})
	require.NoError(t, err)

	pos := om.Position("BTC-USD")
	pnl := closeLegPnL(pos, 90)
	assert.InDelta(t, 100.0, pnl, 1e-9)

	_, err = om.SubmitOrder("BTC-USD", Cover, 10, 90, OrderOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, om.Position("BTC-USD").Quantity)
}

func TestEndOfBacktestClosesRemainingPositions(t *testing.T) {
	b := bus.New()
	om := NewOrderManager(b, 0, func() float64 { return 0 })

	cfg := Config{
		SessionID: "sess-3", Symbol: "BTC-USD", StartDate: 0, EndDate: 10, Timeframe: "1m",
		InitialBalance: 10000, StopLossPercent: 50, TakeProfitPercent: 50,
	}
	candles := []Candle{
		{Timestamp: 0, Open: 99, High: 101, Low: 99, Close: 100, Volume: 1},
		{Timestamp: 1, Open: 100, High: 102, Low: 99, Close: 101, Volume: 1},
	}
	eng := NewEngine("sess-3", fakeConfigLoader{cfg: cfg}, fakeCandleSource{candles: candles}, b, om, func() float64 { return 0 })

	_, err := om.SubmitOrder("BTC-USD", Buy, 1, 100, OrderOptions{})
	require.NoError(t, err)

	res := eng.Run(context.Background())
	require.Equal(t, Completed, res.Status)
	assert.Equal(t, 0.0, om.Position("BTC-USD").Quantity)

	var closeTrade *TradeRecord
	for i := range res.Trades {
		if res.Trades[i].SignalType == "CLOSE" {
			closeTrade = &res.Trades[i]
		}
	}
	require.NotNil(t, closeTrade, "expected a trailing CLOSE trade at end of backtest")
}

func TestEmptyCandlesFailsTheRun(t *testing.T) {
	b := bus.New()
	om := NewOrderManager(b, 0, func() float64 { return 0 })
	cfg := Config{SessionID: "sess-4", Symbol: "BTC-USD", InitialBalance: 1000}
	eng := NewEngine("sess-4", fakeConfigLoader{cfg: cfg}, fakeCandleSource{candles: nil}, b, om, func() float64 { return 0 })

	res := eng.Run(context.Background())
	assert.Equal(t, Failed, res.Status)
}

func TestDownsampleEquityCurveKeepsEveryTenthPointPlusLast(t *testing.T) {
	curve := make([]EquityPoint, 25)
	for i := range curve {
		curve[i] = EquityPoint{Timestamp: float64(i)}
	}
	out := downsampleEquityCurve(curve)
	assert.Equal(t, 0.0, out[0].Timestamp)
	assert.Equal(t, 24.0, out[len(out)-1].Timestamp)
}
