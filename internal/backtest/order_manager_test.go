package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/indicatorengine/internal/bus"
	"github.com/marketpulse/indicatorengine/internal/events"
)

func newTestManager(slippagePct float64) *OrderManager {
	b := bus.New()
	return NewOrderManager(b, slippagePct, func() float64 { return 0 })
}

func TestShortThenCoverRealizesExactProfit(t *testing.T) {
	m := newTestManager(0)

	_, err := m.SubmitOrder("BTC-USD", Short, 10, 100, OrderOptions{})
	require.NoError(t, err)
	pos := m.Position("BTC-USD")
	assert.Equal(t, -10.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AveragePrice)

	_, err = m.SubmitOrder("BTC-USD", Cover, 10, 90, OrderOptions{})
	require.NoError(t, err)

	pos = m.Position("BTC-USD")
	assert.Equal(t, 0.0, pos.Quantity)
}

func TestShortThenCoverPublishesExactRealizedPnL(t *testing.T) {
	b := bus.New()
	m := NewOrderManager(b, 0, func() float64 { return 0 })

	closed := make(chan events.PositionEvent, 1)
	b.Subscribe(events.TopicPositionClosed, func(_ string, payload any) error {
		closed <- payload.(events.PositionEvent)
		return nil
	}, bus.Normal)

	_, err := m.SubmitOrder("BTC-USD", Short, 10, 100, OrderOptions{})
	require.NoError(t, err)
	_, err = m.SubmitOrder("BTC-USD", Cover, 10, 90, OrderOptions{})
	require.NoError(t, err)
	b.Shutdown() // blocks until the queued position events have been delivered

	select {
	case ev := <-closed:
		assert.InDelta(t, 100.0, ev.RealizedPnL, 1e-9)
	default:
		t.Fatal("expected position_closed event")
	}
}

func TestLongStopLossRealizesNegativePnL(t *testing.T) {
	b := bus.New()
	m := NewOrderManager(b, 0, func() float64 { return 0 })

	closed := make(chan events.PositionEvent, 1)
	b.Subscribe(events.TopicPositionClosed, func(_ string, payload any) error {
		closed <- payload.(events.PositionEvent)
		return nil
	}, bus.Normal)

	_, err := m.SubmitOrder("BTC-USD", Buy, 1, 100, OrderOptions{})
	require.NoError(t, err)

	_, err = m.SubmitOrder("BTC-USD", Sell, 1, 94, OrderOptions{})
	require.NoError(t, err)
	b.Shutdown() // blocks until the queued position events have been delivered

	pos := m.Position("BTC-USD")
	assert.Equal(t, 0.0, pos.Quantity)

	select {
	case ev := <-closed:
		assert.InDelta(t, -6.0, ev.RealizedPnL, 1e-9) // (94-100)*1 on the LONG close
	default:
		t.Fatal("expected position_closed event")
	}
}

func TestSellOnNonLongPositionIsDroppedNotRejected(t *testing.T) {
	m := newTestManager(0)
	orderID, err := m.SubmitOrder("BTC-USD", Sell, 1, 100, OrderOptions{})
	require.NoError(t, err)
	assert.Empty(t, orderID)
	assert.Empty(t, m.Positions())
}

func TestCoverOnNonShortPositionIsDroppedNotRejected(t *testing.T) {
	m := newTestManager(0)
	orderID, err := m.SubmitOrder("BTC-USD", Cover, 1, 100, OrderOptions{})
	require.NoError(t, err)
	assert.Empty(t, orderID)
}

func TestBuyFlipsShortToLongWithRealizedPnLOnCloseLeg(t *testing.T) {
	b := bus.New()
	m := NewOrderManager(b, 0, func() float64 { return 0 })

	updated := make(chan events.PositionEvent, 1)
	b.Subscribe(events.TopicPositionUpdated, func(_ string, payload any) error {
		updated <- payload.(events.PositionEvent)
		return nil
	}, bus.Normal)

	_, err := m.SubmitOrder("BTC-USD", Short, 5, 100, OrderOptions{})
	require.NoError(t, err)
	_, err = m.SubmitOrder("BTC-USD", Buy, 8, 90, OrderOptions{})
	require.NoError(t, err)
	b.Shutdown() // blocks until the queued position events have been delivered

	pos := m.Position("BTC-USD")
	assert.Equal(t, "LONG", pos.PositionType())
	assert.InDelta(t, 3.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 90.0, pos.AveragePrice, 1e-9)

	select {
	case ev := <-updated:
		assert.InDelta(t, 50.0, ev.RealizedPnL, 1e-9) // (100-90)*5 closed on the SHORT leg
	default:
		t.Fatal("expected position_updated event for the flip")
	}
}

func TestSlippageWorsensFillPrice(t *testing.T) {
	m := newTestManager(1.0)
	_, err := m.SubmitOrder("BTC-USD", Buy, 1, 100, OrderOptions{})
	require.NoError(t, err)
	pos := m.Position("BTC-USD")
	assert.InDelta(t, 101.0, pos.AveragePrice, 1e-9)
}

func TestLeverageProducesLiquidationPrice(t *testing.T) {
	m := newTestManager(0)
	_, err := m.SubmitOrder("BTC-USD", Buy, 1, 100, OrderOptions{Leverage: 5})
	require.NoError(t, err)
	pos := m.Position("BTC-USD")
	require.NotNil(t, pos.LiquidationPrice)
	assert.InDelta(t, 80.0, *pos.LiquidationPrice, 1e-9)
}

func TestNoLeverageHasNilLiquidationPrice(t *testing.T) {
	m := newTestManager(0)
	_, err := m.SubmitOrder("BTC-USD", Buy, 1, 100, OrderOptions{})
	require.NoError(t, err)
	pos := m.Position("BTC-USD")
	assert.Nil(t, pos.LiquidationPrice)
}

func TestOnSignalGeneratedIgnoresNonActionableSignalTypes(t *testing.T) {
	b := bus.New()
	m := NewOrderManager(b, 0, func() float64 { return 0 })
	m.Start()
	defer m.Shutdown()

	b.Publish(events.TopicSignalGenerated, events.SignalGenerated{
		StrategyName: "s", Symbol: "BTC-USD", SignalType: "Z1", Side: "BUY", Quantity: 1, Price: 100,
	})
	b.Shutdown()
	assert.Empty(t, m.Positions())
}

func TestOnSignalGeneratedSubmitsOrderForS1(t *testing.T) {
	b := bus.New()
	m := NewOrderManager(b, 0, func() float64 { return 0 })
	m.Start()

	b.Publish(events.TopicSignalGenerated, events.SignalGenerated{
		StrategyName: "s", Symbol: "BTC-USD", SignalType: "S1", Side: "BUY", Quantity: 2, Price: 50,
	})
	b.Shutdown() // blocks until the handler dispatched above has completed

	assert.Equal(t, 2.0, m.Position("BTC-USD").Quantity)
}
