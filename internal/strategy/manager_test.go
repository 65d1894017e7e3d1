package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/indicatorengine/internal/bus"
	"github.com/marketpulse/indicatorengine/internal/events"
)

func TestCalculatePositionSizeClampsIntoRange(t *testing.T) {
	s := NewStrategy("trend-follow", "BTC-USD", GlobalLimits{BasePositionPct: 50, MinPositionPct: 5, MaxPositionPct: 20})
	assert.InDelta(t, 20.0, s.CalculatePositionSize(), 1e-9)

	s.Limits.BasePositionPct = 1
	assert.InDelta(t, 5.0, s.CalculatePositionSize(), 1e-9)

	s.Limits.BasePositionPct = 10
	assert.InDelta(t, 10.0, s.CalculatePositionSize(), 1e-9)
}

func TestStrategyLifecycleThroughFSM(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	m.Start()
	defer m.Shutdown()

	signals := make(chan events.SignalGenerated, 8)
	b.Subscribe(events.TopicSignalGenerated, func(_ string, payload any) error {
		signals <- payload.(events.SignalGenerated)
		return nil
	}, bus.Normal)

	s := NewStrategy("pump-strategy", "BTC-USD", GlobalLimits{BasePositionPct: 10, MinPositionPct: 1, MaxPositionPct: 20})
	s.SignalDetection = ConditionGroup{RequireAll: true, Conditions: []Condition{
		{ConditionType: "PUMP_MAGNITUDE_PCT", Operator: OpGTE, Value: 10},
	}}
	s.EntryConditions = ConditionGroup{RequireAll: true, Conditions: []Condition{
		{ConditionType: "VOLUME_SURGE_RATIO", Operator: OpGTE, Value: 2},
	}}
	s.CloseOnDetection = ConditionGroup{RequireAll: true, Conditions: []Condition{
		{ConditionType: "PUMP_MAGNITUDE_PCT", Operator: OpLTE, Value: 2},
	}}
	s.EmergencyExit = ConditionGroup{RequireAll: true, Conditions: []Condition{
		{ConditionType: "DUMP_EXHAUSTION_SCORE", Operator: OpGTE, Value: 0.9},
	}}
	s.Enable()
	m.AddStrategy(s)

	require.Equal(t, Monitoring, s.State())

	b.Publish(events.TopicIndicatorUpdated, events.IndicatorUpdated{IndicatorID: "PUMP_MAGNITUDE_PCT", Symbol: "BTC-USD", Value: 12})
	sig := waitFor(t, signals, func(sig events.SignalGenerated) bool { return sig.SignalType == "S1" })
	assert.Equal(t, "BUY", sig.Side)
	assert.InDelta(t, 10.0, sig.Quantity, 1e-9)
	assert.Equal(t, SignalDetected, s.State())

	// Z1 (entry confirmation) is state-only: no signal_generated publish,
	// so assert the transition by polling state rather than the channel.
	b.Publish(events.TopicIndicatorUpdated, events.IndicatorUpdated{IndicatorID: "VOLUME_SURGE_RATIO", Symbol: "BTC-USD", Value: 3})
	require.Eventually(t, func() bool { return s.State() == PositionActive }, 2*time.Second, 10*time.Millisecond)

	b.Publish(events.TopicIndicatorUpdated, events.IndicatorUpdated{IndicatorID: "PUMP_MAGNITUDE_PCT", Symbol: "BTC-USD", Value: 1})
	waitFor(t, signals, func(sig events.SignalGenerated) bool { return sig.SignalType == "ZE1" })
	assert.Equal(t, Closing, s.State())

	m.OnPositionClosed(s.Name, s.Symbol)
	assert.Equal(t, Monitoring, s.State())
}

func waitFor(t *testing.T, ch chan events.SignalGenerated, match func(events.SignalGenerated) bool) events.SignalGenerated {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case sig := <-ch:
			if match(sig) {
				return sig
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching signal")
		}
	}
}
