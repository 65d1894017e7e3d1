package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/indicatorengine/internal/algorithm"
	"github.com/marketpulse/indicatorengine/internal/bus"
	"github.com/marketpulse/indicatorengine/internal/config"
	"github.com/marketpulse/indicatorengine/internal/events"
	"github.com/marketpulse/indicatorengine/internal/registry"
	"github.com/marketpulse/indicatorengine/internal/variant"
	"github.com/marketpulse/indicatorengine/internal/window"
)

type fakeVariants struct {
	byID map[string]*variant.Variant
}

func (f *fakeVariants) Get(_ context.Context, id string) (*variant.Variant, error) {
	v, ok := f.byID[id]
	if !ok {
		return nil, assertNotFound
	}
	return v, nil
}

var assertNotFound = errNotFound("variant not found")

type errNotFound string

func (e errNotFound) Error() string { return string(e) }

func newTestEngine(t *testing.T) (*Engine, *registry.Registry, *fakeVariants) {
	t.Helper()
	reg := registry.New()
	reg.AutoDiscover()
	variants := &fakeVariants{byID: map[string]*variant.Variant{
		"v-sma": {ID: "v-sma", BaseIndicatorType: "SMA", Parameters: map[string]any{"period": 60.0}},
	}}
	e := New(reg, variants, bus.New(), config.DefaultEngineConfig())
	return e, reg, variants
}

func TestAddIndicatorToSessionDedupesIdenticalBinding(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	id1, err := e.AddIndicatorToSession(ctx, "s1", "BTC-USD", "v-sma", nil)
	require.NoError(t, err)
	id2, err := e.AddIndicatorToSession(ctx, "s1", "BTC-USD", "v-sma", nil)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, e.ListSessionIndicators("s1", "BTC-USD"), 1)
}

func TestAddIndicatorToSessionDistinctParametersAreSeparateBindings(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AddIndicatorToSession(ctx, "s1", "BTC-USD", "v-sma", nil)
	require.NoError(t, err)
	_, err = e.AddIndicatorToSession(ctx, "s1", "BTC-USD", "v-sma", map[string]any{"period": 120.0})
	require.NoError(t, err)

	assert.Len(t, e.ListSessionIndicators("s1", "BTC-USD"), 2)
}

func TestRemoveIndicatorFromSession(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.AddIndicatorToSession(ctx, "s1", "BTC-USD", "v-sma", nil)
	require.NoError(t, err)

	require.NoError(t, e.RemoveIndicatorFromSession("s1", "BTC-USD", id))
	assert.Empty(t, e.ListSessionIndicators("s1", "BTC-USD"))

	err = e.RemoveIndicatorFromSession("s1", "BTC-USD", id)
	assert.Error(t, err)
}

func TestCleanupDuplicatesKeepsMostRecentlyCreated(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	id1, err := e.AddIndicatorToSession(ctx, "s1", "BTC-USD", "v-sma", nil)
	require.NoError(t, err)

	b1 := e.bindings[id1]
	b1.CreatedAt = 100

	b2 := &binding{
		IndicatorID: "manual-dup", VariantID: "v-sma", SessionID: "s1", Symbol: "BTC-USD",
		Parameters: b1.Parameters, dedupKey: b1.dedupKey, Algorithm: b1.Algorithm, CreatedAt: 200,
	}
	e.bindings[b2.IndicatorID] = b2
	e.bySession[sessionKey{SessionID: "s1", Symbol: "BTC-USD"}][b2.IndicatorID] = b2
	e.eventDriven["BTC-USD"][b2.IndicatorID] = b2

	removed := e.CleanupDuplicates("s1", "BTC-USD")
	assert.Equal(t, 1, removed)

	remaining := e.ListSessionIndicators("s1", "BTC-USD")
	require.Len(t, remaining, 1)
	assert.Equal(t, "manual-dup", remaining[0].IndicatorID)
}

func TestIngestPriceUpdateDispatchesEventDrivenIndicatorAndPublishes(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.AddIndicatorToSession(ctx, "s1", "BTC-USD", "v-sma", nil)
	require.NoError(t, err)

	updates := make(chan events.IndicatorUpdated, 8)
	e.bus.Subscribe(events.TopicIndicatorUpdated, func(_ string, payload any) error {
		updates <- payload.(events.IndicatorUpdated)
		return nil
	}, bus.Normal)

	e.IngestPriceUpdate(events.PriceUpdate{Symbol: "BTC-USD", Price: 100, Volume: 1, Timestamp: 0})
	e.IngestPriceUpdate(events.PriceUpdate{Symbol: "BTC-USD", Price: 110, Volume: 1, Timestamp: 30})
	e.IngestPriceUpdate(events.PriceUpdate{Symbol: "BTC-USD", Price: 120, Volume: 1, Timestamp: 60})

	indicators := e.ListSessionIndicators("s1", "BTC-USD")
	require.Len(t, indicators, 1)
	assert.Equal(t, id, indicators[0].IndicatorID)
	require.NotNil(t, indicators[0].LastValue)
	assert.Greater(t, *indicators[0].LastValue, 100.0)

	select {
	case u := <-updates:
		assert.Equal(t, id, u.IndicatorID)
		assert.Equal(t, "BTC-USD", u.Symbol)
	case <-time.After(time.Second):
		t.Fatal("expected indicator.updated publication")
	}
}

func TestPublishedPriceUpdatesDispatchInIngressOrder(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.AddIndicatorToSession(ctx, "s1", "BTC-USD", "v-sma", nil)
	require.NoError(t, err)

	const n = 50
	updates := make(chan events.IndicatorUpdated, n)
	e.bus.Subscribe(events.TopicIndicatorUpdated, func(_ string, payload any) error {
		updates <- payload.(events.IndicatorUpdated)
		return nil
	}, bus.Normal)

	e.Start(ctx)
	defer e.Shutdown()

	for i := 0; i < n; i++ {
		e.bus.Publish(events.TopicMarketPriceUpdate, events.PriceUpdate{
			Symbol: "BTC-USD", Price: 100 + float64(i), Volume: 1, Timestamp: float64(i),
		})
	}

	// The very first price update for a fresh symbol yields no value: the
	// SMA window ends just before the evaluation timestamp, so it holds no
	// point yet and SimpleAverage returns nil; every later update has the
	// earlier points in its window.
	const want = n - 1
	var lastTS float64 = -1
	for i := 0; i < want; i++ {
		select {
		case u := <-updates:
			require.Equal(t, id, u.IndicatorID)
			assert.Greater(t, u.Timestamp, lastTS, "indicator.updated events arrived out of ingress order")
			lastTS = u.Timestamp
		case <-time.After(2 * time.Second):
			t.Fatalf("only received %d of %d indicator.updated events", i, want)
		}
	}
}

func TestTimeDrivenIndicatorFiresOnSchedule(t *testing.T) {
	reg := registry.New()
	reg.Register(&fakeTimeDrivenAlgorithm{})
	variants := &fakeVariants{byID: map[string]*variant.Variant{
		"v-td": {ID: "v-td", BaseIndicatorType: "FAKE_TIME_DRIVEN", Parameters: map[string]any{}},
	}}
	b := bus.New()
	e := New(reg, variants, b, config.EngineConfig{HistoryRetentionSafetyFactor: 1.5, TickLoopMinSleep: time.Millisecond})

	var clockMu sync.Mutex
	now := 0.0
	e.Clock = func() float64 {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	updates := make(chan events.IndicatorUpdated, 8)
	b.Subscribe(events.TopicIndicatorUpdated, func(_ string, payload any) error {
		updates <- payload.(events.IndicatorUpdated)
		return nil
	}, bus.Normal)

	_, err := e.AddIndicatorToSession(context.Background(), "s1", "BTC-USD", "v-td", nil)
	require.NoError(t, err)

	e.Start(context.Background())
	defer e.Shutdown()

	clockMu.Lock()
	now = 1.0
	clockMu.Unlock()

	select {
	case u := <-updates:
		assert.Equal(t, "BTC-USD", u.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("expected time-driven indicator.updated publication")
	}
}

// fakeTimeDrivenAlgorithm always fires every 1 second and always returns a
// value, used to exercise the scheduling loop without depending on real
// history data.
type fakeTimeDrivenAlgorithm struct{}

func (fakeTimeDrivenAlgorithm) IndicatorType() string                         { return "FAKE_TIME_DRIVEN" }
func (fakeTimeDrivenAlgorithm) Name() string                                  { return "fake time driven" }
func (fakeTimeDrivenAlgorithm) Description() string                          { return "" }
func (fakeTimeDrivenAlgorithm) Category() string                             { return "test" }
func (fakeTimeDrivenAlgorithm) Parameters() []algorithm.VariantParameter      { return nil }
func (fakeTimeDrivenAlgorithm) WindowSpecs(algorithm.Parameters) []window.Spec { return nil }
func (fakeTimeDrivenAlgorithm) IsTimeDriven() bool                            { return true }
func (fakeTimeDrivenAlgorithm) DefaultRefreshInterval() float64               { return 1.0 }
func (fakeTimeDrivenAlgorithm) MinRefreshInterval() float64                   { return 1.0 }
func (fakeTimeDrivenAlgorithm) MaxRefreshInterval() float64                   { return 1.0 }
func (fakeTimeDrivenAlgorithm) CalculateFromWindows([]window.Window, algorithm.Parameters) *float64 {
	v := 1.0
	return &v
}
