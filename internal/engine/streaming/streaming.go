// Package streaming implements the streaming indicator engine (C6): it
// owns live indicator instances bound to (session, symbol) pairs and
// schedules them either on market.price_update (event-driven) or on a
// timer (time-driven), adapted from the teacher's stub event bus
// dispatch style and mutex-guarded per-engine state idiom.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketpulse/indicatorengine/internal/algorithm"
	"github.com/marketpulse/indicatorengine/internal/bus"
	"github.com/marketpulse/indicatorengine/internal/config"
	"github.com/marketpulse/indicatorengine/internal/dispatch"
	"github.com/marketpulse/indicatorengine/internal/errs"
	"github.com/marketpulse/indicatorengine/internal/events"
	"github.com/marketpulse/indicatorengine/internal/registry"
	"github.com/marketpulse/indicatorengine/internal/variant"
	"github.com/marketpulse/indicatorengine/internal/window"
)

// VariantResolver is the subset of variant.Repository the engine needs.
type VariantResolver interface {
	Get(ctx context.Context, id string) (*variant.Variant, error)
}

type sessionKey struct {
	SessionID string
	Symbol    string
}

// binding is one indicator instance attached to a (session, symbol).
type binding struct {
	IndicatorID     string
	VariantID       string
	SessionID       string
	Symbol          string
	Parameters      algorithm.Parameters
	dedupKey        string
	Algorithm       algorithm.Algorithm
	LastValue       *float64
	LastTimestamp   float64
	CreatedAt       float64
	IsTimeDriven    bool
	RefreshInterval float64
	NextDue         float64
	heapIndex       int
}

// Binding is the read-only snapshot returned by ListSessionIndicators.
type Binding struct {
	IndicatorID   string
	VariantID     string
	IndicatorType string
	LastValue     *float64
	LastTimestamp float64
	IsTimeDriven  bool
}

// Engine is the C6 streaming indicator engine.
type Engine struct {
	mu sync.Mutex

	registry *registry.Registry
	variants VariantResolver
	bus      *bus.Bus
	cfg      config.EngineConfig

	// Clock lets tests substitute a deterministic time source; defaults
	// to wall-clock seconds since epoch.
	Clock func() float64

	priceHistory  map[string][]window.Point
	volumeHistory map[string][]window.Point
	obHistory     map[string][]window.OrderBookPoint
	retention     map[string]float64

	bindings    map[string]*binding
	bySession   map[sessionKey]map[string]*binding
	eventDriven map[string]map[string]*binding
	timeQueue   timeQueue

	priceSub bus.SubscriptionHandle
	started  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs an Engine bound to reg for algorithm lookup, variants
// for variant resolution, and b for event-driven dispatch/publication.
func New(reg *registry.Registry, variants VariantResolver, b *bus.Bus, cfg config.EngineConfig) *Engine {
	return &Engine{
		registry:      reg,
		variants:      variants,
		bus:           b,
		cfg:           cfg,
		Clock:         defaultClock,
		priceHistory:  make(map[string][]window.Point),
		volumeHistory: make(map[string][]window.Point),
		obHistory:     make(map[string][]window.OrderBookPoint),
		retention:     make(map[string]float64),
		bindings:      make(map[string]*binding),
		bySession:     make(map[sessionKey]map[string]*binding),
		eventDriven:   make(map[string]map[string]*binding),
	}
}

func defaultClock() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// Start subscribes to market.price_update and launches the time-driven
// scheduling loop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.priceSub = e.bus.Subscribe(events.TopicMarketPriceUpdate, e.onPriceUpdateEvent, bus.Normal)

	e.wg.Add(1)
	go e.runTimeLoop(ctx)
}

// Shutdown unsubscribes from the bus and stops the time-driven loop.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.stopCh)
	e.mu.Unlock()

	e.bus.Unsubscribe(e.priceSub)
	e.wg.Wait()
}

func (e *Engine) onPriceUpdateEvent(_ string, payload any) error {
	pu, ok := payload.(events.PriceUpdate)
	if !ok {
		return fmt.Errorf("streaming engine: unexpected price_update payload type %T", payload)
	}
	e.IngestPriceUpdate(pu)
	return nil
}

// IngestPriceUpdate appends to the symbol's price/volume history and
// recomputes every event-driven indicator bound to that symbol.
func (e *Engine) IngestPriceUpdate(pu events.PriceUpdate) {
	e.mu.Lock()
	e.appendPricePoint(pu.Symbol, window.Point{Timestamp: pu.Timestamp, Value: pu.Price})
	e.appendVolumePoint(pu.Symbol, window.Point{Timestamp: pu.Timestamp, Value: pu.Volume})
	e.evict(pu.Symbol, pu.Timestamp)

	toEvaluate := make([]*binding, 0, len(e.eventDriven[pu.Symbol]))
	for _, b := range e.eventDriven[pu.Symbol] {
		toEvaluate = append(toEvaluate, b)
	}
	priceHist := e.priceHistory[pu.Symbol]
	volHist := e.volumeHistory[pu.Symbol]
	obHist := e.obHistory[pu.Symbol]
	e.mu.Unlock()

	for _, b := range toEvaluate {
		e.evaluateAndPublish(b, priceHist, volHist, obHist, pu.Timestamp)
	}
}

// IngestOrderBookUpdate appends a snapshot to the symbol's orderbook
// history. No bus topic carries orderbook data (§6); callers ingest it
// directly.
func (e *Engine) IngestOrderBookUpdate(ob events.OrderBookUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendOrderBookPoint(ob.Symbol, window.OrderBookPoint{
		Timestamp: ob.Timestamp, BestBid: ob.BestBid, BestAsk: ob.BestAsk,
		BidQty: ob.BidQty, AskQty: ob.AskQty,
	})
	e.evict(ob.Symbol, ob.Timestamp)
}

func (e *Engine) evaluateAndPublish(b *binding, priceHist, volHist []window.Point, obHist []window.OrderBookPoint, evalTS float64) {
	value := dispatch.Evaluate(b.Algorithm, priceHist, volHist, obHist, b.Parameters, evalTS)

	e.mu.Lock()
	b.LastValue = value
	b.LastTimestamp = evalTS
	e.mu.Unlock()

	if value == nil {
		return
	}
	e.bus.Publish(events.TopicIndicatorUpdated, events.IndicatorUpdated{
		IndicatorID: b.IndicatorID,
		Symbol:      b.Symbol,
		Value:       *value,
		Timestamp:   evalTS,
	})
}

// AddIndicatorToSession resolves variantID, merges parameters, and binds
// a new (or deduplicated, reused) indicator instance to (sessionID,
// symbol). Returns the indicator id.
func (e *Engine) AddIndicatorToSession(ctx context.Context, sessionID, symbol, variantID string, parametersOverride map[string]any) (string, error) {
	v, err := e.variants.Get(ctx, variantID)
	if err != nil {
		return "", err
	}

	alg := e.registry.Get(v.BaseIndicatorType)
	if alg == nil {
		return "", fmt.Errorf("%w: %s", errs.ErrUnknownAlgorithm, v.BaseIndicatorType)
	}

	merged := mergeParameters(v.Parameters, parametersOverride)
	params := algorithm.NewParameters(merged)
	dedupKey := variantID + "|" + canonicalKey(merged)

	e.mu.Lock()
	defer e.mu.Unlock()

	key := sessionKey{SessionID: sessionID, Symbol: symbol}
	for _, existing := range e.bySession[key] {
		if existing.dedupKey == dedupKey {
			return existing.IndicatorID, nil
		}
	}

	b := &binding{
		IndicatorID:  uuid.New().String(),
		VariantID:    variantID,
		SessionID:    sessionID,
		Symbol:       symbol,
		Parameters:   params,
		dedupKey:     dedupKey,
		Algorithm:    alg,
		IsTimeDriven: alg.IsTimeDriven(),
		CreatedAt:    e.Clock(),
	}

	if b.IsTimeDriven {
		b.RefreshInterval = algorithm.CalculateRefreshInterval(alg, params)
		b.NextDue = e.Clock() + b.RefreshInterval
		e.timeQueue.push(b)
	} else {
		if e.eventDriven[symbol] == nil {
			e.eventDriven[symbol] = make(map[string]*binding)
		}
		e.eventDriven[symbol][b.IndicatorID] = b
	}

	if e.bySession[key] == nil {
		e.bySession[key] = make(map[string]*binding)
	}
	e.bySession[key][b.IndicatorID] = b
	e.bindings[b.IndicatorID] = b

	e.updateRetention(symbol)

	log.Debug().
		Str("session_id", sessionID).Str("symbol", symbol).
		Str("indicator_id", b.IndicatorID).Str("variant_id", variantID).
		Msg("streaming_engine.indicator_added")

	return b.IndicatorID, nil
}

// RemoveIndicatorFromSession detaches an indicator from (sessionID,
// symbol) and its scheduling index.
func (e *Engine) RemoveIndicatorFromSession(sessionID, symbol, indicatorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := sessionKey{SessionID: sessionID, Symbol: symbol}
	group, ok := e.bySession[key]
	if !ok {
		return errs.ErrIndicatorNotFound
	}
	b, ok := group[indicatorID]
	if !ok {
		return errs.ErrIndicatorNotFound
	}

	delete(group, indicatorID)
	if len(group) == 0 {
		delete(e.bySession, key)
	}
	delete(e.bindings, indicatorID)

	if b.IsTimeDriven {
		e.timeQueue.remove(b)
	} else if m := e.eventDriven[symbol]; m != nil {
		delete(m, indicatorID)
	}

	e.updateRetention(symbol)
	return nil
}

// ListSessionIndicators returns a snapshot of every indicator bound to
// (sessionID, symbol).
func (e *Engine) ListSessionIndicators(sessionID, symbol string) []Binding {
	e.mu.Lock()
	defer e.mu.Unlock()

	group := e.bySession[sessionKey{SessionID: sessionID, Symbol: symbol}]
	out := make([]Binding, 0, len(group))
	for _, b := range group {
		out = append(out, Binding{
			IndicatorID:   b.IndicatorID,
			VariantID:     b.VariantID,
			IndicatorType: b.Algorithm.IndicatorType(),
			LastValue:     b.LastValue,
			LastTimestamp: b.LastTimestamp,
			IsTimeDriven:  b.IsTimeDriven,
		})
	}
	return out
}

// CleanupDuplicates keeps the most-recently-created binding for each
// (variant_id, parameters) key within (sessionID, symbol) and removes the
// rest. Returns the number removed.
func (e *Engine) CleanupDuplicates(sessionID, symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := sessionKey{SessionID: sessionID, Symbol: symbol}
	group := e.bySession[key]
	if len(group) == 0 {
		return 0
	}

	keepByDedup := make(map[string]*binding)
	for _, b := range group {
		cur, ok := keepByDedup[b.dedupKey]
		if !ok || b.CreatedAt > cur.CreatedAt {
			keepByDedup[b.dedupKey] = b
		}
	}

	removed := 0
	for id, b := range group {
		if keepByDedup[b.dedupKey].IndicatorID != id {
			delete(group, id)
			delete(e.bindings, id)
			if b.IsTimeDriven {
				e.timeQueue.remove(b)
			} else if m := e.eventDriven[symbol]; m != nil {
				delete(m, id)
			}
			removed++
		}
	}
	if len(group) == 0 {
		delete(e.bySession, key)
	}
	return removed
}

func mergeParameters(base map[string]any, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// canonicalKey relies on encoding/json's alphabetical map-key ordering to
// produce a stable dedup key without a bespoke serializer.
func canonicalKey(params map[string]any) string {
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(b)
}
