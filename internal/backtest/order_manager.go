// Package backtest implements the backtest order manager (C10): instant,
// deterministic order execution and quantity-sign position tracking for
// a backtest run.
package backtest

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/indicatorengine/internal/bus"
	"github.com/marketpulse/indicatorengine/internal/events"
	"github.com/marketpulse/indicatorengine/internal/metrics"
)

// OrderSide is the trading action a submitted order performs.
type OrderSide string

const (
	Buy   OrderSide = "BUY"
	Sell  OrderSide = "SELL"
	Short OrderSide = "SHORT"
	Cover OrderSide = "COVER"
)

// IsOpeningSide reports whether side opens a new position direction when
// applied to a flat symbol (BUY opens LONG, SHORT opens SHORT).
func (s OrderSide) IsOpeningSide() bool { return s == Buy || s == Short }

// OrderStatus is an order's lifecycle stage. Backtest fills are instant:
// an order only ever passes through New -> Filled (or Cancelled).
type OrderStatus string

const (
	OrderNew       OrderStatus = "NEW"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// OrderRecord is a submitted order and its instant fill.
type OrderRecord struct {
	OrderID      string
	Symbol       string
	Side         OrderSide
	Quantity     float64
	Price        float64 // fill price, after slippage
	Status       OrderStatus
	StrategyName string
	Leverage     float64
	OrderKind    string
	CreatedAt    float64
}

// PositionRecord tracks one symbol's position under the quantity-sign
// convention: quantity > 0 is LONG, < 0 is SHORT, 0 is flat.
type PositionRecord struct {
	Symbol           string
	Quantity         float64
	AveragePrice     float64
	Leverage         float64
	LiquidationPrice *float64
	UnrealizedPnL    float64
	UnrealizedPnLPct float64
}

// PositionType returns "LONG", "SHORT", or "NONE" per the quantity sign.
func (p *PositionRecord) PositionType() string {
	switch {
	case p.Quantity > 0:
		return "LONG"
	case p.Quantity < 0:
		return "SHORT"
	default:
		return "NONE"
	}
}

// PositionSize returns the absolute position quantity.
func (p *PositionRecord) PositionSize() float64 { return math.Abs(p.Quantity) }

// UpdateUnrealizedPnL recomputes unrealized P&L against currentPrice.
func (p *PositionRecord) UpdateUnrealizedPnL(currentPrice float64) {
	if p.Quantity == 0 || p.AveragePrice == 0 {
		p.UnrealizedPnL = 0
		p.UnrealizedPnLPct = 0
		return
	}
	if p.Quantity > 0 {
		p.UnrealizedPnL = p.Quantity * (currentPrice - p.AveragePrice)
		p.UnrealizedPnLPct = (currentPrice - p.AveragePrice) / p.AveragePrice * 100
	} else {
		p.UnrealizedPnL = math.Abs(p.Quantity) * (p.AveragePrice - currentPrice)
		p.UnrealizedPnLPct = (p.AveragePrice - currentPrice) / p.AveragePrice * 100
	}
}

// OrderOptions carries the optional fields accepted by SubmitOrder.
type OrderOptions struct {
	StrategyName string
	OrderKind    string // defaults to "MARKET"
	Leverage     float64 // defaults to 1.0
}

// OrderManager is the backtest order manager: instant fills, a
// configurable slippage model, and in-memory order/position books.
// It mirrors the streaming order manager's external event shape so
// downstream persistence does not need to distinguish backtest from
// live fills.
type OrderManager struct {
	mu    sync.Mutex // guards orders and positions
	seqMu sync.Mutex // guards order_seq, kept separate per the atomic-id-generation contract

	bus         *bus.Bus
	slippagePct float64
	clock       func() float64

	orders    map[string]*OrderRecord
	positions map[string]*PositionRecord
	seq       uint64

	sub     bus.SubscriptionHandle
	started bool

	metrics *metrics.Registry // optional; nil disables instrumentation
}

// SetMetrics attaches a metrics registry. Safe to call before or after Start.
func (m *OrderManager) SetMetrics(r *metrics.Registry) { m.metrics = r }

// NewOrderManager constructs an OrderManager publishing/subscribing on b.
// slippagePct is a percentage (0 disables slippage, matching a
// deterministic backtest by default).
func NewOrderManager(b *bus.Bus, slippagePct float64, clock func() float64) *OrderManager {
	if clock == nil {
		clock = func() float64 { return 0 }
	}
	return &OrderManager{
		bus:         b,
		slippagePct: slippagePct,
		clock:       clock,
		orders:      make(map[string]*OrderRecord),
		positions:   make(map[string]*PositionRecord),
	}
}

// Start subscribes to signal_generated.
func (m *OrderManager) Start() {
	if m.started {
		return
	}
	m.sub = m.bus.Subscribe(events.TopicSignalGenerated, m.onSignalGenerated, bus.Normal)
	m.started = true
}

// Shutdown unsubscribes and clears the order/position books.
func (m *OrderManager) Shutdown() {
	if !m.started {
		return
	}
	m.bus.Unsubscribe(m.sub)

	m.mu.Lock()
	m.orders = make(map[string]*OrderRecord)
	m.positions = make(map[string]*PositionRecord)
	m.mu.Unlock()

	m.started = false
}

// onSignalGenerated only acts on S1/ZE1/E1: Z1 (entry confirmation) and
// O1 (cancel) are state-only per the strategy manager's contract and
// never reach the bus as signal_generated in the first place, but the
// signal_type allowlist is kept explicit here to match the upstream
// contract rather than relying on that invariant.
func (m *OrderManager) onSignalGenerated(_ string, payload any) error {
	sig, ok := payload.(events.SignalGenerated)
	if !ok {
		return nil
	}
	if sig.SignalType != "S1" && sig.SignalType != "ZE1" && sig.SignalType != "E1" {
		return nil
	}
	if sig.Symbol == "" || sig.Side == "" || sig.Quantity <= 0 || sig.Price <= 0 {
		log.Error().Interface("signal", sig).Msg("backtest_order_manager.invalid_signal")
		return nil
	}

	side := OrderSide(sig.Side)
	switch side {
	case Buy, Sell, Short, Cover:
	default:
		log.Error().Str("side", sig.Side).Str("symbol", sig.Symbol).Msg("backtest_order_manager.invalid_signal_side")
		return nil
	}

	_, err := m.SubmitOrder(sig.Symbol, side, sig.Quantity, sig.Price, OrderOptions{StrategyName: sig.StrategyName})
	if err != nil {
		log.Error().Err(err).Interface("signal", sig).Msg("backtest_order_manager.signal_processing_failed")
	}
	return nil
}

func (m *OrderManager) nextOrderID() string {
	m.seqMu.Lock()
	m.seq++
	id := m.seq
	m.seqMu.Unlock()
	return fmt.Sprintf("backtest_order_%06d", id)
}

func calculateLiquidationPrice(entryPrice, leverage float64, isLong bool) *float64 {
	if leverage <= 1.0 {
		return nil
	}
	var v float64
	if isLong {
		v = entryPrice * (1 - 1/leverage)
	} else {
		v = entryPrice * (1 + 1/leverage)
	}
	return &v
}

func fillPrice(side OrderSide, price, slippagePct float64) float64 {
	if slippagePct <= 0 {
		return price
	}
	factor := 1.0 + slippagePct/100.0
	if side == Buy || side == Short {
		return price * factor // worse price for buys/shorts
	}
	return price * (2.0 - factor) // worse price for sells/covers
}

// SubmitOrder records and instantly fills an order, then applies its
// position update. SELL on a non-long position or COVER on a non-short
// position is an invalid operation: it is logged and the order is
// dropped before any order or position state is touched.
func (m *OrderManager) SubmitOrder(symbol string, side OrderSide, quantity, price float64, opts OrderOptions) (string, error) {
	if opts.OrderKind == "" {
		opts.OrderKind = "MARKET"
	}
	if opts.Leverage == 0 {
		opts.Leverage = 1.0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos := m.positions[symbol]
	if pos == nil {
		pos = &PositionRecord{Symbol: symbol}
	}
	if side == Sell && pos.Quantity <= 0 {
		log.Warn().Str("symbol", symbol).Float64("position", pos.Quantity).Msg("backtest_order_manager.invalid_sell")
		if m.metrics != nil {
			m.metrics.RecordOrderDropped(symbol, string(side))
		}
		return "", nil
	}
	if side == Cover && pos.Quantity >= 0 {
		log.Warn().Str("symbol", symbol).Float64("position", pos.Quantity).Msg("backtest_order_manager.invalid_cover")
		if m.metrics != nil {
			m.metrics.RecordOrderDropped(symbol, string(side))
		}
		return "", nil
	}

	orderID := m.nextOrderID()
	filled := fillPrice(side, price, m.slippagePct)

	order := &OrderRecord{
		OrderID:      orderID,
		Symbol:       symbol,
		Side:         side,
		Quantity:     quantity,
		Price:        filled,
		Status:       OrderNew,
		StrategyName: opts.StrategyName,
		Leverage:     opts.Leverage,
		OrderKind:    opts.OrderKind,
		CreatedAt:    m.clock(),
	}
	m.orders[orderID] = order

	m.bus.Publish(events.TopicOrderCreated, events.OrderEvent{
		OrderID: orderID, Symbol: symbol, Side: string(side),
		Quantity: quantity, Price: filled, Status: string(OrderNew), Timestamp: order.CreatedAt,
	})

	m.applyPositionUpdate(pos, order)
	m.positions[symbol] = pos

	order.Status = OrderFilled
	m.bus.Publish(events.TopicOrderFilled, events.OrderEvent{
		OrderID: orderID, Symbol: symbol, Side: string(side),
		Quantity: quantity, Price: filled, Status: string(OrderFilled), Timestamp: m.clock(),
	})

	log.Info().Str("order_id", orderID).Str("symbol", symbol).Str("side", string(side)).
		Float64("quantity", quantity).Float64("price", filled).Msg("backtest_order_manager.order_filled")

	if m.metrics != nil {
		m.metrics.RecordOrderFilled(symbol, string(side))
	}

	return orderID, nil
}

// applyPositionUpdate mutates pos for order under the quantity-sign
// convention and publishes the resulting position_* event. A close leg
// that crosses through zero realizes P&L on the closed portion; any
// remainder opens a position in the opposite direction (flip).
func (m *OrderManager) applyPositionUpdate(pos *PositionRecord, order *OrderRecord) {
	oldQty := pos.Quantity

	var delta float64
	switch order.Side {
	case Buy, Cover:
		delta = order.Quantity
	case Sell, Short:
		delta = -order.Quantity
	}
	newQty := oldQty + delta

	closingDirection := oldQty != 0 && ((oldQty > 0 && delta < 0) || (oldQty < 0 && delta > 0))

	var realizedPnL float64
	if closingDirection {
		closeQty := math.Min(math.Abs(delta), math.Abs(oldQty))
		if oldQty > 0 {
			realizedPnL = (order.Price - pos.AveragePrice) * closeQty
		} else {
			realizedPnL = (pos.AveragePrice - order.Price) * closeQty
		}
	}

	isLong := newQty > 0
	switch {
	case oldQty == 0:
		// Opening a fresh position.
		pos.Quantity = newQty
		pos.AveragePrice = order.Price
		pos.Leverage = order.Leverage
		pos.LiquidationPrice = calculateLiquidationPrice(order.Price, order.Leverage, isLong)
	case !closingDirection:
		// Increasing an existing position in the same direction.
		oldAbs, newAbs := math.Abs(oldQty), math.Abs(newQty)
		pos.AveragePrice = (oldAbs*pos.AveragePrice + order.Quantity*order.Price) / newAbs
		pos.Quantity = newQty
		pos.LiquidationPrice = calculateLiquidationPrice(pos.AveragePrice, pos.Leverage, isLong)
	case newQty == 0:
		// Fully closed.
		pos.Quantity = 0
		pos.AveragePrice = 0
		pos.Leverage = 1.0
		pos.LiquidationPrice = nil
	case (oldQty > 0) == (newQty > 0):
		// Partially closed: the remaining quantity keeps its entry price.
		pos.Quantity = newQty
	default:
		// Closed through zero: remainder opens the opposite direction.
		pos.Quantity = newQty
		pos.AveragePrice = order.Price
		pos.Leverage = order.Leverage
		pos.LiquidationPrice = calculateLiquidationPrice(order.Price, order.Leverage, isLong)
	}

	log.Info().Str("symbol", order.Symbol).Str("order_side", string(order.Side)).
		Float64("new_quantity", pos.Quantity).Str("position_type", pos.PositionType()).
		Float64("average_price", pos.AveragePrice).Msg("backtest_order_manager.position_updated")

	positionID := order.Symbol + "_" + order.OrderID
	now := m.clock()
	switch {
	case oldQty == 0 && pos.Quantity != 0:
		pos.UpdateUnrealizedPnL(order.Price)
		m.bus.Publish(events.TopicPositionOpened, events.PositionEvent{
			PositionID: positionID, Symbol: order.Symbol, Side: pos.PositionType(),
			Quantity: pos.PositionSize(), EntryPrice: pos.AveragePrice, CurrentPrice: order.Price,
			Timestamp: now,
		})
	case oldQty != 0 && pos.Quantity == 0:
		m.bus.Publish(events.TopicPositionClosed, events.PositionEvent{
			PositionID: positionID, Symbol: order.Symbol, CurrentPrice: order.Price,
			RealizedPnL: realizedPnL, Timestamp: now,
		})
		if m.metrics != nil {
			m.metrics.RealizedPnLSum.Add(math.Abs(realizedPnL))
		}
	case oldQty != 0 && pos.Quantity != 0:
		pos.UpdateUnrealizedPnL(order.Price)
		m.bus.Publish(events.TopicPositionUpdated, events.PositionEvent{
			PositionID: positionID, Symbol: order.Symbol, CurrentPrice: order.Price,
			RealizedPnL: realizedPnL, UnrealizedPnL: pos.UnrealizedPnL, Timestamp: now,
		})
	}
	if m.metrics != nil && closingDirection {
		m.metrics.RealizedPnLSum.Add(math.Abs(realizedPnL))
	}
}

// Position returns a copy of symbol's current position (zero-value if flat/unknown).
func (m *OrderManager) Position(symbol string) PositionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[symbol]; ok {
		return *p
	}
	return PositionRecord{Symbol: symbol}
}

// Positions returns every currently-open (non-flat) position.
func (m *OrderManager) Positions() []PositionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PositionRecord, 0, len(m.positions))
	for _, p := range m.positions {
		if p.Quantity != 0 {
			out = append(out, *p)
		}
	}
	return out
}

// Order returns a copy of a previously submitted order.
func (m *OrderManager) Order(orderID string) (OrderRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		return *o, true
	}
	return OrderRecord{}, false
}

// CancelOrder marks an order cancelled and publishes order_cancelled.
// Backtest fills are instant, so this only applies to bookkeeping, not
// in-flight orders.
func (m *OrderManager) CancelOrder(orderID string) bool {
	m.mu.Lock()
	order, ok := m.orders[orderID]
	if ok {
		order.Status = OrderCancelled
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.bus.Publish(events.TopicOrderCancelled, events.OrderEvent{OrderID: orderID, Status: string(OrderCancelled), Timestamp: m.clock()})
	return true
}
