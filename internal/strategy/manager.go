package strategy

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/indicatorengine/internal/bus"
	"github.com/marketpulse/indicatorengine/internal/events"
	"github.com/marketpulse/indicatorengine/internal/metrics"
)

// State is a strategy's position in the FSM.
type State string

const (
	Idle           State = "Idle"
	Monitoring     State = "Monitoring"
	SignalDetected State = "SignalDetected"
	PositionActive State = "PositionActive"
	Closing        State = "Closing"
)

// GlobalLimits bounds calculate_position_size's result.
type GlobalLimits struct {
	BasePositionPct float64
	MinPositionPct  float64
	MaxPositionPct  float64
}

// Strategy is one FSM instance bound to a (strategy_name, symbol) pair.
type Strategy struct {
	Name    string
	Symbol  string
	Enabled bool

	SignalDetection    ConditionGroup // S1
	SignalCancellation ConditionGroup // O1
	EntryConditions    ConditionGroup // Z1
	CloseOnDetection   ConditionGroup // ZE1
	EmergencyExit      ConditionGroup // E1

	Limits GlobalLimits

	state  State
	values map[string]float64
}

// NewStrategy returns a disabled (Idle) strategy instance.
func NewStrategy(name, symbol string, limits GlobalLimits) *Strategy {
	return &Strategy{
		Name: name, Symbol: symbol, Limits: limits,
		state: Idle, values: make(map[string]float64),
	}
}

// State returns the strategy's current FSM state.
func (s *Strategy) State() State { return s.state }

// Enable transitions Idle -> Monitoring (or any state -> Monitoring per
// the "any -> enable -> Monitoring" rule is not asserted; enable only
// acts from Idle, matching the diagram's single outbound edge).
func (s *Strategy) Enable() {
	s.Enabled = true
	if s.state == Idle {
		s.state = Monitoring
	}
}

// Disable transitions any state back to Idle.
func (s *Strategy) Disable() {
	s.Enabled = false
	s.state = Idle
}

// CalculatePositionSize returns base_position_pct clamped into
// [min_position_pct, max_position_pct].
func (s *Strategy) CalculatePositionSize() float64 {
	return clamp(s.Limits.BasePositionPct, s.Limits.MinPositionPct, s.Limits.MaxPositionPct)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Manager owns every bound Strategy and drives its FSM from
// indicator.updated, publishing signal_generated on transitions that
// require one.
type Manager struct {
	mu    sync.Mutex
	bus   *bus.Bus
	byKey map[stratKey]*Strategy
	sub   bus.SubscriptionHandle

	metrics *metrics.Registry // optional; nil disables instrumentation
}

// SetMetrics attaches a metrics registry. Safe to call before or after Start.
func (m *Manager) SetMetrics(r *metrics.Registry) { m.metrics = r }

type stratKey struct {
	Name   string
	Symbol string
}

// NewManager constructs a Manager bound to b for both consuming
// indicator.updated and publishing signal_generated.
func NewManager(b *bus.Bus) *Manager {
	return &Manager{bus: b, byKey: make(map[stratKey]*Strategy)}
}

// Start subscribes to indicator.updated.
func (m *Manager) Start() {
	m.sub = m.bus.Subscribe(events.TopicIndicatorUpdated, m.onIndicatorUpdated, bus.Normal)
}

// Shutdown unsubscribes.
func (m *Manager) Shutdown() {
	m.bus.Unsubscribe(m.sub)
}

// AddStrategy registers (or replaces) a strategy instance.
func (m *Manager) AddStrategy(s *Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[stratKey{Name: s.Name, Symbol: s.Symbol}] = s
}

// RemoveStrategy unregisters a strategy instance.
func (m *Manager) RemoveStrategy(name, symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byKey, stratKey{Name: name, Symbol: symbol})
}

// Strategies returns every strategy bound to symbol.
func (m *Manager) Strategies(symbol string) []*Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Strategy
	for k, s := range m.byKey {
		if k.Symbol == symbol {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) onIndicatorUpdated(_ string, payload any) error {
	upd, ok := payload.(events.IndicatorUpdated)
	if !ok {
		return nil
	}

	m.mu.Lock()
	var affected []*Strategy
	for k, s := range m.byKey {
		if k.Symbol == upd.Symbol {
			affected = append(affected, s)
		}
	}
	m.mu.Unlock()

	for _, s := range affected {
		m.evaluate(s, upd)
	}
	return nil
}

// evaluate updates a strategy's indicator-values map and runs one FSM
// step for the current state. Locking is per-call since strategy state
// is not shared across goroutines beyond this dispatch path.
func (m *Manager) evaluate(s *Strategy, upd events.IndicatorUpdated) {
	m.mu.Lock()
	if !s.Enabled {
		m.mu.Unlock()
		return
	}
	s.values[upd.IndicatorID] = upd.Value
	state := s.state
	m.mu.Unlock()

	switch state {
	case Monitoring:
		m.evaluateMonitoring(s)
	case SignalDetected:
		m.evaluateSignalDetected(s)
	case PositionActive:
		m.evaluatePositionActive(s)
	}
}

// evaluateMonitoring runs S1. S1 is both the FSM's detection edge and
// the order-triggering signal: signal_type's enum includes S1 (not
// Z1), so the BUY order is submitted here, before Z1 ever evaluates.
func (m *Manager) evaluateMonitoring(s *Strategy) {
	m.mu.Lock()
	result := s.SignalDetection.Evaluate(s.values)
	if result != True {
		m.mu.Unlock()
		return
	}
	s.state = SignalDetected
	qty := s.CalculatePositionSize()
	m.mu.Unlock()

	log.Info().Str("strategy", s.Name).Str("symbol", s.Symbol).Msg("strategy_manager.signal_detected")
	m.bus.Publish(events.TopicSignalGenerated, events.SignalGenerated{
		StrategyName: s.Name, Symbol: s.Symbol, SignalType: "S1", Side: "BUY", Quantity: qty,
	})
	if m.metrics != nil {
		m.metrics.RecordStrategyTransition(s.Name, "Monitoring->SignalDetected")
		m.metrics.RecordStrategySignal(s.Name, "S1")
	}
}

// evaluateSignalDetected runs O1 (cancel) then Z1 (entry confirmation).
// Both are state-only: neither publishes signal_generated, since the
// order was already placed on S1.
func (m *Manager) evaluateSignalDetected(s *Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cancel := s.SignalCancellation.Evaluate(s.values)
	if cancel == True {
		s.state = Monitoring
		log.Info().Str("strategy", s.Name).Str("symbol", s.Symbol).Msg("strategy_manager.signal_cancelled")
		if m.metrics != nil {
			m.metrics.RecordStrategyTransition(s.Name, "SignalDetected->Monitoring")
		}
		return
	}

	entry := s.EntryConditions.Evaluate(s.values)
	if entry != True {
		return
	}
	s.state = PositionActive
	log.Info().Str("strategy", s.Name).Str("symbol", s.Symbol).Msg("strategy_manager.entry_confirmed")
	if m.metrics != nil {
		m.metrics.RecordStrategyTransition(s.Name, "SignalDetected->PositionActive")
	}
}

func (m *Manager) evaluatePositionActive(s *Strategy) {
	m.mu.Lock()
	takeProfit := s.CloseOnDetection.Evaluate(s.values)
	emergency := s.EmergencyExit.Evaluate(s.values)

	var signalType string
	switch {
	case emergency == True:
		signalType = "E1"
	case takeProfit == True:
		signalType = "ZE1"
	default:
		m.mu.Unlock()
		return
	}
	s.state = Closing
	m.mu.Unlock()

	log.Info().Str("strategy", s.Name).Str("symbol", s.Symbol).Str("signal_type", signalType).
		Msg("strategy_manager.close_signal")
	m.bus.Publish(events.TopicSignalGenerated, events.SignalGenerated{
		StrategyName: s.Name, Symbol: s.Symbol, SignalType: signalType, Side: "SELL",
	})
	if m.metrics != nil {
		m.metrics.RecordStrategyTransition(s.Name, "PositionActive->Closing")
		m.metrics.RecordStrategySignal(s.Name, signalType)
	}
}

// OnPositionClosed transitions Closing back to Monitoring, per the
// "position closed event -> Monitoring" edge.
func (m *Manager) OnPositionClosed(name, symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byKey[stratKey{Name: name, Symbol: symbol}]
	if !ok || s.state != Closing {
		return
	}
	s.state = Monitoring
}
