package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/indicatorengine/internal/bus"
	"github.com/marketpulse/indicatorengine/internal/errs"
	"github.com/marketpulse/indicatorengine/internal/events"
)

// Status is a backtest session's lifecycle stage.
type Status string

const (
	Pending   Status = "Pending"
	Running   Status = "Running"
	Completed Status = "Completed"
	Failed    Status = "Failed"
	Stopped   Status = "Stopped"
)

// Config is a loaded backtest session's parameters.
type Config struct {
	SessionID          string
	StrategyID         string
	Symbol             string
	StartDate          float64
	EndDate            float64
	Timeframe          string
	InitialBalance     float64
	StopLossPercent    float64
	TakeProfitPercent  float64
	BroadcastInterval  float64 // seconds; defaults to 1.0 when <= 0
	UseStrategyManager bool    // when true, entries arrive via signal_generated from C8 instead of the inline demo rule
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// TradeRecord is one completed round-trip or partial close.
type TradeRecord struct {
	TradeID    string
	SessionID  string
	Symbol     string
	Side       string
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	ExitTime   float64
	SignalType string
}

// EquityPoint is one sample on the equity curve.
type EquityPoint struct {
	Timestamp     float64
	Equity        float64
	DrawdownPct   float64
	OpenPositions int
}

// Result is a finished (or failed/stopped) backtest's summary.
type Result struct {
	SessionID        string
	Symbol           string
	StrategyID       string
	StartDate        float64
	EndDate          float64
	FinalPnL         float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	MaxDrawdownPct   float64
	InitialBalance   float64
	FinalBalance     float64
	EquityCurve      []EquityPoint
	Trades           []TradeRecord
	DurationSeconds  float64
	CandlesProcessed int
	SignalsGenerated int
	Status           Status
	ErrorMessage     string
}

// SessionConfigLoader loads a backtest session's configuration, failing
// with errs.ErrSessionNotFound when sessionID is unknown.
type SessionConfigLoader interface {
	LoadSessionConfig(ctx context.Context, sessionID string) (Config, error)
}

// CandleSource loads historical candles for a symbol/range/timeframe.
type CandleSource interface {
	LoadCandles(ctx context.Context, symbol string, start, end float64, timeframe string) ([]Candle, error)
}

// Engine replays a backtest session's candles through the order manager,
// tracking equity/drawdown and broadcasting throttled progress.
type Engine struct {
	sessionID string
	configs   SessionConfigLoader
	candles   CandleSource
	bus       *bus.Bus
	om        *OrderManager
	clock     func() float64

	stopRequested atomic.Bool
}

// NewEngine constructs an Engine for one session. om must not yet be
// started; the engine calls om.Start()/Shutdown() itself.
func NewEngine(sessionID string, configs SessionConfigLoader, candles CandleSource, b *bus.Bus, om *OrderManager, clock func() float64) *Engine {
	if clock == nil {
		clock = func() float64 { return 0 }
	}
	return &Engine{sessionID: sessionID, configs: configs, candles: candles, bus: b, om: om, clock: clock}
}

// Stop requests a graceful stop; the run loop breaks after the candle in
// flight and the result status becomes Stopped instead of Completed.
func (e *Engine) Stop() { e.stopRequested.Store(true) }

// Run executes the full backtest lifecycle end to end. It never returns
// an error: any failure (including a missing session) is captured in the
// returned Result's Status/ErrorMessage, matching the "catch, record
// FAILED, return a terminal result" contract.
func (e *Engine) Run(ctx context.Context) *Result {
	start := e.clock()

	cfg, err := e.configs.LoadSessionConfig(ctx, e.sessionID)
	if err != nil {
		return e.fail(Config{SessionID: e.sessionID}, start, fmt.Errorf("%w: %v", errs.ErrSessionNotFound, err))
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = 1.0
	}

	candles, err := e.candles.LoadCandles(ctx, cfg.Symbol, cfg.StartDate, cfg.EndDate, cfg.Timeframe)
	if err != nil {
		return e.fail(cfg, start, err)
	}
	if len(candles) == 0 {
		return e.fail(cfg, start, fmt.Errorf("no historical data for %s from %v to %v", cfg.Symbol, cfg.StartDate, cfg.EndDate))
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })

	e.om.Start()
	defer e.om.Shutdown()

	r := e.replay(ctx, cfg, candles, start)
	return r
}

func (e *Engine) fail(cfg Config, start float64, cause error) *Result {
	log.Error().Err(cause).Str("session_id", e.sessionID).Msg("backtest_engine.failed")
	res := &Result{
		SessionID: e.sessionID, Symbol: cfg.Symbol, StrategyID: cfg.StrategyID,
		StartDate: cfg.StartDate, EndDate: cfg.EndDate,
		InitialBalance: cfg.InitialBalance, FinalBalance: cfg.InitialBalance,
		Status: Failed, ErrorMessage: cause.Error(), DurationSeconds: e.clock() - start,
	}
	e.bus.Publish(events.TopicBacktestFailed, events.BacktestFailed{SessionID: e.sessionID, Error: cause.Error()})
	return res
}

func (e *Engine) replay(_ context.Context, cfg Config, candles []Candle, start float64) *Result {
	var trades []TradeRecord
	var equityCurve []EquityPoint
	var realizedPnL float64
	var signalsGenerated int
	peakEquity := cfg.InitialBalance
	maxDrawdownPct := 0.0
	lastBroadcast := -math.MaxFloat64

	var volumeSum float64
	var volumeCount int
	total := len(candles)
	stopped := false

	for i, candle := range candles {
		if e.stopRequested.Load() {
			stopped = true
			break
		}

		volumeSum += candle.Volume
		volumeCount++
		avgVolume := candle.Volume
		if volumeCount > 0 {
			avgVolume = volumeSum / float64(volumeCount)
		}

		for _, pos := range e.om.Positions() {
			if pos.Quantity == 0 {
				continue
			}
			pos.UpdateUnrealizedPnL(candle.Close)
			signal, ok := evaluateExitSignal(pos, cfg.StopLossPercent, cfg.TakeProfitPercent)
			if !ok {
				continue
			}
			entryPrice := pos.AveragePrice
			quantity := pos.PositionSize()
			pnl := closeLegPnL(pos, candle.Close)

			if _, err := e.om.SubmitOrder(cfg.Symbol, signal.side, quantity, candle.Close, OrderOptions{StrategyName: cfg.StrategyID}); err != nil {
				log.Error().Err(err).Str("session_id", e.sessionID).Msg("backtest_engine.signal_execution_failed")
				continue
			}
			signalsGenerated++
			trades = append(trades, TradeRecord{
				TradeID: fmt.Sprintf("trade_%06d", len(trades)+1), SessionID: e.sessionID, Symbol: cfg.Symbol,
				Side: string(signal.side), Quantity: quantity, EntryPrice: entryPrice, ExitPrice: candle.Close,
				PnL: pnl, ExitTime: candle.Timestamp, SignalType: signal.signalType,
			})
			realizedPnL += pnl
		}

		if !cfg.UseStrategyManager && !hasOpenPosition(e.om.Positions()) {
			if signal, ok := evaluateEntrySignal(candle, avgVolume, cfg.InitialBalance); ok {
				if _, err := e.om.SubmitOrder(cfg.Symbol, signal.side, signal.quantity, candle.Close, OrderOptions{StrategyName: cfg.StrategyID}); err == nil {
					signalsGenerated++
				}
			}
		}

		unrealized := 0.0
		openPositions := 0
		for _, pos := range e.om.Positions() {
			if pos.Quantity == 0 {
				continue
			}
			pos.UpdateUnrealizedPnL(candle.Close)
			unrealized += pos.UnrealizedPnL
			openPositions++
		}
		equity := cfg.InitialBalance + realizedPnL + unrealized
		if equity > peakEquity {
			peakEquity = equity
		}
		drawdownPct := 0.0
		if peakEquity > 0 {
			drawdownPct = (peakEquity - equity) / peakEquity * 100
		}
		if drawdownPct > maxDrawdownPct {
			maxDrawdownPct = drawdownPct
		}
		equityCurve = append(equityCurve, EquityPoint{Timestamp: candle.Timestamp, Equity: equity, DrawdownPct: drawdownPct, OpenPositions: openPositions})

		progressPct := float64(i+1) / float64(total) * 100
		forced := i == total-1
		e.broadcastProgress(cfg.SessionID, progressPct, candle.Timestamp, equity, drawdownPct, i+1, &lastBroadcast, cfg.BroadcastInterval, forced)
	}

	last := candles[len(candles)-1]
	for _, pos := range e.om.Positions() {
		if pos.Quantity == 0 {
			continue
		}
		side := Sell
		if pos.Quantity < 0 {
			side = Cover
		}
		entryPrice := pos.AveragePrice
		quantity := pos.PositionSize()
		pnl := closeLegPnL(pos, last.Close)
		if _, err := e.om.SubmitOrder(cfg.Symbol, side, quantity, last.Close, OrderOptions{StrategyName: cfg.StrategyID}); err == nil {
			trades = append(trades, TradeRecord{
				TradeID: fmt.Sprintf("trade_%06d", len(trades)+1), SessionID: e.sessionID, Symbol: cfg.Symbol,
				Side: string(side), Quantity: quantity, EntryPrice: entryPrice, ExitPrice: last.Close,
				PnL: pnl, ExitTime: last.Timestamp, SignalType: "CLOSE",
			})
			realizedPnL += pnl
		}
	}

	winners, losers := 0, 0
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			winners++
		case t.PnL < 0:
			losers++
		}
	}
	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(winners) / float64(len(trades))
	}

	status := Completed
	if stopped {
		status = Stopped
	}

	res := &Result{
		SessionID: e.sessionID, Symbol: cfg.Symbol, StrategyID: cfg.StrategyID,
		StartDate: cfg.StartDate, EndDate: cfg.EndDate,
		FinalPnL: realizedPnL, TotalTrades: len(trades), WinningTrades: winners, LosingTrades: losers,
		WinRate: winRate, MaxDrawdownPct: maxDrawdownPct,
		InitialBalance: cfg.InitialBalance, FinalBalance: cfg.InitialBalance + realizedPnL,
		EquityCurve: downsampleEquityCurve(equityCurve), Trades: trades,
		DurationSeconds: e.clock() - start, CandlesProcessed: len(equityCurve), SignalsGenerated: signalsGenerated,
		Status: status,
	}

	e.bus.Publish(events.TopicBacktestCompleted, events.BacktestCompleted{
		SessionID: e.sessionID, TotalTrades: res.TotalTrades, Winners: res.WinningTrades, Losers: res.LosingTrades,
		WinRate: res.WinRate, FinalPnL: res.FinalPnL, FinalBalance: res.FinalBalance,
		MaxDrawdown: res.MaxDrawdownPct, DurationSec: res.DurationSeconds,
	})
	log.Info().Str("session_id", e.sessionID).Float64("final_pnl", res.FinalPnL).Int("total_trades", res.TotalTrades).
		Msg("backtest_engine.completed")

	return res
}

func (e *Engine) broadcastProgress(sessionID string, progressPct, currentTime, equity, drawdownPct float64, candlesProcessed int, last *float64, interval float64, force bool) {
	now := e.clock()
	if !force && (now-*last) < interval {
		return
	}
	*last = now
	e.bus.Publish(events.TopicBacktestProgress, events.BacktestProgress{
		SessionID: sessionID, ProgressPct: progressPct, CurrentTime: currentTime,
		Equity: equity, DrawdownPct: drawdownPct, CandlesProcessed: candlesProcessed,
	})
}

// downsampleEquityCurve keeps every 10th point plus the last, per the
// batch-persistence policy.
func downsampleEquityCurve(curve []EquityPoint) []EquityPoint {
	if len(curve) == 0 {
		return curve
	}
	out := make([]EquityPoint, 0, len(curve)/10+1)
	for i, p := range curve {
		if i%10 == 0 {
			out = append(out, p)
		}
	}
	last := curve[len(curve)-1]
	if out[len(out)-1].Timestamp != last.Timestamp {
		out = append(out, last)
	}
	return out
}

type exitSignal struct {
	side       OrderSide
	signalType string
}

// evaluateExitSignal checks stop-loss then take-profit against pos's
// already-updated UnrealizedPnLPct.
func evaluateExitSignal(pos PositionRecord, stopLossPercent, takeProfitPercent float64) (exitSignal, bool) {
	side := Sell
	if pos.Quantity < 0 {
		side = Cover
	}
	if pos.UnrealizedPnLPct <= -stopLossPercent {
		return exitSignal{side: side, signalType: "E1"}, true
	}
	if pos.UnrealizedPnLPct >= takeProfitPercent {
		return exitSignal{side: side, signalType: "ZE1"}, true
	}
	return exitSignal{}, false
}

func closeLegPnL(pos PositionRecord, exitPrice float64) float64 {
	if pos.Quantity > 0 {
		return (exitPrice - pos.AveragePrice) * pos.Quantity
	}
	return (pos.AveragePrice - exitPrice) * math.Abs(pos.Quantity)
}

func hasOpenPosition(positions []PositionRecord) bool {
	for _, p := range positions {
		if p.Quantity != 0 {
			return true
		}
	}
	return false
}

type entrySignal struct {
	side     OrderSide
	quantity float64
}

// evaluateEntrySignal is the default demo entry rule: positive momentum
// plus a volume surge. Production callers set Config.UseStrategyManager
// and drive entries from C8's S1 signal instead.
func evaluateEntrySignal(candle Candle, avgVolume, initialBalance float64) (entrySignal, bool) {
	if candle.Open <= 0 {
		return entrySignal{}, false
	}
	priceChangePct := (candle.Close - candle.Open) / candle.Open * 100
	volumeRatio := 1.0
	if avgVolume > 0 {
		volumeRatio = candle.Volume / avgVolume
	}
	if priceChangePct > 0.1 && volumeRatio > 1.5 {
		return entrySignal{side: Buy, quantity: initialBalance * 0.02 / candle.Close}, true
	}
	return entrySignal{}, false
}
