package streaming

import "github.com/marketpulse/indicatorengine/internal/window"

// updateRetention recomputes the retention horizon for symbol from every
// indicator currently bound to it (across all sessions), applying the
// configured safety factor. Must be called with e.mu held.
func (e *Engine) updateRetention(symbol string) {
	var maxLookback float64
	for _, b := range e.bindings {
		if b.Symbol != symbol {
			continue
		}
		if lb := lookbackOf(b); lb > maxLookback {
			maxLookback = lb
		}
	}
	if maxLookback == 0 {
		delete(e.retention, symbol)
		return
	}
	e.retention[symbol] = maxLookback * e.cfg.HistoryRetentionSafetyFactor
}

func lookbackOf(b *binding) float64 {
	return lookback(b)
}

func (e *Engine) appendPricePoint(symbol string, p window.Point) {
	e.priceHistory[symbol] = append(e.priceHistory[symbol], p)
}

func (e *Engine) appendVolumePoint(symbol string, p window.Point) {
	e.volumeHistory[symbol] = append(e.volumeHistory[symbol], p)
}

func (e *Engine) appendOrderBookPoint(symbol string, p window.OrderBookPoint) {
	e.obHistory[symbol] = append(e.obHistory[symbol], p)
}

// evict drops history points older than the symbol's retention horizon
// relative to now. Must be called with e.mu held.
func (e *Engine) evict(symbol string, now float64) {
	horizon, ok := e.retention[symbol]
	if !ok {
		return
	}
	cutoff := now - horizon

	if ph := e.priceHistory[symbol]; len(ph) > 0 {
		e.priceHistory[symbol] = evictPoints(ph, cutoff)
	}
	if vh := e.volumeHistory[symbol]; len(vh) > 0 {
		e.volumeHistory[symbol] = evictPoints(vh, cutoff)
	}
	if oh := e.obHistory[symbol]; len(oh) > 0 {
		e.obHistory[symbol] = evictOrderBookPoints(oh, cutoff)
	}
}

func evictPoints(points []window.Point, cutoff float64) []window.Point {
	i := 0
	for i < len(points) && points[i].Timestamp < cutoff {
		i++
	}
	if i == 0 {
		return points
	}
	// Keep one anchor point before cutoff so time-weighted assembly can
	// still attribute duration across the window boundary.
	if i > 0 {
		i--
	}
	out := make([]window.Point, len(points)-i)
	copy(out, points[i:])
	return out
}

func evictOrderBookPoints(points []window.OrderBookPoint, cutoff float64) []window.OrderBookPoint {
	i := 0
	for i < len(points) && points[i].Timestamp < cutoff {
		i++
	}
	if i > 0 {
		i--
	}
	out := make([]window.OrderBookPoint, len(points)-i)
	copy(out, points[i:])
	return out
}
