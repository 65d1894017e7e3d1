// Package offline implements the offline indicator engine (C7): it
// recomputes an indicator over a historical price/volume series on a
// uniform time grid, reusing the same window-assembly-and-dispatch logic
// as the streaming engine (internal/dispatch).
package offline

import (
	"sort"

	"github.com/marketpulse/indicatorengine/internal/algorithm"
	"github.com/marketpulse/indicatorengine/internal/dispatch"
	"github.com/marketpulse/indicatorengine/internal/errs"
	"github.com/marketpulse/indicatorengine/internal/window"
)

// millisecondThreshold is the boundary above which a raw timestamp is
// assumed to be in milliseconds rather than seconds.
const millisecondThreshold = 1e12

// defaultRefreshInterval is used when params carry no recognized
// override key.
const defaultRefreshInterval = 1.0

// IndicatorValue is one grid-aligned calculation result.
type IndicatorValue struct {
	Timestamp   float64
	Symbol      string
	IndicatorID string
	Value       *float64
	Timeframe   string
	Params      map[string]any
}

// RawPoint is a historical (price, volume) observation at a raw
// (possibly millisecond) timestamp.
type RawPoint struct {
	Timestamp float64
	Price     float64
	Volume    float64
}

// RawOrderBookPoint is a historical orderbook snapshot at a raw
// (possibly millisecond) timestamp.
type RawOrderBookPoint struct {
	Timestamp float64
	BestBid   float64
	BestAsk   float64
	BidQty    float64
	AskQty    float64
}

// NormalizeTimestamp converts a millisecond-epoch timestamp to seconds;
// timestamps already in seconds pass through unchanged.
func NormalizeTimestamp(ts float64) float64 {
	if ts > millisecondThreshold {
		return ts / 1000.0
	}
	return ts
}

// CalculateSeries implements §4.7's calculate_series: it sorts points,
// determines the refresh interval, generates the uniform grid, and
// invokes alg via internal/dispatch at each grid slot.
func CalculateSeries(alg algorithm.Algorithm, symbol, indicatorID, timeframe string, params algorithm.Parameters, points []RawPoint, obPoints []RawOrderBookPoint) ([]IndicatorValue, error) {
	if len(points) == 0 {
		return nil, nil
	}

	sorted := make([]RawPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	priceHistory := make([]window.Point, len(sorted))
	volumeHistory := make([]window.Point, len(sorted))
	for i, p := range sorted {
		ts := NormalizeTimestamp(p.Timestamp)
		priceHistory[i] = window.Point{Timestamp: ts, Value: p.Price}
		volumeHistory[i] = window.Point{Timestamp: ts, Value: p.Volume}
	}

	obHistory := make([]window.OrderBookPoint, len(obPoints))
	sortedOB := make([]RawOrderBookPoint, len(obPoints))
	copy(sortedOB, obPoints)
	sort.Slice(sortedOB, func(i, j int) bool { return sortedOB[i].Timestamp < sortedOB[j].Timestamp })
	for i, p := range sortedOB {
		obHistory[i] = window.OrderBookPoint{
			Timestamp: NormalizeTimestamp(p.Timestamp),
			BestBid:   p.BestBid, BestAsk: p.BestAsk, BidQty: p.BidQty, AskQty: p.AskQty,
		}
	}

	refreshInterval := refreshIntervalFor(params)
	startTS := priceHistory[0].Timestamp
	endTS := priceHistory[len(priceHistory)-1].Timestamp

	grid := generateGrid(startTS, endTS, refreshInterval)

	series := make([]IndicatorValue, len(grid))
	for i, ts := range grid {
		value := dispatch.Evaluate(alg, priceHistory, volumeHistory, obHistory, params, ts)
		series[i] = IndicatorValue{
			Timestamp:   ts,
			Symbol:      symbol,
			IndicatorID: indicatorID,
			Value:       value,
			Timeframe:   timeframe,
			Params:      params.Values,
		}
	}

	return series, nil
}

// refreshIntervalFor resolves the grid spacing: the recognized override
// keys take precedence, else the 1.0s default (§4.7 step 2).
func refreshIntervalFor(params algorithm.Parameters) float64 {
	if override, ok := params.GetRefreshOverride(); ok && override > 0 {
		return override
	}
	return defaultRefreshInterval
}

// generateGrid returns {start, start+delta, ..., the last multiple of
// delta at or before end}. Each slot is computed as start+i*delta rather
// than by repeated addition so consecutive timestamps differ by exactly
// delta (the grid-alignment contract tests check within 1e-6s).
func generateGrid(start, end, delta float64) []float64 {
	if delta <= 0 {
		delta = defaultRefreshInterval
	}
	if end < start {
		return []float64{start}
	}

	n := int((end-start)/delta + 1e-9)
	grid := make([]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		grid = append(grid, start+float64(i)*delta)
	}
	return grid
}

// DropNils filters series down to the non-nil values, suitable for batch
// persistence (§4.7: "nil values are DROPPED").
func DropNils(series []IndicatorValue) []IndicatorValue {
	out := make([]IndicatorValue, 0, len(series))
	for _, v := range series {
		if v.Value != nil {
			out = append(out, v)
		}
	}
	return out
}

// PersistableOrInsufficient returns the non-nil subset of series, or
// ErrInsufficientData if every value in series is nil (§4.7's "signal
// insufficient data" batch-persistence policy).
func PersistableOrInsufficient(series []IndicatorValue) ([]IndicatorValue, error) {
	nonNil := DropNils(series)
	if len(series) > 0 && len(nonNil) == 0 {
		return nil, errs.ErrInsufficientData
	}
	return nonNil, nil
}
