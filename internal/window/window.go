// Package window implements the pure math kernels over ordered (t, v)
// series shared by every indicator algorithm, plus the window-assembly
// helper used by both the streaming and offline engines.
package window

import (
	"math"
	"sort"
)

// Point is a single (timestamp, value) sample. Timestamps are epoch
// seconds; Value is algorithm-specific (price, volume, imbalance, ...).
type Point struct {
	Timestamp float64
	Value     float64
}

// Spec declares a window of length t1-t2 ending t2 seconds before the
// evaluation timestamp, as requested by an algorithm.
type Spec struct {
	T1 float64
	T2 float64
}

// Window is the immutable slice of points an algorithm evaluates, plus
// the window's own [Start, End) bounds. Data is expected to already
// carry the duration-attribution anchor point (see Assemble) when built
// by the engines; the pure kernels below re-filter by their own
// closed-interval contract.
type Window struct {
	Data  []Point
	Start float64
	End   float64
}

// Assemble selects points for Spec relative to evalTS from a sorted-
// ascending history. It returns all points in the half-open interval
// [start, end), prepending the single most recent point with
// timestamp < start when one exists — the duration-attribution anchor
// required by TimeWeightedAverage. history MUST be sorted ascending by
// Timestamp; behavior is undefined otherwise.
func Assemble(history []Point, spec Spec, evalTS float64) Window {
	start := evalTS - spec.T1
	end := evalTS - spec.T2

	var anchor *Point
	var inWindow []Point
	for i := range history {
		p := history[i]
		if p.Timestamp < start {
			a := p
			anchor = &a
			continue
		}
		if p.Timestamp >= start && p.Timestamp < end {
			inWindow = append(inWindow, p)
		}
	}

	data := make([]Point, 0, len(inWindow)+1)
	if anchor != nil {
		data = append(data, *anchor)
	}
	data = append(data, inWindow...)

	return Window{Data: data, Start: start, End: end}
}

// TimeWeightedAverage attributes each point's value to the duration it
// remained the most recent observation within [start, end], dividing the
// weighted sum by total duration. Requires at least one point with
// timestamp <= start (the anchor) to attribute duration to the first
// in-window value; returns nil when total duration is ~0 or points is
// empty.
func TimeWeightedAverage(points []Point, start, end float64) *float64 {
	if len(points) == 0 {
		return nil
	}

	var weightedSum, totalWeight float64
	for i, p := range points {
		tsI := math.Max(p.Timestamp, start)

		var tsNext float64
		if i == len(points)-1 {
			tsNext = end
		} else {
			tsNext = math.Min(points[i+1].Timestamp, end)
		}

		if tsNext <= tsI {
			continue
		}

		duration := tsNext - tsI
		totalWeight += duration
		weightedSum += p.Value * duration
	}

	if totalWeight <= 0 || math.Abs(totalWeight) < 1e-12 {
		return nil
	}
	v := weightedSum / totalWeight
	return &v
}

// VolumeAverage returns sum(values in [s,e]) / (e - s), i.e. a flow rate.
func VolumeAverage(points []Point, start, end float64) *float64 {
	if len(points) == 0 {
		return nil
	}
	duration := end - start
	if duration <= 0 {
		return nil
	}

	var total float64
	count := 0
	for _, p := range points {
		if p.Timestamp >= start && p.Timestamp <= end {
			total += p.Value
			count++
		}
	}
	if count == 0 {
		return nil
	}
	v := total / duration
	return &v
}

func valuesInRange(points []Point, start, end float64) []float64 {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Timestamp >= start && p.Timestamp <= end {
			values = append(values, p.Value)
		}
	}
	return values
}

// Median returns the median of values, nil if empty.
func Median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	var v float64
	if n%2 == 0 {
		v = (sorted[n/2-1] + sorted[n/2]) / 2.0
	} else {
		v = sorted[n/2]
	}
	return &v
}

// VolumeMedian returns the median of values strictly (inclusively) in
// [start, end].
func VolumeMedian(points []Point, start, end float64) *float64 {
	return Median(valuesInRange(points, start, end))
}

// Sum returns the sum of values in [start, end], nil if none.
func Sum(points []Point, start, end float64) *float64 {
	values := valuesInRange(points, start, end)
	if len(values) == 0 {
		return nil
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return &total
}

// SimpleAverage returns the arithmetic mean of values in [start, end].
func SimpleAverage(points []Point, start, end float64) *float64 {
	values := valuesInRange(points, start, end)
	if len(values) == 0 {
		return nil
	}
	var total float64
	for _, v := range values {
		total += v
	}
	avg := total / float64(len(values))
	return &avg
}

// Max returns the maximum value in [start, end].
func Max(points []Point, start, end float64) *float64 {
	values := valuesInRange(points, start, end)
	if len(values) == 0 {
		return nil
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return &m
}

// Min returns the minimum value in [start, end].
func Min(points []Point, start, end float64) *float64 {
	values := valuesInRange(points, start, end)
	if len(values) == 0 {
		return nil
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return &m
}

// First returns the first value (by point order) in [start, end].
func First(points []Point, start, end float64) *float64 {
	for _, p := range points {
		if p.Timestamp >= start && p.Timestamp <= end {
			v := p.Value
			return &v
		}
	}
	return nil
}

// Last returns the last value (by point order) in [start, end].
func Last(points []Point, start, end float64) *float64 {
	var last *float64
	for _, p := range points {
		if p.Timestamp >= start && p.Timestamp <= end {
			v := p.Value
			last = &v
		}
	}
	return last
}

// OrderBookPoint is a single orderbook snapshot sample.
type OrderBookPoint struct {
	Timestamp float64
	BestBid   float64
	BestAsk   float64
	BidQty    float64
	AskQty    float64
}

// OrderBookWindow is the orderbook analogue of Window: the snapshots
// selected for a Spec, plus the window's own bounds.
type OrderBookWindow struct {
	Data  []OrderBookPoint
	Start float64
	End   float64
}

// AssembleOrderBook is the orderbook analogue of Assemble: half-open
// [start, end) selection with a pre-window anchor snapshot prepended when
// one exists. history MUST be sorted ascending by Timestamp.
func AssembleOrderBook(history []OrderBookPoint, spec Spec, evalTS float64) OrderBookWindow {
	start := evalTS - spec.T1
	end := evalTS - spec.T2

	var anchor *OrderBookPoint
	var inWindow []OrderBookPoint
	for i := range history {
		p := history[i]
		if p.Timestamp < start {
			a := p
			anchor = &a
			continue
		}
		if p.Timestamp >= start && p.Timestamp < end {
			inWindow = append(inWindow, p)
		}
	}

	data := make([]OrderBookPoint, 0, len(inWindow)+1)
	if anchor != nil {
		data = append(data, *anchor)
	}
	data = append(data, inWindow...)

	return OrderBookWindow{Data: data, Start: start, End: end}
}

// StdDev returns the population standard deviation of values in
// [start, end]; requires at least 2 samples.
func StdDev(points []Point, start, end float64) *float64 {
	values := valuesInRange(points, start, end)
	if len(values) < 2 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	sd := math.Sqrt(variance)
	return &sd
}
