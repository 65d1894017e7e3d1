package algorithm

import (
	"math"

	"github.com/marketpulse/indicatorengine/internal/window"
)

// DumpExhaustionScore: weighted composite of four sub-scores — velocity
// stabilization (30 pts), volume normalization (25 pts), retracement
// depth (25 pts) and bid-ask neutralization (20 pts) — each granted
// full/half/zero points against tunable thresholds. Requires peak_price
// and current_price parameters to compute retracement depth.
type DumpExhaustionScore struct{ base }

func NewDumpExhaustionScore() *DumpExhaustionScore { return &DumpExhaustionScore{} }

func (*DumpExhaustionScore) IndicatorType() string { return "DUMP_EXHAUSTION_SCORE" }
func (*DumpExhaustionScore) Name() string          { return "Dump Exhaustion Score" }
func (*DumpExhaustionScore) Description() string {
	return "Composite 0-100 score estimating whether a sharp down-move has exhausted itself"
}
func (*DumpExhaustionScore) Category() string   { return "composite" }
func (*DumpExhaustionScore) IsTimeDriven() bool { return true }

func (*DumpExhaustionScore) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "peak_price", Type: ParamFloat, Required: true},
		{Name: "current_price", Type: ParamFloat, Required: true},
		{Name: "velocity_t1", Type: ParamFloat, Default: 10.0},
		{Name: "velocity_t3", Type: ParamFloat, Default: 40.0},
		{Name: "velocity_d", Type: ParamFloat, Default: 10.0},
		{Name: "volume_t1", Type: ParamFloat, Default: 30.0},
		{Name: "volume_t2", Type: ParamFloat, Default: 0.0},
		{Name: "volume_t3", Type: ParamFloat, Default: 600.0},
		{Name: "volume_t4", Type: ParamFloat, Default: 30.0},
		{Name: "imbalance_t1", Type: ParamFloat, Default: 30.0},
		{Name: "imbalance_t2", Type: ParamFloat, Default: 0.0},
		{Name: "velocity_threshold", Type: ParamFloat, Default: 0.1},
		{Name: "volume_threshold", Type: ParamFloat, Default: 0.8},
		{Name: "retracement_threshold", Type: ParamFloat, Default: 40.0},
		{Name: "imbalance_threshold", Type: ParamFloat, Default: -10.0},
	}
}

// WindowSpecs is unused: this is a CompositeAlgorithm, dispatched via
// PriceSpecs/VolumeSpecs/OrderBookSpecs.
func (*DumpExhaustionScore) WindowSpecs(Parameters) []window.Spec { return nil }
func (*DumpExhaustionScore) CalculateFromWindows([]window.Window, Parameters) *float64 { return nil }

func (*DumpExhaustionScore) PriceSpecs(params Parameters) []window.Spec {
	t1 := params.GetFloat("velocity_t1", 10.0)
	t3 := params.GetFloat("velocity_t3", 40.0)
	d := params.GetFloat("velocity_d", 10.0)
	return []window.Spec{
		{T1: t1, T2: 0},
		{T1: t3, T2: t3 - d},
	}
}

func (*DumpExhaustionScore) VolumeSpecs(params Parameters) []window.Spec {
	t1 := params.GetFloat("volume_t1", 30.0)
	t2 := params.GetFloat("volume_t2", 0.0)
	t3 := params.GetFloat("volume_t3", 600.0)
	t4 := params.GetFloat("volume_t4", 30.0)
	return []window.Spec{
		{T1: t1, T2: t2},
		{T1: t3, T2: t4},
	}
}

func (*DumpExhaustionScore) OrderBookSpecs(params Parameters) []window.Spec {
	return []window.Spec{{T1: params.GetFloat("imbalance_t1", 30.0), T2: params.GetFloat("imbalance_t2", 0.0)}}
}

func (*DumpExhaustionScore) CalculateComposite(price []window.Window, volume []window.Window, ob []window.OrderBookWindow, params Parameters) *float64 {
	peak := params.GetFloat("peak_price", 0.0)
	current := params.GetFloat("current_price", 0.0)

	var score float64

	if len(price) == 2 {
		if s := velocityStabilizationScore(price[0], price[1], params); s != nil {
			score += *s
		}
	}

	if len(volume) == 2 {
		if s := volumeNormalizationScore(volume[0], volume[1], params); s != nil {
			score += *s
		}
	}

	score += retracementDepthScore(peak, current, params)

	if len(ob) == 1 {
		if s := imbalanceBalanceScore(ob[0], params); s != nil {
			score += *s
		}
	}

	return &score
}

// velocityStabilizationScore grants up to 30 points the closer |velocity|
// sits to zero, same velocity formula as PriceVelocity/VELOCITY_CASCADE.
func velocityStabilizationScore(current, baseline window.Window, params Parameters) *float64 {
	currentTWPA := window.TimeWeightedAverage(current.Data, current.Start, current.End)
	baselineTWPA := window.TimeWeightedAverage(baseline.Data, baseline.Start, baseline.End)
	if currentTWPA == nil || baselineTWPA == nil || *baselineTWPA == 0 {
		return nil
	}
	pctChange := (*currentTWPA - *baselineTWPA) / *baselineTWPA * 100.0

	currentCenter := (current.Start + current.End) / 2.0
	baselineCenter := (baseline.Start + baseline.End) / 2.0
	timeDiff := currentCenter - baselineCenter
	if timeDiff <= 0 {
		return nil
	}
	velocity := math.Abs(pctChange / timeDiff)

	threshold := params.GetFloat("velocity_threshold", 0.1)
	var s float64
	switch {
	case velocity < threshold:
		s = 30.0
	case velocity < threshold*2:
		s = 15.0
	default:
		s = 0.0
	}
	return &s
}

// volumeNormalizationScore grants up to 25 points the closer current
// volume sits to (or below) its baseline median.
func volumeNormalizationScore(current, baseline window.Window, params Parameters) *float64 {
	currentVolume := window.VolumeAverage(current.Data, current.Start, current.End)
	baselineVolume := window.VolumeMedian(baseline.Data, baseline.Start, baseline.End)
	if currentVolume == nil || baselineVolume == nil || *baselineVolume == 0 {
		return nil
	}
	ratio := *currentVolume / *baselineVolume

	threshold := params.GetFloat("volume_threshold", 0.8)
	switch {
	case ratio < threshold:
		s := 25.0
		return &s
	case ratio < threshold*1.5:
		s := 12.5
		return &s
	default:
		s := 0.0
		return &s
	}
}

// retracementDepthScore grants up to 25 points for a deep correction
// from peak back toward current_price, as a plain percentage of peak.
func retracementDepthScore(peak, current float64, params Parameters) float64 {
	if peak == 0 {
		return 0.0
	}
	retracementPct := (peak - current) / peak * 100.0

	threshold := params.GetFloat("retracement_threshold", 40.0)
	switch {
	case retracementPct >= threshold:
		return 25.0
	case retracementPct >= threshold*0.7:
		return 12.5
	default:
		return 0.0
	}
}

// imbalanceBalanceScore grants up to 20 points once the average signed
// bid/ask imbalance climbs back above imbalance_threshold (sell pressure
// dissipating); the half-points band is a fixed 20-point-wide step below
// that threshold, not a symmetric band around it.
func imbalanceBalanceScore(ob window.OrderBookWindow, params Parameters) *float64 {
	series := imbalanceSeries(ob.Data)
	avg := window.SimpleAverage(series, ob.Start, ob.End)
	if avg == nil {
		return nil
	}

	threshold := params.GetFloat("imbalance_threshold", -10.0)
	var s float64
	switch {
	case *avg > threshold:
		s = 20.0
	case *avg > threshold-20.0:
		s = 10.0
	default:
		s = 0.0
	}
	return &s
}
