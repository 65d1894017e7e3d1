package algorithm

import (
	"math"

	"github.com/marketpulse/indicatorengine/internal/window"
)

// MomentumReversalIndex: compares a current-vs-baseline percentage move
// against a prior peak-vs-baseline percentage move, over four price
// windows, to detect reversal from an earlier extreme.
type MomentumReversalIndex struct{ base }

func NewMomentumReversalIndex() *MomentumReversalIndex { return &MomentumReversalIndex{} }

func (*MomentumReversalIndex) IndicatorType() string { return "MOMENTUM_REVERSAL_INDEX" }
func (*MomentumReversalIndex) Name() string          { return "Momentum Reversal Index" }
func (*MomentumReversalIndex) Description() string {
	return "Percentage reversal of current momentum relative to a prior peak momentum"
}
func (*MomentumReversalIndex) Category() string   { return "momentum" }
func (*MomentumReversalIndex) IsTimeDriven() bool { return true }

func (*MomentumReversalIndex) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "current_t1", Type: ParamFloat, Default: 10.0},
		{Name: "current_t2", Type: ParamFloat, Default: 0.0},
		{Name: "baseline_t1", Type: ParamFloat, Default: 60.0},
		{Name: "baseline_t2", Type: ParamFloat, Default: 30.0},
		{Name: "peak_t1", Type: ParamFloat, Default: 40.0},
		{Name: "peak_t2", Type: ParamFloat, Default: 30.0},
		{Name: "peak_baseline_t1", Type: ParamFloat, Default: 90.0},
		{Name: "peak_baseline_t2", Type: ParamFloat, Default: 60.0},
	}
}

func (a *MomentumReversalIndex) WindowSpecs(params Parameters) []window.Spec {
	return []window.Spec{
		{T1: params.GetFloat("current_t1", 10.0), T2: params.GetFloat("current_t2", 0.0)},
		{T1: params.GetFloat("baseline_t1", 60.0), T2: params.GetFloat("baseline_t2", 30.0)},
		{T1: params.GetFloat("peak_t1", 40.0), T2: params.GetFloat("peak_t2", 30.0)},
		{T1: params.GetFloat("peak_baseline_t1", 90.0), T2: params.GetFloat("peak_baseline_t2", 60.0)},
	}
}

// reversalVelocity computes the same velocity as PriceVelocity: percentage
// price change between cur and base, normalized by the gap between their
// window centers.
func reversalVelocity(cur, base window.Window) *float64 {
	curTWPA := window.TimeWeightedAverage(cur.Data, cur.Start, cur.End)
	baseTWPA := window.TimeWeightedAverage(base.Data, base.Start, base.End)
	if curTWPA == nil || baseTWPA == nil || *baseTWPA == 0 {
		return nil
	}
	pctChange := (*curTWPA - *baseTWPA) / *baseTWPA * 100.0

	curCenter := (cur.Start + cur.End) / 2.0
	baseCenter := (base.Start + base.End) / 2.0
	timeDiff := curCenter - baseCenter
	if timeDiff <= 0 {
		return nil
	}
	v := pctChange / timeDiff
	return &v
}

func (*MomentumReversalIndex) CalculateFromWindows(windows []window.Window, _ Parameters) *float64 {
	if len(windows) != 4 {
		return nil
	}
	vCurrent := reversalVelocity(windows[0], windows[1])
	vPeak := reversalVelocity(windows[2], windows[3])
	if vCurrent == nil || vPeak == nil || math.Abs(*vPeak) < 1e-3 {
		return nil
	}
	v := (*vCurrent - *vPeak) / math.Abs(*vPeak) * 100.0
	return &v
}
