package algorithm

import (
	"math"

	"github.com/marketpulse/indicatorengine/internal/window"
)

// VelocityCascade: N configurable {t1,t3,d} triplets, each contributing a
// velocity measurement (shortest timeframe first). The cascade index is
// built from the pairwise relative differences between consecutive
// velocities, weighted by 2^i and averaged by total weight, with a 1.2x
// consistency bonus when every diff shares sign, tanh-squashed by a fixed
// scale factor.
type VelocityCascade struct{ base }

func NewVelocityCascade() *VelocityCascade { return &VelocityCascade{} }

func (*VelocityCascade) IndicatorType() string { return "VELOCITY_CASCADE" }
func (*VelocityCascade) Name() string          { return "Velocity Cascade" }
func (*VelocityCascade) Description() string {
	return "Recency-weighted, tanh-squashed composite of N price-velocity measurements"
}
func (*VelocityCascade) Category() string   { return "momentum" }
func (*VelocityCascade) IsTimeDriven() bool { return true }

func (*VelocityCascade) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "triplets", Type: ParamJSON, Required: true, Description: "list of {t1,t3,d} window triplets, shortest timeframe first"},
	}
}

// cascadeDiffEpsilon floors the denominator of each pairwise relative
// difference so a near-zero longer-timeframe velocity doesn't blow up.
const cascadeDiffEpsilon = 0.01

// cascadeScaleFactor is the fixed tanh normalization divisor; it is not a
// tunable parameter.
const cascadeScaleFactor = 2.0

type velocityTriplet struct{ t1, t3, d float64 }

func parseTriplets(params Parameters) []velocityTriplet {
	raw, _ := params.Values["triplets"].([]any)
	out := make([]velocityTriplet, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		get := func(k string, def float64) float64 {
			if v, ok := m[k]; ok {
				if f, ok := toFloat(v); ok {
					return f
				}
			}
			return def
		}
		out = append(out, velocityTriplet{t1: get("t1", 10.0), t3: get("t3", 60.0), d: get("d", 30.0)})
	}
	return out
}

func (a *VelocityCascade) WindowSpecs(params Parameters) []window.Spec {
	triplets := parseTriplets(params)
	specs := make([]window.Spec, 0, len(triplets)*2)
	for _, tr := range triplets {
		specs = append(specs, window.Spec{T1: tr.t1, T2: 0})
		specs = append(specs, window.Spec{T1: tr.t3, T2: tr.t3 - tr.d})
	}
	return specs
}

func (*VelocityCascade) CalculateFromWindows(windows []window.Window, params Parameters) *float64 {
	triplets := parseTriplets(params)
	if len(triplets) == 0 || len(windows) != len(triplets)*2 {
		return nil
	}

	velocities := make([]float64, 0, len(triplets))
	for i := range triplets {
		cur := windows[2*i]
		base := windows[2*i+1]
		currentTWPA := window.TimeWeightedAverage(cur.Data, cur.Start, cur.End)
		baselineTWPA := window.TimeWeightedAverage(base.Data, base.Start, base.End)
		if currentTWPA == nil || baselineTWPA == nil || *baselineTWPA == 0 {
			continue
		}
		pctChange := (*currentTWPA - *baselineTWPA) / *baselineTWPA * 100.0

		curCenter := (cur.Start + cur.End) / 2.0
		baseCenter := (base.Start + base.End) / 2.0
		timeDiff := curCenter - baseCenter
		if timeDiff <= 0 {
			continue
		}
		velocities = append(velocities, pctChange/timeDiff)
	}

	if len(velocities) < 2 {
		return nil
	}

	v := cascadeIndex(velocities)
	return &v
}

// cascadeIndex computes the pairwise relative differences between
// consecutive velocities (shortest timeframe first), weights them by
// 2^i, applies a 1.2x bonus when every diff shares sign, and squashes
// the result through tanh by the fixed cascadeScaleFactor.
func cascadeIndex(velocities []float64) float64 {
	diffs := make([]float64, 0, len(velocities)-1)
	for i := 0; i < len(velocities)-1; i++ {
		vCurrent := velocities[i]
		vNext := velocities[i+1]
		denom := math.Abs(vNext)
		if denom < cascadeDiffEpsilon {
			denom = cascadeDiffEpsilon
		}
		diffs = append(diffs, (vCurrent-vNext)/denom)
	}

	var weightedSum, weightTotal float64
	for i, d := range diffs {
		w := math.Pow(2, float64(i))
		weightedSum += d * w
		weightTotal += w
	}
	weightedDiff := weightedSum / weightTotal

	allPositive, allNegative := true, true
	for _, d := range diffs {
		if d <= 0 {
			allPositive = false
		}
		if d >= 0 {
			allNegative = false
		}
	}
	if allPositive || allNegative {
		weightedDiff *= 1.2
	}

	return math.Tanh(weightedDiff / cascadeScaleFactor)
}
