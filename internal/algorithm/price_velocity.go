package algorithm

import "github.com/marketpulse/indicatorengine/internal/window"

// PriceVelocity: rate of percentage price change between a current and a
// baseline window, normalized by the time between the two windows'
// centers.
type PriceVelocity struct{ base }

func NewPriceVelocity() *PriceVelocity { return &PriceVelocity{} }

func (*PriceVelocity) IndicatorType() string { return "PRICE_VELOCITY" }
func (*PriceVelocity) Name() string          { return "Price Velocity" }
func (*PriceVelocity) Description() string {
	return "Percentage price change per second between a baseline and current window"
}
func (*PriceVelocity) Category() string   { return "momentum" }
func (*PriceVelocity) IsTimeDriven() bool { return true }

func (*PriceVelocity) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "t1", Type: ParamFloat, Default: 10.0},
		{Name: "t3", Type: ParamFloat, Default: 60.0},
		{Name: "d", Type: ParamFloat, Default: 30.0},
	}
}

func (a *PriceVelocity) WindowSpecs(params Parameters) []window.Spec {
	t1 := params.GetFloat("t1", 10.0)
	t3 := params.GetFloat("t3", 60.0)
	d := params.GetFloat("d", 30.0)
	return []window.Spec{
		{T1: t1, T2: 0},
		{T1: t3, T2: t3 - d},
	}
}

func (*PriceVelocity) CalculateFromWindows(windows []window.Window, _ Parameters) *float64 {
	if len(windows) != 2 {
		return nil
	}
	current := window.TimeWeightedAverage(windows[0].Data, windows[0].Start, windows[0].End)
	baseline := window.TimeWeightedAverage(windows[1].Data, windows[1].Start, windows[1].End)
	if current == nil || baseline == nil || *baseline == 0 {
		return nil
	}
	pctChange := (*current - *baseline) / *baseline * 100.0

	currentCenter := (windows[0].Start + windows[0].End) / 2.0
	baselineCenter := (windows[1].Start + windows[1].End) / 2.0
	timeDiff := currentCenter - baselineCenter
	if timeDiff <= 0 {
		return nil
	}
	v := pctChange / timeDiff
	return &v
}
