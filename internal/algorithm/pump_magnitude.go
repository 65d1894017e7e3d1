package algorithm

import "github.com/marketpulse/indicatorengine/internal/window"

// PumpMagnitudePct: percentage move of a recent window's TWPA relative to
// a pre-pump baseline window's TWPA. Windows: (t1, 0) current and
// (t3, t3-d) baseline; requires t3 >= d.
type PumpMagnitudePct struct{ base }

func NewPumpMagnitudePct() *PumpMagnitudePct { return &PumpMagnitudePct{} }

func (*PumpMagnitudePct) IndicatorType() string { return "PUMP_MAGNITUDE_PCT" }
func (*PumpMagnitudePct) Name() string          { return "Pump Magnitude Percent" }
func (*PumpMagnitudePct) Description() string {
	return "Percentage change of current price level above a pre-pump baseline"
}
func (*PumpMagnitudePct) Category() string   { return "momentum" }
func (*PumpMagnitudePct) IsTimeDriven() bool { return true }

func (*PumpMagnitudePct) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "t1", Type: ParamFloat, Default: 10.0},
		{Name: "t3", Type: ParamFloat, Default: 60.0},
		{Name: "d", Type: ParamFloat, Default: 30.0},
	}
}

func (a *PumpMagnitudePct) WindowSpecs(params Parameters) []window.Spec {
	t1 := params.GetFloat("t1", 10.0)
	t3 := params.GetFloat("t3", 60.0)
	d := params.GetFloat("d", 30.0)
	return []window.Spec{
		{T1: t1, T2: 0},
		{T1: t3, T2: t3 - d},
	}
}

func (*PumpMagnitudePct) CalculateFromWindows(windows []window.Window, params Parameters) *float64 {
	t3 := params.GetFloat("t3", 60.0)
	d := params.GetFloat("d", 30.0)
	if t3 < d || len(windows) != 2 {
		return nil
	}
	current := window.TimeWeightedAverage(windows[0].Data, windows[0].Start, windows[0].End)
	baseline := window.TimeWeightedAverage(windows[1].Data, windows[1].Start, windows[1].End)
	if current == nil || baseline == nil || *baseline == 0 {
		return nil
	}
	v := (*current - *baseline) / *baseline * 100.0
	return &v
}
