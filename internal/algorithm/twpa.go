package algorithm

import "github.com/marketpulse/indicatorengine/internal/window"

// TWPA: time-weighted price average over a single window (t1, t2).
type TWPA struct{ base }

func NewTWPA() *TWPA { return &TWPA{} }

func (*TWPA) IndicatorType() string { return "TWPA" }
func (*TWPA) Name() string          { return "Time-Weighted Price Average" }
func (*TWPA) Description() string {
	return "Time-weighted average price over a sliding window ending t2 seconds before evaluation time"
}
func (*TWPA) Category() string { return "price" }

func (*TWPA) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "t1", Type: ParamFloat, Default: 60.0, Description: "window length start offset (seconds)"},
		{Name: "t2", Type: ParamFloat, Default: 0.0, Description: "window end offset (seconds)"},
	}
}

func (*TWPA) IsTimeDriven() bool { return true }

func (a *TWPA) WindowSpecs(params Parameters) []window.Spec {
	return []window.Spec{{T1: params.GetFloat("t1", 60.0), T2: params.GetFloat("t2", 0.0)}}
}

func (*TWPA) CalculateFromWindows(windows []window.Window, _ Parameters) *float64 {
	if len(windows) != 1 {
		return nil
	}
	w := windows[0]
	return window.TimeWeightedAverage(w.Data, w.Start, w.End)
}
