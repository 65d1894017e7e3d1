package algorithm

import "github.com/marketpulse/indicatorengine/internal/window"

// SMA: simple moving average of price over a single window. Event-driven
// (recomputes on each new tick rather than on a fixed wall-clock cadence).
type SMA struct{ base }

func NewSMA() *SMA { return &SMA{} }

func (*SMA) IndicatorType() string { return "SMA" }
func (*SMA) Name() string          { return "Simple Moving Average" }
func (*SMA) Description() string   { return "Arithmetic mean of price over a trailing window" }
func (*SMA) Category() string      { return "price" }

func (*SMA) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "period", Type: ParamFloat, Default: 20.0, Description: "window length in seconds"},
	}
}

func (a *SMA) WindowSpecs(params Parameters) []window.Spec {
	return []window.Spec{{T1: params.GetFloat("period", 20.0), T2: 0}}
}

func (*SMA) CalculateFromWindows(windows []window.Window, _ Parameters) *float64 {
	if len(windows) != 1 {
		return nil
	}
	w := windows[0]
	return window.SimpleAverage(w.Data, w.Start, w.End)
}
