package algorithm

import "github.com/marketpulse/indicatorengine/internal/window"

// EMA: exponential moving average over the points in a single window,
// weighting later samples more heavily via the configured alpha (or a
// period-derived alpha of 2/(period+1) when alpha is unset).
type EMA struct{ base }

func NewEMA() *EMA { return &EMA{} }

func (*EMA) IndicatorType() string { return "EMA" }
func (*EMA) Name() string          { return "Exponential Moving Average" }
func (*EMA) Description() string {
	return "Exponentially weighted moving average of price over a trailing window"
}
func (*EMA) Category() string { return "price" }

func (*EMA) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "period", Type: ParamFloat, Default: 20.0},
		{Name: "alpha", Type: ParamFloat},
	}
}

func (a *EMA) WindowSpecs(params Parameters) []window.Spec {
	return []window.Spec{{T1: params.GetFloat("period", 20.0), T2: 0}}
}

func (*EMA) CalculateFromWindows(windows []window.Window, params Parameters) *float64 {
	if len(windows) != 1 || len(windows[0].Data) == 0 {
		return nil
	}
	data := windows[0].Data

	period := params.GetFloat("period", 20.0)
	alpha := params.GetFloat("alpha", 0)
	if alpha <= 0 {
		alpha = 2.0 / (period + 1.0)
	}

	ema := data[0].Value
	for _, p := range data[1:] {
		ema = alpha*p.Value + (1-alpha)*ema
	}
	return &ema
}
