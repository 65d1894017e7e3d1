package algorithm

import "github.com/marketpulse/indicatorengine/internal/window"

// RSI: relative strength index using Wilder's smoothing over the prices
// in a single window. Returns the neutral value 50.0 when fewer than
// period+1 samples are available, matching the teacher's technical
// indicator library's insufficient-data convention.
type RSI struct{ base }

func NewRSI() *RSI { return &RSI{} }

func (*RSI) IndicatorType() string { return "RSI" }
func (*RSI) Name() string          { return "Relative Strength Index" }
func (*RSI) Description() string   { return "Wilder-smoothed relative strength index" }
func (*RSI) Category() string      { return "momentum" }

func (*RSI) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "period", Type: ParamInt, Default: 14},
		{Name: "window_seconds", Type: ParamFloat, Default: 900.0},
	}
}

func (a *RSI) WindowSpecs(params Parameters) []window.Spec {
	return []window.Spec{{T1: params.GetFloat("window_seconds", 900.0), T2: 0}}
}

func (*RSI) CalculateFromWindows(windows []window.Window, params Parameters) *float64 {
	if len(windows) != 1 {
		return nil
	}
	data := windows[0].Data
	period := params.GetInt("period", 14)
	if period <= 0 || len(data) < period+1 {
		v := 50.0
		return &v
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		delta := data[i].Value - data[i-1].Value
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(data); i++ {
		delta := data[i].Value - data[i-1].Value
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		v := 100.0
		return &v
	}
	rs := avgGain / avgLoss
	v := 100.0 - (100.0 / (1.0 + rs))
	return &v
}
