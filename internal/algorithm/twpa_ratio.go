package algorithm

import "github.com/marketpulse/indicatorengine/internal/window"

// TWPARatio: ratio of a current-window TWPA to a baseline-window TWPA.
type TWPARatio struct{ base }

func NewTWPARatio() *TWPARatio { return &TWPARatio{} }

func (*TWPARatio) IndicatorType() string { return "TWPA_RATIO" }
func (*TWPARatio) Name() string          { return "TWPA Ratio" }
func (*TWPARatio) Description() string {
	return "Ratio of current TWPA to baseline TWPA, detecting relative price drift"
}
func (*TWPARatio) Category() string { return "price" }
func (*TWPARatio) IsTimeDriven() bool { return true }

func (*TWPARatio) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "t1", Type: ParamFloat, Default: 120.0},
		{Name: "t2", Type: ParamFloat, Default: 60.0},
		{Name: "t3", Type: ParamFloat, Default: 300.0},
		{Name: "t4", Type: ParamFloat, Default: 180.0},
	}
}

func (a *TWPARatio) WindowSpecs(params Parameters) []window.Spec {
	return []window.Spec{
		{T1: params.GetFloat("t1", 120.0), T2: params.GetFloat("t2", 60.0)},
		{T1: params.GetFloat("t3", 300.0), T2: params.GetFloat("t4", 180.0)},
	}
}

func (*TWPARatio) CalculateFromWindows(windows []window.Window, _ Parameters) *float64 {
	if len(windows) != 2 {
		return nil
	}
	current := window.TimeWeightedAverage(windows[0].Data, windows[0].Start, windows[0].End)
	baseline := window.TimeWeightedAverage(windows[1].Data, windows[1].Start, windows[1].End)
	if current == nil || baseline == nil || *baseline == 0 {
		return nil
	}
	v := *current / *baseline
	return &v
}
