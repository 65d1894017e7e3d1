package algorithm

import "github.com/marketpulse/indicatorengine/internal/window"

// SupportLevelProximity: percentage distance of the current price level
// above (or below) a pre-pump baseline window's level, treated as the
// support level.
type SupportLevelProximity struct{ base }

func NewSupportLevelProximity() *SupportLevelProximity { return &SupportLevelProximity{} }

func (*SupportLevelProximity) IndicatorType() string { return "SUPPORT_LEVEL_PROXIMITY" }
func (*SupportLevelProximity) Name() string          { return "Support Level Proximity" }
func (*SupportLevelProximity) Description() string {
	return "Percentage distance of current price from a pre-pump baseline support level"
}
func (*SupportLevelProximity) Category() string   { return "price" }
func (*SupportLevelProximity) IsTimeDriven() bool { return true }

func (*SupportLevelProximity) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "t1", Type: ParamFloat, Default: 10.0},
		{Name: "support_t1", Type: ParamFloat, Default: 300.0},
		{Name: "support_t2", Type: ParamFloat, Default: 240.0},
	}
}

func (a *SupportLevelProximity) WindowSpecs(params Parameters) []window.Spec {
	return []window.Spec{
		{T1: params.GetFloat("t1", 10.0), T2: 0},
		{T1: params.GetFloat("support_t1", 300.0), T2: params.GetFloat("support_t2", 240.0)},
	}
}

func (*SupportLevelProximity) CalculateFromWindows(windows []window.Window, _ Parameters) *float64 {
	if len(windows) != 2 {
		return nil
	}
	current := window.TimeWeightedAverage(windows[0].Data, windows[0].Start, windows[0].End)
	support := window.TimeWeightedAverage(windows[1].Data, windows[1].Start, windows[1].End)
	if current == nil || support == nil || *support == 0 {
		return nil
	}
	v := (*current - *support) / *support * 100.0
	return &v
}
