package algorithm

import "github.com/marketpulse/indicatorengine/internal/window"

// VolumeSurgeRatio: ratio of current volume flow rate to baseline median
// volume flow rate.
type VolumeSurgeRatio struct{ base }

func NewVolumeSurgeRatio() *VolumeSurgeRatio { return &VolumeSurgeRatio{} }

func (*VolumeSurgeRatio) IndicatorType() string { return "VOLUME_SURGE_RATIO" }
func (*VolumeSurgeRatio) Name() string          { return "Volume Surge Ratio" }
func (*VolumeSurgeRatio) Description() string {
	return "Current volume average over baseline volume median"
}
func (*VolumeSurgeRatio) Category() string   { return "volume" }
func (*VolumeSurgeRatio) IsTimeDriven() bool { return true }

func (*VolumeSurgeRatio) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "t1", Type: ParamFloat, Default: 10.0},
		{Name: "t3", Type: ParamFloat, Default: 60.0},
		{Name: "d", Type: ParamFloat, Default: 30.0},
		{Name: "min_baseline", Type: ParamFloat, Default: 0.001},
	}
}

func (a *VolumeSurgeRatio) WindowSpecs(params Parameters) []window.Spec {
	t1 := params.GetFloat("t1", 10.0)
	t3 := params.GetFloat("t3", 60.0)
	d := params.GetFloat("d", 30.0)
	return []window.Spec{
		{T1: t1, T2: 0},
		{T1: t3, T2: t3 - d},
	}
}

func (*VolumeSurgeRatio) CalculateFromWindows(windows []window.Window, params Parameters) *float64 {
	if len(windows) != 2 {
		return nil
	}
	current := window.VolumeAverage(windows[0].Data, windows[0].Start, windows[0].End)
	baseline := window.VolumeMedian(windows[1].Data, windows[1].Start, windows[1].End)
	minBaseline := params.GetFloat("min_baseline", 0.001)
	if current == nil || baseline == nil || *baseline < minBaseline {
		return nil
	}
	v := *current / *baseline
	return &v
}
