package algorithm

import (
	"math"

	"github.com/marketpulse/indicatorengine/internal/window"
)

// VelocityStabilizationIndex: takes num_samples offset velocity
// measurements and returns their coefficient of variation
// (std_dev / mean(|velocities|)), 0 when the mean magnitude is ~0.
type VelocityStabilizationIndex struct{ base }

func NewVelocityStabilizationIndex() *VelocityStabilizationIndex {
	return &VelocityStabilizationIndex{}
}

func (*VelocityStabilizationIndex) IndicatorType() string { return "VELOCITY_STABILIZATION_INDEX" }
func (*VelocityStabilizationIndex) Name() string          { return "Velocity Stabilization Index" }
func (*VelocityStabilizationIndex) Description() string {
	return "Coefficient of variation of several offset velocity samples; lower means more stable"
}
func (*VelocityStabilizationIndex) Category() string   { return "momentum" }
func (*VelocityStabilizationIndex) IsTimeDriven() bool { return true }

func (*VelocityStabilizationIndex) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "num_samples", Type: ParamInt, Default: 5},
		{Name: "sample_offset", Type: ParamFloat, Default: 5.0},
		{Name: "t1", Type: ParamFloat, Default: 10.0},
		{Name: "t3", Type: ParamFloat, Default: 60.0},
		{Name: "d", Type: ParamFloat, Default: 30.0},
	}
}

func (a *VelocityStabilizationIndex) WindowSpecs(params Parameters) []window.Spec {
	n := params.GetInt("num_samples", 5)
	offset := params.GetFloat("sample_offset", 5.0)
	t1 := params.GetFloat("t1", 10.0)
	t3 := params.GetFloat("t3", 60.0)
	d := params.GetFloat("d", 30.0)
	specs := make([]window.Spec, 0, n*2)
	for i := 0; i < n; i++ {
		shift := float64(i) * offset
		specs = append(specs, window.Spec{T1: t1 + shift, T2: shift})
		specs = append(specs, window.Spec{T1: t3 + shift, T2: t3 - d + shift})
	}
	return specs
}

func (*VelocityStabilizationIndex) CalculateFromWindows(windows []window.Window, params Parameters) *float64 {
	n := params.GetInt("num_samples", 5)
	if n <= 0 || len(windows) != n*2 {
		return nil
	}

	velocities := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		cur := windows[2*i]
		base := windows[2*i+1]
		v := reversalVelocity(cur, base)
		if v == nil {
			continue
		}
		velocities = append(velocities, *v)
	}
	if len(velocities) < 2 {
		return nil
	}

	points := make([]window.Point, len(velocities))
	var sumAbs float64
	for i, v := range velocities {
		points[i] = window.Point{Timestamp: float64(i), Value: v}
		sumAbs += math.Abs(v)
	}
	meanAbs := sumAbs / float64(len(velocities))

	if meanAbs < 1e-3 {
		zero := 0.0
		return &zero
	}

	sd := window.StdDev(points, 0, float64(len(points)-1))
	if sd == nil {
		return nil
	}
	v := *sd / meanAbs
	return &v
}
