package algorithm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/indicatorengine/internal/window"
)

func TestPumpMagnitudePct_TenPercentPump(t *testing.T) {
	a := NewPumpMagnitudePct()
	params := NewParameters(map[string]any{"t1": 10.0, "t3": 60.0, "d": 30.0})

	current := window.Window{
		Data:  []window.Point{{Timestamp: 90, Value: 105}, {Timestamp: 92, Value: 110}},
		Start: 90, End: 100,
	}
	baseline := window.Window{
		Data:  []window.Point{{Timestamp: 40, Value: 100}, {Timestamp: 50, Value: 100}, {Timestamp: 60, Value: 100}},
		Start: 40, End: 70,
	}

	got := a.CalculateFromWindows([]window.Window{current, baseline}, params)
	require.NotNil(t, got)
	assert.Greater(t, *got, 8.0)
	assert.Less(t, *got, 12.0)
}

func TestVolumeSurgeRatio_FiveXSurge(t *testing.T) {
	a := NewVolumeSurgeRatio()
	params := NewParameters(map[string]any{"t1": 3.0, "t3": 10.0, "d": 5.0})

	current := window.Window{
		Data: []window.Point{
			{Timestamp: 0, Value: 10}, {Timestamp: 1, Value: 10}, {Timestamp: 2, Value: 10},
		},
		Start: 0, End: 3,
	}
	baseline := window.Window{
		Data: []window.Point{
			{Timestamp: 0, Value: 2}, {Timestamp: 1, Value: 2}, {Timestamp: 2, Value: 2},
			{Timestamp: 3, Value: 2}, {Timestamp: 4, Value: 2},
		},
		Start: 0, End: 5,
	}
	got := a.CalculateFromWindows([]window.Window{current, baseline}, params)
	require.NotNil(t, got)
	assert.Greater(t, *got, 3.0)

	// equal series => ratio ~= 1.0
	got2 := a.CalculateFromWindows([]window.Window{baseline, baseline}, params)
	require.NotNil(t, got2)
	assert.Greater(t, *got2, 0.8)
	assert.Less(t, *got2, 1.2)
}

func TestTWPARatio_ConstantSeriesIsOne(t *testing.T) {
	a := NewTWPARatio()
	params := NewParameters(map[string]any{"t1": 120.0, "t2": 60.0, "t3": 300.0, "t4": 180.0})

	var points []window.Point
	for ts := 0.0; ts <= 600.0; ts += 10.0 {
		points = append(points, window.Point{Timestamp: ts, Value: 100.0})
	}

	w1 := window.Assemble(points, window.Spec{T1: 120, T2: 60}, 600)
	w2 := window.Assemble(points, window.Spec{T1: 300, T2: 180}, 600)

	got := a.CalculateFromWindows([]window.Window{w1, w2}, params)
	require.NotNil(t, got)
	assert.InDelta(t, 1.0, *got, 1e-6)
}

func TestRefreshOverridePrecedence(t *testing.T) {
	// A recognized parameter-map key is honored, and the
	// RefreshIntervalOverride field wins over any parameter-map key.
	p := NewParameters(map[string]any{"refresh_interval_seconds": 2.5})
	v, ok := p.GetRefreshOverride()
	require.True(t, ok)
	assert.Equal(t, 2.5, v)

	override := 9.0
	p2 := Parameters{Values: map[string]any{"r": 3.0}, RefreshIntervalOverride: &override}
	v2, ok := p2.GetRefreshOverride()
	require.True(t, ok)
	assert.Equal(t, 9.0, v2)
}
