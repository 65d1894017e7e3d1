package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeWeightedAverage_PreWindowAnchor(t *testing.T) {
	// Matches spec §8: pre-window point (t0,v0) with t0<s and single
	// in-window point (t1,v1).
	points := []Point{
		{Timestamp: 50, Value: 100.0},
		{Timestamp: 110, Value: 200.0},
	}
	got := TimeWeightedAverage(points, 100, 120)
	require.NotNil(t, got)
	want := 100.0*(10.0/20.0) + 200.0*(10.0/20.0)
	assert.InDelta(t, want, *got, 1e-9)
}

func TestTimeWeightedAverage_NoAnchorStillComputes(t *testing.T) {
	points := []Point{{Timestamp: 110, Value: 200.0}}
	got := TimeWeightedAverage(points, 100, 120)
	require.NotNil(t, got)
	assert.InDelta(t, 200.0, *got, 1e-9)
}

func TestTimeWeightedAverage_EmptyReturnsNil(t *testing.T) {
	assert.Nil(t, TimeWeightedAverage(nil, 0, 10))
}

func TestVolumeAverage(t *testing.T) {
	points := []Point{{0, 10}, {1, 10}, {2, 10}}
	got := VolumeAverage(points, 0, 3)
	require.NotNil(t, got)
	assert.InDelta(t, 10.0, *got, 1e-9)
}

func TestVolumeMedianOdd(t *testing.T) {
	points := []Point{{0, 1}, {1, 5}, {2, 3}}
	got := VolumeMedian(points, 0, 2)
	require.NotNil(t, got)
	assert.Equal(t, 3.0, *got)
}

func TestVolumeMedianEven(t *testing.T) {
	points := []Point{{0, 1}, {1, 2}, {2, 3}, {3, 4}}
	got := VolumeMedian(points, 0, 3)
	require.NotNil(t, got)
	assert.Equal(t, 2.5, *got)
}

func TestStdDevRequiresTwoSamples(t *testing.T) {
	assert.Nil(t, StdDev([]Point{{0, 1}}, 0, 1))
	got := StdDev([]Point{{0, 1}, {1, 3}}, 0, 1)
	require.NotNil(t, got)
	assert.InDelta(t, 1.0, *got, 1e-9)
}

func TestAssemble_PrependsAnchorHalfOpen(t *testing.T) {
	history := []Point{
		{Timestamp: 10, Value: 1},
		{Timestamp: 95, Value: 2},
		{Timestamp: 100, Value: 3},
		{Timestamp: 119, Value: 4},
		{Timestamp: 120, Value: 5}, // excluded: half-open end
	}
	w := Assemble(history, Spec{T1: 20, T2: 0}, 120)
	require.Len(t, w.Data, 3)
	assert.Equal(t, 95.0, w.Data[0].Timestamp) // anchor
	assert.Equal(t, 100.0, w.Data[1].Timestamp)
	assert.Equal(t, 119.0, w.Data[2].Timestamp)
	assert.Equal(t, 100.0, w.Start)
	assert.Equal(t, 120.0, w.End)
}

func TestSumMaxMinFirstLast(t *testing.T) {
	points := []Point{{0, 3}, {1, 1}, {2, 2}}
	assert.InDelta(t, 6.0, *Sum(points, 0, 2), 1e-9)
	assert.InDelta(t, 3.0, *Max(points, 0, 2), 1e-9)
	assert.InDelta(t, 1.0, *Min(points, 0, 2), 1e-9)
	assert.InDelta(t, 3.0, *First(points, 0, 2), 1e-9)
	assert.InDelta(t, 2.0, *Last(points, 0, 2), 1e-9)
}
