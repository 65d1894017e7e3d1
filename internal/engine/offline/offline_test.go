package offline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/indicatorengine/internal/algorithm"
	"github.com/marketpulse/indicatorengine/internal/errs"
)

func TestNormalizeTimestampConvertsMilliseconds(t *testing.T) {
	assert.InDelta(t, 1700000000.0, NormalizeTimestamp(1700000000000.0), 1e-6)
	assert.InDelta(t, 1700000000.0, NormalizeTimestamp(1700000000.0), 1e-6)
}

func TestCalculateSeriesGridAlignmentIsExact(t *testing.T) {
	alg := algorithm.NewSMA()
	params := algorithm.NewParameters(map[string]any{"period": 30.0, "refresh_interval_seconds": 10.0})

	points := []RawPoint{
		{Timestamp: 0, Price: 100, Volume: 1},
		{Timestamp: 15, Price: 105, Volume: 1},
		{Timestamp: 47, Price: 110, Volume: 1},
	}

	series, err := CalculateSeries(alg, "BTC-USD", "SMA", "1m", params, points, nil)
	require.NoError(t, err)
	require.Greater(t, len(series), 1)

	assert.InDelta(t, 0.0, series[0].Timestamp, 1e-6)
	for i := 1; i < len(series); i++ {
		diff := series[i].Timestamp - series[i-1].Timestamp
		assert.InDelta(t, 10.0, diff, 1e-6)
	}
	assert.LessOrEqual(t, series[len(series)-1].Timestamp, 47.0+1e-6)
}

func TestCalculateSeriesWarmupSlotsAreNil(t *testing.T) {
	alg := algorithm.NewSMA()
	params := algorithm.NewParameters(map[string]any{"period": 5.0, "refresh_interval_seconds": 5.0})

	points := []RawPoint{
		{Timestamp: 0, Price: 100, Volume: 1},
		{Timestamp: 20, Price: 105, Volume: 1},
	}

	series, err := CalculateSeries(alg, "BTC-USD", "SMA", "1m", params, points, nil)
	require.NoError(t, err)
	require.NotEmpty(t, series)
	assert.Nil(t, series[0].Value)
}

func TestCalculateSeriesEmptyPointsReturnsEmptySeries(t *testing.T) {
	alg := algorithm.NewSMA()
	params := algorithm.NewParameters(nil)

	series, err := CalculateSeries(alg, "BTC-USD", "SMA", "1m", params, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestDropNilsFiltersWarmup(t *testing.T) {
	v1 := 1.0
	series := []IndicatorValue{
		{Timestamp: 0, Value: nil},
		{Timestamp: 1, Value: &v1},
	}
	out := DropNils(series)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, *out[0].Value, 1e-9)
}

func TestPersistableOrInsufficientSignalsWhenAllNil(t *testing.T) {
	series := []IndicatorValue{
		{Timestamp: 0, Value: nil},
		{Timestamp: 1, Value: nil},
	}
	_, err := PersistableOrInsufficient(series)
	assert.ErrorIs(t, err, errs.ErrInsufficientData)
}

func TestPersistableOrInsufficientEmptySeriesIsNotAnError(t *testing.T) {
	out, err := PersistableOrInsufficient(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRefreshIntervalDefaultsWhenNoOverride(t *testing.T) {
	params := algorithm.NewParameters(map[string]any{})
	assert.InDelta(t, defaultRefreshInterval, refreshIntervalFor(params), 1e-9)
}

func TestGenerateGridHandlesExactMultiple(t *testing.T) {
	grid := generateGrid(0, 30, 10)
	require.Len(t, grid, 4)
	assert.InDelta(t, 30.0, grid[3], 1e-9)
	for i, v := range grid {
		assert.InDelta(t, float64(i)*10, v, 1e-9)
	}
}

func TestGenerateGridFloatingDriftStaysWithinTolerance(t *testing.T) {
	grid := generateGrid(0, 100, 0.3)
	for i := 1; i < len(grid); i++ {
		assert.InDelta(t, 0.3, grid[i]-grid[i-1], 1e-6)
	}
	assert.True(t, math.Abs(grid[len(grid)-1]-100) < 1 || grid[len(grid)-1] <= 100)
}
