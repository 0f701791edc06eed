package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestEMA(t *testing.T) {
	closes := ramp(20, 100, 1)
	series, err := MovingAverage(closes, EMA, 5)
	require.NoError(t, err)
	require.Len(t, series, len(closes))
	for i := 0; i < 4; i++ {
		assert.True(t, math.IsNaN(series[i]), "index %d should be NaN", i)
	}
	assert.InDelta(t, 102.0, series[4], 1e-9, "seeded with SMA")
	last, ok := Last(series)
	require.True(t, ok)
	assert.Less(t, last, closes[len(closes)-1])
	assert.Greater(t, last, closes[len(closes)-6])
}

func TestHMATracksLinearTrend(t *testing.T) {
	closes := ramp(40, 50, 2)
	series, err := MovingAverage(closes, HMA, 9)
	require.NoError(t, err)
	last, ok := Last(series)
	require.True(t, ok)
	assert.InDelta(t, closes[len(closes)-1], last, 1e-6)
	assert.True(t, math.IsNaN(series[Required(HMA, 9)-2]))
	assert.False(t, math.IsNaN(series[Required(HMA, 9)-1]))
}

func TestNotEnoughData(t *testing.T) {
	_, err := MovingAverage(ramp(3, 1, 1), EMA, 5)
	assert.ErrorIs(t, err, ErrNotEnoughData)
	_, err = MovingAverage(ramp(5, 1, 1), HMA, 5)
	assert.ErrorIs(t, err, ErrNotEnoughData)
	_, err = MovingAverage(ramp(10, 1, 1), EMA, 0)
	assert.Error(t, err)
}

func TestSlope(t *testing.T) {
	closes := ramp(30, 10, 0.5)
	ma, err := MovingAverage(closes, EMA, 5)
	require.NoError(t, err)
	slope, err := Slope(ma, 4)
	require.NoError(t, err)
	require.Len(t, slope, len(closes))
	last, ok := Last(slope)
	require.True(t, ok)
	assert.InDelta(t, 0.5, last, 1e-6)
	assert.True(t, math.IsNaN(slope[6]))
	assert.False(t, math.IsNaN(slope[7]))

	down, err := Slope(ramp(10, 10, -1), 3)
	require.NoError(t, err)
	last, _ = Last(down)
	assert.InDelta(t, -1.0, last, 1e-9)

	_, err = Slope(ramp(2, 1, 1), 3)
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" hma ")
	require.NoError(t, err)
	assert.Equal(t, HMA, k)
	_, err = ParseKind("sma")
	assert.Error(t, err)
}
