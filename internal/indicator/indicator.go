// Package indicator 提供出场引擎所需的均线与斜率计算，底层使用 go-talib。
package indicator

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/markcheno/go-talib"
)

// ErrNotEnoughData 表示样本数不足以计算指标。
var ErrNotEnoughData = errors.New("not enough data")

type Kind string

const (
	EMA Kind = "EMA"
	HMA Kind = "HMA"
)

// ParseKind 不区分大小写。
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(raw))) {
	case EMA:
		return EMA, nil
	case HMA:
		return HMA, nil
	}
	return "", fmt.Errorf("unsupported moving average %q", raw)
}

// Required 返回计算一个有效值需要的最少样本数。
func Required(kind Kind, period int) int {
	switch kind {
	case HMA:
		return period + hmaSmoothing(period) - 1
	default:
		return period
	}
}

// MovingAverage 返回与 closes 等长的序列，未就绪的位置为 NaN。
func MovingAverage(closes []float64, kind Kind, period int) ([]float64, error) {
	if period < 1 {
		return nil, fmt.Errorf("moving average period must be positive, got %d", period)
	}
	if need := Required(kind, period); len(closes) < need {
		return nil, fmt.Errorf("%w: %s(%d) needs %d closes, have %d", ErrNotEnoughData, kind, period, need, len(closes))
	}
	switch kind {
	case EMA:
		return pad(talib.Ema(closes, period), period-1), nil
	case HMA:
		return hullMA(closes, period), nil
	}
	return nil, fmt.Errorf("unsupported moving average %q", kind)
}

// hullMA = WMA(2*WMA(n/2) - WMA(n), floor(sqrt(n)))
func hullMA(closes []float64, period int) []float64 {
	half := period / 2
	if half < 1 {
		half = 1
	}
	fast := talib.Wma(closes, half)
	slow := talib.Wma(closes, period)
	start := period - 1
	diff := make([]float64, len(closes)-start)
	for i := range diff {
		diff[i] = 2*fast[start+i] - slow[start+i]
	}
	smooth := hmaSmoothing(period)
	smoothed := talib.Wma(diff, smooth)
	out := nanSeries(len(closes))
	for i := smooth - 1; i < len(smoothed); i++ {
		out[start+i] = smoothed[i]
	}
	return out
}

func hmaSmoothing(period int) int {
	n := int(math.Floor(math.Sqrt(float64(period))))
	if n < 1 {
		return 1
	}
	return n
}

// Slope 对 series 的有效尾段做滚动线性回归斜率，输出与输入等长，前段为 NaN。
func Slope(series []float64, window int) ([]float64, error) {
	if window < 2 {
		return nil, fmt.Errorf("slope window must be at least 2, got %d", window)
	}
	first := firstValid(series)
	if first < 0 || len(series)-first < window {
		return nil, fmt.Errorf("%w: slope(%d) needs %d valid points", ErrNotEnoughData, window, window)
	}
	valid := series[first:]
	raw := pad(talib.LinearRegSlope(valid, window), window-1)
	out := nanSeries(len(series))
	copy(out[first:], raw)
	return out, nil
}

// Last 返回序列最后一个有效值。
func Last(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i], true
		}
	}
	return 0, false
}

func pad(series []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func firstValid(series []float64) int {
	for i, v := range series {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}
