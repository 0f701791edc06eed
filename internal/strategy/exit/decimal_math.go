package exit

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLT(a, b float64) bool { return decimalCompare(a, b) < 0 }
func decimalGT(a, b float64) bool { return decimalCompare(a, b) > 0 }

// pctDiff = (ref-entry)/entry*100
func pctDiff(entry, ref float64) float64 {
	base := decFromFloat(entry)
	if base.IsZero() {
		return 0
	}
	return decToFloat(decFromFloat(ref).Sub(base).Div(base).Mul(decHundred))
}

// trailingStopFor 返回 anchor*(1-pct/100)，pct 以 1 = 1% 计。
func trailingStopFor(anchor, pct float64) float64 {
	if anchor <= 0 || pct < 0 {
		return 0
	}
	factor := decOne.Sub(decFromFloat(pct).Div(decHundred))
	return decToFloat(decFromFloat(anchor).Mul(factor))
}

// priceBreachedStop 严格低于止损价才算触发。
func priceBreachedStop(price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	return decimalLT(price, stop)
}

func maxFloat(a, b float64) float64 {
	if decimalGT(b, a) {
		return b
	}
	return a
}
