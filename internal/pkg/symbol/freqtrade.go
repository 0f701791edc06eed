package symbol

import (
	"fmt"
	"strings"
)

const DefaultStakeCurrency = "USDT"

// FreqtradeConverter 处理 freqtrade 的 pair 写法：现货 "ETH/USDT"，合约 "ETH/USDT:USDT"。
type FreqtradeConverter struct {
	StakeCurrency string
	Futures       bool
}

func NewFreqtradeConverter(stakeCurrency string) FreqtradeConverter {
	return FreqtradeConverter{
		StakeCurrency: strings.ToUpper(strings.TrimSpace(stakeCurrency)),
	}
}

func (c FreqtradeConverter) ToExchange(internal string) string {
	s := strings.ToUpper(strings.TrimSpace(internal))
	if s == "" {
		return ""
	}
	if strings.Contains(s, ":") {
		if c.Futures {
			return s
		}
		return s[:strings.Index(s, ":")]
	}
	sym := Parse(s)
	if sym.Quote == "" {
		return s
	}
	if !c.Futures {
		return sym.Internal()
	}
	stake := strings.TrimSpace(c.StakeCurrency)
	if stake == "" {
		stake = DefaultStakeCurrency
	}
	if sym.Quote == stake {
		return fmt.Sprintf("%s:%s", sym.Internal(), stake)
	}
	return sym.Internal()
}

func (c FreqtradeConverter) FromExchange(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if sym := Parse(s); sym.Base != "" && sym.Quote != "" {
		return sym.Internal()
	}
	return s
}

func (c FreqtradeConverter) Format() Format {
	return FormatFreqtrade
}

func Freqtrade(stakeCurrency string) FreqtradeConverter {
	return NewFreqtradeConverter(stakeCurrency)
}
