package order

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Field 是参数集合中已知字段的封闭枚举。
type Field string

const (
	FieldReference                Field = "reference"
	FieldMAType                   Field = "ma_type"
	FieldMAPeriod                 Field = "ma_period"
	FieldLooseStop                Field = "loose_stop"
	FieldLooseStopLossPct         Field = "loose_stop_loss_pct"
	FieldTakeProfit               Field = "take_profit"
	FieldTakeProfitPct            Field = "take_profit_pct"
	FieldTightTrailingStopLossPct Field = "tight_trailing_stop_loss_pct"
	FieldSlopeExit                Field = "slope_exit"
	FieldSlopePeriod              Field = "slope_period"
	FieldSlopeThreshold           Field = "slope_threshold"
	FieldTakeProfitHit            Field = "take_profit_hit"
	FieldHighestMA                Field = "highest_ma"

	// FieldEntryPrice 不属于参数集合，仅用于缺失报错。
	FieldEntryPrice Field = "entry_price"
)

// RuntimeFields 由退出引擎维护，操作员编辑时不可覆盖。
var RuntimeFields = []Field{FieldTakeProfitHit, FieldHighestMA}

// IsRuntime 判断字段是否由引擎维护。
func (f Field) IsRuntime() bool {
	for _, rf := range RuntimeFields {
		if rf == f {
			return true
		}
	}
	return false
}

// Reference 决定 pctDiff / 追踪高点使用实时价格还是均线。
type Reference string

const (
	ReferenceRate Reference = "rate"
	ReferenceMA   Reference = "ma"
)

// LooseStopMode 是未触发止盈前的宽松止损模式。
type LooseStopMode string

const (
	LooseStopNone     LooseStopMode = "none"
	LooseStopStatic   LooseStopMode = "static"
	LooseStopTrailing LooseStopMode = "trailing"
)

type MAType string

const (
	MATypeEMA MAType = "EMA"
	MATypeHMA MAType = "HMA"
)

// Params 是单条订单的策略参数。各层级（止盈、宽松止损、斜率）是独立开关。
type Params struct {
	Reference Reference `json:"reference,omitempty"`
	MAType    MAType    `json:"ma_type,omitempty"`
	MAPeriod  int       `json:"ma_period,omitempty"`

	LooseStop        LooseStopMode `json:"loose_stop,omitempty"`
	LooseStopLossPct *float64      `json:"loose_stop_loss_pct,omitempty"`

	TakeProfit               bool     `json:"take_profit,omitempty"`
	TakeProfitPct            *float64 `json:"take_profit_pct,omitempty"`
	TightTrailingStopLossPct *float64 `json:"tight_trailing_stop_loss_pct,omitempty"`

	SlopeExit      bool     `json:"slope_exit,omitempty"`
	SlopePeriod    int      `json:"slope_period,omitempty"`
	SlopeThreshold *float64 `json:"slope_threshold,omitempty"`

	TakeProfitHit bool     `json:"take_profit_hit,omitempty"`
	HighestMA     *float64 `json:"highest_ma,omitempty"`
}

// Float 返回可选数值，便于构造参数。
func Float(v float64) *float64 { return &v }

func (p Params) EffectiveReference() Reference {
	if p.Reference == "" {
		return ReferenceRate
	}
	return p.Reference
}

func (p Params) EffectiveLooseStop() LooseStopMode {
	if p.LooseStop == "" {
		return LooseStopNone
	}
	return p.LooseStop
}

// UsesMA 表示本条订单需要均线序列（参考价或斜率层）。
func (p Params) UsesMA() bool {
	return p.EffectiveReference() == ReferenceMA || p.SlopeExit
}

// Number 读取数值型字段；缺失时返回 MissingParameterError。
func (p Params) Number(f Field) (float64, error) {
	var ptr *float64
	switch f {
	case FieldLooseStopLossPct:
		ptr = p.LooseStopLossPct
	case FieldTakeProfitPct:
		ptr = p.TakeProfitPct
	case FieldTightTrailingStopLossPct:
		ptr = p.TightTrailingStopLossPct
	case FieldSlopeThreshold:
		ptr = p.SlopeThreshold
	case FieldHighestMA:
		ptr = p.HighestMA
	default:
		return 0, fmt.Errorf("field %s is not numeric", f)
	}
	if ptr == nil {
		return 0, missing(f)
	}
	return *ptr, nil
}

// Period 读取周期型字段，必须 > 0。
func (p Params) Period(f Field) (int, error) {
	var v int
	switch f {
	case FieldMAPeriod:
		v = p.MAPeriod
	case FieldSlopePeriod:
		v = p.SlopePeriod
	default:
		return 0, fmt.Errorf("field %s is not a period", f)
	}
	if v <= 0 {
		return 0, missing(f)
	}
	return v, nil
}

// MovingAverage 返回均线类型与周期。
func (p Params) MovingAverage() (MAType, int, error) {
	if p.MAType == "" {
		return "", 0, missing(FieldMAType)
	}
	period, err := p.Period(FieldMAPeriod)
	if err != nil {
		return "", 0, err
	}
	return p.MAType, period, nil
}

// Validate 在创建/编辑时校验：已启用层级所需的字段必须存在。
func (p Params) Validate() error {
	switch p.EffectiveReference() {
	case ReferenceRate, ReferenceMA:
	default:
		return fmt.Errorf("reference must be rate|ma, got %q", p.Reference)
	}
	if p.MAType != "" && p.MAType != MATypeEMA && p.MAType != MATypeHMA {
		return fmt.Errorf("ma_type must be EMA|HMA, got %q", p.MAType)
	}
	if p.UsesMA() {
		if _, _, err := p.MovingAverage(); err != nil {
			return err
		}
	}
	switch p.EffectiveLooseStop() {
	case LooseStopNone:
	case LooseStopStatic, LooseStopTrailing:
		if err := requirePct(p, FieldLooseStopLossPct); err != nil {
			return err
		}
	default:
		return fmt.Errorf("loose_stop must be none|static|trailing, got %q", p.LooseStop)
	}
	if p.TakeProfit {
		if err := requirePct(p, FieldTakeProfitPct); err != nil {
			return err
		}
		if err := requirePct(p, FieldTightTrailingStopLossPct); err != nil {
			return err
		}
	}
	if p.SlopeExit {
		if _, err := p.Period(FieldSlopePeriod); err != nil {
			return err
		}
		if _, err := p.Number(FieldSlopeThreshold); err != nil {
			return err
		}
	}
	return nil
}

func requirePct(p Params, f Field) error {
	v, err := p.Number(f)
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("%s must be >= 0 (1 = 1%%), got %v", f, v)
	}
	return nil
}

// Clone 深拷贝，保证指针字段不与原值共享。
func (p Params) Clone() Params {
	out := p
	out.LooseStopLossPct = cloneFloat(p.LooseStopLossPct)
	out.TakeProfitPct = cloneFloat(p.TakeProfitPct)
	out.TightTrailingStopLossPct = cloneFloat(p.TightTrailingStopLossPct)
	out.SlopeThreshold = cloneFloat(p.SlopeThreshold)
	out.HighestMA = cloneFloat(p.HighestMA)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ToMap 以字段名展开参数，缺省字段不出现。
func (p Params) ToMap() map[string]any {
	raw, err := json.Marshal(p)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}

// With 把覆盖项合并进参数；值为 nil 表示删除该字段，未知字段报错。
func (p Params) With(overrides map[string]any) (Params, error) {
	merged := p.ToMap()
	for k, v := range overrides {
		key := strings.ToLower(strings.TrimSpace(k))
		if v == nil {
			delete(merged, key)
			continue
		}
		merged[key] = v
	}
	return DecodeParams(merged)
}

// DecodeParams 将松散的 map（配置/HTTP 请求）解码为 Params。
func DecodeParams(raw map[string]any) (Params, error) {
	var out Params
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &out,
	})
	if err != nil {
		return Params{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Params{}, fmt.Errorf("decode params: %w", err)
	}
	out.MAType = MAType(strings.ToUpper(strings.TrimSpace(string(out.MAType))))
	out.Reference = Reference(strings.ToLower(strings.TrimSpace(string(out.Reference))))
	out.LooseStop = LooseStopMode(strings.ToLower(strings.TrimSpace(string(out.LooseStop))))
	return out, nil
}
