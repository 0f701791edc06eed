// Package preset 管理命名策略变体：每个变体只是一组层级开关与默认参数，
// 下单时与操作员的覆盖项合并成 order.Params。
package preset

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"custord/internal/order"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultID 是未指定变体时使用的 easy mode。
const DefaultID = "ma_trailing_stop_loss"

// Tiers 描述变体启用的退出层级。
type Tiers struct {
	Reference  string `mapstructure:"reference" yaml:"reference" json:"reference"`
	TakeProfit bool   `mapstructure:"take_profit" yaml:"take_profit" json:"take_profit"`
	LooseStop  string `mapstructure:"loose_stop" yaml:"loose_stop" json:"loose_stop"`
	Slope      bool   `mapstructure:"slope" yaml:"slope" json:"slope"`
}

// Preset 是一个策略变体。Required 列出操作员必须给出的参数。
type Preset struct {
	ID          string         `mapstructure:"id" yaml:"id" json:"id"`
	Description string         `mapstructure:"description" yaml:"description" json:"description"`
	Tiers       Tiers          `mapstructure:"tiers" yaml:"tiers" json:"tiers"`
	Defaults    map[string]any `mapstructure:"defaults" yaml:"defaults" json:"defaults,omitempty"`
	Required    []string       `mapstructure:"required" yaml:"required" json:"required,omitempty"`
	Schema      map[string]any `mapstructure:"schema" yaml:"schema" json:"schema,omitempty"`

	schemaCompiled *jsonschema.Schema
}

// Builtins 返回内置变体，对应原有的七种策略。
func Builtins() []Preset {
	pct := []string{string(order.FieldLooseStopLossPct)}
	tp := []string{
		string(order.FieldLooseStopLossPct),
		string(order.FieldTakeProfitPct),
		string(order.FieldTightTrailingStopLossPct),
	}
	return []Preset{
		{
			ID:          "stop_loss",
			Description: "static stop loss on the live rate",
			Tiers:       Tiers{Reference: "rate", LooseStop: "static"},
			Required:    pct,
		},
		{
			ID:          "trailing_stop_loss",
			Description: "trailing stop loss on the live rate",
			Tiers:       Tiers{Reference: "rate", LooseStop: "trailing"},
			Required:    pct,
		},
		{
			ID:          "tp_activating_tsl_with_sl",
			Description: "static stop until the profit target, then a tight trailing stop",
			Tiers:       Tiers{Reference: "rate", LooseStop: "static", TakeProfit: true},
			Required:    tp,
		},
		{
			ID:          "tp_activating_tsl_with_initial_tsl",
			Description: "loose trailing stop until the profit target, then a tight trailing stop",
			Tiers:       Tiers{Reference: "rate", LooseStop: "trailing", TakeProfit: true},
			Required:    tp,
		},
		{
			ID:          "ma_slope",
			Description: "exit when the moving average slope drops below a threshold, with a static stop",
			Tiers:       Tiers{Reference: "rate", LooseStop: "static", Slope: true},
			Defaults: map[string]any{
				"ma_type":         "HMA",
				"ma_period":       14,
				"slope_period":    5,
				"slope_threshold": 0.0,
			},
			Required: pct,
		},
		{
			ID:          "ma_trailing_stop_loss",
			Description: "loose then tight trailing stop measured on an HMA(5)",
			Tiers:       Tiers{Reference: "ma", LooseStop: "trailing", TakeProfit: true},
			Defaults: map[string]any{
				"ma_type":   "HMA",
				"ma_period": 5,
			},
			Required: tp,
		},
		{
			ID:          "ma_stop_loss",
			Description: "static stop then tight trailing stop measured on a moving average",
			Tiers:       Tiers{Reference: "ma", LooseStop: "static", TakeProfit: true},
			Defaults: map[string]any{
				"ma_type":   "EMA",
				"ma_period": 14,
			},
			Required: tp,
		},
	}
}

// Resolve 合并层级开关、默认值与覆盖项并校验。运行时字段不可覆盖。
func (p Preset) Resolve(overrides map[string]any) (order.Params, error) {
	merged := map[string]any{
		string(order.FieldReference):  p.Tiers.Reference,
		string(order.FieldLooseStop):  p.Tiers.LooseStop,
		string(order.FieldTakeProfit): p.Tiers.TakeProfit,
		string(order.FieldSlopeExit):  p.Tiers.Slope,
	}
	for k, v := range p.Defaults {
		merged[normalizeKey(k)] = v
	}
	for k, v := range overrides {
		key := normalizeKey(k)
		if order.Field(key).IsRuntime() {
			return order.Params{}, fmt.Errorf("%s is maintained by the exit engine", key)
		}
		if v == nil {
			delete(merged, key)
			continue
		}
		merged[key] = v
	}
	for _, field := range p.Required {
		if _, ok := merged[normalizeKey(field)]; !ok {
			return order.Params{}, &order.MissingParameterError{Field: order.Field(normalizeKey(field))}
		}
	}
	if p.schemaCompiled != nil {
		if err := p.schemaCompiled.Validate(sanitizeParams(merged)); err != nil {
			return order.Params{}, fmt.Errorf("preset %s: %w", p.ID, err)
		}
	}
	params, err := order.DecodeParams(merged)
	if err != nil {
		return order.Params{}, err
	}
	if err := params.Validate(); err != nil {
		return order.Params{}, fmt.Errorf("preset %s: %w", p.ID, err)
	}
	return params, nil
}

// compile 编译 schema；未给出时按 Required 生成“非负数字”约束。
func (p *Preset) compile() error {
	schema := p.Schema
	if len(schema) == 0 {
		schema = defaultSchema(p.Required)
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("preset %s schema: %w", p.ID, err)
	}
	p.schemaCompiled = compiled
	return nil
}

func defaultSchema(required []string) map[string]any {
	props := map[string]any{}
	req := make([]any, 0, len(required))
	keys := append([]string(nil), required...)
	sort.Strings(keys)
	for _, field := range keys {
		key := normalizeKey(field)
		props[key] = map[string]any{"type": "number", "minimum": 0}
		req = append(req, key)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   req,
	}
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("preset.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("preset.json")
}

// sanitizeParams 把 "1.5" 这类字符串数字转为 float64，表单/查询参数常见。
// yaml 解码出的整数也统一成 float64，jsonschema 只接受 JSON 数字类型。
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if num, err := strconv.ParseFloat(s, 64); err == nil && s != "" {
			return num
		}
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}
