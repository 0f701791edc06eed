package apihttp

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"custord/internal/order"
	"custord/internal/orders"
	"custord/internal/preset"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

const conditionSchema = `{
	"type": "object",
	"required": ["kind"],
	"properties": {
		"kind": {"type": "string", "minLength": 1},
		"target_price": {"type": "number", "exclusiveMinimum": 0},
		"reversal_threshold_pct": {"type": "number", "minimum": 0},
		"period": {"type": "integer", "minimum": 0},
		"timeout_minutes": {"type": "number", "exclusiveMinimum": 0},
		"timeout_at": {"type": "string"}
	},
	"additionalProperties": false
}`

const placeSchema = `{
	"type": "object",
	"required": ["instrument"],
	"properties": {
		"instrument": {"type": "string", "minLength": 3},
		"preset": {"type": "string"},
		"params": {"type": "object"},
		"stake_amount": {"type": ["number", "string"]},
		"entry_condition": {"$ref": "condition.json"}
	},
	"additionalProperties": false
}`

const editSchema = `{
	"type": "object",
	"minProperties": 1,
	"properties": {
		"params": {"type": "object"},
		"stake_amount": {"type": ["number", "string"]},
		"entry_condition": {"$ref": "condition.json"},
		"status": {"type": "string", "enum": ["PENDING", "CANCELED", "pending", "canceled"]}
	},
	"additionalProperties": false
}`

type payloadSchemas struct {
	place *jsonschema.Schema
	edit  *jsonschema.Schema
}

func compilePayloadSchemas() (payloadSchemas, error) {
	compiler := jsonschema.NewCompiler()
	for name, doc := range map[string]string{
		"condition.json": conditionSchema,
		"place.json":     placeSchema,
		"edit.json":      editSchema,
	} {
		if err := compiler.AddResource(name, strings.NewReader(doc)); err != nil {
			return payloadSchemas{}, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	place, err := compiler.Compile("place.json")
	if err != nil {
		return payloadSchemas{}, err
	}
	edit, err := compiler.Compile("edit.json")
	if err != nil {
		return payloadSchemas{}, err
	}
	return payloadSchemas{place: place, edit: edit}, nil
}

// validatePayload 用 JSON schema 校验原始请求体。
func validatePayload(schema *jsonschema.Schema, raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: malformed json: %v", orders.ErrInvalidRequest, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", orders.ErrInvalidRequest, err)
	}
	return nil
}

type conditionRequest struct {
	Kind                 string   `json:"kind"`
	TargetPrice          *float64 `json:"target_price"`
	ReversalThresholdPct *float64 `json:"reversal_threshold_pct"`
	Period               int      `json:"period"`
	TimeoutMinutes       float64  `json:"timeout_minutes"`
	TimeoutAt            string   `json:"timeout_at"`
}

func (r *conditionRequest) toCondition(now time.Time) (*order.EntryCondition, error) {
	if r == nil {
		return nil, nil
	}
	kind, err := order.ParseConditionKind(r.Kind)
	if err != nil {
		return nil, err
	}
	cond := &order.EntryCondition{
		Kind:                 kind,
		TargetPrice:          r.TargetPrice,
		ReversalThresholdPct: r.ReversalThresholdPct,
		Period:               r.Period,
	}
	switch {
	case strings.TrimSpace(r.TimeoutAt) != "":
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(r.TimeoutAt))
		if err != nil {
			return nil, fmt.Errorf("%w: timeout_at: %v", order.ErrInvalidCondition, err)
		}
		at = at.UTC()
		cond.TimeoutAt = &at
	case r.TimeoutMinutes > 0:
		at := now.Add(time.Duration(r.TimeoutMinutes * float64(time.Minute))).UTC()
		cond.TimeoutAt = &at
	}
	return cond, nil
}

type placeRequest struct {
	Instrument     string            `json:"instrument"`
	Preset         string            `json:"preset"`
	Params         map[string]any    `json:"params"`
	StakeAmount    *decimal.Decimal  `json:"stake_amount"`
	EntryCondition *conditionRequest `json:"entry_condition"`
}

type editRequest struct {
	Params         map[string]any    `json:"params"`
	StakeAmount    *decimal.Decimal  `json:"stake_amount"`
	EntryCondition *conditionRequest `json:"entry_condition"`
	Status         string            `json:"status"`
}

type exitRequest struct {
	Price float64 `json:"price"`
}

type presetView struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Default     bool           `json:"default"`
	Tiers       preset.Tiers   `json:"tiers"`
	Defaults    map[string]any `json:"defaults,omitempty"`
	Required    []string       `json:"required,omitempty"`
}
