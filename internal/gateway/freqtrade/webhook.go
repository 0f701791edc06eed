package freqtrade

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// WebhookEvent 是 freqtrade webhook 中订单引擎关心的字段。
type WebhookEvent struct {
	Type        string
	TradeID     int
	Pair        string
	OpenRate    float64
	CloseRate   float64
	StakeAmount float64
	ExitReason  string
}

// IsEntryFill 表示入场订单已成交。
func (e WebhookEvent) IsEntryFill() bool { return e.Type == "entry_fill" }

// IsExitFill 表示出场订单已成交。
func (e WebhookEvent) IsExitFill() bool { return e.Type == "exit_fill" }

// ParseWebhook 宽松解析 webhook：数值字段允许是字符串。
func ParseWebhook(raw []byte) (WebhookEvent, error) {
	if !gjson.ValidBytes(raw) {
		return WebhookEvent{}, fmt.Errorf("webhook payload 不是合法 JSON")
	}
	doc := gjson.ParseBytes(raw)
	ev := WebhookEvent{
		Type:        strings.ToLower(strings.TrimSpace(doc.Get("type").String())),
		TradeID:     int(doc.Get("trade_id").Int()),
		Pair:        strings.TrimSpace(doc.Get("pair").String()),
		OpenRate:    doc.Get("open_rate").Float(),
		CloseRate:   doc.Get("close_rate").Float(),
		StakeAmount: doc.Get("stake_amount").Float(),
		ExitReason:  strings.TrimSpace(doc.Get("exit_reason").String()),
	}
	if ev.OpenRate == 0 && ev.IsEntryFill() {
		ev.OpenRate = doc.Get("order_rate").Float()
	}
	if ev.CloseRate == 0 && ev.IsExitFill() {
		ev.CloseRate = doc.Get("order_rate").Float()
	}
	if ev.Type == "" {
		return WebhookEvent{}, fmt.Errorf("webhook 缺少 type 字段")
	}
	return ev, nil
}
