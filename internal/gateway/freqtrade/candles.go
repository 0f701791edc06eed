package freqtrade

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"custord/internal/market"
	"custord/internal/pkg/symbol"
	"custord/internal/scheduler"

	"github.com/tidwall/gjson"
)

// PairCandles 调用 /pair_candles，按 columns 定位各字段后解析 data 行。
func (c *Client) PairCandles(ctx context.Context, pair, timeframe string, limit int) (market.Candles, error) {
	q := url.Values{}
	q.Set("pair", pair)
	q.Set("timeframe", timeframe)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var raw []byte
	if err := c.doRequest(ctx, http.MethodGet, "/pair_candles?"+q.Encode(), nil, &raw); err != nil {
		return nil, err
	}
	return parsePairCandles(raw)
}

func parsePairCandles(raw []byte) (market.Candles, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("pair_candles 响应不是合法 JSON")
	}
	doc := gjson.ParseBytes(raw)
	idx := map[string]int{}
	for i, col := range doc.Get("columns").Array() {
		idx[strings.ToLower(col.String())] = i
	}
	closeIdx, ok := idx["close"]
	if !ok {
		return nil, fmt.Errorf("pair_candles 缺少 close 列")
	}
	rows := doc.Get("data").Array()
	out := make(market.Candles, 0, len(rows))
	for _, row := range rows {
		cells := row.Array()
		cell := func(name string) gjson.Result {
			if i, ok := idx[name]; ok && i < len(cells) {
				return cells[i]
			}
			return gjson.Result{}
		}
		if closeIdx >= len(cells) {
			continue
		}
		candle := market.Candle{
			OpenTime: candleTime(cell("__date_ts"), cell("date")),
			Open:     cell("open").Float(),
			High:     cell("high").Float(),
			Low:      cell("low").Float(),
			Close:    cells[closeIdx].Float(),
			Volume:   cell("volume").Float(),
		}
		if candle.Close <= 0 {
			continue
		}
		out = append(out, candle)
	}
	return out, nil
}

func candleTime(ts, date gjson.Result) int64 {
	if ts.Exists() && ts.Int() > 0 {
		return ts.Int()
	}
	if date.Type == gjson.Number {
		return date.Int()
	}
	s := strings.TrimSpace(date.String())
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// CandleFeed 以 freqtrade 已分析的 K 线作为 market.Feed。
type CandleFeed struct {
	client    *Client
	converter symbol.FreqtradeConverter
}

func NewCandleFeed(client *Client, converter symbol.FreqtradeConverter) *CandleFeed {
	return &CandleFeed{client: client, converter: converter}
}

func (f *CandleFeed) Name() string { return "freqtrade" }

func (f *CandleFeed) ClosedCandles(ctx context.Context, instrument, timeframe string, limit int) (market.Candles, error) {
	candles, err := f.client.PairCandles(ctx, f.converter.ToExchange(instrument), timeframe, limit)
	if err != nil {
		return nil, err
	}
	if interval, ok := scheduler.ParseIntervalDuration(timeframe); ok {
		candles = scheduler.DropUnclosed(candles, interval)
	}
	if len(candles) == 0 {
		return nil, market.ErrNoCandles
	}
	return candles, nil
}
