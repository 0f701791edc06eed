// Package binance 通过 go-binance SDK 拉取已收盘 K 线，实现 market.Feed。
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"custord/internal/market"
	symbolpkg "custord/internal/pkg/symbol"
	"custord/internal/scheduler"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1000

type klineFetcher func(ctx context.Context, symbol, interval string, limit int) (market.Candles, error)

// Feed 基于 go-binance SDK 实现 market.Feed。
type Feed struct {
	cfg   Config
	fetch klineFetcher
}

func New(cfg Config) (*Feed, error) {
	final := cfg.withDefaults()
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	f := &Feed{cfg: final}
	if final.Futures {
		client := futures.NewClient("", "")
		client.BaseURL = final.RESTBaseURL
		client.HTTPClient = httpClient
		f.fetch = futuresKlines(client)
	} else {
		client := gobinance.NewClient("", "")
		client.BaseURL = final.RESTBaseURL
		client.HTTPClient = httpClient
		f.fetch = spotKlines(client)
	}
	return f, nil
}

func (f *Feed) Name() string {
	if f.cfg.Futures {
		return "binance-futures"
	}
	return "binance"
}

// ClosedCandles 只返回已收盘 K 线；交易所返回的最后一根若仍在进行中会被丢弃。
func (f *Feed) ClosedCandles(ctx context.Context, instrument, timeframe string, limit int) (market.Candles, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	clean := symbolpkg.Binance.ToExchange(strings.TrimSpace(instrument))
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval := strings.ToLower(strings.TrimSpace(timeframe))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	out, err := f.fetch(ctx, clean, interval, limit)
	if err != nil {
		return nil, err
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosed(out, dur)
	}
	if len(out) == 0 {
		return nil, market.ErrNoCandles
	}
	return out, nil
}

func spotKlines(client *gobinance.Client) klineFetcher {
	return func(ctx context.Context, symbol, interval string, limit int) (market.Candles, error) {
		kls, err := client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make(market.Candles, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			out = append(out, market.Candle{
				OpenTime:  kl.OpenTime,
				CloseTime: kl.CloseTime,
				Open:      parseFloat(kl.Open),
				High:      parseFloat(kl.High),
				Low:       parseFloat(kl.Low),
				Close:     parseFloat(kl.Close),
				Volume:    parseFloat(kl.Volume),
			})
		}
		return out, nil
	}
}

func futuresKlines(client *futures.Client) klineFetcher {
	return func(ctx context.Context, symbol, interval string, limit int) (market.Candles, error) {
		kls, err := client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make(market.Candles, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			out = append(out, market.Candle{
				OpenTime:  kl.OpenTime,
				CloseTime: kl.CloseTime,
				Open:      parseFloat(kl.Open),
				High:      parseFloat(kl.High),
				Low:       parseFloat(kl.Low),
				Close:     parseFloat(kl.Close),
				Volume:    parseFloat(kl.Volume),
			})
		}
		return out, nil
	}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
