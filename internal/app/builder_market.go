package app

import (
	"fmt"
	"time"

	"custord/internal/config"
	"custord/internal/gateway/binance"
	"custord/internal/gateway/freqtrade"
	"custord/internal/logger"
	"custord/internal/market"
)

const binanceHTTPTimeout = 15 * time.Second

// buildFeed 选择收盘 K 线来源：freqtrade /pair_candles 或 Binance 现货。
func buildFeed(cfg config.MarketConfig, execs *executorStack) (market.Feed, error) {
	if cfg.UsesBinance() {
		feed, err := binance.New(binance.Config{
			RESTBaseURL: cfg.RESTBaseURL,
			HTTPTimeout: binanceHTTPTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 Binance 行情源失败: %w", err)
		}
		logger.Infof("✓ 行情源: binance spot %s", cfg.RESTBaseURL)
		return feed, nil
	}
	if execs == nil || execs.client == nil {
		return nil, fmt.Errorf("market.source=%s requires freqtrade.enabled", cfg.Source)
	}
	logger.Infof("✓ 行情源: freqtrade pair_candles")
	return freqtrade.NewCandleFeed(execs.client, execs.converter), nil
}
