package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Monitor.validate(); err != nil {
		return err
	}
	if err := c.Escalation.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(c.Freqtrade); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Freqtrade.validate(); err != nil {
		return err
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Backend {
	case "jsonfile":
		if strings.TrimSpace(s.Dir) == "" {
			return fmt.Errorf("store.dir cannot be empty")
		}
	case "sqlite":
		if strings.TrimSpace(s.SQLitePath) == "" {
			return fmt.Errorf("store.sqlite_path cannot be empty")
		}
	default:
		return fmt.Errorf("store.backend only supports jsonfile|sqlite, got %q", s.Backend)
	}
	if strings.ContainsAny(s.Strategy, `/\`) || strings.TrimSpace(s.Strategy) == "" {
		return fmt.Errorf("store.strategy must be a plain name, got %q", s.Strategy)
	}
	if s.LockTimeoutSeconds <= 0 {
		return fmt.Errorf("store.lock_timeout_seconds must be > 0")
	}
	return nil
}

func (m *MonitorConfig) validate() error {
	if !IsValidInterval(m.Timeframe) {
		return fmt.Errorf("monitor.timeframe invalid: %q", m.Timeframe)
	}
	if m.PriceWindow < 10 {
		return fmt.Errorf("monitor.price_window must be >= 10")
	}
	if m.CandleLimit < m.PriceWindow/2 {
		return fmt.Errorf("monitor.candle_limit must be >= price_window/2")
	}
	if m.EntryIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.entry_interval_seconds must be > 0")
	}
	return nil
}

func (e *EscalationConfig) validate() error {
	if !e.Enabled {
		return nil
	}
	if e.WaitSeconds <= 0 {
		return fmt.Errorf("escalation.wait_seconds must be > 0")
	}
	return nil
}

func (m *MarketConfig) validate(ft FreqtradeConfig) error {
	switch m.Source {
	case "binance":
		if strings.TrimSpace(m.RESTBaseURL) == "" {
			return fmt.Errorf("market.rest_base_url cannot be empty for binance")
		}
	case "freqtrade":
		if !ft.Enabled {
			return fmt.Errorf("market.source=freqtrade requires freqtrade.enabled")
		}
	default:
		return fmt.Errorf("market.source only supports freqtrade|binance, got %q", m.Source)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func (f *FreqtradeConfig) validate() error {
	if !f.Enabled {
		return nil
	}
	if strings.TrimSpace(f.APIURL) == "" {
		return fmt.Errorf("freqtrade.api_url cannot be empty")
	}
	if strings.TrimSpace(f.APIToken) == "" {
		if strings.TrimSpace(f.Username) == "" || strings.TrimSpace(f.Password) == "" {
			return fmt.Errorf("freqtrade requires api_token or username+password")
		}
	}
	if f.DefaultStake <= 0 {
		return fmt.Errorf("freqtrade.default_stake must be > 0")
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
