package config

import (
	"strings"
	"time"
)

// Config 是 custord 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Store      StoreConfig      `toml:"store"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Escalation EscalationConfig `toml:"escalation"`
	Freqtrade  FreqtradeConfig  `toml:"freqtrade"`
	Market     MarketConfig     `toml:"market"`
	Presets    PresetConfig     `toml:"presets"`
	Notify     NotifyConfig     `toml:"notify"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// StoreConfig 描述订单存储：jsonfile（每个策略两份文档）或 sqlite。
type StoreConfig struct {
	Backend            string `toml:"backend"`
	Dir                string `toml:"dir"`
	Strategy           string `toml:"strategy"`
	SQLitePath         string `toml:"sqlite_path"`
	LockTimeoutSeconds int    `toml:"lock_timeout_seconds"`
}

// LockTimeout 返回获取存储锁的最长等待时间。
func (s StoreConfig) LockTimeout() time.Duration {
	return time.Duration(s.LockTimeoutSeconds) * time.Second
}

// MonitorConfig 控制后台监控循环。
type MonitorConfig struct {
	EntryIntervalSeconds int    `toml:"entry_interval_seconds"`
	Timeframe            string `toml:"timeframe"`
	CandleOffsetSeconds  int    `toml:"candle_offset_seconds"`
	CandleLimit          int    `toml:"candle_limit"`
	PriceWindow          int    `toml:"price_window"`
	RunImmediately       bool   `toml:"run_immediately"`
}

func (m MonitorConfig) EntryInterval() time.Duration {
	return time.Duration(m.EntryIntervalSeconds) * time.Second
}

func (m MonitorConfig) CandleOffset() time.Duration {
	return time.Duration(m.CandleOffsetSeconds) * time.Second
}

// EscalationConfig 控制 limit→market 的强制退出升级。
type EscalationConfig struct {
	Enabled     bool   `toml:"enabled"`
	WaitSeconds int    `toml:"wait_seconds"`
	JournalPath string `toml:"journal_path"`
}

func (e EscalationConfig) Wait() time.Duration {
	return time.Duration(e.WaitSeconds) * time.Second
}

// FreqtradeConfig 描述外部执行引擎的访问方式。
type FreqtradeConfig struct {
	Enabled                bool    `toml:"enabled"`
	APIURL                 string  `toml:"api_url"`
	Username               string  `toml:"username"`
	Password               string  `toml:"password"`
	APIToken               string  `toml:"api_token"`
	TimeoutSeconds         int     `toml:"timeout_seconds"`
	InsecureSkipVerify     bool    `toml:"insecure_skip_verify"`
	StakeCurrency          string  `toml:"stake_currency"`
	DefaultStake           float64 `toml:"default_stake"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
}

// MarketConfig 选择收盘 K 线来源。
type MarketConfig struct {
	Source      string `toml:"source"`
	RESTBaseURL string `toml:"rest_base_url"`
}

// UsesBinance 表示是否直接从 Binance 现货拉取 K 线。
func (m MarketConfig) UsesBinance() bool {
	return strings.EqualFold(strings.TrimSpace(m.Source), "binance")
}

type PresetConfig struct {
	Path string `toml:"path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}
