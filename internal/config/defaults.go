package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9992"
	defaultStoreBackend      = "jsonfile"
	defaultStoreDir          = "user_data"
	defaultStoreStrategy     = "custom_orders"
	defaultStoreSQLitePath   = "user_data/custord.db"
	defaultLockTimeout       = 10
	defaultEntryInterval     = 31
	defaultTimeframe         = "5m"
	defaultCandleOffset      = 5
	defaultCandleLimit       = 120
	defaultPriceWindow       = 100
	defaultEscalationWait    = 120
	defaultEscalationJournal = "user_data/escalations.db"
	defaultFreqtradeAPI      = "http://freqtrade:8080/api/v1"
	defaultFreqtradeTimeout  = 15
	defaultFreqtradeStake    = 10
	defaultStakeCurrency     = "USDT"
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 60
	defaultMarketSource      = "freqtrade"
	defaultBinanceREST       = "https://api.binance.com"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Monitor.applyDefaults(keys)
	c.Escalation.applyDefaults(keys)
	c.Freqtrade.applyDefaults(keys)
	c.Market.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.backend", &s.Backend, defaultStoreBackend),
		stringFieldDefault("store.dir", &s.Dir, defaultStoreDir),
		stringFieldDefault("store.strategy", &s.Strategy, defaultStoreStrategy),
		stringFieldDefault("store.sqlite_path", &s.SQLitePath, defaultStoreSQLitePath),
		positiveIntDefault("store.lock_timeout_seconds", &s.LockTimeoutSeconds, defaultLockTimeout),
	)
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
}

func (m *MonitorConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		positiveIntDefault("monitor.entry_interval_seconds", &m.EntryIntervalSeconds, defaultEntryInterval),
		stringFieldDefault("monitor.timeframe", &m.Timeframe, defaultTimeframe),
		positiveIntDefault("monitor.candle_offset_seconds", &m.CandleOffsetSeconds, defaultCandleOffset),
		positiveIntDefault("monitor.candle_limit", &m.CandleLimit, defaultCandleLimit),
		positiveIntDefault("monitor.price_window", &m.PriceWindow, defaultPriceWindow),
		boolFieldDefault("monitor.run_immediately", &m.RunImmediately, true),
	)
	m.Timeframe = strings.ToLower(strings.TrimSpace(m.Timeframe))
}

func (e *EscalationConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("escalation.enabled", &e.Enabled, true),
		positiveIntDefault("escalation.wait_seconds", &e.WaitSeconds, defaultEscalationWait),
		stringFieldDefault("escalation.journal_path", &e.JournalPath, defaultEscalationJournal),
	)
}

func (f *FreqtradeConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("freqtrade.api_url", &f.APIURL, defaultFreqtradeAPI),
		positiveIntDefault("freqtrade.timeout_seconds", &f.TimeoutSeconds, defaultFreqtradeTimeout),
		stringFieldDefault("freqtrade.stake_currency", &f.StakeCurrency, defaultStakeCurrency),
		fieldDefault{
			key:   "freqtrade.default_stake",
			need:  func() bool { return f.DefaultStake <= 0 },
			apply: func() { f.DefaultStake = defaultFreqtradeStake },
		},
		positiveIntDefault("freqtrade.breaker_threshold", &f.BreakerThreshold, defaultBreakerThreshold),
		positiveIntDefault("freqtrade.breaker_cooldown_seconds", &f.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
	f.StakeCurrency = strings.ToUpper(strings.TrimSpace(f.StakeCurrency))
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
	)
	m.Source = strings.ToLower(strings.TrimSpace(m.Source))
	if m.UsesBinance() && strings.TrimSpace(m.RESTBaseURL) == "" {
		m.RESTBaseURL = defaultBinanceREST
	}
}

// Helper functions

type keySet map[string]struct{}

func (k keySet) mark(key string) {
	k[strings.ToLower(key)] = struct{}{}
}

func (k keySet) isSet(key string) bool {
	if k == nil {
		return false
	}
	_, ok := k[strings.ToLower(key)]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func positiveIntDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

// boolFieldDefault 仅在配置文件未出现该 key 时生效（bool 零值无法区分“未设置”）。
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
