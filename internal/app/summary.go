package app

import (
	"fmt"
	"io"
	"strings"
	"time"
)

type StartupSummary struct {
	Env         string
	HTTPAddr    string
	Store       string
	Strategy    string
	Executor    string
	Feed        string
	Timeframe   string
	EntryEvery  time.Duration
	Escalation  string
	Presets     []string
	DefaultKind string
	Stake       string
	Notify      bool
	Metrics     bool
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	s.Fprint(&b)
	return b.String()
}

func (s *StartupSummary) Fprint(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[订单存储 (STORE)]")
	fmt.Fprintf(w, "  后端: %s\n", s.Store)
	fmt.Fprintf(w, "  策略名: %s\n", s.Strategy)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[监控 (MONITOR)]")
	fmt.Fprintf(w, "  行情源: %s\n", s.Feed)
	fmt.Fprintf(w, "  价格周期: %s\n", s.Timeframe)
	fmt.Fprintf(w, "  入场/对账间隔: %s\n", s.EntryEvery)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[执行 (EXECUTION)]")
	fmt.Fprintf(w, "  执行器: %s\n", s.Executor)
	fmt.Fprintf(w, "  默认金额: %s\n", s.Stake)
	fmt.Fprintf(w, "  强制退出升级: %s\n", s.Escalation)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[策略变体 (PRESETS)]")
	fmt.Fprintf(w, "  可用: %s\n", formatList(s.Presets))
	fmt.Fprintf(w, "  默认: %s\n", s.DefaultKind)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[接口 (SURFACES)]")
	fmt.Fprintf(w, "  环境: %s  HTTP: %s\n", s.Env, s.HTTPAddr)
	fmt.Fprintf(w, "  Telegram: %s  Metrics: %s\n", onOff(s.Notify), onOff(s.Metrics))
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
