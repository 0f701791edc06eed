// Package metrics 暴露订单引擎的 prometheus 指标。所有方法对 nil 接收者安全。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	evaluations      *prometheus.CounterVec
	evalErrors       *prometheus.CounterVec
	exits            *prometheus.CounterVec
	entryTransitions *prometheus.CounterVec
	escalations      *prometheus.CounterVec
	lockTimeouts     *prometheus.CounterVec
	activeOrders     *prometheus.GaugeVec
	passDuration     prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custord_evaluations_total",
		Help: "Per-instrument evaluations by kind (entry|exit).",
	}, []string{"kind"})
	evalErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custord_evaluation_errors_total",
		Help: "Skipped evaluations by error class.",
	}, []string{"class"})
	exits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custord_exits_total",
		Help: "Exit decisions by reason.",
	}, []string{"reason"})
	entryTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custord_entry_transitions_total",
		Help: "WAITING order transitions by target status.",
	}, []string{"to"})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custord_escalations_total",
		Help: "Market exit escalations by result.",
	}, []string{"result"})
	lockTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custord_store_lock_timeouts_total",
		Help: "Store lock acquisition timeouts by operation.",
	}, []string{"op"})
	activeOrders := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "custord_active_orders",
		Help: "Active orders by status.",
	}, []string{"status"})
	passDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "custord_monitor_pass_seconds",
		Help:    "Duration of a monitor pass.",
		Buckets: prometheus.DefBuckets,
	})

	registry.MustRegister(evaluations, evalErrors, exits, entryTransitions, escalations, lockTimeouts, activeOrders, passDuration)
	return &Metrics{
		registry:         registry,
		evaluations:      evaluations,
		evalErrors:       evalErrors,
		exits:            exits,
		entryTransitions: entryTransitions,
		escalations:      escalations,
		lockTimeouts:     lockTimeouts,
		activeOrders:     activeOrders,
		passDuration:     passDuration,
	}
}

// Registry 供测试或额外 collector 使用。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncEvaluation(kind string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncEvaluationError(class string) {
	if m == nil {
		return
	}
	m.evalErrors.WithLabelValues(class).Inc()
}

func (m *Metrics) IncExit(reason string) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncEntryTransition(to string) {
	if m == nil {
		return
	}
	m.entryTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) IncEscalation(result string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(result).Inc()
}

// StoreLockTimeout 满足 store.Observer。
func (m *Metrics) StoreLockTimeout(op string) {
	if m == nil {
		return
	}
	m.lockTimeouts.WithLabelValues(op).Inc()
}

// SetActiveOrders 以完整计数替换 gauge，未出现的状态置 0。
func (m *Metrics) SetActiveOrders(counts map[string]int, statuses []string) {
	if m == nil {
		return
	}
	for _, st := range statuses {
		m.activeOrders.WithLabelValues(st).Set(float64(counts[st]))
	}
}

func (m *Metrics) ObservePass(d time.Duration) {
	if m == nil {
		return
	}
	m.passDuration.Observe(d.Seconds())
}
