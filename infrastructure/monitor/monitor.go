package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器。所有方法对nil接收者安全，未配置监控时可直接传nil。
type Monitor struct {
	registry *prometheus.Registry

	// 链上访问
	ledgerRequests *prometheus.CounterVec
	ledgerErrors   *prometheus.CounterVec
	ledgerLatency  *prometheus.HistogramVec

	// 缓存
	cacheLookups     *prometheus.CounterVec
	cacheFetches     prometheus.Counter
	cacheFetchErrors prometheus.Counter
	decimalsLookups  *prometheus.CounterVec

	// 策略循环
	ticks          *prometheus.CounterVec
	tickErrors     *prometheus.CounterVec
	tickOverruns   *prometheus.CounterVec
	tickDuration   *prometheus.HistogramVec
	requotes       *prometheus.CounterVec
	holds          *prometheus.CounterVec
	submitFailures *prometheus.CounterVec
	bestPrice      *prometheus.GaugeVec
	lastPlaced     *prometheus.GaugeVec

	// 推送流
	wsConnections  prometheus.Counter
	wsDisconnects  prometheus.Counter
	streamMessages prometheus.Counter

	configReloads *prometheus.CounterVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "mm",
		Subsystem: "openbook",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		ledgerRequests: counterVec("ledger_requests_total", "链上请求总数", "action"),
		ledgerErrors:   counterVec("ledger_errors_total", "链上请求错误数", "action"),
		ledgerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ledger_latency_seconds",
			Help:      "链上请求延迟（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),

		cacheLookups:     counterVec("orderbook_cache_lookups_total", "订单簿缓存查询(hit/miss/stale/unavailable)", "result"),
		cacheFetches:     counter("orderbook_cache_fetches_total", "订单簿缓存回源次数"),
		cacheFetchErrors: counter("orderbook_cache_fetch_errors_total", "订单簿缓存回源失败次数"),
		decimalsLookups:  counterVec("decimals_lookups_total", "mint精度查询(shortcut/cached/fetched/failed)", "result"),

		ticks:        counterVec("ticks_total", "策略tick次数", "strategy"),
		tickErrors:   counterVec("tick_errors_total", "策略tick失败次数", "strategy"),
		tickOverruns: counterVec("tick_overruns_total", "tick耗时超过周期的次数", "strategy"),
		tickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tick_duration_seconds",
			Help:      "单次tick耗时（秒）",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"strategy"}),
		requotes:       counterVec("requotes_total", "重新报价次数", "strategy", "side"),
		holds:          counterVec("holds_total", "保持报价次数", "strategy", "side"),
		submitFailures: counterVec("submit_failures_total", "交易提交失败次数", "strategy", "side"),
		bestPrice:      gaugeVec("best_price", "订单簿最优价", "strategy", "side"),
		lastPlaced:     gaugeVec("last_placed_price", "最近一次挂单价格", "strategy", "side"),

		wsConnections:  counter("ws_connections_total", "WebSocket连接次数"),
		wsDisconnects:  counter("ws_disconnects_total", "WebSocket断开次数"),
		streamMessages: counter("stream_messages_total", "账户推送消息数"),

		configReloads: counterVec("config_reloads_total", "配置热更新次数", "result"),
	}
}

// ObserveLedgerCall 记录一次链上调用
func (m *Monitor) ObserveLedgerCall(action string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.ledgerRequests.WithLabelValues(action).Inc()
	m.ledgerLatency.WithLabelValues(action).Observe(took.Seconds())
	if err != nil {
		m.ledgerErrors.WithLabelValues(action).Inc()
	}
}

// 缓存相关方法
func (m *Monitor) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Monitor) RecordCacheFetch(err error) {
	if m == nil {
		return
	}
	m.cacheFetches.Inc()
	if err != nil {
		m.cacheFetchErrors.Inc()
	}
}

func (m *Monitor) RecordDecimalsLookup(result string) {
	if m == nil {
		return
	}
	m.decimalsLookups.WithLabelValues(result).Inc()
}

// 策略相关方法
func (m *Monitor) RecordTick(strategy string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(strategy).Inc()
	m.tickDuration.WithLabelValues(strategy).Observe(took.Seconds())
	if err != nil {
		m.tickErrors.WithLabelValues(strategy).Inc()
	}
}

func (m *Monitor) RecordTickOverrun(strategy string) {
	if m == nil {
		return
	}
	m.tickOverruns.WithLabelValues(strategy).Inc()
}

func (m *Monitor) RecordRequote(strategy, side string, price float64) {
	if m == nil {
		return
	}
	m.requotes.WithLabelValues(strategy, side).Inc()
	m.lastPlaced.WithLabelValues(strategy, side).Set(price)
}

func (m *Monitor) RecordHold(strategy, side string) {
	if m == nil {
		return
	}
	m.holds.WithLabelValues(strategy, side).Inc()
}

func (m *Monitor) RecordSubmitFailure(strategy, side string) {
	if m == nil {
		return
	}
	m.submitFailures.WithLabelValues(strategy, side).Inc()
}

func (m *Monitor) UpdateBestPrice(strategy, side string, price float64) {
	if m == nil {
		return
	}
	m.bestPrice.WithLabelValues(strategy, side).Set(price)
}

// 系统相关方法
func (m *Monitor) RecordWSConnection() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Monitor) RecordWSDisconnect() {
	if m == nil {
		return
	}
	m.wsDisconnects.Inc()
}

func (m *Monitor) RecordStreamMessage() {
	if m == nil {
		return
	}
	m.streamMessages.Inc()
}

func (m *Monitor) RecordConfigReload(result string) {
	if m == nil {
		return
	}
	m.configReloads.WithLabelValues(result).Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
