package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器。所有方法对 nil 接收者安全。
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	ordersPlaced   *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	ordersCanceled prometheus.Counter
	makerRetries   prometheus.Counter
	marketFallback *prometheus.CounterVec
	fills          *prometheus.CounterVec

	// 仓位指标
	positionState prometheus.Gauge
	positionQty   prometheus.Gauge
	entryVWAP     prometheus.Gauge
	realizedPnL   prometheus.Gauge
	tradesTotal   *prometheus.CounterVec

	// 风控指标
	equity        prometheus.Gauge
	dailyReturn   prometheus.Gauge
	halted        prometheus.Gauge
	entrySkipped  *prometheus.CounterVec
	bidPrice      prometheus.Gauge
	askPrice      prometheus.Gauge

	// 系统指标
	exchangeRetries *prometheus.CounterVec
	tickErrors      prometheus.Counter
	tickLatency     prometheus.Histogram
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "pe",
		Subsystem: "engine",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help})
	}

	return &Monitor{
		registry: reg,

		ordersPlaced:   counterVec("orders_placed_total", "下单总数", "intent", "role"),
		ordersRejected: counterVec("orders_rejected_total", "拒单总数", "reason"),
		ordersCanceled: counter("orders_canceled_total", "撤单总数"),
		makerRetries:   counter("maker_price_adjustments_total", "post-only 穿价后调价重试次数"),
		marketFallback: counterVec("market_fallback_total", "市价兜底次数", "intent"),
		fills:          counterVec("fills_total", "成交笔数", "intent", "role"),

		positionState: gauge("position_state", "仓位状态 0=FLAT 1=STAGING 2=OPEN 3=EXITING"),
		positionQty:   gauge("position_quantity", "当前仓位数量"),
		entryVWAP:     gauge("position_entry_vwap", "开仓均价"),
		realizedPnL:   gauge("realized_pnl", "累计已实现净盈亏"),
		tradesTotal:   counterVec("trades_total", "平仓笔数", "reason"),

		equity:       gauge("equity", "当前权益"),
		dailyReturn:  gauge("daily_return", "当日收益率"),
		halted:       gauge("halted", "日内熔断 1=halted"),
		entrySkipped: counterVec("entry_skipped_total", "开仓被拒次数", "reason"),
		bidPrice:     gauge("best_bid", "最优买价"),
		askPrice:     gauge("best_ask", "最优卖价"),

		exchangeRetries: counterVec("exchange_retries_total", "交易所瞬时错误重试次数", "op"),
		tickErrors:      counter("tick_panics_total", "tick 内恢复的 panic 次数"),
		tickLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tick_duration_seconds",
			Help:      "单次 tick 耗时（秒）",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

func (m *Monitor) RecordOrderPlaced(intent, role string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(intent, role).Inc()
}

func (m *Monitor) RecordOrderRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

func (m *Monitor) RecordOrderCanceled() {
	if m == nil {
		return
	}
	m.ordersCanceled.Inc()
}

func (m *Monitor) RecordMakerRetry() {
	if m == nil {
		return
	}
	m.makerRetries.Inc()
}

func (m *Monitor) RecordMarketFallback(intent string) {
	if m == nil {
		return
	}
	m.marketFallback.WithLabelValues(intent).Inc()
}

func (m *Monitor) RecordFill(intent, role string) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(intent, role).Inc()
}

// UpdatePosition 仓位状态码、数量与均价。
func (m *Monitor) UpdatePosition(state int, qty, vwap float64) {
	if m == nil {
		return
	}
	m.positionState.Set(float64(state))
	m.positionQty.Set(qty)
	m.entryVWAP.Set(vwap)
}

// RecordTrade 平仓一笔。
func (m *Monitor) RecordTrade(reason string, pnl float64) {
	if m == nil {
		return
	}
	m.tradesTotal.WithLabelValues(reason).Inc()
	m.realizedPnL.Add(pnl)
}

// UpdateRisk 权益、当日收益率与熔断状态。
func (m *Monitor) UpdateRisk(equity, dailyReturn float64, halted bool) {
	if m == nil {
		return
	}
	m.equity.Set(equity)
	m.dailyReturn.Set(dailyReturn)
	if halted {
		m.halted.Set(1)
	} else {
		m.halted.Set(0)
	}
}

func (m *Monitor) RecordEntrySkipped(reason string) {
	if m == nil {
		return
	}
	m.entrySkipped.WithLabelValues(reason).Inc()
}

func (m *Monitor) UpdateBidAsk(bid, ask float64) {
	if m == nil {
		return
	}
	m.bidPrice.Set(bid)
	m.askPrice.Set(ask)
}

func (m *Monitor) RecordExchangeRetry(op string) {
	if m == nil {
		return
	}
	m.exchangeRetries.WithLabelValues(op).Inc()
}

func (m *Monitor) RecordTickPanic() {
	if m == nil {
		return
	}
	m.tickErrors.Inc()
}

func (m *Monitor) RecordTickLatency(seconds float64) {
	if m == nil {
		return
	}
	m.tickLatency.Observe(seconds)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
