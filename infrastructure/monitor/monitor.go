package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 采样指标
	fetchTotal    *prometheus.CounterVec
	fetchRetries  prometheus.Counter
	fetchLatency  prometheus.Histogram
	cyclesRunning prometheus.Gauge

	// 告警指标
	dispatchTotal *prometheus.CounterVec

	// 最新数值与参数
	lastLong       prometheus.Gauge
	lastShort      prometheus.Gauge
	longThreshold  prometheus.Gauge
	shortThreshold prometheus.Gauge
	pollInterval   prometheus.Gauge
	reschedules    prometheus.Counter

	// 系统指标
	wsClients    prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "liq",
		Subsystem: "alert",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	m := &Monitor{
		registry: reg,

		fetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "fetch_total",
				Help:      "数据源请求次数（按结果）",
			},
			[]string{"result"},
		),
		fetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fetch_retries_total",
			Help:      "瞬时错误触发的重试次数",
		}),
		fetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fetch_latency_seconds",
			Help:      "数据源请求延迟（秒）",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		cyclesRunning: gauge("cycles_in_flight", "正在执行的检查周期数"),

		dispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dispatch_total",
				Help:      "告警投递次数（按方向与结果）",
			},
			[]string{"side", "result"},
		),

		lastLong:       gauge("last_long_value", "最近一次多头爆仓量"),
		lastShort:      gauge("last_short_value", "最近一次空头爆仓量"),
		longThreshold:  gauge("long_threshold", "多头阈值"),
		shortThreshold: gauge("short_threshold", "空头阈值"),
		pollInterval:   gauge("poll_interval_seconds", "当前轮询周期（秒）"),
		reschedules: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "reschedules_total",
			Help:      "定时器重建次数",
		}),

		wsClients: gauge("ws_clients", "当前 websocket 订阅数"),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_requests_total",
				Help:      "控制面请求数",
			},
			[]string{"route", "code"},
		),
		httpLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_latency_seconds",
				Help:      "控制面请求延迟（秒）",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	return m
}

// 采样相关方法
func (m *Monitor) RecordFetch(result string, seconds float64) {
	m.fetchTotal.WithLabelValues(result).Inc()
	m.fetchLatency.Observe(seconds)
}

func (m *Monitor) RecordRetry() {
	m.fetchRetries.Inc()
}

func (m *Monitor) CycleStarted() {
	m.cyclesRunning.Inc()
}

func (m *Monitor) CycleFinished() {
	m.cyclesRunning.Dec()
}

func (m *Monitor) UpdateSample(long, short float64) {
	m.lastLong.Set(long)
	m.lastShort.Set(short)
}

// 告警相关方法
func (m *Monitor) RecordDispatch(side string, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.dispatchTotal.WithLabelValues(side, result).Inc()
}

// 参数相关方法
func (m *Monitor) UpdateThresholds(long, short float64) {
	m.longThreshold.Set(long)
	m.shortThreshold.Set(short)
}

func (m *Monitor) RecordReschedule(period time.Duration) {
	m.reschedules.Inc()
	m.pollInterval.Set(period.Seconds())
}

// 系统相关方法
func (m *Monitor) SetWSClients(n int) {
	m.wsClients.Set(float64(n))
}

func (m *Monitor) RecordHTTPRequest(route string, code int, seconds float64) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(seconds)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
