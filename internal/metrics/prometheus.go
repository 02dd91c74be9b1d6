package metrics

import (
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PrometheusMetrics Prometheus指标收集器
// 覆盖HTTP请求、SQL执行、LLM生成、守卫裁决和结构探测五类指标
type PrometheusMetrics struct {
	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// SQL执行指标
	sqlExecutionsTotal   *prometheus.CounterVec
	sqlExecutionDuration *prometheus.HistogramVec
	sqlRowsReturned      *prometheus.HistogramVec

	// LLM生成指标
	llmGenerationsTotal   *prometheus.CounterVec
	llmGenerationDuration *prometheus.HistogramVec

	// 守卫指标
	guardrailVerdictsTotal *prometheus.CounterVec

	// 结构探测指标
	schemaDiscoveriesTotal  *prometheus.CounterVec
	schemaDiscoveryDuration *prometheus.HistogramVec

	// 系统指标
	activeRequests prometheus.Gauge
	memoryUsage    prometheus.Gauge
	goroutineCount prometheus.Gauge

	registry *prometheus.Registry
	logger   *zap.Logger
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Namespace      string // 指标命名空间
	ServiceName    string // 服务名称
	ServiceVersion string // 服务版本
}

// DefaultMetricsConfig 默认指标配置
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Namespace:      "talktodb",
		ServiceName:    "talktodb-agent",
		ServiceVersion: "0.1.0",
	}
}

// NewPrometheusMetrics 创建Prometheus指标收集器
func NewPrometheusMetrics(config *MetricsConfig, logger *zap.Logger) *PrometheusMetrics {
	if config == nil {
		config = DefaultMetricsConfig()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	pm.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	pm.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	pm.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "api",
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   []float64{1024, 4096, 16384, 65536, 262144, 1048576},
		},
		[]string{"method", "endpoint"},
	)

	pm.sqlExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "sql",
			Name:      "executions_total",
			Help:      "Total number of SQL executions",
		},
		[]string{"connection_id", "dialect", "status"},
	)

	pm.sqlExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "sql",
			Name:      "execution_duration_seconds",
			Help:      "SQL execution duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"connection_id", "dialect"},
	)

	pm.sqlRowsReturned = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "sql",
			Name:      "rows_returned",
			Help:      "Number of rows returned per execution",
			Buckets:   []float64{1, 10, 100, 1000, 10000},
		},
		[]string{"dialect"},
	)

	pm.llmGenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "llm",
			Name:      "generations_total",
			Help:      "Total number of SQL generation attempts",
		},
		[]string{"provider", "status"},
	)

	pm.llmGenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "llm",
			Name:      "generation_duration_seconds",
			Help:      "SQL generation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	pm.guardrailVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "guardrail",
			Name:      "verdicts_total",
			Help:      "Total number of guardrail verdicts by decision",
		},
		[]string{"decision"},
	)

	pm.schemaDiscoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "schema",
			Name:      "discoveries_total",
			Help:      "Total number of schema discovery runs",
		},
		[]string{"dialect", "status"},
	)

	pm.schemaDiscoveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "schema",
			Name:      "discovery_duration_seconds",
			Help:      "Schema discovery duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"dialect"},
	)

	pm.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: "api",
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: "system",
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: "system",
			Name:      "goroutines_count",
			Help:      "Number of goroutines",
		},
	)

	pm.registerMetrics()

	logger.Info("Prometheus指标初始化完成",
		zap.String("namespace", config.Namespace),
		zap.String("service", config.ServiceName))

	return pm
}

// registerMetrics 注册所有指标到自有registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.httpRequestsTotal)
	pm.registry.MustRegister(pm.httpRequestDuration)
	pm.registry.MustRegister(pm.httpResponseSize)
	pm.registry.MustRegister(pm.sqlExecutionsTotal)
	pm.registry.MustRegister(pm.sqlExecutionDuration)
	pm.registry.MustRegister(pm.sqlRowsReturned)
	pm.registry.MustRegister(pm.llmGenerationsTotal)
	pm.registry.MustRegister(pm.llmGenerationDuration)
	pm.registry.MustRegister(pm.guardrailVerdictsTotal)
	pm.registry.MustRegister(pm.schemaDiscoveriesTotal)
	pm.registry.MustRegister(pm.schemaDiscoveryDuration)
	pm.registry.MustRegister(pm.activeRequests)
	pm.registry.MustRegister(pm.memoryUsage)
	pm.registry.MustRegister(pm.goroutineCount)
}

// HTTPMetricsMiddleware HTTP指标收集中间件
func (pm *PrometheusMetrics) HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		pm.activeRequests.Inc()
		defer pm.activeRequests.Dec()

		c.Next()

		method := c.Request.Method
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		statusCode := strconv.Itoa(c.Writer.Status())

		pm.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
		pm.httpRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())

		if size := c.Writer.Size(); size > 0 {
			pm.httpResponseSize.WithLabelValues(method, endpoint).Observe(float64(size))
		}
	}
}

// RecordSQLExecution 记录一次SQL执行
func (pm *PrometheusMetrics) RecordSQLExecution(connectionID int64, dialect, status string, duration time.Duration, rowCount int) {
	connLabel := strconv.FormatInt(connectionID, 10)
	pm.sqlExecutionsTotal.WithLabelValues(connLabel, dialect, status).Inc()
	pm.sqlExecutionDuration.WithLabelValues(connLabel, dialect).Observe(duration.Seconds())
	pm.sqlRowsReturned.WithLabelValues(dialect).Observe(float64(rowCount))
}

// RecordGeneration 记录一次SQL生成
func (pm *PrometheusMetrics) RecordGeneration(provider, status string, duration time.Duration) {
	if provider == "" {
		provider = "default"
	}
	pm.llmGenerationsTotal.WithLabelValues(provider, status).Inc()
	pm.llmGenerationDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordGuardrailVerdict 记录一次守卫裁决
func (pm *PrometheusMetrics) RecordGuardrailVerdict(decision string) {
	pm.guardrailVerdictsTotal.WithLabelValues(decision).Inc()
}

// RecordSchemaDiscovery 记录一次结构探测
func (pm *PrometheusMetrics) RecordSchemaDiscovery(dialect, status string, duration time.Duration) {
	pm.schemaDiscoveriesTotal.WithLabelValues(dialect, status).Inc()
	pm.schemaDiscoveryDuration.WithLabelValues(dialect).Observe(duration.Seconds())
}

// UpdateSystemMetrics 更新系统指标
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// GetMetricsHandler 获取Prometheus指标端点处理器
func (pm *PrometheusMetrics) GetMetricsHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
