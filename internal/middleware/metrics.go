package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davcore/davcore/internal/webdav"
)

// Metrics HTTP 层和 DAV 层的 Prometheus 指标
type Metrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	davStatus *prometheus.CounterVec
	davErrors *prometheus.CounterVec
}

// NewMetrics 在 reg 上注册指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "davcore_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"method", "route"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "davcore_http_errors_total",
			Help: "Total number of HTTP requests resulting in server errors.",
		}, []string{"method", "route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "davcore_http_request_duration_seconds",
			Help:    "Histogram of latencies for HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		davStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "davcore_dav_requests_total",
			Help: "Total number of DAV methods handled, by response status.",
		}, []string{"method", "status"}),
		davErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "davcore_dav_errors_total",
			Help: "Total number of DAV methods that ended with an error.",
		}, []string{"method", "status"}),
	}
}

// Middleware 记录请求数和耗时，route 使用 gin 的路由模板
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		statusCode := strconv.Itoa(status)
		method := c.Request.Method

		m.requests.WithLabelValues(method, route).Inc()
		m.duration.WithLabelValues(method, route, statusCode).Observe(time.Since(start).Seconds())
		if status >= http.StatusInternalServerError {
			m.errors.WithLabelValues(method, route, statusCode).Inc()
		}
	}
}

// Plugin 返回统计 DAV 方法的服务器插件
func (m *Metrics) Plugin() webdav.Plugin {
	return &metricsPlugin{m: m}
}

// Handler 暴露 /metrics
func Handler(g prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

type metricsPlugin struct {
	m *Metrics
}

func (p *metricsPlugin) Name() string {
	return "metrics"
}

func (p *metricsPlugin) PluginInfo() webdav.PluginInfo {
	return webdav.PluginInfo{
		Name:        p.Name(),
		Description: "Counts DAV methods and their outcomes for Prometheus",
	}
}

func (p *metricsPlugin) Initialize(s *webdav.Server) error {
	s.OnAfterMethod("*", 1000, func(r *webdav.Request) {
		status := r.Response.Status()
		if status == 0 {
			status = http.StatusOK
		}
		p.m.davStatus.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	})
	s.OnException(1000, func(r *webdav.Request, err error) {
		status := strconv.Itoa(webdav.StatusOf(err))
		p.m.davStatus.WithLabelValues(r.Method, status).Inc()
		p.m.davErrors.WithLabelValues(r.Method, status).Inc()
	})
	return nil
}
