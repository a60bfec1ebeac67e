package server

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	imagesGenerated *prometheus.CounterVec
	glossaryOps     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acet_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acet_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 180},
		}, []string{"route"}),
		imagesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acet_images_total",
			Help: "Images produced by kind",
		}, []string{"kind"}),
		glossaryOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acet_glossary_operations_total",
			Help: "Glossary writes by operation",
		}, []string{"op"}),
	}
	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "acet_goroutines",
		Help: "Number of goroutines",
	}, func() float64 { return float64(runtime.NumGoroutine()) })

	m.registry.MustRegister(m.requests, m.duration, m.imagesGenerated, m.glossaryOps, goroutines)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) imagesAdded(kind string, n int) {
	m.imagesGenerated.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) glossaryOp(op string) {
	m.glossaryOps.WithLabelValues(op).Inc()
}
