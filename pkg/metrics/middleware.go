package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	RequestsCollectorName = "http_requests_total"
	LatencyCollectorName  = "http_request_duration_milliseconds"
)

var bucketsConfig = []float64{50, 300, 500, 1000, 5000}

// Middleware counts requests and their latency partitioned by status code,
// method and route pattern.
type Middleware struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewMiddleware() *Middleware {
	var m Middleware
	m.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      RequestsCollectorName,
			Help:      "Number of HTTP requests partitioned by status code, method and HTTP path.",
		}, []string{"code", "method", "path"})

	m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      LatencyCollectorName,
		Help:      "Time spent on the request partitioned by status code, method and HTTP path.",
		Buckets:   bucketsConfig,
	}, []string{"code", "method", "path"})

	return &m
}

// Handler returns the gin middleware. Unmatched routes are recorded under "unmatched"
// to keep label cardinality bounded.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())
		m.requests.WithLabelValues(code, c.Request.Method, path).Inc()
		m.latency.WithLabelValues(code, c.Request.Method, path).Observe(float64(time.Since(start).Milliseconds()))
	}
}

// Collectors returns collector for your own collector registry.
func (m *Middleware) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.latency}
}
