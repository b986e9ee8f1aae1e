package gateway

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var instrumentOnce sync.Once

var (
	httpRequestsCount *prometheus.CounterVec
	httpResponseTime  prometheus.Histogram
	httpResponseSize  prometheus.Histogram
	httpRequestSize   prometheus.Histogram
)

func registerCollector(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector
		}
		panic(err)
	}
	return c
}

func initInstrumentation() {
	instrumentOnce.Do(func() {
		httpRequestsCount = registerCollector(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediadesk",
			Subsystem: "request",
			Name:      "requests_count",
			Help:      "Number of requests per each endpoint",
		}, []string{"code", "method", "handler"})).(*prometheus.CounterVec)

		httpResponseTime = registerCollector(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mediadesk",
			Subsystem: "response",
			Name:      "response_time_hist",
			Help:      "Response duration in milliseconds",
		})).(prometheus.Histogram)

		httpResponseSize = registerCollector(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mediadesk",
			Subsystem: "response",
			Name:      "size_histogram",
			Help:      "Response size",
		})).(prometheus.Histogram)

		httpRequestSize = registerCollector(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mediadesk",
			Subsystem: "request",
			Name:      "size_hist",
			Help:      "Request size",
		})).(prometheus.Histogram)
	})
}

// Instrumentation records request counts, latency and sizes per route.
func Instrumentation() fiber.Handler {
	initInstrumentation()
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		duration := float64(time.Since(start)) * 1e-6 // to millisecond

		handler := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			handler = r.Path
		}
		status := strconv.Itoa(c.Response().StatusCode())

		httpRequestsCount.WithLabelValues(status, c.Method(), handler).Inc()
		httpResponseTime.Observe(duration)
		httpResponseSize.Observe(float64(len(c.Response().Body())))
		httpRequestSize.Observe(float64(len(c.Body())))
		return err
	}
}
