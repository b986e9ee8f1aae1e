package providers

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var vendorMetricsOnce sync.Once

var (
	vendorRequestsTotal   *prometheus.CounterVec
	vendorRequestDuration *prometheus.HistogramVec
	vendorRequestSize     *prometheus.HistogramVec
	vendorResponseSize    *prometheus.HistogramVec
)

func registerVendorHistogramVec(c *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := prometheus.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
		logrus.Printf("prometheus histogram register failed: %v", err)
	}
	return c
}

func registerVendorCountVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		logrus.Printf("prometheus counter register failed: %v", err)
	}
	return c
}

func initVendorMetrics() {
	vendorMetricsOnce.Do(func() {
		vendorRequestsTotal = registerVendorCountVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediadesk",
			Subsystem: "vendor_client",
			Name:      "requests_total",
			Help:      "Total number of vendor HTTP requests.",
		}, []string{"endpoint", "vendor", "method", "status", "result"}))

		vendorRequestDuration = registerVendorHistogramVec(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mediadesk",
			Subsystem: "vendor_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of vendor HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "vendor", "method", "result"}))

		sizeBuckets := []float64{100, 500, 1_000, 2_000, 5_000, 10_000, 25_000, 50_000, 100_000, 250_000, 500_000, 1_000_000, 2_000_000, 5_000_000, 10_000_000, 50_000_000}
		vendorRequestSize = registerVendorHistogramVec(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mediadesk",
			Subsystem: "vendor_client",
			Name:      "request_size_bytes",
			Help:      "Size of vendor HTTP requests.",
			Buckets:   sizeBuckets,
		}, []string{"endpoint", "vendor", "method"}))

		vendorResponseSize = registerVendorHistogramVec(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mediadesk",
			Subsystem: "vendor_client",
			Name:      "response_size_bytes",
			Help:      "Size of vendor HTTP responses.",
			Buckets:   sizeBuckets,
		}, []string{"endpoint", "vendor", "method"}))
	})
}

func recordVendorMetrics(endpoint, vendor, method string, statusCode int, err error, reqSize, respSize int, duration time.Duration) {
	if vendorRequestsTotal == nil {
		return
	}
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	result := "success"
	if err != nil {
		result = "error"
	}

	vendorRequestsTotal.WithLabelValues(endpoint, vendor, method, status, result).Inc()
	vendorRequestDuration.WithLabelValues(endpoint, vendor, method, result).Observe(duration.Seconds())
	vendorRequestSize.WithLabelValues(endpoint, vendor, method).Observe(float64(reqSize))
	vendorResponseSize.WithLabelValues(endpoint, vendor, method).Observe(float64(respSize))
}
