package core

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the delivery pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	retries        prometheus.Counter
	outcomes       *prometheus.CounterVec
	latency        prometheus.Histogram
	tokenRefreshes *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpsink",
			Subsystem: "delivery",
			Name:      "requests_total",
			Help:      "HTTP requests sent to destinations, by status code (0 when no response)",
		}, []string{"code"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpsink",
			Subsystem: "delivery",
			Name:      "retries_total",
			Help:      "Retries scheduled after a retryable failure",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpsink",
			Subsystem: "delivery",
			Name:      "outcomes_total",
			Help:      "Terminal record outcomes, by status",
		}, []string{"status"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "httpsink",
			Subsystem: "delivery",
			Name:      "latency_seconds",
			Help:      "Time from first attempt to terminal outcome of one request",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10, 30},
		}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpsink",
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "OAuth2 token refreshes, by result",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.retries, m.outcomes, m.latency, m.tokenRefreshes)
	}
	return m
}

func (m *Metrics) request(code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) outcome(status OutcomeStatus, n int) {
	if m == nil || n == 0 {
		return
	}
	m.outcomes.WithLabelValues(string(status)).Add(float64(n))
}

func (m *Metrics) deliveryTimer() (stop func()) {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.latency.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) tokenRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.tokenRefreshes.WithLabelValues(result).Inc()
}
