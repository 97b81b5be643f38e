// Package metrics is the Prometheus registry exposed on /metrics: request,
// retry and rate-limit counters broken down by account email and model,
// upstream latency by model, and model usage by family and model.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudcode_gateway_requests_total",
		Help: "Total dispatcher attempts, labeled by account, model and outcome.",
	}, []string{"account", "model", "outcome"})

	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudcode_gateway_retries_total",
		Help: "Total dispatcher retries, labeled by account and model.",
	}, []string{"account", "model"})

	rateLimitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudcode_gateway_rate_limits_total",
		Help: "Total rate-limit responses observed, labeled by account and model.",
	}, []string{"account", "model"})

	upstreamLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cloudcode_gateway_upstream_latency_seconds",
		Help:    "Latency of upstream Cloud Code API calls, labeled by model.",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	modelUsageTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudcode_gateway_model_usage_total",
		Help: "Total incoming /v1/messages requests, labeled by model family and short name.",
	}, []string{"family", "model"})
)

func init() {
	registry.MustRegister(requestsTotal, retriesTotal, rateLimitsTotal, upstreamLatency, modelUsageTotal)
}

// RecordModelUsage increments the usage counter for a requested model.
func RecordModelUsage(family, model string) {
	modelUsageTotal.WithLabelValues(family, model).Inc()
}

// RecordSuccess increments the success counter for an account+model.
func RecordSuccess(account, model string) {
	requestsTotal.WithLabelValues(account, model, "success").Inc()
}

// RecordRateLimit increments both the rate-limit counter and the requests
// counter with outcome "rate_limited".
func RecordRateLimit(account, model string) {
	rateLimitsTotal.WithLabelValues(account, model).Inc()
	requestsTotal.WithLabelValues(account, model, "rate_limited").Inc()
}

// RecordFailure increments the failure and retry counters for an account+model.
func RecordFailure(account, model string) {
	requestsTotal.WithLabelValues(account, model, "failure").Inc()
	retriesTotal.WithLabelValues(account, model).Inc()
}

// ObserveUpstreamLatencySeconds records one upstream call's duration.
func ObserveUpstreamLatencySeconds(model string, seconds float64) {
	upstreamLatency.WithLabelValues(model).Observe(seconds)
}

// Handler returns the /metrics HTTP handler for the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
