package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shaparak_gateway_requests_total",
		Help: "Total number of remote calls made to bank gateways",
	}, []string{"gateway", "op", "outcome"}) // ok, http_error, transport_error

	gatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shaparak_gateway_request_duration_seconds",
		Help:    "Latency of remote calls made to bank gateways",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"gateway", "op"})

	lifecycleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shaparak_lifecycle_total",
		Help: "Outcomes of lifecycle operations per gateway",
	}, []string{"gateway", "op", "result"}) // success, failure, or an error kind

	tokenCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shaparak_token_cache_lookups_total",
		Help: "Bearer token cache lookups",
	}, []string{"result"}) // hit, miss, error
)

func observeLifecycle(gateway string, op Op, ok bool, err error) {
	result := "failure"
	switch {
	case err != nil:
		result = string(KindOf(err))
		if result == "" {
			result = "error"
		}
	case ok:
		result = "success"
	}
	lifecycleOutcomes.WithLabelValues(gateway, string(op), result).Inc()
}
