// SPDX-License-Identifier: MIT

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "voicepipe_http_request_duration_seconds",
	Help:    "Operator API request latency by route pattern, method and status",
	Buckets: prometheus.DefBuckets,
}, []string{"route", "method", "code"})

// ObserveHTTPRequest records one served request. route is the chi route
// pattern, never the raw path, to keep cardinality bounded.
func ObserveHTTPRequest(route, method string, code int, seconds float64) {
	httpRequestDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(seconds)
}
