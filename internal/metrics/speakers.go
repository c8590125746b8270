// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	speakerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicepipe_speaker_operations_total",
		Help: "Speaker identity operations by kind and outcome",
	}, []string{"operation", "outcome"}) // operation=label|approve|reject|merge|rename|delete

	profilesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicepipe_speaker_profiles",
		Help: "Approved speaker profiles on disk",
	})

	candidatesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicepipe_speaker_candidates",
		Help: "Unapproved speaker candidates on disk",
	})

	embeddingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicepipe_embedding_requests_total",
		Help: "Requests to the embedding service by operation and outcome",
	}, []string{"operation", "outcome"}) // outcome=success|failure

	embeddingRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicepipe_embedding_request_duration_seconds",
		Help:    "Latency of embedding service requests",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
	})

	markersRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicepipe_markers_removed_total",
		Help: "Sync markers removed to force re-evaluation, by trigger",
	}, []string{"reason"}) // reason=label|retag|merge
)

func IncSpeakerOperation(operation, outcome string) {
	speakerOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

func RecordProfileCounts(profiles, candidates int) {
	profilesGauge.Set(float64(profiles))
	candidatesGauge.Set(float64(candidates))
}

func IncEmbeddingRequest(operation, outcome string) {
	embeddingRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

func ObserveEmbeddingDuration(s float64) { embeddingRequestDuration.Observe(s) }

func IncMarkerRemoved(reason string) { markersRemovedTotal.WithLabelValues(reason).Inc() }
