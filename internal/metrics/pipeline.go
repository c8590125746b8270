// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the voicepipe daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	scanCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicepipe_scan_cycles_total",
		Help: "Total number of completed orchestrator scan cycles",
	})

	scanFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicepipe_scan_failures_total",
		Help: "Total number of scan cycles that ended with an error",
	})

	scanDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicepipe_scan_duration_seconds",
		Help:    "Duration of orchestrator scan cycles",
		Buckets: prometheus.DefBuckets,
	})

	jobsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicepipe_jobs",
		Help: "Tracked jobs by status (last scan)",
	}, []string{"status"})

	statusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicepipe_status_transitions_total",
		Help: "Job status transitions observed by the orchestrator",
	}, []string{"from", "to"})

	curatorSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicepipe_curator_syncs_total",
		Help: "Curator sync attempts by outcome",
	}, []string{"outcome"}) // outcome=success|empty|failure

	playbackPromotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicepipe_playback_promotions_total",
		Help: "Audio files moved from inbox to playback",
	})

	shortAudioDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicepipe_short_audio_deleted_total",
		Help: "Audio files deleted for being below the playback duration floor",
	})

	orphansDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicepipe_orphans_deleted_total",
		Help: "Inbox audio files deleted after aging out without a transcript",
	})

	stitchedDaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicepipe_stitched_days_total",
		Help: "Day directories whose conversations were (re)stitched",
	})

	manifestWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicepipe_manifest_write_errors_total",
		Help: "Failures persisting the job manifest",
	})
)

func IncScanCycle()                 { scanCyclesTotal.Inc() }
func IncScanFailure()               { scanFailuresTotal.Inc() }
func ObserveScanDuration(s float64) { scanDurationSeconds.Observe(s) }

// RecordJobCounts resets the per-status gauge to the given tallies. Statuses
// missing from counts are zeroed so stale values never linger.
func RecordJobCounts(counts map[string]int) {
	jobsByStatus.Reset()
	for status, n := range counts {
		jobsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func IncStatusTransition(from, to string) {
	statusTransitionsTotal.WithLabelValues(from, to).Inc()
}

func IncCuratorSync(outcome string) { curatorSyncsTotal.WithLabelValues(outcome).Inc() }
func IncPlaybackPromotion()         { playbackPromotionsTotal.Inc() }
func IncShortAudioDeleted()         { shortAudioDeletedTotal.Inc() }
func IncOrphanDeleted()             { orphansDeletedTotal.Inc() }
func AddStitchedDays(n int)         { stitchedDaysTotal.Add(float64(n)) }
func IncManifestWriteError()        { manifestWriteErrors.Inc() }

// GetJobCount returns the current gauge value for a status (for testing).
func GetJobCount(status string) float64 {
	var m dto.Metric
	if err := jobsByStatus.WithLabelValues(status).Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// GetCuratorSyncs returns the counter value for an outcome (for testing).
func GetCuratorSyncs(outcome string) float64 {
	var m dto.Metric
	if err := curatorSyncsTotal.WithLabelValues(outcome).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
