// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	watchScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicepipe_watch_scans_total",
		Help: "Total number of watch-folder scan passes",
	})

	ingestFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicepipe_ingest_files_total",
		Help: "Watch-folder files handled by outcome",
	}, []string{"outcome"}) // outcome=imported|duplicate|unstable|failure

	transcodeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicepipe_transcode_duration_seconds",
		Help:    "Duration of ffmpeg transcodes to pipeline WAV",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	ledgerEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicepipe_ingest_ledger_entries",
		Help: "Recordings remembered by the dedup ledger",
	})
)

func IncWatchScan()                      { watchScansTotal.Inc() }
func IncIngestFile(outcome string)       { ingestFilesTotal.WithLabelValues(outcome).Inc() }
func ObserveTranscodeDuration(s float64) { transcodeDurationSeconds.Observe(s) }
func RecordLedgerEntries(n int)          { ledgerEntries.Set(float64(n)) }

// GetIngestFiles returns the counter value for an outcome (for testing).
func GetIngestFiles(outcome string) float64 {
	var m dto.Metric
	if err := ingestFilesTotal.WithLabelValues(outcome).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
