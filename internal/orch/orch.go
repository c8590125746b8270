// SPDX-License-Identifier: MIT

// Package orch runs the pipeline orchestrator: the single writer of the job
// manifest and the only component that moves audio, gates transcripts into
// the curator workspace, and triggers conversation stitching. One scan cycle
// reconciles the manifest with whatever the filesystem says right now.
package orch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aechclawbot/voicepipe/internal/config"
	"github.com/aechclawbot/voicepipe/internal/curator"
	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/manifest"
	"github.com/aechclawbot/voicepipe/internal/metrics"
	"github.com/aechclawbot/voicepipe/internal/stitch"
	"github.com/aechclawbot/voicepipe/internal/telemetry"
)

// scanFloor is the minimum spacing between scans, whatever the wake pressure.
const scanFloor = time.Second

var tracer = otel.Tracer("voicepipe/orch")

// CycleInfo describes the most recent scan cycle.
type CycleInfo struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
	Changed    bool      `json:"changed"`
	Error      string    `json:"error,omitempty"`
}

// StatusSnapshot is the operator-facing view of the pipeline.
type StatusSnapshot struct {
	LastCycle *CycleInfo              `json:"lastCycle"`
	Jobs      map[manifest.Status]int `json:"jobs"`
	TotalJobs int                     `json:"totalJobs"`
}

// Orchestrator owns the scan loop.
type Orchestrator struct {
	cfg      config.Config
	store    *manifest.Store
	writer   *curator.Writer
	stitcher *stitch.Stitcher
	log      zerolog.Logger
	now      func() time.Time

	// wake is pulsed by the filesystem watcher; one pending wake is enough.
	wake chan struct{}

	// scanMu serializes scans and rebuilds.
	scanMu sync.Mutex

	statMu    sync.RWMutex
	lastCycle *CycleInfo
}

// New wires an Orchestrator. All dependencies are required.
func New(cfg config.Config, store *manifest.Store, writer *curator.Writer, stitcher *stitch.Stitcher) *Orchestrator {
	if store == nil {
		panic("invariant violation: store is nil in orch.New")
	}
	if writer == nil {
		panic("invariant violation: writer is nil in orch.New")
	}
	if stitcher == nil {
		panic("invariant violation: stitcher is nil in orch.New")
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		writer:   writer,
		stitcher: stitcher,
		log:      log.WithComponent("orch"),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

// Wake requests a scan ahead of the next tick. Multiple wakes before the
// scan starts coalesce into one.
func (o *Orchestrator) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Run rebuilds the manifest, scans once, then keeps scanning on every poll
// tick or watcher wake until the context is cancelled. Scan errors are
// logged, never fatal.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Rebuild(ctx); err != nil {
		return err
	}

	stopWatch := o.startWatcher(ctx)
	defer stopWatch()

	o.runScan(ctx)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	last := o.now()
	for {
		select {
		case <-ctx.Done():
			o.log.Info().Str("event", "orch.stopped").Msg("orchestrator stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-o.wake:
			// Enforce the floor: a burst of filesystem events must not turn
			// into a scan storm.
			if since := o.now().Sub(last); since < scanFloor {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scanFloor - since):
				}
			}
		}
		o.runScan(ctx)
		last = o.now()
	}
}

// ScanNow runs a single cycle synchronously, for one-shot mode and tests.
func (o *Orchestrator) ScanNow(ctx context.Context) error {
	_, err := o.scanOnce(ctx)
	return err
}

// runScan executes one cycle and records its outcome.
func (o *Orchestrator) runScan(ctx context.Context) {
	cycleID := uuid.NewString()
	ctx = log.ContextWithCycleID(ctx, cycleID)

	ctx, span := tracer.Start(ctx, "orch.scan",
		trace.WithAttributes(telemetry.CycleAttributes(cycleID)...))
	defer span.End()

	start := o.now()
	changed, err := o.scanOnce(ctx)
	elapsed := o.now().Sub(start)

	metrics.ObserveScanDuration(elapsed.Seconds())
	info := &CycleInfo{
		ID:         cycleID,
		StartedAt:  start,
		DurationMS: elapsed.Milliseconds(),
		Changed:    changed,
	}
	if err != nil {
		info.Error = err.Error()
		metrics.IncScanFailure()
		span.RecordError(err)
		lg := log.WithComponentFromContext(ctx, "orch")
		lg.Error().
			Str("event", "orch.scan_failed").
			Err(err).
			Msg("scan cycle failed")
	} else {
		metrics.IncScanCycle()
	}

	o.statMu.Lock()
	o.lastCycle = info
	o.statMu.Unlock()

	o.publishJobCounts()
}

// Status returns the operator snapshot.
func (o *Orchestrator) Status() StatusSnapshot {
	o.statMu.RLock()
	last := o.lastCycle
	o.statMu.RUnlock()

	counts := o.store.StatusCounts()
	total := 0
	for _, n := range counts {
		total += n
	}
	return StatusSnapshot{LastCycle: last, Jobs: counts, TotalJobs: total}
}

// LastCycleAt reports when the most recent cycle started, for liveness
// checks. The zero time means no cycle has completed yet.
func (o *Orchestrator) LastCycleAt() time.Time {
	o.statMu.RLock()
	defer o.statMu.RUnlock()
	if o.lastCycle == nil {
		return time.Time{}
	}
	return o.lastCycle.StartedAt
}

func (o *Orchestrator) publishJobCounts() {
	counts := o.store.StatusCounts()
	asStrings := make(map[string]int, len(counts))
	for status, n := range counts {
		asStrings[string(status)] = n
	}
	metrics.RecordJobCounts(asStrings)
}
