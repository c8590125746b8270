// SPDX-License-Identifier: MIT

package orch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/aechclawbot/voicepipe/internal/curator"
	"github.com/aechclawbot/voicepipe/internal/fsx"
	"github.com/aechclawbot/voicepipe/internal/gate"
	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/manifest"
	"github.com/aechclawbot/voicepipe/internal/metrics"
	"github.com/aechclawbot/voicepipe/internal/transcript"
)

// scanOnce reconciles the manifest with the filesystem: new inbox audio is
// queued, done/ transcripts drive status updates and their side effects,
// orphaned audio is collected, and conversations are stitched when anything
// moved. Reports whether the manifest changed.
func (o *Orchestrator) scanOnce(ctx context.Context) (bool, error) {
	o.scanMu.Lock()
	defer o.scanMu.Unlock()

	logger := log.WithComponentFromContext(ctx, "orch")
	span := trace.SpanFromContext(ctx)
	changed := false

	if o.discoverInbox(logger) {
		changed = true
	}
	span.AddEvent("phase.inbox")
	if o.processTranscripts(logger) {
		changed = true
	}
	span.AddEvent("phase.transcripts")
	if o.collectOrphans(logger) {
		changed = true
	}
	span.AddEvent("phase.orphans")

	if changed {
		if days := o.stitcher.StitchAll(true); days > 0 {
			metrics.AddStitchedDays(days)
			logger.Info().
				Str("event", "orch.stitched").
				Int("days", days).
				Msg("stitched conversations")
		}
		if err := o.store.Save(); err != nil {
			metrics.IncManifestWriteError()
			return changed, err
		}
	}
	return changed, nil
}

// discoverInbox queues entries for audio files that have no job yet.
func (o *Orchestrator) discoverInbox(logger zerolog.Logger) bool {
	entries, err := os.ReadDir(o.cfg.InboxDir())
	if err != nil {
		return false
	}
	changed := false
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".wav") {
			continue
		}
		stem := strings.TrimSuffix(name, ".wav")
		if _, ok := o.store.Get(stem); ok {
			continue
		}
		o.store.Put(stem, manifest.NewQueuedEntry(stem, o.now()))
		changed = true
		logger.Info().
			Str("event", "orch.queued").
			Str("stem", stem).
			Msg("new audio queued")
	}
	return changed
}

// processTranscripts walks done/ and applies status changes plus their side
// effects (audio disposition, curator sync).
func (o *Orchestrator) processTranscripts(logger zerolog.Logger) bool {
	doneDir := o.cfg.DoneDir()
	entries, err := os.ReadDir(doneDir)
	if err != nil {
		return false
	}

	changed := false
	for _, dirEntry := range entries {
		name := dirEntry.Name()
		if dirEntry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if strings.HasPrefix(name, ".") || strings.Contains(name, ".error.") {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")

		doc, err := transcript.Load(filepath.Join(doneDir, name))
		if err != nil {
			logger.Warn().
				Str("event", "orch.transcript_unreadable").
				Str("stem", stem).
				Err(err).
				Msg("skipping unreadable transcript")
			continue
		}

		prev, hasPrev := o.store.Get(stem)
		oldStatus := manifest.Status("")
		if hasPrev {
			oldStatus = prev.Status
		}

		entry := manifest.BuildEntry(stem, doc, prev, o.now(), o.playbackExists(stem))

		if oldStatus == manifest.StatusCuratorSynced && entry.Status == manifest.StatusComplete {
			if gate.HasMarker(doneDir, stem) {
				// Still synced, nothing to do.
				entry.Status = manifest.StatusCuratorSynced
				o.store.Put(stem, entry)
				continue
			}
			// The marker was removed behind our back (label, merge). Re-evaluate
			// as if the transcript had never been synced.
			entry = manifest.BuildEntry(stem, doc, nil, o.now(), o.playbackExists(stem))
			logger.Info().
				Str("event", "orch.regate").
				Str("stem", stem).
				Msg("synced marker removed, re-evaluating")
		}

		mutated := !hasPrev || oldStatus != entry.Status
		if o.disposeAudio(logger, stem, doc, entry) {
			mutated = true
		}
		if o.syncComplete(logger, stem, doc, entry) {
			mutated = true
		}

		if oldStatus != "" && oldStatus != entry.Status {
			metrics.IncStatusTransition(string(oldStatus), string(entry.Status))
			logger.Info().
				Str("event", "orch.status_change").
				Str("stem", stem).
				Str("from", string(oldStatus)).
				Str("to", string(entry.Status)).
				Msg("job status changed")
		}

		o.store.Put(stem, entry)
		if mutated {
			changed = true
		}
	}
	return changed
}

// disposeAudio moves inbox audio to playback once transcription finished, or
// deletes it when it is too short to keep. A terminal entry must not leave
// audio behind in the inbox, so this also repairs cold starts where the
// manifest was rebuilt after the transition already happened. Reports whether
// audio moved.
func (o *Orchestrator) disposeAudio(logger zerolog.Logger, stem string, doc *transcript.Document, entry *manifest.Entry) bool {
	if entry.Status == manifest.StatusQueued || entry.Status == manifest.StatusProcessing {
		return false
	}

	inboxWav := filepath.Join(o.cfg.InboxDir(), stem+".wav")
	if _, err := os.Stat(inboxWav); err != nil {
		return false
	}

	duration := doc.AudioDuration()
	if duration >= o.cfg.MinPlaybackDuration.Seconds() {
		if err := fsx.EnsureDir(o.cfg.PlaybackDir()); err != nil {
			logger.Error().Str("event", "orch.playback_dir").Err(err).Msg("cannot create playback dir")
			return false
		}
		dest := filepath.Join(o.cfg.PlaybackDir(), stem+".wav")
		if err := fsx.MoveFile(inboxWav, dest); err != nil {
			logger.Error().
				Str("event", "orch.playback_move_failed").
				Str("stem", stem).
				Err(err).
				Msg("could not move audio to playback")
			return false
		}
		entry.PlaybackFile = stem + ".wav"
		metrics.IncPlaybackPromotion()
		logger.Info().
			Str("event", "orch.playback_moved").
			Str("stem", stem).
			Float64("duration_s", duration).
			Msg("audio kept for playback")
		return true
	}

	if err := os.Remove(inboxWav); err != nil {
		logger.Error().
			Str("event", "orch.short_delete_failed").
			Str("stem", stem).
			Err(err).
			Msg("could not delete short audio")
		return false
	}
	metrics.IncShortAudioDeleted()
	logger.Info().
		Str("event", "orch.short_deleted").
		Str("stem", stem).
		Float64("duration_s", duration).
		Msg("short audio deleted")
	return true
}

// syncComplete pushes fully identified transcripts to the curator and flips
// them to curator_synced. An existing marker short-circuits the write.
// Reports whether the entry changed.
func (o *Orchestrator) syncComplete(logger zerolog.Logger, stem string, doc *transcript.Document, entry *manifest.Entry) bool {
	if entry.Status != manifest.StatusComplete {
		return false
	}
	doneDir := o.cfg.DoneDir()

	if gate.HasMarker(doneDir, stem) {
		entry.Status = manifest.StatusCuratorSynced
		return true
	}

	relPath, err := o.writer.Sync(stem, doc)
	if errors.Is(err, curator.ErrEmptyTranscript) {
		metrics.IncCuratorSync("empty")
		logger.Debug().
			Str("event", "orch.sync_empty").
			Str("stem", stem).
			Msg("nothing to sync, transcript has no text")
		return false
	}
	if err != nil {
		metrics.IncCuratorSync("failure")
		logger.Error().
			Str("event", "orch.sync_failed").
			Str("stem", stem).
			Err(err).
			Msg("curator sync failed")
		return false
	}

	if err := gate.CreateMarker(doneDir, stem); err != nil {
		logger.Error().
			Str("event", "orch.marker_failed").
			Str("stem", stem).
			Err(err).
			Msg("could not create synced marker")
	}

	entry.Status = manifest.StatusCuratorSynced
	entry.CuratorPath = relPath
	syncedAt := o.now()
	entry.Stages.CuratorSynced = &syncedAt
	metrics.IncCuratorSync("success")
	logger.Info().
		Str("event", "orch.curator_synced").
		Str("stem", stem).
		Str("path", relPath).
		Msg("transcript synced to curator")
	return true
}

// collectOrphans deletes inbox audio that never produced a transcript within
// the configured age and fails its job entry.
func (o *Orchestrator) collectOrphans(logger zerolog.Logger) bool {
	entries, err := os.ReadDir(o.cfg.InboxDir())
	if err != nil {
		return false
	}
	cutoff := o.now().Add(-o.cfg.OrphanAge)
	changed := false

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".wav") {
			continue
		}
		stem := strings.TrimSuffix(name, ".wav")
		if _, err := os.Stat(filepath.Join(o.cfg.DoneDir(), stem+".json")); err == nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(o.cfg.InboxDir(), name)); err != nil {
			continue
		}
		if job, ok := o.store.Get(stem); ok {
			job.Status = manifest.StatusFailed
			job.Error = fmt.Sprintf("orphaned: no transcript after %s", o.cfg.OrphanAge)
			o.store.Put(stem, job)
		}
		metrics.IncOrphanDeleted()
		changed = true
		logger.Warn().
			Str("event", "orch.orphan_deleted").
			Str("stem", stem).
			Msg("deleted orphaned audio")
	}
	return changed
}

func (o *Orchestrator) playbackExists(stem string) bool {
	_, err := os.Stat(filepath.Join(o.cfg.PlaybackDir(), stem+".wav"))
	return err == nil
}
