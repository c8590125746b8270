// SPDX-License-Identifier: MIT

package orch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aechclawbot/voicepipe/internal/gate"
	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/manifest"
	"github.com/aechclawbot/voicepipe/internal/metrics"
	"github.com/aechclawbot/voicepipe/internal/transcript"
)

// Rebuild reconstructs the whole manifest from the filesystem and persists
// it, discarding whatever jobs.json said before. Runs at startup and on
// SIGHUP; the result is exactly what a scan over an empty manifest would
// produce, minus the side effects.
func (o *Orchestrator) Rebuild(ctx context.Context) error {
	o.scanMu.Lock()
	defer o.scanMu.Unlock()

	logger := log.WithComponentFromContext(ctx, "orch")
	jobs := o.buildFromFilesystem(logger)

	o.store.Replace(jobs)
	if err := o.store.Save(); err != nil {
		metrics.IncManifestWriteError()
		return fmt.Errorf("persist rebuilt manifest: %w", err)
	}
	o.publishJobCounts()

	logger.Info().
		Str("event", "orch.rebuilt").
		Int("jobs", len(jobs)).
		Msg("manifest rebuilt from filesystem")
	return nil
}

func (o *Orchestrator) buildFromFilesystem(logger zerolog.Logger) map[string]*manifest.Entry {
	jobs := map[string]*manifest.Entry{}
	doneDir := o.cfg.DoneDir()

	if entries, err := os.ReadDir(doneDir); err == nil {
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".json") {
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
			jobs[stem] = manifest.BuildEntry(stem, doc, nil, o.now(), o.playbackExists(stem))
		}
	}

	if entries, err := os.ReadDir(o.cfg.InboxDir()); err == nil {
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".wav") {
				continue
			}
			stem := strings.TrimSuffix(name, ".wav")
			if _, ok := jobs[stem]; !ok {
				jobs[stem] = manifest.NewQueuedEntry(stem, o.now())
			}
		}
	}

	if entries, err := os.ReadDir(o.cfg.PlaybackDir()); err == nil {
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".wav") {
				continue
			}
			if job, ok := jobs[strings.TrimSuffix(name, ".wav")]; ok {
				job.PlaybackFile = name
			}
		}
	}

	if entries, err := os.ReadDir(doneDir); err == nil {
		for _, entry := range entries {
			stem, ok := gate.StemForMarker(entry.Name())
			if !ok {
				continue
			}
			if job, found := jobs[stem]; found && job.Status == manifest.StatusComplete {
				job.Status = manifest.StatusCuratorSynced
			}
		}
	}

	return jobs
}
