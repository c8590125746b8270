// SPDX-License-Identifier: MIT

// Package ingest watches a cloud-synced drop folder and brings new audio
// into the pipeline inbox: staged copy, size-stability wait, content-hash
// dedup against a persistent ledger, and 16 kHz mono WAV canonicalization.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aechclawbot/voicepipe/internal/config"
	"github.com/aechclawbot/voicepipe/internal/fsx"
	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/manifest"
	"github.com/aechclawbot/voicepipe/internal/metrics"
	"github.com/aechclawbot/voicepipe/internal/telemetry"
)

// inboxPrefix marks recordings that arrived through the watch folder rather
// than the microphone.
const inboxPrefix = "gdrive_"

var tracer = otel.Tracer("voicepipe/ingest")

// Ingester is the watch-folder poller.
type Ingester struct {
	cfg    config.Config
	ledger *Ledger
	log    zerolog.Logger
	now    func() time.Time
}

// New wires an Ingester. The ledger is required.
func New(cfg config.Config, ledger *Ledger) *Ingester {
	if ledger == nil {
		panic("invariant violation: ledger is nil in ingest.New")
	}
	return &Ingester{
		cfg:    cfg,
		ledger: ledger,
		log:    log.WithComponent("ingest"),
		now:    time.Now,
	}
}

// Active reports whether ingestion is currently enabled.
func (in *Ingester) Active() bool {
	return ReadActive(in.cfg.WatchStatePath())
}

// Pause disables ingestion after any in-progress file finishes.
func (in *Ingester) Pause() error {
	return WriteActive(in.cfg.WatchStatePath(), false)
}

// Resume re-enables ingestion.
func (in *Ingester) Resume() error {
	return WriteActive(in.cfg.WatchStatePath(), true)
}

// Current returns the observable per-file progress state.
func (in *Ingester) Current() CurrentFile {
	return ReadCurrent(in.cfg.WatchCurrentPath())
}

// Run polls the watch folder until the context is cancelled. With no watch
// folder configured it just parks.
func (in *Ingester) Run(ctx context.Context) error {
	if in.cfg.WatchFolder == "" {
		in.log.Info().Str("event", "ingest.disabled").Msg("no watch folder configured")
		<-ctx.Done()
		return ctx.Err()
	}

	in.setCurrent("", StatusIdle)
	if _, err := os.Stat(in.cfg.WatchStatePath()); errors.Is(err, os.ErrNotExist) {
		if err := WriteActive(in.cfg.WatchStatePath(), true); err != nil {
			in.log.Error().Str("event", "ingest.state_init_failed").Err(err).Msg("could not initialize pause state")
		}
	}

	in.log.Info().
		Str("event", "ingest.started").
		Str("watch_folder", in.cfg.WatchFolder).
		Dur("poll_interval", in.cfg.WatchPollInterval).
		Msg("watch folder ingester started")

	ticker := time.NewTicker(in.cfg.WatchPollInterval)
	defer ticker.Stop()

	for {
		if in.Active() {
			if n := in.ScanOnce(ctx); n > 0 {
				in.log.Info().Str("event", "ingest.imported_batch").Int("count", n).Msg("imported new files")
			}
		} else {
			in.log.Debug().Str("event", "ingest.paused").Msg("ingestion paused, skipping scan")
		}

		select {
		case <-ctx.Done():
			in.log.Info().Str("event", "ingest.stopped").Msg("ingester stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanOnce walks the watch folder once and imports everything new. Per-file
// failures are logged and skipped; the count of successful imports is
// returned.
func (in *Ingester) ScanOnce(ctx context.Context) int {
	if in.cfg.WatchFolder == "" {
		return 0
	}
	metrics.IncWatchScan()

	entries, err := os.ReadDir(in.cfg.WatchFolder)
	if err != nil {
		in.log.Warn().
			Str("event", "ingest.watch_folder_missing").
			Str("path", in.cfg.WatchFolder).
			Err(err).
			Msg("watch folder unavailable")
		return 0
	}

	imported := 0
	for _, entry := range entries {
		if entry.IsDir() || !in.supported(entry.Name()) {
			continue
		}
		if in.ledger.Has(entry.Name()) {
			continue
		}
		if !in.Active() {
			in.log.Info().Str("event", "ingest.paused").Msg("paused, stopping after current file")
			break
		}
		if ctx.Err() != nil {
			break
		}

		if in.processFile(ctx, filepath.Join(in.cfg.WatchFolder, entry.Name())) {
			imported++
		}
	}

	metrics.RecordLedgerEntries(in.ledger.Len())
	return imported
}

// processFile stages, stabilizes, dedups, canonicalizes and records one
// source file. Returns true only for a fresh import.
func (in *Ingester) processFile(ctx context.Context, src string) bool {
	name := filepath.Base(src)
	logger := in.log.With().Str("file", name).Logger()

	ctx, span := tracer.Start(ctx, "ingest.file",
		trace.WithAttributes(telemetry.RecordingAttributes(name, manifest.SourceWatchFolder)...))
	defer span.End()

	in.setCurrent(name, StatusDownloading)
	defer in.setCurrent("", StatusIdle)

	if err := fsx.EnsureDir(in.cfg.TempDir()); err != nil {
		logger.Error().Str("event", "ingest.temp_dir").Err(err).Msg("cannot create staging dir")
		metrics.IncIngestFile("failure")
		return false
	}
	staging := filepath.Join(in.cfg.TempDir(), name)
	if err := fsx.CopyFile(src, staging); err != nil {
		logger.Error().Str("event", "ingest.copy_failed").Err(err).Msg("staging copy failed")
		metrics.IncIngestFile("failure")
		return false
	}

	in.setCurrent(name, StatusWaiting)
	if !in.waitForStable(ctx, staging) {
		logger.Warn().Str("event", "ingest.unstable").Msg("file size never stabilized")
		removeQuiet(staging)
		metrics.IncIngestFile("unstable")
		return false
	}

	hash, err := hashFile(staging)
	if err != nil {
		logger.Error().Str("event", "ingest.hash_failed").Err(err).Msg("could not hash staging file")
		removeQuiet(staging)
		metrics.IncIngestFile("failure")
		return false
	}

	if prior, ok := in.ledger.FindHash(hash); ok {
		logger.Info().
			Str("event", "ingest.duplicate").
			Str("previously", prior.SourceFilename).
			Msg("duplicate content, skipping")
		removeQuiet(staging)
		metrics.IncIngestFile("duplicate")
		return false
	}

	in.setCurrent(name, StatusConverting)
	if err := fsx.EnsureDir(in.cfg.InboxDir()); err != nil {
		logger.Error().Str("event", "ingest.inbox_dir").Err(err).Msg("cannot create inbox dir")
		removeQuiet(staging)
		metrics.IncIngestFile("failure")
		return false
	}

	wavName := in.allocateInboxName(name)
	inboxPath := filepath.Join(in.cfg.InboxDir(), wavName)

	if strings.EqualFold(filepath.Ext(name), ".wav") {
		if err := fsx.MoveFile(staging, inboxPath); err != nil {
			logger.Error().Str("event", "ingest.move_failed").Err(err).Msg("could not move into inbox")
			removeQuiet(staging)
			metrics.IncIngestFile("failure")
			return false
		}
	} else {
		wavTemp := filepath.Join(in.cfg.TempDir(), wavName)
		if err := in.transcode(ctx, staging, wavTemp); err != nil {
			logger.Error().Str("event", "ingest.transcode_failed").Err(err).Msg("conversion failed")
			removeQuiet(staging)
			removeQuiet(wavTemp)
			metrics.IncIngestFile("failure")
			return false
		}
		if err := fsx.MoveFile(wavTemp, inboxPath); err != nil {
			logger.Error().Str("event", "ingest.move_failed").Err(err).Msg("could not move into inbox")
			removeQuiet(staging)
			removeQuiet(wavTemp)
			metrics.IncIngestFile("failure")
			return false
		}
		removeQuiet(staging)
	}

	entry := LedgerEntry{
		Hash:           hash,
		ProcessedAt:    in.now().UTC().Format(time.RFC3339),
		SourcePath:     src,
		SourceFilename: name,
		InboxFilename:  wavName,
	}
	if err := in.ledger.Append(name, entry); err != nil {
		// The file is already in the inbox; losing the ledger entry only
		// risks a duplicate import later, which the hash check absorbs.
		logger.Error().Str("event", "ingest.ledger_write_failed").Err(err).Msg("could not persist ledger")
	}

	metrics.IncIngestFile("imported")
	logger.Info().
		Str("event", "ingest.imported").
		Str("inbox_file", wavName).
		Msg("queued for transcription")
	return true
}

// waitForStable polls the staging file size until it has been non-zero and
// unchanged for StableChecks consecutive observations. Cloud sync clients
// materialize placeholder files lazily, so the copy may still be growing.
func (in *Ingester) waitForStable(ctx context.Context, path string) bool {
	prev := int64(-1)
	stable := 0

	for attempt := 0; attempt < in.cfg.StableChecks*3; attempt++ {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		size := info.Size()
		if size == prev && size > 0 {
			stable++
			if stable >= in.cfg.StableChecks {
				return true
			}
		} else {
			stable = 0
		}
		prev = size

		select {
		case <-ctx.Done():
			return false
		case <-time.After(in.cfg.StableInterval):
		}
	}
	return false
}

// allocateInboxName returns a free gdrive_<stem>[_N].wav name in the inbox.
func (in *Ingester) allocateInboxName(source string) string {
	stem := strings.TrimSuffix(source, filepath.Ext(source))
	stem = strings.ReplaceAll(stem, " ", "_")

	name := inboxPrefix + stem + ".wav"
	for counter := 1; fileExists(filepath.Join(in.cfg.InboxDir(), name)); counter++ {
		name = fmt.Sprintf("%s%s_%d.wav", inboxPrefix, stem, counter)
	}
	return name
}

func (in *Ingester) supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range in.cfg.SupportedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (in *Ingester) setCurrent(filename, status string) {
	if err := writeCurrent(in.cfg.WatchCurrentPath(), filename, status, in.now()); err != nil {
		in.log.Debug().Str("event", "ingest.current_write_failed").Err(err).Msg("could not update current-file state")
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is inside our staging dir
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		lg := log.WithComponent("ingest")
		lg.Debug().Str("path", path).Err(err).Msg("cleanup failed")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
