// SPDX-License-Identifier: MIT

package curator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aechclawbot/voicepipe/internal/fsx"
	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/transcript"
)

// ErrEmptyTranscript is returned when a transcript has no spoken text and
// therefore nothing worth handing to the curator.
var ErrEmptyTranscript = errors.New("transcript text is empty")

// IndexFileName is the per-day conversation index; it lives alongside the
// transcript documents and must never be treated as one.
const IndexFileName = "conversations.json"

const diarizedSuffix = "-diarized"

// Writer places curator documents into the date-partitioned voice tree.
// Re-syncs reuse the existing document name for the same audio file, looking
// in the active day directory first and the _pending backlog second.
type Writer struct {
	voiceDir   string
	pendingDir string
	log        zerolog.Logger
	now        func() time.Time
}

// NewWriter builds a Writer rooted at the curator voice directory.
func NewWriter(voiceDir, pendingDir string) *Writer {
	if voiceDir == "" || pendingDir == "" {
		panic("invariant violation: empty directory in NewWriter")
	}
	return &Writer{
		voiceDir:   voiceDir,
		pendingDir: pendingDir,
		log:        log.WithComponent("curator"),
		now:        time.Now,
	}
}

// Sync converts doc and writes it under voice/YYYY/MM/DD/. The returned path
// is relative to the voice directory, as stored in the job manifest.
func (w *Writer) Sync(stem string, doc *transcript.Document) (string, error) {
	conv, ts := Convert(doc, w.now())
	if conv.Transcript == "" {
		return "", ErrEmptyTranscript
	}

	dayPart := ts.Format("2006/01/02")
	dateDir := filepath.Join(w.voiceDir, dayPart)
	if err := fsx.EnsureDir(dateDir); err != nil {
		return "", fmt.Errorf("create curator day dir: %w", err)
	}

	timePrefix := ts.Format("15-04-05")
	suffix := ""
	if doc.Diarization {
		suffix = diarizedSuffix
	}

	target := filepath.Join(dateDir, timePrefix+suffix+".json")
	found := false

	// Re-sync case: a document for the same audio already exists today.
	if name, ok := findByAudioPath(dateDir, timePrefix, doc.File); ok {
		target = filepath.Join(dateDir, name)
		found = true
	}

	// Or it was parked in the _pending backlog awaiting identification.
	if !found {
		pendingDay := filepath.Join(w.pendingDir, dayPart)
		if name, ok := findByAudioPath(pendingDay, timePrefix, doc.File); ok {
			target = filepath.Join(dateDir, name)
			if err := os.Remove(filepath.Join(pendingDay, name)); err != nil {
				return "", fmt.Errorf("clear pending document: %w", err)
			}
			found = true
			w.log.Info().
				Str("event", "curator.resync_pending").
				Str("stem", stem).
				Str("file", name).
				Msg("re-syncing document from pending backlog")
		}
	}

	// Different audio at the same second gets a numbered name.
	if !found {
		for counter := 1; fileExists(target); counter++ {
			target = filepath.Join(dateDir, fmt.Sprintf("%s%s-%d.json", timePrefix, suffix, counter))
		}
	}

	if err := fsx.WriteJSONAtomic(target, conv); err != nil {
		return "", fmt.Errorf("write curator document: %w", err)
	}

	rel, err := filepath.Rel(w.voiceDir, target)
	if err != nil {
		return "", fmt.Errorf("relativize curator path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// findByAudioPath scans dir for a document whose name starts with timePrefix
// and whose audioPath matches. Unreadable documents are skipped.
func findByAudioPath(dir, timePrefix, audioPath string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == IndexFileName {
			continue
		}
		if !strings.HasPrefix(name, timePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- scanning the curator tree
		if err != nil {
			continue
		}
		var probe struct {
			AudioPath string `json:"audioPath"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			continue
		}
		if probe.AudioPath == audioPath {
			return name, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
