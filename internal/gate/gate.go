// SPDX-License-Identifier: MIT

// Package gate decides when a transcript may leave the pipeline for the
// curator workspace, and manages the .synced markers that record the
// decision. The orchestrator creates markers after a successful sync; the
// speaker identity flows remove them to force a re-sync with fresh names.
package gate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aechclawbot/voicepipe/internal/transcript"
)

// MarkerSuffix is appended to the transcript filename, giving
// done/<stem>.json.synced.
const MarkerSuffix = ".synced"

// Admissible reports whether a transcript may be synced to the curator:
// identification must have finished and no speaker may remain unresolved.
func Admissible(doc *transcript.Document) bool {
	switch doc.PipelineStatus {
	case transcript.StatusComplete, transcript.StatusCompleteNoID:
		return len(doc.Unidentified()) == 0
	}
	return false
}

// MarkerPath returns the marker location for stem under doneDir.
func MarkerPath(doneDir, stem string) string {
	return filepath.Join(doneDir, stem+".json"+MarkerSuffix)
}

// HasMarker reports whether the sync marker for stem exists.
func HasMarker(doneDir, stem string) bool {
	_, err := os.Stat(MarkerPath(doneDir, stem))
	return err == nil
}

// CreateMarker records that stem has been synced. Creating an existing
// marker is a no-op.
func CreateMarker(doneDir, stem string) error {
	f, err := os.OpenFile(MarkerPath(doneDir, stem), os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304 -- path derived from the done/ root
	if err != nil {
		return fmt.Errorf("create marker for %s: %w", stem, err)
	}
	return f.Close()
}

// RemoveMarker deletes the sync marker so the next cycle re-evaluates the
// transcript. Removing an absent marker is a no-op.
func RemoveMarker(doneDir, stem string) error {
	err := os.Remove(MarkerPath(doneDir, stem))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker for %s: %w", stem, err)
	}
	return nil
}

// StemForMarker extracts the transcript stem from a marker filename, and
// reports whether name is a marker at all.
func StemForMarker(name string) (string, bool) {
	const full = ".json" + MarkerSuffix
	if len(name) <= len(full) || name[len(name)-len(full):] != full {
		return "", false
	}
	return name[:len(name)-len(full)], true
}
