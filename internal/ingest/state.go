// SPDX-License-Identifier: MIT

package ingest

import (
	"time"

	"github.com/aechclawbot/voicepipe/internal/fsx"
)

// Current-file statuses, in the order a file moves through them.
const (
	StatusIdle        = "idle"
	StatusDownloading = "downloading"
	StatusWaiting     = "waiting"
	StatusConverting  = "converting"
)

// pauseState is the {active} flag file shared with the operator API.
type pauseState struct {
	Active bool `json:"active"`
}

// ReadActive reports whether the ingester is allowed to run. Missing or
// unreadable state means active: pausing is the explicit action.
func ReadActive(path string) bool {
	state := pauseState{Active: true}
	if err := fsx.ReadJSON(path, &state); err != nil {
		return true
	}
	return state.Active
}

// WriteActive persists the pause flag.
func WriteActive(path string, active bool) error {
	return fsx.WriteJSONAtomic(path, pauseState{Active: active})
}

// CurrentFile is the observability state file: which source file the
// ingester is working on right now, and in which phase.
type CurrentFile struct {
	CurrentFile *string `json:"currentFile"`
	Status      string  `json:"status"`
	UpdatedAt   string  `json:"updatedAt"`
}

// ReadCurrent returns the current-file state, defaulting to idle.
func ReadCurrent(path string) CurrentFile {
	state := CurrentFile{Status: StatusIdle}
	if err := fsx.ReadJSON(path, &state); err != nil {
		return CurrentFile{Status: StatusIdle}
	}
	return state
}

func writeCurrent(path, filename, status string, now time.Time) error {
	state := CurrentFile{
		Status:    status,
		UpdatedAt: now.UTC().Format(time.RFC3339),
	}
	if filename != "" {
		state.CurrentFile = &filename
	}
	return fsx.WriteJSONAtomic(path, state)
}
