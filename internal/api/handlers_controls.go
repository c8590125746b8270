// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"

	"github.com/aechclawbot/voicepipe/internal/ingest"
	"github.com/aechclawbot/voicepipe/internal/log"
)

// handleWatchFolderPause stops the ingester before its next scan. The flag
// is a state file, so it survives a daemon restart.
func (s *Server) handleWatchFolderPause(w http.ResponseWriter, r *http.Request) {
	s.setWatchFolder(w, false)
}

func (s *Server) handleWatchFolderResume(w http.ResponseWriter, r *http.Request) {
	s.setWatchFolder(w, true)
}

func (s *Server) setWatchFolder(w http.ResponseWriter, active bool) {
	if s.ingester == nil {
		writeError(w, http.StatusConflict, fmt.Errorf("watch folder is not configured"))
		return
	}
	var err error
	if active {
		err = s.ingester.Resume()
	} else {
		err = s.ingester.Pause()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	lg := log.WithComponent("api")
	lg.Info().
		Str("event", "api.watch_folder_toggled").
		Bool("active", active).
		Msg("watch folder state changed")
	writeJSON(w, http.StatusOK, toggleStatus{Active: active})
}

// handleMicrophoneToggle flips the microphone flag the recording machine
// polls. A missing state file counts as active, matching the recorder.
func (s *Server) handleMicrophoneToggle(w http.ResponseWriter, r *http.Request) {
	path := s.cfg.MicStatePath()
	next := !ingest.ReadActive(path)
	if err := ingest.WriteActive(path, next); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	lg := log.WithComponent("api")
	lg.Info().
		Str("event", "api.microphone_toggled").
		Bool("active", next).
		Msg("microphone state changed")
	writeJSON(w, http.StatusOK, toggleStatus{Active: next})
}
