// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/aechclawbot/voicepipe/internal/ingest"
	"github.com/aechclawbot/voicepipe/internal/orch"
)

type watchFolderStatus struct {
	Configured bool               `json:"configured"`
	Active     bool               `json:"active"`
	Current    ingest.CurrentFile `json:"current"`
}

type toggleStatus struct {
	Active bool `json:"active"`
}

type speakerCounts struct {
	Profiles          int `json:"profiles"`
	PendingCandidates int `json:"pendingCandidates"`
}

type statusResponse struct {
	Version     string              `json:"version"`
	Pipeline    orch.StatusSnapshot `json:"pipeline"`
	WatchFolder watchFolderStatus   `json:"watchFolder"`
	Microphone  toggleStatus        `json:"microphone"`
	Speakers    speakerCounts       `json:"speakers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	watch := watchFolderStatus{Current: ingest.CurrentFile{Status: ingest.StatusIdle}}
	if s.ingester != nil {
		watch.Configured = true
		watch.Active = s.ingester.Active()
		watch.Current = s.ingester.Current()
	}
	profiles, pending := s.speakers.Store().Counts()
	writeJSON(w, http.StatusOK, statusResponse{
		Version:     s.version,
		Pipeline:    s.orch.Status(),
		WatchFolder: watch,
		Microphone:  toggleStatus{Active: ingest.ReadActive(s.cfg.MicStatePath())},
		Speakers:    speakerCounts{Profiles: profiles, PendingCandidates: pending},
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.manifest.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}
