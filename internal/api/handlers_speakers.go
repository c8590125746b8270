// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"

	"github.com/aechclawbot/voicepipe/internal/speakers"
)

type labelRequest struct {
	Transcript string `json:"transcript"`
	SpeakerID  string `json:"speaker_id"`
	Name       string `json:"name"`
}

// handleLabel assigns a name to a diarized speaker. The heavy lifting
// (identification, profile update, marker removal) happens in the speakers
// service; this handler only validates the request shape.
func (s *Server) handleLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	stem, err := cleanStem(req.Transcript)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	speakerID := nfc(req.SpeakerID)
	if err := speakers.ValidateSpeakerID(speakerID); err != nil {
		writeBadRequest(w, err)
		return
	}
	name := nfc(req.Name)
	if _, err := speakers.NormalizeName(name); err != nil {
		writeBadRequest(w, err)
		return
	}

	outcome, err := s.speakers.Label(r.Context(), stem, speakerID, name)
	writeOutcome(w, outcome, err)
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("status")
	switch filter {
	case "", speakers.CandidatePending, speakers.CandidateApproved,
		speakers.CandidateRejected, speakers.CandidateMerged:
	default:
		writeBadRequest(w, fmt.Errorf("unknown candidate status %q", filter))
		return
	}
	all, err := s.speakers.Store().Candidates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := all
	if filter != "" {
		out = make([]*speakers.Candidate, 0, len(all))
		for _, c := range all {
			if c.Status == filter {
				out = append(out, c)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": out,
		"count":      len(out),
	})
}

type approveRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleApproveCandidate(w http.ResponseWriter, r *http.Request) {
	id := nfc(urlParam(r, "id"))
	if err := speakers.ValidateSpeakerID(id); err != nil {
		writeBadRequest(w, err)
		return
	}
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	name := nfc(req.Name)
	if _, err := speakers.NormalizeName(name); err != nil {
		writeBadRequest(w, err)
		return
	}

	outcome, err := s.speakers.Approve(id, name)
	writeOutcome(w, outcome, err)
}

func (s *Server) handleRejectCandidate(w http.ResponseWriter, r *http.Request) {
	id := nfc(urlParam(r, "id"))
	if err := speakers.ValidateSpeakerID(id); err != nil {
		writeBadRequest(w, err)
		return
	}
	cand, err := s.speakers.Reject(id)
	writeOutcome(w, cand, err)
}

type mergeRequest struct {
	CandidateIDs []string             `json:"candidate_ids"`
	Target       speakers.MergeTarget `json:"target"`
}

func (s *Server) handleMergeCandidates(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if len(req.CandidateIDs) < 2 {
		writeBadRequest(w, fmt.Errorf("merge requires at least 2 candidate ids, got %d", len(req.CandidateIDs)))
		return
	}
	ids := make([]string, len(req.CandidateIDs))
	for i, raw := range req.CandidateIDs {
		id := nfc(raw)
		if err := speakers.ValidateSpeakerID(id); err != nil {
			writeBadRequest(w, err)
			return
		}
		ids[i] = id
	}
	if req.Target.Type != speakers.MergeTargetNew && req.Target.Type != speakers.MergeTargetExisting {
		writeBadRequest(w, fmt.Errorf("merge target type must be %q or %q, got %q",
			speakers.MergeTargetNew, speakers.MergeTargetExisting, req.Target.Type))
		return
	}
	name := nfc(req.Target.Name)
	if _, err := speakers.NormalizeName(name); err != nil {
		writeBadRequest(w, err)
		return
	}

	outcome, err := s.speakers.Merge(ids, speakers.MergeTarget{Type: req.Target.Type, Name: name})
	writeOutcome(w, outcome, err)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.speakers.Store().Profiles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

type renameRequest struct {
	NewName string `json:"new_name"`
}

func (s *Server) handleRenameProfile(w http.ResponseWriter, r *http.Request) {
	oldName := nfc(urlParam(r, "name"))
	if _, err := speakers.NormalizeName(oldName); err != nil {
		writeBadRequest(w, err)
		return
	}
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	newName := nfc(req.NewName)
	if _, err := speakers.NormalizeName(newName); err != nil {
		writeBadRequest(w, err)
		return
	}

	profile, err := s.speakers.RenameProfile(oldName, newName)
	writeOutcome(w, profile, err)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	name := nfc(urlParam(r, "name"))
	if _, err := speakers.NormalizeName(name); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.speakers.DeleteProfile(name); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
}
