// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/aechclawbot/voicepipe/internal/fsx"
	"github.com/aechclawbot/voicepipe/internal/gate"
	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/manifest"
	"github.com/aechclawbot/voicepipe/internal/transcript"
)

// transcriptSummary is one row of the transcript listing.
type transcriptSummary struct {
	Stem         string          `json:"stem"`
	Status       manifest.Status `json:"status,omitempty"`
	Timestamp    string          `json:"timestamp,omitempty"`
	Conversation string          `json:"conversationId,omitempty"`
	NumSpeakers  int             `json:"numSpeakers,omitempty"`
	Synced       bool            `json:"synced"`
	Error        string          `json:"error,omitempty"`
}

// handleListTranscripts lists the done directory. The manifest supplies the
// status when it tracks the stem; otherwise the status is derived from the
// document itself, so the listing works even before the first scan cycle.
func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	doneDir := s.cfg.DoneDir()
	entries, err := os.ReadDir(doneDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("read done dir: %w", err))
		return
	}

	summaries := make([]transcriptSummary, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")
		sum := transcriptSummary{
			Stem:   stem,
			Synced: gate.HasMarker(doneDir, stem),
		}
		doc, err := transcript.Load(filepath.Join(doneDir, name))
		if err != nil {
			sum.Error = "unreadable document"
			lg := log.WithComponent("api")
			lg.Warn().
				Str("event", "api.transcript_unreadable").
				Str("stem", stem).
				Err(err).
				Msg("skipping document details")
		} else {
			sum.Timestamp = doc.Timestamp
			sum.Conversation = doc.ConversationID
			sum.NumSpeakers = doc.NumSpeakers
			sum.Status = manifest.DeriveStatus(doc)
		}
		if entry, ok := s.manifest.Get(stem); ok {
			sum.Status = entry.Status
		}
		summaries = append(summaries, sum)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Stem < summaries[j].Stem })

	writeJSON(w, http.StatusOK, map[string]any{
		"transcripts": summaries,
		"count":       len(summaries),
	})
}

// handleGetTranscript serves the raw document bytes so the operator sees
// exactly what is on disk, including fields this program does not model.
func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	stem, err := cleanStem(urlParam(r, "stem"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	path, err := fsx.ConfineRel(s.cfg.DoneDir(), stem+".json")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	data, err := os.ReadFile(path) // #nosec G304 -- confined to the done directory above
	if errors.Is(err, os.ErrNotExist) {
		writeNotFound(w)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

type utterancePatch struct {
	Text *string `json:"text"`
}

type utterancePatchResponse struct {
	Stem         string             `json:"stem"`
	Index        int                `json:"index"`
	Segment      transcript.Segment `json:"segment"`
	Synced       bool               `json:"synced"`
	CuratorPath  string             `json:"curatorPath,omitempty"`
	CuratorError string             `json:"curatorError,omitempty"`
}

// handlePatchUtterance edits the text of one segment. When the transcript
// has already been published, the curator copy is rewritten in place so the
// edit reaches the curated tree without reopening the gate.
func (s *Server) handlePatchUtterance(w http.ResponseWriter, r *http.Request) {
	stem, err := cleanStem(urlParam(r, "stem"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	idx, err := strconv.Atoi(urlParam(r, "index"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("invalid utterance index %q", urlParam(r, "index")))
		return
	}
	var patch utterancePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeBadRequest(w, err)
		return
	}
	if patch.Text == nil {
		writeBadRequest(w, fmt.Errorf("text field is required"))
		return
	}

	donePath, err := fsx.ConfineRel(s.cfg.DoneDir(), stem+".json")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	doc, err := transcript.Load(donePath)
	if errors.Is(err, os.ErrNotExist) {
		writeNotFound(w)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := doc.SetUtteranceText(idx, nfc(*patch.Text)); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err := doc.Save(donePath); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := utterancePatchResponse{
		Stem:    stem,
		Index:   idx,
		Segment: doc.Segments[idx],
		Synced:  gate.HasMarker(s.cfg.DoneDir(), stem),
	}
	if resp.Synced {
		relPath, err := s.curator.Sync(stem, doc)
		if err != nil {
			resp.CuratorError = err.Error()
			lg := log.WithComponent("api")
			lg.Warn().
				Str("event", "api.curator_rewrite_failed").
				Str("stem", stem).
				Err(err).
				Msg("utterance edited in done but curator copy not rewritten")
		} else {
			resp.CuratorPath = relPath
		}
	}

	lg := log.WithComponent("api")
	lg.Info().
		Str("event", "api.utterance_edited").
		Str("stem", stem).
		Int("index", idx).
		Bool("synced", resp.Synced).
		Msg("utterance text updated")
	writeJSON(w, http.StatusOK, resp)
}
