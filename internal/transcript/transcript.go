// SPDX-License-Identifier: MIT

// Package transcript models the JSON documents the external ASR drops into
// done/. The core mutates these documents (speaker labels, utterance edits)
// but never rewrites them wholesale.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aechclawbot/voicepipe/internal/fsx"
)

// Pipeline status values written by the ASR and identification stages.
const (
	StatusTranscribed     = "transcribed"
	StatusComplete        = "complete"
	StatusCompleteNoID    = "complete_no_speaker_id"
	StatusSpeakerIDFailed = "speaker_id_failed"
	StatusSkippedTooShort = "skipped_too_short"

	asrStatusCompleted   = "completed"
	asrStatusError       = "error"
	identifyMethodManual = "manual-label"
)

// Segment is a single diarized utterance.
type Segment struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Speaker     string  `json:"speaker,omitempty"`
	SpeakerName string  `json:"speaker_name,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// IdentifiedSpeaker is the value of the identified map. Older documents store
// a bare name string; newer ones an object with match metadata. Both forms
// unmarshal; the object form is written back.
type IdentifiedSpeaker struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance,omitempty"`
	Method   string  `json:"method,omitempty"`
}

// UnmarshalJSON accepts both the bare-string and the object encoding.
func (s *IdentifiedSpeaker) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		s.Name = name
		return nil
	}
	type plain IdentifiedSpeaker
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = IdentifiedSpeaker(p)
	return nil
}

// Identification is the speaker-identification block maintained by the
// embedding service and the label flow.
type Identification struct {
	Identified      map[string]IdentifiedSpeaker `json:"identified"`
	Unidentified    []string                     `json:"unidentified"`
	StableIDs       map[string]string            `json:"stable_ids,omitempty"`
	ProfilesChecked int                          `json:"profiles_checked,omitempty"`
	Timestamp       string                       `json:"timestamp,omitempty"`
}

// ASRInfo is the transcription-provider block.
type ASRInfo struct {
	TranscriptID  string  `json:"transcript_id,omitempty"`
	Status        string  `json:"status,omitempty"`
	AudioDuration float64 `json:"audio_duration,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	CostUSD       float64 `json:"cost_usd,omitempty"`
	LanguageCode  string  `json:"language_code,omitempty"`
}

// Document is a transcript as found at done/<stem>.json.
type Document struct {
	File             string          `json:"file,omitempty"`
	Language         string          `json:"language,omitempty"`
	Timestamp        string          `json:"timestamp,omitempty"`
	PipelineStatus   string          `json:"pipeline_status,omitempty"`
	Segments         []Segment       `json:"segments"`
	Diarization      bool            `json:"diarization,omitempty"`
	Model            string          `json:"model,omitempty"`
	NumSpeakers      int             `json:"num_speakers,omitempty"`
	Duration         float64         `json:"duration,omitempty"`
	SpeakerID        *Identification `json:"speaker_identification,omitempty"`
	AssemblyAI       *ASRInfo        `json:"assemblyai,omitempty"`
	ConversationID   string          `json:"conversationId,omitempty"`
	LabeledManually  bool            `json:"labeled_manually,omitempty"`
	SpeakerIDError   string          `json:"speaker_id_error,omitempty"`
	SpeakerIDRetries int             `json:"speaker_id_retry_count,omitempty"`
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path built from the done/ root
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", path, err)
	}
	return &doc, nil
}

// Save writes the document atomically.
func (d *Document) Save(path string) error {
	return fsx.WriteJSONAtomic(path, d)
}

// AudioDuration returns the best known duration in seconds: the provider's
// measurement, falling back to the last segment end, falling back to zero.
func (d *Document) AudioDuration() float64 {
	if d.AssemblyAI != nil && d.AssemblyAI.AudioDuration > 0 {
		return d.AssemblyAI.AudioDuration
	}
	var max float64
	for _, seg := range d.Segments {
		if seg.End > max {
			max = seg.End
		}
	}
	return max
}

// ASRStatus returns the provider status string, empty when absent.
func (d *Document) ASRStatus() string {
	if d.AssemblyAI == nil {
		return ""
	}
	return d.AssemblyAI.Status
}

// ASRCompleted reports whether the provider finished transcription.
func (d *Document) ASRCompleted() bool {
	return d.ASRStatus() == asrStatusCompleted
}

// ASRFailed reports whether the provider errored out.
func (d *Document) ASRFailed() bool {
	return d.ASRStatus() == asrStatusError
}

// Unidentified returns the speaker ids still unknown (never nil).
func (d *Document) Unidentified() []string {
	if d.SpeakerID == nil {
		return nil
	}
	return d.SpeakerID.Unidentified
}

// IdentifiedNames returns the identified map normalized to speaker-id → name.
func (d *Document) IdentifiedNames() map[string]string {
	if d.SpeakerID == nil || len(d.SpeakerID.Identified) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(d.SpeakerID.Identified))
	for id, s := range d.SpeakerID.Identified {
		out[id] = s.Name
	}
	return out
}

// ParseTimestamp parses the document timestamp, tolerating both a proper
// RFC3339 string and the legacy "+00:00Z" double-suffix form. The zero time
// and false are returned when the field is missing or unparseable.
func (d *Document) ParseTimestamp() (time.Time, bool) {
	return ParseTime(d.Timestamp)
}

// ParseTime parses an ISO-8601 timestamp as found in transcripts.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	// Legacy writers produced "...+00:00Z".
	if strings.HasSuffix(s, "+00:00Z") {
		s = strings.TrimSuffix(s, "Z")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SetUtteranceText replaces the text of segment i.
func (d *Document) SetUtteranceText(i int, text string) error {
	if i < 0 || i >= len(d.Segments) {
		return fmt.Errorf("utterance index %d out of range (%d segments)", i, len(d.Segments))
	}
	d.Segments[i].Text = text
	return nil
}

// LabelSpeaker applies a manual identification: every segment spoken by
// speakerID gets the name, the id moves from unidentified to identified, and
// the document is flagged as manually labeled. Reports whether anything
// changed.
func (d *Document) LabelSpeaker(speakerID, name string) bool {
	changed := false
	for i := range d.Segments {
		if d.Segments[i].Speaker == speakerID && d.Segments[i].SpeakerName != name {
			d.Segments[i].SpeakerName = name
			changed = true
		}
	}

	if d.SpeakerID == nil {
		d.SpeakerID = &Identification{Identified: map[string]IdentifiedSpeaker{}}
	}
	if d.SpeakerID.Identified == nil {
		d.SpeakerID.Identified = map[string]IdentifiedSpeaker{}
	}
	if existing, ok := d.SpeakerID.Identified[speakerID]; !ok || existing.Name != name {
		d.SpeakerID.Identified[speakerID] = IdentifiedSpeaker{Name: name, Method: identifyMethodManual}
		changed = true
	}

	remaining := d.SpeakerID.Unidentified[:0]
	for _, id := range d.SpeakerID.Unidentified {
		if id != speakerID {
			remaining = append(remaining, id)
		} else {
			changed = true
		}
	}
	d.SpeakerID.Unidentified = remaining

	if changed {
		d.LabeledManually = true
	}
	return changed
}

// ReferencesCandidate reports whether this document's identification block
// refers to the given candidate id, either through the stable-id map or
// directly in the unidentified list.
func (d *Document) ReferencesCandidate(candidateID string) bool {
	if d.SpeakerID == nil {
		return false
	}
	for _, stable := range d.SpeakerID.StableIDs {
		if stable == candidateID {
			return true
		}
	}
	for _, id := range d.SpeakerID.Unidentified {
		if id == candidateID {
			return true
		}
	}
	return false
}
