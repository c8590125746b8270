// SPDX-License-Identifier: MIT

// Package curator converts pipeline transcripts into the document format the
// curator workspace consumes and writes them into its date-partitioned tree.
package curator

import (
	"math"
	"strings"
	"time"

	"github.com/aechclawbot/voicepipe/internal/transcript"
)

// Source marks every document we hand to the curator.
const Source = "voice-passive"

// SpeakerUtterance is one utterance inside a speaker block.
type SpeakerUtterance struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Speaker groups the utterances of one diarized voice. Name stays empty until
// identification or a manual label supplies one.
type Speaker struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Utterances []SpeakerUtterance `json:"utterances"`
}

// Utterance is one entry of the flat, chronological utterance list. Speaker
// holds the resolved name when known, the raw diarization id otherwise.
type Utterance struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Document is the curator workspace transcript format.
type Document struct {
	Timestamp           string                     `json:"timestamp"`
	Duration            int                        `json:"duration"`
	Transcript          string                     `json:"transcript"`
	AudioPath           string                     `json:"audioPath"`
	Speakers            []Speaker                  `json:"speakers"`
	NumSpeakers         int                        `json:"numSpeakers"`
	Utterances          []Utterance                `json:"utterances"`
	Source              string                     `json:"source"`
	Model               string                     `json:"model"`
	Diarization         bool                       `json:"diarization"`
	PipelineStatus      string                     `json:"pipeline_status"`
	Confidence          float64                    `json:"confidence,omitempty"`
	SpeakerIDError      string                     `json:"speaker_id_error,omitempty"`
	SpeakerIDRetryCount int                        `json:"speaker_id_retry_count"`
	AssemblyAI          *transcript.ASRInfo        `json:"assemblyai,omitempty"`
	SpeakerID           *transcript.Identification `json:"speaker_identification,omitempty"`
	ConversationID      string                     `json:"conversationId,omitempty"`
}

// NamedSpeakers returns the resolved speaker names, excluding the unknown
// placeholders.
func (d *Document) NamedSpeakers() []string {
	var names []string
	for _, sp := range d.Speakers {
		if isRealName(sp.Name) {
			names = append(names, sp.Name)
		}
	}
	return names
}

// SpeakerLabels returns one label per speaker block: the resolved name when
// real, the diarization id otherwise. Blocks with neither are dropped.
func (d *Document) SpeakerLabels() []string {
	var labels []string
	for _, sp := range d.Speakers {
		switch {
		case isRealName(sp.Name):
			labels = append(labels, sp.Name)
		case sp.ID != "":
			labels = append(labels, sp.ID)
		}
	}
	return labels
}

func isRealName(name string) bool {
	switch strings.ToLower(name) {
	case "", "unknown", "none":
		return false
	}
	return true
}

// Convert builds the curator document for a pipeline transcript. The returned
// time is the document timestamp, falling back to now when the transcript
// carries none.
func Convert(doc *transcript.Document, now time.Time) (*Document, time.Time) {
	ts, ok := doc.ParseTimestamp()
	if !ok {
		ts = now
	}
	ts = ts.UTC()

	var (
		texts      []string
		maxEnd     float64
		speakers   []Speaker
		speakerIdx = map[string]int{}
		utterances []Utterance
	)

	for _, seg := range doc.Segments {
		if seg.End > maxEnd {
			maxEnd = seg.End
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)

		sid := seg.Speaker
		if sid == "" {
			sid = "unknown"
		}
		idx, seen := speakerIdx[sid]
		if !seen {
			idx = len(speakers)
			speakerIdx[sid] = idx
			speakers = append(speakers, Speaker{ID: sid, Name: seg.SpeakerName})
		} else if speakers[idx].Name == "" && seg.SpeakerName != "" {
			speakers[idx].Name = seg.SpeakerName
		}
		speakers[idx].Utterances = append(speakers[idx].Utterances, SpeakerUtterance{
			Text:  text,
			Start: seg.Start,
			End:   seg.End,
		})

		label := seg.SpeakerName
		if label == "" {
			label = sid
		}
		utterances = append(utterances, Utterance{
			Speaker: label,
			Text:    text,
			Start:   seg.Start,
			End:     seg.End,
		})
	}

	model := doc.Model
	if model == "" {
		model = "unknown"
	}
	pipelineStatus := doc.PipelineStatus
	if pipelineStatus == "" {
		pipelineStatus = "legacy"
	}
	var confidence float64
	if doc.AssemblyAI != nil {
		confidence = doc.AssemblyAI.Confidence
	}

	out := &Document{
		Timestamp:           ts.Format(time.RFC3339),
		Duration:            int(math.Round(maxEnd)),
		Transcript:          strings.Join(texts, " "),
		AudioPath:           doc.File,
		Speakers:            speakers,
		NumSpeakers:         len(speakers),
		Utterances:          utterances,
		Source:              Source,
		Model:               model,
		Diarization:         doc.Diarization,
		PipelineStatus:      pipelineStatus,
		Confidence:          confidence,
		SpeakerIDError:      doc.SpeakerIDError,
		SpeakerIDRetryCount: doc.SpeakerIDRetries,
		AssemblyAI:          doc.AssemblyAI,
		SpeakerID:           doc.SpeakerID,
	}
	return out, ts
}
