// SPDX-License-Identifier: MIT

// Package manifest maintains the derived job index at state/jobs.json. The
// filesystem is authoritative; every entry here can be reconstructed from the
// transcripts, markers and audio files on disk.
package manifest

import (
	"strings"
	"time"

	"github.com/aechclawbot/voicepipe/internal/transcript"
)

// Status is the lifecycle position of a recording.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusProcessing       Status = "processing"
	StatusSkipped          Status = "skipped"
	StatusFailed           Status = "failed"
	StatusSpeakerIDPending Status = "speaker_id_pending"
	StatusSpeakerIDFailed  Status = "speaker_id_failed"
	StatusPendingCurator   Status = "pending_curator"
	StatusComplete         Status = "complete"
	StatusCuratorSynced    Status = "curator_synced"
)

// Recording sources.
const (
	SourceMicrophone  = "microphone"
	SourceWatchFolder = "watch_folder"
)

const watchFolderPrefix = "gdrive_"

// SourceForStem derives where a recording came from. Watch-folder imports are
// renamed with a fixed prefix during ingest; everything else is assumed to be
// a live microphone capture.
func SourceForStem(stem string) string {
	if strings.HasPrefix(stem, watchFolderPrefix) {
		return SourceWatchFolder
	}
	return SourceMicrophone
}

// Stages records when each pipeline stage first completed for a recording.
// A nil field means the stage has not happened yet.
type Stages struct {
	Ingested      *time.Time `json:"ingested"`
	Transcribed   *time.Time `json:"transcribed"`
	SpeakerID     *time.Time `json:"speaker_id"`
	CuratorSynced *time.Time `json:"curator_synced"`
}

func (s Stages) clone() Stages {
	cp := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	return Stages{
		Ingested:      cp(s.Ingested),
		Transcribed:   cp(s.Transcribed),
		SpeakerID:     cp(s.SpeakerID),
		CuratorSynced: cp(s.CuratorSynced),
	}
}

// SpeakerSummary is the operator-facing digest of the identification state.
type SpeakerSummary struct {
	Identified   map[string]string `json:"identified"`
	Unidentified []string          `json:"unidentified"`
}

func (s SpeakerSummary) clone() SpeakerSummary {
	out := SpeakerSummary{
		Identified:   make(map[string]string, len(s.Identified)),
		Unidentified: make([]string, len(s.Unidentified)),
	}
	for k, v := range s.Identified {
		out.Identified[k] = v
	}
	copy(out.Unidentified, s.Unidentified)
	return out
}

// Entry is one tracked recording.
type Entry struct {
	Source         string         `json:"source"`
	AudioFile      string         `json:"audioFile"`
	CreatedAt      time.Time      `json:"createdAt"`
	Status         Status         `json:"status"`
	Stages         Stages         `json:"stages"`
	PipelineStatus string         `json:"pipelineStatus"`
	Speakers       SpeakerSummary `json:"speakerIdentification"`
	PlaybackFile   string         `json:"playbackFile,omitempty"`
	CuratorPath    string         `json:"curatorPath,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand across goroutines.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.Stages = e.Stages.clone()
	out.Speakers = e.Speakers.clone()
	return &out
}

// DeriveStatus maps a transcript document to its job status. The checks are
// ordered: terminal pipeline states win over provider errors, and a provider
// error wins over completion.
func DeriveStatus(doc *transcript.Document) Status {
	switch doc.PipelineStatus {
	case transcript.StatusSkippedTooShort:
		return StatusSkipped
	case transcript.StatusTranscribed:
		return StatusSpeakerIDPending
	case transcript.StatusSpeakerIDFailed:
		return StatusSpeakerIDFailed
	}

	if doc.ASRFailed() {
		return StatusFailed
	}

	switch doc.PipelineStatus {
	case transcript.StatusComplete, transcript.StatusCompleteNoID:
		if len(doc.Unidentified()) > 0 {
			return StatusPendingCurator
		}
		return StatusComplete
	}

	// Legacy transcripts carry segments but no pipeline_status.
	if doc.PipelineStatus == "" && len(doc.Segments) > 0 {
		return StatusComplete
	}
	return StatusProcessing
}

// NewQueuedEntry creates the entry for an audio file that appeared in inbox/
// before any transcript exists.
func NewQueuedEntry(stem string, now time.Time) *Entry {
	ingested := now
	return &Entry{
		Source:    SourceForStem(stem),
		AudioFile: stem + ".wav",
		CreatedAt: now,
		Status:    StatusQueued,
		Stages:    Stages{Ingested: &ingested},
		Speakers:  SpeakerSummary{Identified: map[string]string{}, Unidentified: []string{}},
	}
}

// BuildEntry derives the entry for stem from its transcript document. When
// prev is non-nil its creation time, stage timestamps and curator path are
// preserved; pass nil to rebuild from scratch (for example after the synced
// marker was removed). playbackExists reports whether playback/<stem>.wav is
// on disk right now.
func BuildEntry(stem string, doc *transcript.Document, prev *Entry, now time.Time, playbackExists bool) *Entry {
	entry := prev.Clone()
	if entry == nil {
		createdAt := now
		if ts, ok := doc.ParseTimestamp(); ok {
			createdAt = ts
		}
		entry = &Entry{
			Source:    SourceForStem(stem),
			AudioFile: stem + ".wav",
			CreatedAt: createdAt,
		}
	}

	entry.Status = DeriveStatus(doc)
	entry.PipelineStatus = doc.PipelineStatus
	entry.Speakers = SpeakerSummary{
		Identified:   doc.IdentifiedNames(),
		Unidentified: append([]string{}, doc.Unidentified()...),
	}
	entry.Error = doc.SpeakerIDError

	if entry.Stages.Ingested == nil {
		ingested := now
		if ts, ok := doc.ParseTimestamp(); ok {
			ingested = ts
		}
		entry.Stages.Ingested = &ingested
	}
	if entry.Stages.Transcribed == nil && doc.ASRCompleted() {
		t := now
		entry.Stages.Transcribed = &t
	}
	if entry.Stages.SpeakerID == nil && speakerStageDone(doc.PipelineStatus) {
		t := now
		entry.Stages.SpeakerID = &t
	}

	if playbackExists {
		entry.PlaybackFile = stem + ".wav"
	} else {
		entry.PlaybackFile = ""
	}

	return entry
}

func speakerStageDone(pipelineStatus string) bool {
	switch pipelineStatus {
	case transcript.StatusComplete, transcript.StatusCompleteNoID, transcript.StatusSpeakerIDFailed:
		return true
	}
	return false
}
