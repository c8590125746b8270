// SPDX-License-Identifier: MIT

package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aechclawbot/voicepipe/internal/transcript"
)

func TestSourceForStem(t *testing.T) {
	assert.Equal(t, SourceWatchFolder, SourceForStem("gdrive_meeting_2026"))
	assert.Equal(t, SourceMicrophone, SourceForStem("rec-20260301-100000"))
	assert.Equal(t, SourceMicrophone, SourceForStem(""))
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name string
		doc  transcript.Document
		want Status
	}{
		{
			name: "skipped too short",
			doc:  transcript.Document{PipelineStatus: "skipped_too_short"},
			want: StatusSkipped,
		},
		{
			name: "transcribed awaits identification",
			doc:  transcript.Document{PipelineStatus: "transcribed"},
			want: StatusSpeakerIDPending,
		},
		{
			name: "identification failed",
			doc:  transcript.Document{PipelineStatus: "speaker_id_failed"},
			want: StatusSpeakerIDFailed,
		},
		{
			name: "provider error beats completion",
			doc: transcript.Document{
				PipelineStatus: "complete",
				AssemblyAI:     &transcript.ASRInfo{Status: "error"},
			},
			want: StatusFailed,
		},
		{
			name: "skipped beats provider error",
			doc: transcript.Document{
				PipelineStatus: "skipped_too_short",
				AssemblyAI:     &transcript.ASRInfo{Status: "error"},
			},
			want: StatusSkipped,
		},
		{
			name: "complete with unresolved speakers",
			doc: transcript.Document{
				PipelineStatus: "complete",
				SpeakerID:      &transcript.Identification{Unidentified: []string{"A"}},
			},
			want: StatusPendingCurator,
		},
		{
			name: "complete with all speakers resolved",
			doc: transcript.Document{
				PipelineStatus: "complete",
				SpeakerID:      &transcript.Identification{Unidentified: []string{}},
			},
			want: StatusComplete,
		},
		{
			name: "complete without identification block",
			doc:  transcript.Document{PipelineStatus: "complete_no_speaker_id"},
			want: StatusComplete,
		},
		{
			name: "legacy transcript with segments",
			doc:  transcript.Document{Segments: []transcript.Segment{{Text: "hi"}}},
			want: StatusComplete,
		},
		{
			name: "empty document still processing",
			doc:  transcript.Document{},
			want: StatusProcessing,
		},
		{
			name: "unknown pipeline status still processing",
			doc:  transcript.Document{PipelineStatus: "uploading"},
			want: StatusProcessing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(&tt.doc))
		})
	}
}

func TestNewQueuedEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := NewQueuedEntry("gdrive_standup", now)

	assert.Equal(t, SourceWatchFolder, e.Source)
	assert.Equal(t, "gdrive_standup.wav", e.AudioFile)
	assert.Equal(t, StatusQueued, e.Status)
	assert.Equal(t, now, e.CreatedAt)
	require.NotNil(t, e.Stages.Ingested)
	assert.Equal(t, now, *e.Stages.Ingested)
	assert.Nil(t, e.Stages.Transcribed)
	assert.NotNil(t, e.Speakers.Identified)
	assert.NotNil(t, e.Speakers.Unidentified)
}

func TestBuildEntryFresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := &transcript.Document{
		Timestamp:      "2026-03-01T10:30:00Z",
		PipelineStatus: "complete",
		Segments:       []transcript.Segment{{Text: "hello", Speaker: "A", SpeakerName: "Dana"}},
		SpeakerID: &transcript.Identification{
			Identified:   map[string]transcript.IdentifiedSpeaker{"A": {Name: "Dana"}},
			Unidentified: []string{},
		},
		AssemblyAI: &transcript.ASRInfo{Status: "completed"},
	}

	e := BuildEntry("rec-1", doc, nil, now, true)

	assert.Equal(t, StatusComplete, e.Status)
	assert.Equal(t, SourceMicrophone, e.Source)
	assert.Equal(t, "rec-1.wav", e.AudioFile)
	assert.Equal(t, 2026, e.CreatedAt.Year())
	assert.Equal(t, 30, e.CreatedAt.Minute())
	assert.Equal(t, "complete", e.PipelineStatus)
	assert.Equal(t, map[string]string{"A": "Dana"}, e.Speakers.Identified)
	assert.Empty(t, e.Speakers.Unidentified)
	assert.Equal(t, "rec-1.wav", e.PlaybackFile)

	require.NotNil(t, e.Stages.Ingested)
	assert.Equal(t, 30, e.Stages.Ingested.Minute())
	require.NotNil(t, e.Stages.Transcribed)
	assert.Equal(t, now, *e.Stages.Transcribed)
	require.NotNil(t, e.Stages.SpeakerID)
	assert.Equal(t, now, *e.Stages.SpeakerID)
	assert.Nil(t, e.Stages.CuratorSynced)
}

func TestBuildEntryPreservesPrevTimestamps(t *testing.T) {
	created := time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)
	transcribed := created.Add(time.Minute)
	prev := &Entry{
		Source:      SourceMicrophone,
		AudioFile:   "rec-2.wav",
		CreatedAt:   created,
		Status:      StatusSpeakerIDPending,
		Stages:      Stages{Ingested: &created, Transcribed: &transcribed},
		CuratorPath: "2026/02/28/09-01-00.json",
	}

	now := created.Add(time.Hour)
	doc := &transcript.Document{
		PipelineStatus: "complete",
		AssemblyAI:     &transcript.ASRInfo{Status: "completed"},
	}
	e := BuildEntry("rec-2", doc, prev, now, false)

	assert.Equal(t, created, e.CreatedAt)
	assert.Equal(t, transcribed, *e.Stages.Transcribed)
	require.NotNil(t, e.Stages.SpeakerID)
	assert.Equal(t, now, *e.Stages.SpeakerID)
	assert.Equal(t, "2026/02/28/09-01-00.json", e.CuratorPath)
	assert.Empty(t, e.PlaybackFile)

	// prev must not be mutated through the rebuild
	assert.Equal(t, StatusSpeakerIDPending, prev.Status)
	assert.Nil(t, prev.Stages.SpeakerID)
}

func TestBuildEntryCarriesIdentificationError(t *testing.T) {
	doc := &transcript.Document{
		PipelineStatus: "speaker_id_failed",
		SpeakerIDError: "embedding service unreachable",
	}
	e := BuildEntry("rec-3", doc, nil, time.Now(), false)

	assert.Equal(t, StatusSpeakerIDFailed, e.Status)
	assert.Equal(t, "embedding service unreachable", e.Error)
	require.NotNil(t, e.Stages.SpeakerID)
}

func TestBuildEntryClearsStalePlayback(t *testing.T) {
	prev := &Entry{PlaybackFile: "rec-4.wav", Stages: Stages{}}
	e := BuildEntry("rec-4", &transcript.Document{PipelineStatus: "transcribed"}, prev, time.Now(), false)
	assert.Empty(t, e.PlaybackFile)
}

func TestEntryCloneIsDeep(t *testing.T) {
	ts := time.Now()
	e := &Entry{
		Stages:   Stages{Ingested: &ts},
		Speakers: SpeakerSummary{Identified: map[string]string{"A": "Dana"}, Unidentified: []string{"B"}},
	}
	c := e.Clone()

	c.Speakers.Identified["A"] = "Riley"
	c.Speakers.Unidentified[0] = "C"
	*c.Stages.Ingested = ts.Add(time.Hour)

	assert.Equal(t, "Dana", e.Speakers.Identified["A"])
	assert.Equal(t, "B", e.Speakers.Unidentified[0])
	assert.Equal(t, ts, *e.Stages.Ingested)
}
