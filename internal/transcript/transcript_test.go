// SPDX-License-Identifier: MIT

package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSaveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec-001.json")

	doc := &Document{
		File:           "rec-001.wav",
		Language:       "en",
		Timestamp:      "2026-03-01T10:00:00Z",
		PipelineStatus: StatusComplete,
		Segments: []Segment{
			{Start: 0, End: 2.5, Text: "hello there", Speaker: "A"},
			{Start: 2.5, End: 4.0, Text: "hi", Speaker: "B", SpeakerName: "Dana"},
		},
		Diarization: true,
		Model:       "best",
		NumSpeakers: 2,
		SpeakerID: &Identification{
			Identified:   map[string]IdentifiedSpeaker{"B": {Name: "Dana", Distance: 0.12, Method: "embedding"}},
			Unidentified: []string{"A"},
			StableIDs:    map[string]string{"A": "cand-7f3a"},
		},
		AssemblyAI: &ASRInfo{TranscriptID: "tr_1", Status: "completed", AudioDuration: 4.0, Confidence: 0.93},
	}
	require.NoError(t, doc.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, doc.File, got.File)
	assert.Equal(t, doc.PipelineStatus, got.PipelineStatus)
	assert.Len(t, got.Segments, 2)
	assert.Equal(t, "Dana", got.Segments[1].SpeakerName)
	require.NotNil(t, got.SpeakerID)
	assert.Equal(t, []string{"A"}, got.SpeakerID.Unidentified)
	assert.Equal(t, "cand-7f3a", got.SpeakerID.StableIDs["A"])
	require.NotNil(t, got.AssemblyAI)
	assert.Equal(t, "tr_1", got.AssemblyAI.TranscriptID)
}

func TestLoadBadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse transcript")
}

func TestIdentifiedSpeakerDualForm(t *testing.T) {
	var doc Document
	raw := `{
		"segments": [],
		"speaker_identification": {
			"identified": {"A": "Dana", "B": {"name": "Riley", "distance": 0.2, "method": "embedding"}},
			"unidentified": []
		}
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	require.NotNil(t, doc.SpeakerID)
	assert.Equal(t, "Dana", doc.SpeakerID.Identified["A"].Name)
	assert.Equal(t, "Riley", doc.SpeakerID.Identified["B"].Name)
	assert.InDelta(t, 0.2, doc.SpeakerID.Identified["B"].Distance, 1e-9)
	assert.Equal(t, "embedding", doc.SpeakerID.Identified["B"].Method)
}

func TestAudioDuration(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		want float64
	}{
		{
			name: "provider measurement wins",
			doc: Document{
				Segments:   []Segment{{End: 3.0}},
				AssemblyAI: &ASRInfo{AudioDuration: 12.5},
			},
			want: 12.5,
		},
		{
			name: "falls back to last segment end",
			doc:  Document{Segments: []Segment{{End: 1.0}, {End: 7.25}, {End: 4.0}}},
			want: 7.25,
		},
		{
			name: "empty document",
			doc:  Document{},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.doc.AudioDuration(), 1e-9)
		})
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		year int
	}{
		{"2026-03-01T10:00:00Z", true, 2026},
		{"2026-03-01T10:00:00.123456Z", true, 2026},
		{"2026-03-01T10:00:00+00:00Z", true, 2026},
		{"2026-03-01T10:00:00", true, 2026},
		{"", false, 0},
		{"yesterday", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTime(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.year, got.Year())
			}
		})
	}
}

func TestLabelSpeaker(t *testing.T) {
	doc := &Document{
		Segments: []Segment{
			{Start: 0, End: 1, Text: "one", Speaker: "A"},
			{Start: 1, End: 2, Text: "two", Speaker: "B"},
			{Start: 2, End: 3, Text: "three", Speaker: "A"},
		},
		SpeakerID: &Identification{
			Identified:   map[string]IdentifiedSpeaker{},
			Unidentified: []string{"A", "B"},
		},
	}

	changed := doc.LabelSpeaker("A", "Dana")
	require.True(t, changed)
	assert.Equal(t, "Dana", doc.Segments[0].SpeakerName)
	assert.Empty(t, doc.Segments[1].SpeakerName)
	assert.Equal(t, "Dana", doc.Segments[2].SpeakerName)
	assert.Equal(t, IdentifiedSpeaker{Name: "Dana", Method: "manual-label"}, doc.SpeakerID.Identified["A"])
	assert.Equal(t, []string{"B"}, doc.SpeakerID.Unidentified)
	assert.True(t, doc.LabeledManually)

	// Same label again is a no-op.
	assert.False(t, doc.LabelSpeaker("A", "Dana"))
}

func TestLabelSpeakerWithoutIdentificationBlock(t *testing.T) {
	doc := &Document{Segments: []Segment{{Speaker: "A", Text: "hi"}}}

	require.True(t, doc.LabelSpeaker("A", "Dana"))
	require.NotNil(t, doc.SpeakerID)
	assert.Equal(t, "Dana", doc.SpeakerID.Identified["A"].Name)
}

func TestSetUtteranceText(t *testing.T) {
	doc := &Document{Segments: []Segment{{Text: "old"}}}

	require.NoError(t, doc.SetUtteranceText(0, "new"))
	assert.Equal(t, "new", doc.Segments[0].Text)

	require.Error(t, doc.SetUtteranceText(1, "x"))
	require.Error(t, doc.SetUtteranceText(-1, "x"))
}

func TestReferencesCandidate(t *testing.T) {
	doc := &Document{
		SpeakerID: &Identification{
			Unidentified: []string{"A"},
			StableIDs:    map[string]string{"B": "cand-42"},
		},
	}

	assert.True(t, doc.ReferencesCandidate("cand-42"))
	assert.True(t, doc.ReferencesCandidate("A"))
	assert.False(t, doc.ReferencesCandidate("cand-99"))

	empty := &Document{}
	assert.False(t, empty.ReferencesCandidate("cand-42"))
}

func TestIdentifiedNames(t *testing.T) {
	doc := &Document{
		SpeakerID: &Identification{
			Identified: map[string]IdentifiedSpeaker{
				"A": {Name: "Dana"},
				"B": {Name: "Riley"},
			},
		},
	}
	assert.Equal(t, map[string]string{"A": "Dana", "B": "Riley"}, doc.IdentifiedNames())

	assert.Empty(t, (&Document{}).IdentifiedNames())
}

func TestUnidentifiedNilSafe(t *testing.T) {
	assert.Nil(t, (&Document{}).Unidentified())

	doc := &Document{SpeakerID: &Identification{Unidentified: []string{"A"}}}
	assert.Equal(t, []string{"A"}, doc.Unidentified())
}
