// SPDX-License-Identifier: MIT

package stitch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aechclawbot/voicepipe/internal/curator"
	"github.com/aechclawbot/voicepipe/internal/fsx"
)

func writeDayDoc(t *testing.T, voiceDir, name, ts string, duration int, speakers []curator.Speaker, text string) string {
	t.Helper()
	dayDir := filepath.Join(voiceDir, "2026/03/01")
	require.NoError(t, fsx.EnsureDir(dayDir))
	doc := curator.Document{
		Timestamp:  ts,
		Duration:   duration,
		Transcript: text,
		Speakers:   speakers,
		Source:     curator.Source,
	}
	path := filepath.Join(dayDir, name)
	require.NoError(t, fsx.WriteJSONAtomic(path, doc))
	return path
}

func newTestStitcher(voiceDir string) *Stitcher {
	s := New(voiceDir, 120*time.Second, 300*time.Second)
	s.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
	return s
}

func readConversationID(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc curator.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc.ConversationID
}

func TestStitchGroupsByGap(t *testing.T) {
	voiceDir := t.TempDir()
	p1 := writeDayDoc(t, voiceDir, "10-00-00.json", "2026-03-01T10:00:00Z", 60, nil, "one two three")
	p2 := writeDayDoc(t, voiceDir, "10-02-30.json", "2026-03-01T10:02:30Z", 30, nil, "four five")
	p3 := writeDayDoc(t, voiceDir, "10-10-00.json", "2026-03-01T10:10:00Z", 20, nil, "six")

	s := newTestStitcher(voiceDir)
	assert.Equal(t, 1, s.StitchAll(true))

	// First two are 90s apart end-to-start, the third is far beyond the gap.
	conv1 := readConversationID(t, p1)
	assert.Equal(t, "conv-20260301-100000", conv1)
	assert.Equal(t, conv1, readConversationID(t, p2))
	assert.Equal(t, "conv-20260301-101000", readConversationID(t, p3))

	data, err := os.ReadFile(filepath.Join(voiceDir, "2026/03/01", curator.IndexFileName))
	require.NoError(t, err)
	var index DayIndex
	require.NoError(t, json.Unmarshal(data, &index))

	assert.Equal(t, "2026-03-01", index.Date)
	require.Len(t, index.Conversations, 2)
	first := index.Conversations[0]
	assert.Equal(t, "conv-20260301-100000", first.ID)
	assert.Equal(t, []string{"10-00-00.json", "10-02-30.json"}, first.Segments)
	assert.Equal(t, 2, first.TranscriptCount)
	assert.Equal(t, 5, first.TotalWords)
	assert.Equal(t, "2026-03-01T10:00:00Z", first.StartTime)
	assert.Equal(t, "2026-03-01T10:03:00Z", first.EndTime)
	assert.Equal(t, 180, first.Duration)
}

func TestStitchSharedSpeakerExtendsGap(t *testing.T) {
	voiceDir := t.TempDir()
	dana := []curator.Speaker{{ID: "A", Name: "Dana"}}
	riley := []curator.Speaker{{ID: "B", Name: "Riley"}}

	// 210s between end of the first and start of the second: beyond the base
	// gap, within the speaker gap.
	p1 := writeDayDoc(t, voiceDir, "10-00-00.json", "2026-03-01T10:00:00Z", 60, dana, "hello")
	p2 := writeDayDoc(t, voiceDir, "10-04-30.json", "2026-03-01T10:04:30Z", 30, dana, "again")
	p3 := writeDayDoc(t, voiceDir, "10-09-00.json", "2026-03-01T10:09:00Z", 30, riley, "other")

	s := newTestStitcher(voiceDir)
	require.Equal(t, 1, s.StitchAll(true))

	conv1 := readConversationID(t, p1)
	assert.Equal(t, conv1, readConversationID(t, p2))
	// No shared speaker with the third, 240s gap exceeds the base threshold.
	assert.NotEqual(t, conv1, readConversationID(t, p3))
}

func TestStitchIncrementalSkipsStitchedDays(t *testing.T) {
	voiceDir := t.TempDir()
	writeDayDoc(t, voiceDir, "10-00-00.json", "2026-03-01T10:00:00Z", 60, nil, "hello")

	s := newTestStitcher(voiceDir)
	assert.Equal(t, 1, s.StitchAll(true))
	assert.Equal(t, 0, s.StitchAll(true))

	// A new un-stitched document makes the day eligible again.
	writeDayDoc(t, voiceDir, "11-00-00.json", "2026-03-01T11:00:00Z", 10, nil, "new")
	assert.Equal(t, 1, s.StitchAll(true))

	// Full reindex processes regardless.
	assert.Equal(t, 1, s.StitchAll(false))
}

func TestStitchPreservesUnknownFields(t *testing.T) {
	voiceDir := t.TempDir()
	dayDir := filepath.Join(voiceDir, "2026/03/01")
	require.NoError(t, fsx.EnsureDir(dayDir))
	path := filepath.Join(dayDir, "10-00-00.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"timestamp": "2026-03-01T10:00:00Z",
		"duration": 5,
		"transcript": "hello",
		"reviewNote": "keep me"
	}`), 0o644))

	s := newTestStitcher(voiceDir)
	require.Equal(t, 1, s.StitchAll(true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "keep me", raw["reviewNote"])
	assert.Equal(t, "conv-20260301-100000", raw["conversationId"])
}

func TestStitchIgnoresNonDayDirectories(t *testing.T) {
	voiceDir := t.TempDir()
	pendingDay := filepath.Join(voiceDir, "_pending/2026/03/01")
	require.NoError(t, fsx.EnsureDir(pendingDay))
	doc := curator.Document{Timestamp: "2026-03-01T10:00:00Z", Transcript: "parked"}
	require.NoError(t, fsx.WriteJSONAtomic(filepath.Join(pendingDay, "10-00-00.json"), doc))

	s := newTestStitcher(voiceDir)
	assert.Equal(t, 0, s.StitchAll(true))
}

func TestStitchSkipsUnreadableDocuments(t *testing.T) {
	voiceDir := t.TempDir()
	dayDir := filepath.Join(voiceDir, "2026/03/01")
	require.NoError(t, fsx.EnsureDir(dayDir))
	require.NoError(t, os.WriteFile(filepath.Join(dayDir, "broken.json"), []byte("{nope"), 0o644))
	writeDayDoc(t, voiceDir, "10-00-00.json", "2026-03-01T10:00:00Z", 5, nil, "ok")

	s := newTestStitcher(voiceDir)
	assert.Equal(t, 1, s.StitchAll(true))

	data, err := os.ReadFile(filepath.Join(dayDir, curator.IndexFileName))
	require.NoError(t, err)
	var index DayIndex
	require.NoError(t, json.Unmarshal(data, &index))
	require.Len(t, index.Conversations, 1)
	assert.Equal(t, []string{"10-00-00.json"}, index.Conversations[0].Segments)
}
