// SPDX-License-Identifier: MIT

package speakers

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aechclawbot/voicepipe/internal/config"
	"github.com/aechclawbot/voicepipe/internal/embedding"
	"github.com/aechclawbot/voicepipe/internal/fsx"
	"github.com/aechclawbot/voicepipe/internal/gate"
	"github.com/aechclawbot/voicepipe/internal/manifest"
	"github.com/aechclawbot/voicepipe/internal/transcript"
)

// fakeLabeler stands in for the embedding service: it applies the label to
// the transcript the way the real service does and records every request.
type fakeLabeler struct {
	doneDir string
	fail    error
	calls   []embedding.LabelRequest
}

func (f *fakeLabeler) LabelSpeaker(_ context.Context, req embedding.LabelRequest) (*embedding.LabelResult, error) {
	f.calls = append(f.calls, req)
	if f.fail != nil {
		return nil, f.fail
	}
	path := filepath.Join(f.doneDir, req.TranscriptFile)
	doc, err := transcript.Load(path)
	if err != nil {
		return nil, err
	}
	doc.LabelSpeaker(req.SpeakerID, req.Name)
	if err := doc.Save(path); err != nil {
		return nil, err
	}
	return &embedding.LabelResult{ProfileUpdated: true, EmbeddingsAdded: 2}, nil
}

func newTestService(t *testing.T) (*Service, config.Config, *fakeLabeler) {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.AudioRoot = filepath.Join(root, "audio")
	cfg.CuratorRoot = filepath.Join(root, "curator")
	cfg.ProfileRoot = filepath.Join(root, "speakers")
	cfg.StateRoot = filepath.Join(root, "state")

	for _, dir := range []string{cfg.InboxDir(), cfg.DoneDir(), cfg.PlaybackDir(), cfg.ProfilesDir(), cfg.CandidatesDir(), cfg.StateRoot} {
		require.NoError(t, fsx.EnsureDir(dir))
	}

	man, err := manifest.Open(cfg.ManifestPath())
	require.NoError(t, err)

	labeler := &fakeLabeler{doneDir: cfg.DoneDir()}
	svc := NewService(cfg, NewStore(cfg.ProfilesDir(), cfg.CandidatesDir()), man, labeler)
	return svc, cfg, labeler
}

// partialDoc is a finished transcript with one speaker still unresolved.
func partialDoc(stem, candidateID string) *transcript.Document {
	return &transcript.Document{
		File:           stem + ".wav",
		Timestamp:      "2026-03-01T09:00:00Z",
		PipelineStatus: transcript.StatusComplete,
		NumSpeakers:    2,
		Segments: []transcript.Segment{
			{Start: 0, End: 12, Text: "good morning", Speaker: "SPEAKER_00", SpeakerName: "fred"},
			{Start: 13, End: 30, Text: "hello fred", Speaker: "SPEAKER_01"},
		},
		SpeakerID: &transcript.Identification{
			Identified:   map[string]transcript.IdentifiedSpeaker{"SPEAKER_00": {Name: "fred", Distance: 0.2}},
			Unidentified: []string{"SPEAKER_01"},
			StableIDs:    map[string]string{"SPEAKER_01": candidateID},
		},
		AssemblyAI: &transcript.ASRInfo{Status: "completed", AudioDuration: 30},
	}
}

// clusterDoc is a synced transcript whose second speaker carries a cluster
// placeholder name instead of a real profile name.
func clusterDoc(stem, candidateID string) *transcript.Document {
	doc := partialDoc(stem, candidateID)
	doc.Segments[1].SpeakerName = candidateID
	doc.SpeakerID.Identified["SPEAKER_01"] = transcript.IdentifiedSpeaker{Name: candidateID}
	doc.SpeakerID.Unidentified = []string{}
	return doc
}

// resolvedDoc is a synced transcript with every speaker on a real profile.
func resolvedDoc(stem string) *transcript.Document {
	return &transcript.Document{
		File:           stem + ".wav",
		Timestamp:      "2026-03-01T10:15:00Z",
		PipelineStatus: transcript.StatusComplete,
		NumSpeakers:    1,
		Segments: []transcript.Segment{
			{Start: 0, End: 20, Text: "note to self", Speaker: "SPEAKER_00", SpeakerName: "fred"},
		},
		SpeakerID: &transcript.Identification{
			Identified:   map[string]transcript.IdentifiedSpeaker{"SPEAKER_00": {Name: "fred", Distance: 0.18}},
			Unidentified: []string{},
		},
		AssemblyAI: &transcript.ASRInfo{Status: "completed", AudioDuration: 20},
	}
}

func writeDone(t *testing.T, cfg config.Config, stem string, doc *transcript.Document) {
	t.Helper()
	require.NoError(t, doc.Save(filepath.Join(cfg.DoneDir(), stem+".json")))
}

func markersIn(t *testing.T, doneDir string) []string {
	t.Helper()
	entries, err := os.ReadDir(doneDir)
	require.NoError(t, err)
	var stems []string
	for _, e := range entries {
		if stem, ok := gate.StemForMarker(e.Name()); ok {
			stems = append(stems, stem)
		}
	}
	return stems
}

func TestLabelIdentifiesSpeakerAndUpdatesManifest(t *testing.T) {
	svc, cfg, labeler := newTestService(t)
	stem := "rec_20260301_090000"

	writeDone(t, cfg, stem, partialDoc(stem, "unknown_cafe12"))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PlaybackDir(), stem+".wav"), []byte("RIFF"), 0o644))

	out, err := svc.Label(context.Background(), stem, "SPEAKER_01", "Ginny")
	require.NoError(t, err)

	assert.Equal(t, "ginny", out.Name)
	assert.Equal(t, manifest.StatusComplete, out.Status)
	assert.True(t, out.ProfileUpdated)
	assert.Equal(t, 2, out.EmbeddingsAdded)

	require.Len(t, labeler.calls, 1)
	assert.Equal(t, stem+".json", labeler.calls[0].TranscriptFile)
	assert.Equal(t, "ginny", labeler.calls[0].Name)

	doc, err := transcript.Load(filepath.Join(cfg.DoneDir(), stem+".json"))
	require.NoError(t, err)
	assert.Equal(t, "ginny", doc.Segments[1].SpeakerName)
	assert.Empty(t, doc.Unidentified())

	entry, ok := svc.manifest.Get(stem)
	require.True(t, ok)
	assert.Equal(t, manifest.StatusComplete, entry.Status)
	assert.Equal(t, "ginny", entry.Speakers.Identified["SPEAKER_01"])
	assert.Equal(t, stem+".wav", entry.PlaybackFile)

	// The upsert is persisted, not just held in memory.
	reopened, err := manifest.Open(cfg.ManifestPath())
	require.NoError(t, err)
	persisted, ok := reopened.Get(stem)
	require.True(t, ok)
	assert.Equal(t, manifest.StatusComplete, persisted.Status)
}

func TestLabelReopensGateForSyncedTranscript(t *testing.T) {
	svc, cfg, _ := newTestService(t)
	stem := "rec_20260301_101500"

	doc := resolvedDoc(stem)
	writeDone(t, cfg, stem, doc)
	require.NoError(t, gate.CreateMarker(cfg.DoneDir(), stem))

	entry := manifest.BuildEntry(stem, doc, nil, time.Date(2026, 3, 1, 10, 20, 0, 0, time.UTC), false)
	entry.Status = manifest.StatusCuratorSynced
	svc.manifest.Put(stem, entry)

	out, err := svc.Label(context.Background(), stem, "SPEAKER_00", "george")
	require.NoError(t, err)

	assert.False(t, gate.HasMarker(cfg.DoneDir(), stem))
	assert.Equal(t, manifest.StatusComplete, out.Status)

	updated, ok := svc.manifest.Get(stem)
	require.True(t, ok)
	assert.Equal(t, manifest.StatusComplete, updated.Status)
	assert.Equal(t, "george", updated.Speakers.Identified["SPEAKER_00"])
}

func TestLabelServiceFailureKeepsGateClosed(t *testing.T) {
	svc, cfg, labeler := newTestService(t)
	stem := "rec_20260301_101500"

	doc := resolvedDoc(stem)
	writeDone(t, cfg, stem, doc)
	require.NoError(t, gate.CreateMarker(cfg.DoneDir(), stem))
	labeler.fail = assert.AnError

	_, err := svc.Label(context.Background(), stem, "SPEAKER_00", "george")
	require.ErrorIs(t, err, assert.AnError)

	// The marker survives and the transcript is untouched.
	assert.True(t, gate.HasMarker(cfg.DoneDir(), stem))
	reloaded, err := transcript.Load(filepath.Join(cfg.DoneDir(), stem+".json"))
	require.NoError(t, err)
	assert.Equal(t, "fred", reloaded.Segments[0].SpeakerName)
}

func TestLabelValidatesInput(t *testing.T) {
	svc, cfg, labeler := newTestService(t)
	stem := "rec_20260301_090000"
	writeDone(t, cfg, stem, partialDoc(stem, "unknown_cafe12"))

	cases := []struct {
		stem, speaker, name string
	}{
		{stem, "SPEAKER_01", "no/slashes"},
		{stem, "SPEAKER_01", "   "},
		{stem, "SPEAKER 01", "ginny"},
		{stem, "", "ginny"},
		{"../evil", "SPEAKER_01", "ginny"},
		{".hidden", "SPEAKER_01", "ginny"},
		{"", "SPEAKER_01", "ginny"},
		{"rec_never_transcribed", "SPEAKER_01", "ginny"},
	}
	for _, tc := range cases {
		_, err := svc.Label(context.Background(), tc.stem, tc.speaker, tc.name)
		assert.Error(t, err, "stem=%q speaker=%q name=%q", tc.stem, tc.speaker, tc.name)
	}
	assert.Empty(t, labeler.calls, "validation failures must not reach the embedding service")
}

func TestApproveCreatesProfileAndRetags(t *testing.T) {
	svc, cfg, _ := newTestService(t)
	candidateID := "unknown_cafe12"

	consistency := 0.08
	cand := pendingCandidate(candidateID)
	cand.AutoThreshold = 0.3
	cand.SelfConsistency = &consistency
	require.NoError(t, svc.store.SaveCandidate(cand))

	// One synced transcript references the candidate, one does not.
	writeDone(t, cfg, "rec_a", clusterDoc("rec_a", candidateID))
	require.NoError(t, gate.CreateMarker(cfg.DoneDir(), "rec_a"))
	writeDone(t, cfg, "rec_b", resolvedDoc("rec_b"))
	require.NoError(t, gate.CreateMarker(cfg.DoneDir(), "rec_b"))

	out, err := svc.Approve(candidateID, "Ginny")
	require.NoError(t, err)

	assert.Equal(t, 1, out.MarkersRemoved)
	assert.Equal(t, []string{"rec_b"}, markersIn(t, cfg.DoneDir()))

	profile, err := svc.store.Profile("ginny")
	require.NoError(t, err)
	assert.Equal(t, EnrollAutomatic, profile.EnrollmentMethod)
	assert.Equal(t, candidateID, profile.OriginalSpeakerID)
	assert.Equal(t, [][]float64{{0, 0, 1}}, profile.Embeddings)
	assert.Equal(t, 0.3, profile.Threshold)
	assert.Equal(t, 12, profile.NumSamples)
	assert.Equal(t, cand.CreatedAt, profile.Metadata["auto_enrolled_from"])

	updated, err := svc.store.Candidate(candidateID)
	require.NoError(t, err)
	assert.Equal(t, CandidateApproved, updated.Status)
	assert.Equal(t, "ginny", updated.AssignedName)
	assert.NotEmpty(t, updated.ApprovedAt)
}

func TestApproveRequiresPendingCandidate(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Approve("unknown_missing", "fred")
	assert.ErrorIs(t, err, ErrCandidateNotFound)

	done := pendingCandidate("unknown_done")
	done.Status = CandidateApproved
	require.NoError(t, svc.store.SaveCandidate(done))

	_, err = svc.Approve("unknown_done", "fred")
	assert.ErrorContains(t, err, "want pending_review")
}

func TestApproveSurfacesBrokenEmbedding(t *testing.T) {
	svc, _, _ := newTestService(t)

	cand := pendingCandidate("unknown_noisy")
	cand.AvgEmbedding = []float64{0, 0, 3}
	require.NoError(t, svc.store.SaveCandidate(cand))

	_, err := svc.Approve("unknown_noisy", "fred")
	assert.ErrorContains(t, err, "norm")

	// The candidate stays reviewable; nothing was half-applied.
	still, err := svc.store.Candidate("unknown_noisy")
	require.NoError(t, err)
	assert.Equal(t, CandidatePending, still.Status)
	assert.False(t, svc.store.ProfileExists("fred"))
}

func TestRejectSetsStatusOnly(t *testing.T) {
	svc, cfg, _ := newTestService(t)
	candidateID := "unknown_cafe12"
	require.NoError(t, svc.store.SaveCandidate(pendingCandidate(candidateID)))

	writeDone(t, cfg, "rec_a", clusterDoc("rec_a", candidateID))
	require.NoError(t, gate.CreateMarker(cfg.DoneDir(), "rec_a"))

	updated, err := svc.Reject(candidateID)
	require.NoError(t, err)

	assert.Equal(t, CandidateRejected, updated.Status)
	assert.NotEmpty(t, updated.RejectedAt)
	assert.Equal(t, []float64{0, 0, 1}, updated.AvgEmbedding)

	// Rejection never touches markers.
	assert.Equal(t, []string{"rec_a"}, markersIn(t, cfg.DoneDir()))
}

func TestMergeIntoNewProfile(t *testing.T) {
	svc, cfg, _ := newTestService(t)

	a := pendingCandidate("unknown_aaa")
	a.AvgEmbedding = []float64{1, 0, 0, 0}
	b := pendingCandidate("unknown_bbb")
	b.AvgEmbedding = []float64{0, 1, 0, 0}
	require.NoError(t, svc.store.SaveCandidate(a))
	require.NoError(t, svc.store.SaveCandidate(b))

	// Merge invalidates every marker, related or not.
	writeDone(t, cfg, "rec_a", clusterDoc("rec_a", "unknown_aaa"))
	require.NoError(t, gate.CreateMarker(cfg.DoneDir(), "rec_a"))
	writeDone(t, cfg, "rec_b", resolvedDoc("rec_b"))
	require.NoError(t, gate.CreateMarker(cfg.DoneDir(), "rec_b"))

	out, err := svc.Merge([]string{"unknown_aaa", "unknown_bbb"}, MergeTarget{Type: MergeTargetNew, Name: "House Guest"})
	require.NoError(t, err)

	assert.Equal(t, 2, out.MarkersRemoved)
	assert.Empty(t, markersIn(t, cfg.DoneDir()))

	profile, err := svc.store.Profile("house guest")
	require.NoError(t, err)
	assert.Equal(t, EnrollMerged, profile.EnrollmentMethod)
	assert.Equal(t, 2, profile.NumSamples)
	assert.Equal(t, 4, profile.EmbeddingDimensions)
	require.Len(t, profile.Embeddings, 1)
	assert.InDelta(t, 1/math.Sqrt2, profile.Embeddings[0][0], 1e-9)
	assert.InDelta(t, 1/math.Sqrt2, profile.Embeddings[0][1], 1e-9)
	assert.NoError(t, ValidateUnitNorm(profile.Embeddings[0]))

	for _, id := range []string{"unknown_aaa", "unknown_bbb"} {
		c, err := svc.store.Candidate(id)
		require.NoError(t, err)
		assert.Equal(t, CandidateMerged, c.Status)
		assert.Equal(t, "house guest", c.MergedInto)
		assert.NotEmpty(t, c.MergedAt)
	}
}

func TestMergeIntoExistingProfile(t *testing.T) {
	svc, _, _ := newTestService(t)

	existing := &Profile{
		Name:                "fred",
		EnrolledAt:          "2026-01-01T00:00:00Z",
		EnrollmentMethod:    EnrollManual,
		NumSamples:          3,
		EmbeddingDimensions: 4,
		Embeddings:          [][]float64{{1, 0, 0, 0}},
		Threshold:           DefaultThreshold,
	}
	require.NoError(t, svc.store.SaveProfile(existing))

	a := pendingCandidate("unknown_aaa")
	a.AvgEmbedding = []float64{0, 1, 0, 0}
	b := pendingCandidate("unknown_bbb")
	b.AvgEmbedding = []float64{0, 0, 1, 0}
	require.NoError(t, svc.store.SaveCandidate(a))
	require.NoError(t, svc.store.SaveCandidate(b))

	out, err := svc.Merge([]string{"unknown_aaa", "unknown_bbb"}, MergeTarget{Type: MergeTargetExisting, Name: "fred"})
	require.NoError(t, err)

	profile := out.Profile
	assert.Equal(t, 5, profile.NumSamples)
	require.Len(t, profile.Embeddings, 2)
	assert.NoError(t, ValidateUnitNorm(profile.Embeddings[1]))
	assert.NotEmpty(t, profile.LastUpdated)

	// The update landed on disk, not just in the returned struct.
	onDisk, err := svc.store.Profile("fred")
	require.NoError(t, err)
	assert.Equal(t, profile, onDisk)
}

func TestMergeValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	a := pendingCandidate("unknown_aaa")
	a.AvgEmbedding = []float64{1, 0, 0, 0}
	b := pendingCandidate("unknown_bbb")
	b.AvgEmbedding = []float64{0, 1, 0, 0}
	opposite := pendingCandidate("unknown_opposite")
	opposite.AvgEmbedding = []float64{-1, 0, 0, 0}
	short := pendingCandidate("unknown_short")
	short.AvgEmbedding = []float64{1, 0}
	for _, c := range []*Candidate{a, b, opposite, short} {
		require.NoError(t, svc.store.SaveCandidate(c))
	}

	newTarget := MergeTarget{Type: MergeTargetNew, Name: "pair"}

	_, err := svc.Merge([]string{"unknown_aaa"}, newTarget)
	assert.ErrorContains(t, err, "at least 2")

	_, err = svc.Merge([]string{"unknown_aaa", "unknown_aaa"}, newTarget)
	assert.ErrorContains(t, err, "duplicate")

	_, err = svc.Merge([]string{"unknown_aaa", "unknown_gone"}, newTarget)
	assert.ErrorIs(t, err, ErrCandidateNotFound)

	_, err = svc.Merge([]string{"unknown_aaa", "unknown_short"}, newTarget)
	assert.ErrorContains(t, err, "dimension")

	// Opposite unit vectors cancel out; the mean cannot be normalized.
	_, err = svc.Merge([]string{"unknown_aaa", "unknown_opposite"}, newTarget)
	assert.ErrorContains(t, err, "zero vector")

	_, err = svc.Merge([]string{"unknown_aaa", "unknown_bbb"}, MergeTarget{Type: "sideways", Name: "pair"})
	assert.ErrorContains(t, err, "target type")

	_, err = svc.Merge([]string{"unknown_aaa", "unknown_bbb"}, MergeTarget{Type: MergeTargetExisting, Name: "ghost"})
	assert.ErrorIs(t, err, ErrProfileNotFound)

	require.NoError(t, svc.store.SaveProfile(unitProfile("taken")))
	_, err = svc.Merge([]string{"unknown_aaa", "unknown_bbb"}, MergeTarget{Type: MergeTargetNew, Name: "taken"})
	assert.ErrorIs(t, err, ErrProfileExists)

	// Nothing above may have flipped candidate state.
	still, err := svc.store.Candidate("unknown_aaa")
	require.NoError(t, err)
	assert.Equal(t, CandidatePending, still.Status)
}

func TestRenameProfileFlow(t *testing.T) {
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.store.SaveProfile(unitProfile("fred")))

	renamed, err := svc.RenameProfile("Fred", "Fred Senior")
	require.NoError(t, err)
	assert.Equal(t, "fred senior", renamed.Name)
	assert.False(t, svc.store.ProfileExists("fred"))

	_, err = svc.RenameProfile("fred senior", "fred senior")
	assert.ErrorContains(t, err, "already named")

	require.NoError(t, svc.store.SaveProfile(unitProfile("ginny")))
	_, err = svc.RenameProfile("ginny", "fred senior")
	assert.ErrorIs(t, err, ErrProfileExists)
}

func TestDeleteProfile(t *testing.T) {
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.store.SaveProfile(unitProfile("fred")))

	require.NoError(t, svc.DeleteProfile("Fred"))
	assert.False(t, svc.store.ProfileExists("fred"))

	err := svc.DeleteProfile("fred")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}
