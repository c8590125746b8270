// SPDX-License-Identifier: MIT

package speakers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aechclawbot/voicepipe/internal/config"
	"github.com/aechclawbot/voicepipe/internal/embedding"
	"github.com/aechclawbot/voicepipe/internal/fsx"
	"github.com/aechclawbot/voicepipe/internal/gate"
	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/manifest"
	"github.com/aechclawbot/voicepipe/internal/metrics"
	"github.com/aechclawbot/voicepipe/internal/telemetry"
	"github.com/aechclawbot/voicepipe/internal/transcript"
)

var tracer = otel.Tracer("voicepipe/speakers")

// Labeler is the slice of the embedding client the label flow needs.
type Labeler interface {
	LabelSpeaker(ctx context.Context, req embedding.LabelRequest) (*embedding.LabelResult, error)
}

// Service carries out operator actions on speakers. It owns the profile and
// candidate documents and removes sync markers so the orchestrator
// republishes affected transcripts on its next cycle.
type Service struct {
	cfg      config.Config
	store    *Store
	manifest *manifest.Store
	labeler  Labeler
	log      zerolog.Logger
	now      func() time.Time
}

// NewService wires the identity service.
func NewService(cfg config.Config, store *Store, man *manifest.Store, labeler Labeler) *Service {
	if store == nil {
		panic("invariant violation: store is nil in speakers.NewService")
	}
	if man == nil {
		panic("invariant violation: manifest is nil in speakers.NewService")
	}
	if labeler == nil {
		panic("invariant violation: labeler is nil in speakers.NewService")
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		manifest: man,
		labeler:  labeler,
		log:      log.WithComponent("speakers"),
		now:      time.Now,
	}
}

// Store exposes the document store for read-side API handlers.
func (s *Service) Store() *Store { return s.store }

// LabelOutcome reports what a label operation changed.
type LabelOutcome struct {
	Stem            string          `json:"stem"`
	SpeakerID       string          `json:"speaker_id"`
	Name            string          `json:"name"`
	ProfileUpdated  bool            `json:"profile_updated"`
	EmbeddingsAdded int             `json:"embeddings_added"`
	Status          manifest.Status `json:"status"`
}

// Label assigns name to a diarized speaker in the transcript identified by
// stem. The embedding service performs the actual identification and profile
// update; on success the sync marker is removed and the manifest entry
// re-derived so the transcript republishes with the new name. On service
// failure nothing is touched, keeping the gate closed until identification
// really happened.
func (s *Service) Label(ctx context.Context, stem, speakerID, rawName string) (*LabelOutcome, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return nil, err
	}
	if err := ValidateSpeakerID(speakerID); err != nil {
		return nil, err
	}
	if stem == "" || stem != filepath.Base(stem) || stem[0] == '.' {
		return nil, fmt.Errorf("invalid transcript id %q", stem)
	}
	donePath, err := fsx.ConfineRel(s.cfg.DoneDir(), stem+".json")
	if err != nil {
		return nil, fmt.Errorf("transcript %s: %w", stem, err)
	}
	if _, err := os.Stat(donePath); err != nil {
		return nil, fmt.Errorf("transcript %s: %w", stem, err)
	}

	ctx, span := tracer.Start(ctx, "speakers.label",
		trace.WithAttributes(telemetry.SpeakerAttributes(speakerID, name)...))
	defer span.End()

	result, err := s.labeler.LabelSpeaker(ctx, embedding.LabelRequest{
		TranscriptFile: stem + ".json",
		SpeakerID:      speakerID,
		Name:           name,
	})
	if err != nil {
		metrics.IncSpeakerOperation("label", "failure")
		span.RecordError(err)
		s.log.Error().
			Str("event", "speakers.label_failed").
			Str("stem", stem).
			Str("speaker", speakerID).
			Err(err).
			Msg("embedding service could not label speaker")
		return nil, fmt.Errorf("label %s in %s: %w", speakerID, stem, err)
	}

	if gate.HasMarker(s.cfg.DoneDir(), stem) {
		if err := gate.RemoveMarker(s.cfg.DoneDir(), stem); err != nil {
			metrics.IncSpeakerOperation("label", "failure")
			return nil, err
		}
		metrics.IncMarkerRemoved("label")
	}

	doc, err := transcript.Load(donePath)
	if err != nil {
		metrics.IncSpeakerOperation("label", "failure")
		return nil, fmt.Errorf("reload transcript %s: %w", stem, err)
	}

	prev, _ := s.manifest.Get(stem)
	entry := manifest.BuildEntry(stem, doc, prev, s.now(), s.playbackExists(stem))
	s.manifest.Put(stem, entry)
	if err := s.manifest.Save(); err != nil {
		metrics.IncManifestWriteError()
		s.log.Warn().
			Str("event", "speakers.manifest_save_failed").
			Err(err).
			Msg("manifest not persisted; next scan will retry")
	}

	metrics.IncSpeakerOperation("label", "success")
	s.log.Info().
		Str("event", "speakers.labeled").
		Str("stem", stem).
		Str("speaker", speakerID).
		Str("name", name).
		Str("status", string(entry.Status)).
		Int("embeddings_added", result.EmbeddingsAdded).
		Msg("speaker labeled")

	return &LabelOutcome{
		Stem:            stem,
		SpeakerID:       speakerID,
		Name:            name,
		ProfileUpdated:  result.ProfileUpdated,
		EmbeddingsAdded: result.EmbeddingsAdded,
		Status:          entry.Status,
	}, nil
}

// ApproveOutcome reports the result of a candidate approval.
type ApproveOutcome struct {
	Candidate      *Candidate `json:"candidate"`
	Profile        *Profile   `json:"profile"`
	MarkersRemoved int        `json:"markers_removed"`
}

// Approve turns a pending candidate into an enrolled profile named name,
// then removes the sync markers of every transcript that references the
// candidate so those transcripts republish with the new identity.
func (s *Service) Approve(id, rawName string) (*ApproveOutcome, error) {
	if err := ValidateSpeakerID(id); err != nil {
		return nil, err
	}
	name, err := NormalizeName(rawName)
	if err != nil {
		return nil, err
	}
	cand, err := s.store.Candidate(id)
	if err != nil {
		return nil, err
	}
	if cand.Status != CandidatePending {
		return nil, fmt.Errorf("%w: candidate %s is %s, want %s", ErrCandidateDecided, id, cand.Status, CandidatePending)
	}
	if err := ValidateUnitNorm(cand.AvgEmbedding); err != nil {
		return nil, fmt.Errorf("candidate %s: %w", id, err)
	}

	threshold := cand.AutoThreshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	now := s.now().UTC().Format(time.RFC3339)

	if s.store.ProfileExists(name) {
		s.log.Warn().
			Str("event", "speakers.profile_overwrite").
			Str("name", name).
			Msg("approval replaces an existing profile")
	}
	profile := &Profile{
		Name:                name,
		EnrolledAt:          now,
		EnrollmentMethod:    EnrollAutomatic,
		OriginalSpeakerID:   id,
		NumSamples:          cand.NumSamples,
		EmbeddingDimensions: len(cand.AvgEmbedding),
		Embeddings:          [][]float64{cand.AvgEmbedding},
		Threshold:           threshold,
		SelfConsistency:     cand.SelfConsistency,
		Metadata: map[string]any{
			"variance":           cand.Variance,
			"auto_enrolled_from": cand.CreatedAt,
		},
	}
	if err := s.store.SaveProfile(profile); err != nil {
		metrics.IncSpeakerOperation("approve", "failure")
		return nil, err
	}

	updated, err := s.store.UpdateCandidate(id, func(c *Candidate) error {
		if c.Status != CandidatePending {
			return fmt.Errorf("%w: candidate %s is %s, want %s", ErrCandidateDecided, id, c.Status, CandidatePending)
		}
		c.Status = CandidateApproved
		c.ApprovedAt = now
		c.AssignedName = name
		return nil
	})
	if err != nil {
		metrics.IncSpeakerOperation("approve", "failure")
		return nil, err
	}

	removed := s.retagMarkers(id)
	s.publishCounts()
	metrics.IncSpeakerOperation("approve", "success")
	s.log.Info().
		Str("event", "speakers.candidate_approved").
		Str("candidate", id).
		Str("name", name).
		Int("markers_removed", removed).
		Msg("candidate approved")

	return &ApproveOutcome{Candidate: updated, Profile: profile, MarkersRemoved: removed}, nil
}

// Reject marks a candidate as not a real speaker. Nothing else changes.
func (s *Service) Reject(id string) (*Candidate, error) {
	if err := ValidateSpeakerID(id); err != nil {
		return nil, err
	}
	now := s.now().UTC().Format(time.RFC3339)
	updated, err := s.store.UpdateCandidate(id, func(c *Candidate) error {
		c.Status = CandidateRejected
		c.RejectedAt = now
		return nil
	})
	if err != nil {
		metrics.IncSpeakerOperation("reject", "failure")
		return nil, err
	}
	s.publishCounts()
	metrics.IncSpeakerOperation("reject", "success")
	s.log.Info().
		Str("event", "speakers.candidate_rejected").
		Str("candidate", id).
		Msg("candidate rejected")
	return updated, nil
}

// Merge targets.
const (
	MergeTargetNew      = "new"
	MergeTargetExisting = "existing"
)

// MergeTarget names the profile that receives the merged embedding.
type MergeTarget struct {
	Type string `json:"type"` // new|existing
	Name string `json:"name"`
}

// MergeOutcome reports the result of a candidate merge.
type MergeOutcome struct {
	Profile        *Profile `json:"profile"`
	MergedIDs      []string `json:"merged_ids"`
	MarkersRemoved int      `json:"markers_removed"`
}

// Merge folds two or more candidates into one profile: their average
// embeddings are averaged again, L2-normalized, and attached to either a new
// profile or an existing one. Because a merge redefines identity, every sync
// marker is removed afterwards and the whole corpus re-evaluates.
func (s *Service) Merge(ids []string, target MergeTarget) (*MergeOutcome, error) {
	if len(ids) < 2 {
		return nil, fmt.Errorf("merge requires at least 2 candidates, got %d", len(ids))
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if err := ValidateSpeakerID(id); err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate candidate id %s", id)
		}
		seen[id] = true
	}
	if target.Type != MergeTargetNew && target.Type != MergeTargetExisting {
		return nil, fmt.Errorf("merge target type must be %q or %q, got %q", MergeTargetNew, MergeTargetExisting, target.Type)
	}
	name, err := NormalizeName(target.Name)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float64, 0, len(ids))
	for _, id := range ids {
		c, err := s.store.Candidate(id)
		if err != nil {
			return nil, err
		}
		if len(c.AvgEmbedding) == 0 {
			return nil, fmt.Errorf("candidate %s has no embedding", id)
		}
		vecs = append(vecs, c.AvgEmbedding)
	}
	merged, err := MeanVector(vecs)
	if err != nil {
		return nil, err
	}
	if err := L2Normalize(merged); err != nil {
		return nil, fmt.Errorf("merge of %d candidates: %w", len(ids), err)
	}

	now := s.now().UTC().Format(time.RFC3339)
	var profile *Profile
	switch target.Type {
	case MergeTargetExisting:
		profile, err = s.store.UpdateProfile(name, func(p *Profile) error {
			if p.EmbeddingDimensions > 0 && p.EmbeddingDimensions != len(merged) {
				return fmt.Errorf("profile %s holds %d-dim embeddings, merge produced %d", name, p.EmbeddingDimensions, len(merged))
			}
			p.Embeddings = append(p.Embeddings, merged)
			p.NumSamples += len(ids)
			p.LastUpdated = now
			return nil
		})
	case MergeTargetNew:
		if s.store.ProfileExists(name) {
			return nil, fmt.Errorf("%w: %s", ErrProfileExists, name)
		}
		profile = &Profile{
			Name:                name,
			EnrolledAt:          now,
			EnrollmentMethod:    EnrollMerged,
			NumSamples:          len(ids),
			EmbeddingDimensions: len(merged),
			Embeddings:          [][]float64{merged},
			Threshold:           DefaultThreshold,
			Metadata:            map[string]any{"merged_from": ids},
		}
		err = s.store.SaveProfile(profile)
	}
	if err != nil {
		metrics.IncSpeakerOperation("merge", "failure")
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.store.UpdateCandidate(id, func(c *Candidate) error {
			c.Status = CandidateMerged
			c.MergedAt = now
			c.MergedInto = name
			return nil
		}); err != nil {
			s.log.Warn().
				Str("event", "speakers.merge_candidate_update_failed").
				Str("candidate", id).
				Err(err).
				Msg("candidate document not updated; identity merge already applied")
		}
	}

	removed := s.invalidateAllMarkers()
	s.publishCounts()
	metrics.IncSpeakerOperation("merge", "success")
	s.log.Info().
		Str("event", "speakers.candidates_merged").
		Strs("candidates", ids).
		Str("name", name).
		Str("target", target.Type).
		Int("markers_removed", removed).
		Msg("candidates merged")

	return &MergeOutcome{Profile: profile, MergedIDs: ids, MarkersRemoved: removed}, nil
}

// RenameProfile moves a profile to a new name. The new name must be free.
func (s *Service) RenameProfile(oldName, newName string) (*Profile, error) {
	oldN, err := NormalizeName(oldName)
	if err != nil {
		return nil, err
	}
	newN, err := NormalizeName(newName)
	if err != nil {
		return nil, err
	}
	if oldN == newN {
		return nil, fmt.Errorf("profile is already named %s", newN)
	}
	p, err := s.store.RenameProfile(oldN, newN)
	if err != nil {
		metrics.IncSpeakerOperation("rename", "failure")
		return nil, err
	}
	metrics.IncSpeakerOperation("rename", "success")
	s.log.Info().
		Str("event", "speakers.profile_renamed").
		Str("from", oldN).
		Str("to", newN).
		Msg("profile renamed")
	return p, nil
}

// DeleteProfile removes a profile. Published transcripts keep whatever
// names they carry.
func (s *Service) DeleteProfile(name string) error {
	n, err := NormalizeName(name)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProfile(n); err != nil {
		metrics.IncSpeakerOperation("delete", "failure")
		return err
	}
	s.publishCounts()
	metrics.IncSpeakerOperation("delete", "success")
	s.log.Info().
		Str("event", "speakers.profile_deleted").
		Str("name", n).
		Msg("profile deleted")
	return nil
}

// retagMarkers removes the sync marker of every transcript whose
// identification block references candidateID, so the orchestrator
// republishes those transcripts with the newly assigned name. Transcripts
// that cannot be read keep their markers.
func (s *Service) retagMarkers(candidateID string) int {
	doneDir := s.cfg.DoneDir()
	entries, err := os.ReadDir(doneDir)
	if err != nil {
		s.log.Warn().
			Str("event", "speakers.retag_scan_failed").
			Err(err).
			Msg("cannot scan done directory for retag")
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stem, ok := gate.StemForMarker(e.Name())
		if !ok {
			continue
		}
		doc, err := transcript.Load(filepath.Join(doneDir, stem+".json"))
		if err != nil {
			s.log.Warn().
				Str("event", "speakers.retag_unreadable").
				Str("stem", stem).
				Err(err).
				Msg("keeping marker for unreadable transcript")
			continue
		}
		if !doc.ReferencesCandidate(candidateID) {
			continue
		}
		if err := gate.RemoveMarker(doneDir, stem); err != nil {
			s.log.Warn().
				Str("event", "speakers.retag_remove_failed").
				Str("stem", stem).
				Err(err).
				Msg("marker not removed")
			continue
		}
		metrics.IncMarkerRemoved("retag")
		removed++
	}
	return removed
}

// invalidateAllMarkers removes every sync marker under done/.
func (s *Service) invalidateAllMarkers() int {
	doneDir := s.cfg.DoneDir()
	entries, err := os.ReadDir(doneDir)
	if err != nil {
		s.log.Warn().
			Str("event", "speakers.invalidate_scan_failed").
			Err(err).
			Msg("cannot scan done directory for invalidation")
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stem, ok := gate.StemForMarker(e.Name())
		if !ok {
			continue
		}
		if err := gate.RemoveMarker(doneDir, stem); err != nil {
			s.log.Warn().
				Str("event", "speakers.invalidate_remove_failed").
				Str("stem", stem).
				Err(err).
				Msg("marker not removed")
			continue
		}
		metrics.IncMarkerRemoved("merge")
		removed++
	}
	return removed
}

func (s *Service) playbackExists(stem string) bool {
	_, err := os.Stat(filepath.Join(s.cfg.PlaybackDir(), stem+".wav"))
	return err == nil
}

func (s *Service) publishCounts() {
	metrics.RecordProfileCounts(s.store.Counts())
}
