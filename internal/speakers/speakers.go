// SPDX-License-Identifier: MIT

// Package speakers manages voice-profile and speaker-candidate documents
// and the operator actions on them: labeling a speaker inside a transcript,
// approving or rejecting candidates the embedding service proposed, merging
// candidates that turned out to be the same person, and renaming or deleting
// profiles. Every action mutates the filesystem only; the orchestrator
// notices removed sync markers on its next cycle and republishes.
package speakers

import (
	"fmt"
	"regexp"
	"strings"
)

// Candidate review states.
const (
	CandidatePending  = "pending_review"
	CandidateApproved = "approved"
	CandidateRejected = "rejected"
	CandidateMerged   = "merged"
)

// Profile enrollment methods.
const (
	EnrollManual    = "manual"
	EnrollAutomatic = "automatic"
	EnrollMerged    = "merged"
)

// DefaultThreshold is the cosine-distance match threshold for profiles
// created without calibration data.
const DefaultThreshold = 0.25

var (
	nameRE      = regexp.MustCompile(`^[a-z0-9 _'-]+$`)
	speakerIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// NormalizeName lower-cases and validates a profile name. Names become
// filenames under profiles/, so the character set is deliberately narrow.
func NormalizeName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return "", fmt.Errorf("speaker name is empty")
	}
	if !nameRE.MatchString(name) {
		return "", fmt.Errorf("invalid speaker name %q: allowed characters are letters, digits, space, underscore, apostrophe, hyphen", raw)
	}
	return name, nil
}

// ValidateSpeakerID checks a diarization or candidate id such as SPEAKER_00
// or unknown_a1b2c3.
func ValidateSpeakerID(id string) error {
	if !speakerIDRE.MatchString(id) {
		return fmt.Errorf("invalid speaker id %q", id)
	}
	return nil
}

// SampleMeta describes one utterance that contributed to a candidate.
type SampleMeta struct {
	Timestamp     string  `json:"timestamp"`
	Transcript    string  `json:"transcript"`
	AudioFile     string  `json:"audio_file,omitempty"`
	AudioDuration float64 `json:"audio_duration,omitempty"`
}

// Candidate is an unknown-speaker cluster proposed by the embedding service,
// stored at candidates/<speaker-id>.json. The service creates these; only
// this package moves them through the review states.
type Candidate struct {
	SpeakerID       string       `json:"speaker_id"`
	CreatedAt       string       `json:"created_at"`
	NumSamples      int          `json:"num_samples"`
	AvgEmbedding    []float64    `json:"avg_embedding"`
	Variance        float64      `json:"variance"`
	SelfConsistency *float64     `json:"self_consistency,omitempty"`
	AutoThreshold   float64      `json:"auto_threshold,omitempty"`
	SampleMetadata  []SampleMeta `json:"sample_metadata"`
	Status          string       `json:"status"`
	SuggestedName   string       `json:"suggested_name,omitempty"`
	ApprovedAt      string       `json:"approved_at,omitempty"`
	AssignedName    string       `json:"assigned_name,omitempty"`
	RejectedAt      string       `json:"rejected_at,omitempty"`
	MergedAt        string       `json:"merged_at,omitempty"`
	MergedInto      string       `json:"merged_into,omitempty"`
}

// Profile is an enrolled voice profile at profiles/<name>.json. Embeddings
// are unit vectors; matching compares cosine distance against Threshold.
type Profile struct {
	Name                string         `json:"name"`
	EnrolledAt          string         `json:"enrolledAt"`
	EnrollmentMethod    string         `json:"enrollmentMethod"`
	OriginalSpeakerID   string         `json:"originalSpeakerId,omitempty"`
	NumSamples          int            `json:"numSamples"`
	EmbeddingDimensions int            `json:"embeddingDimensions"`
	Embeddings          [][]float64    `json:"embeddings"`
	Threshold           float64        `json:"threshold"`
	SelfConsistency     *float64       `json:"selfConsistency,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	LastUpdated         string         `json:"lastUpdated,omitempty"`
}
