// SPDX-License-Identifier: MIT

// Package api exposes the operator HTTP surface: pipeline status, the job
// manifest, transcript reads and edits, speaker review actions, and the
// ingest control switches. The API is local-only by design; there is no
// authentication and no rate limiting.
package api

import (
	"net/http"

	"github.com/aechclawbot/voicepipe/internal/config"
	"github.com/aechclawbot/voicepipe/internal/curator"
	"github.com/aechclawbot/voicepipe/internal/health"
	"github.com/aechclawbot/voicepipe/internal/ingest"
	"github.com/aechclawbot/voicepipe/internal/manifest"
	"github.com/aechclawbot/voicepipe/internal/orch"
	"github.com/aechclawbot/voicepipe/internal/speakers"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Deps are the collaborators the server calls into. Ingester may be nil
// when no watch folder is configured; everything else is required.
type Deps struct {
	Orchestrator *orch.Orchestrator
	Ingester     *ingest.Ingester
	Speakers     *speakers.Service
	Manifest     *manifest.Store
	Curator      *curator.Writer
	Health       *health.Manager
	Version      string
}

// Server routes operator requests to the pipeline components.
type Server struct {
	cfg      config.Config
	orch     *orch.Orchestrator
	ingester *ingest.Ingester
	speakers *speakers.Service
	manifest *manifest.Store
	curator  *curator.Writer
	health   *health.Manager
	version  string
}

// New builds the API server. Missing required dependencies are programmer
// errors and panic immediately.
func New(cfg config.Config, deps Deps) *Server {
	switch {
	case deps.Orchestrator == nil:
		panic("invariant violation: orchestrator is nil in api.New")
	case deps.Speakers == nil:
		panic("invariant violation: speakers service is nil in api.New")
	case deps.Manifest == nil:
		panic("invariant violation: manifest store is nil in api.New")
	case deps.Curator == nil:
		panic("invariant violation: curator writer is nil in api.New")
	case deps.Health == nil:
		panic("invariant violation: health manager is nil in api.New")
	}
	return &Server{
		cfg:      cfg,
		orch:     deps.Orchestrator,
		ingester: deps.Ingester,
		speakers: deps.Speakers,
		manifest: deps.Manifest,
		curator:  deps.Curator,
		health:   deps.Health,
		version:  deps.Version,
	}
}

// Handler assembles the router. The otelhttp wrapper produces one server
// span per request; route-pattern metrics and request logs come from the
// in-router middleware so label cardinality stays bounded.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger())
	r.Use(chimw.Recoverer)
	r.Use(requestMetrics())

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/jobs", s.handleJobs)

		r.Get("/transcripts", s.handleListTranscripts)
		r.Get("/transcripts/{stem}", s.handleGetTranscript)
		r.Patch("/transcripts/{stem}/utterances/{index}", s.handlePatchUtterance)

		r.Post("/speakers/label", s.handleLabel)

		r.Get("/candidates", s.handleListCandidates)
		r.Post("/candidates/merge", s.handleMergeCandidates)
		r.Post("/candidates/{id}/approve", s.handleApproveCandidate)
		r.Post("/candidates/{id}/reject", s.handleRejectCandidate)

		r.Get("/profiles", s.handleListProfiles)
		r.Post("/profiles/{name}/rename", s.handleRenameProfile)
		r.Delete("/profiles/{name}", s.handleDeleteProfile)

		r.Post("/watch-folder/pause", s.handleWatchFolderPause)
		r.Post("/watch-folder/resume", s.handleWatchFolderResume)
		r.Post("/microphone/toggle", s.handleMicrophoneToggle)
	})

	return otelhttp.NewHandler(r, "voicepipe.api")
}
