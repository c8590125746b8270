// SPDX-License-Identifier: MIT

// Package embedding is the HTTP client for the external embedding service,
// which owns voice-profile math (ECAPA embeddings) and mutates transcripts
// during speaker labeling. The pipeline needs it only for the label and
// enroll flows; everything else works when the service is down.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/aechclawbot/voicepipe/internal/config"
	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/metrics"
)

// Per-operation deadlines. Labeling runs embedding extraction on the GPU
// host and can legitimately take minutes; health must answer fast.
const (
	labelDeadline  = 120 * time.Second
	enrollDeadline = 120 * time.Second
	healthDeadline = 30 * time.Second

	errorBodyLimit = 512
)

// LabelRequest asks the service to identify one diarized speaker as name
// inside the given transcript. TranscriptFile is the filename relative to
// the done/ directory; the service resolves it against its own mount.
type LabelRequest struct {
	TranscriptFile string `json:"transcript_file"`
	SpeakerID      string `json:"speaker_id"`
	Name           string `json:"name"`
}

// LabelResult reports what the service changed.
type LabelResult struct {
	ProfileUpdated  bool   `json:"profile_updated"`
	EmbeddingsAdded int    `json:"embeddings_added"`
	Message         string `json:"message,omitempty"`
}

// EnrollRequest carries a recorded sample for guided profile enrollment.
type EnrollRequest struct {
	Name        string `json:"name"`
	AudioBase64 string `json:"audio_base64"`
	Filename    string `json:"filename"`
}

// EnrollResult acknowledges an enrollment sample.
type EnrollResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// HealthStatus is the service's self-reported state.
type HealthStatus struct {
	Status        string  `json:"status"`
	Recording     bool    `json:"recording"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// APIError is a non-2xx response from the service, carrying a snippet of
// the body for the operator.
type APIError struct {
	Operation string
	Status    int
	Body      string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("embedding %s: HTTP %d", e.Operation, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client talks to the embedding service. Requests are rate limited so
// operator bursts cannot pile work onto the GPU host.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New validates and normalizes the base URL and builds a client limited to
// rps requests per second (burst 2).
func New(baseURL string, rps float64) (*Client, error) {
	base, err := config.NormalizeServiceURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("embedding base url: %w", err)
	}
	if rps <= 0 {
		return nil, fmt.Errorf("embedding rps must be positive, got %v", rps)
	}
	return &Client{
		base:    base,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		limiter: rate.NewLimiter(rate.Limit(rps), 2),
		log:     log.WithComponent("embedding"),
	}, nil
}

// LabelSpeaker delegates a manual speaker identification. The service
// rewrites the transcript in place and updates the named voice profile.
func (c *Client) LabelSpeaker(ctx context.Context, req LabelRequest) (*LabelResult, error) {
	var out LabelResult
	if err := c.call(ctx, "label", http.MethodPost, "/label-speaker", labelDeadline, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnrollSpeaker submits one guided-enrollment audio sample.
func (c *Client) EnrollSpeaker(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	var out EnrollResult
	if err := c.call(ctx, "enroll", http.MethodPost, "/enroll-speaker", enrollDeadline, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches the service's health document.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.call(ctx, "health", http.MethodGet, "/health", healthDeadline, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, deadline time.Duration, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("embedding %s: %w", op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("embedding %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("embedding %s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.http.Do(req)
	metrics.ObserveEmbeddingDuration(time.Since(start).Seconds())
	if err != nil {
		metrics.IncEmbeddingRequest(op, "failure")
		return fmt.Errorf("embedding %s: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		metrics.IncEmbeddingRequest(op, "failure")
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, errorBodyLimit))
		c.log.Warn().
			Str("event", "embedding.request_failed").
			Str("operation", op).
			Int("status", res.StatusCode).
			Msg("embedding service rejected request")
		return &APIError{Operation: op, Status: res.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		metrics.IncEmbeddingRequest(op, "failure")
		return fmt.Errorf("embedding %s: decode response: %w", op, err)
	}
	metrics.IncEmbeddingRequest(op, "success")
	return nil
}
