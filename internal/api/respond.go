// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/aechclawbot/voicepipe/internal/embedding"
	"github.com/aechclawbot/voicepipe/internal/speakers"
	"github.com/go-chi/chi/v5"
	"golang.org/x/text/unicode/norm"
)

// maxBodyBytes caps request bodies. The largest legitimate payload is a
// merge request with a handful of candidate ids.
const maxBodyBytes = 1 << 20

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope with an explicit status code.
func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeBadRequest writes a 400 with the error message.
func writeBadRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, err)
}

// writeNotFound writes a 404 Not Found response.
func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

// writeOutcome maps a service error to a status code, or writes the value
// with 200 when err is nil.
func writeOutcome(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// statusForError translates service sentinels into HTTP status codes.
// Handlers validate input up front, so anything unclassified here is a
// genuine server-side failure.
func statusForError(err error) int {
	var apiErr *embedding.APIError
	switch {
	case errors.Is(err, speakers.ErrCandidateNotFound),
		errors.Is(err, speakers.ErrProfileNotFound),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, speakers.ErrProfileExists),
		errors.Is(err, speakers.ErrCandidateDecided):
		return http.StatusConflict
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a size-capped JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// nfc normalizes user-supplied text to NFC so that lookups and traversal
// checks see the same byte sequence the filesystem stores.
func nfc(s string) string {
	return norm.NFC.String(s)
}

// urlParam returns a route parameter with percent-encoding removed. Names
// and stems never contain a legitimate percent sign, so unescaping an
// already-decoded value is a no-op.
func urlParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if dec, err := url.PathUnescape(raw); err == nil {
		return dec
	}
	return raw
}

// cleanStem normalizes and validates a transcript stem from the URL.
// Stems name files under done/, so path separators, dot-dot, and hidden
// prefixes are all rejected before any filesystem access.
func cleanStem(raw string) (string, error) {
	stem := nfc(strings.TrimSuffix(raw, ".json"))
	if stem == "" {
		return "", fmt.Errorf("empty transcript id")
	}
	if stem != filepath.Base(stem) || stem == "." || stem == ".." || stem[0] == '.' {
		return "", fmt.Errorf("invalid transcript id %q", raw)
	}
	return stem, nil
}
