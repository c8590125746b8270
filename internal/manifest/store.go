// SPDX-License-Identifier: MIT

package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aechclawbot/voicepipe/internal/fsx"
	"github.com/aechclawbot/voicepipe/internal/log"
)

// Store is the in-memory job index backed by state/jobs.json. Reads and
// writes are safe for concurrent use; persistence is explicit via Save.
type Store struct {
	path string
	log  zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*Entry
}

// Open loads the store from path. A missing file yields an empty store. A
// corrupt file is logged and discarded; the caller is expected to rebuild
// from the filesystem anyway.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		log:  log.WithComponent("manifest"),
		jobs: map[string]*Entry{},
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from validated config
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var jobs map[string]*Entry
	if err := json.Unmarshal(data, &jobs); err != nil {
		s.log.Warn().
			Str("event", "manifest.corrupt").
			Str("path", path).
			Err(err).
			Msg("manifest unreadable, starting empty")
		return s, nil
	}
	if jobs != nil {
		s.jobs = jobs
	}
	return s, nil
}

// Save persists the current index atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := fsx.WriteJSONAtomic(s.path, s.jobs); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// Get returns a copy of the entry for stem.
func (s *Store) Get(stem string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[stem]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Put stores a copy of the entry under stem.
func (s *Store) Put(stem string, e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[stem] = e.Clone()
}

// Replace swaps the whole index, taking ownership of jobs.
func (s *Store) Replace(jobs map[string]*Entry) {
	if jobs == nil {
		jobs = map[string]*Entry{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = jobs
}

// Snapshot returns a deep copy of the index.
func (s *Store) Snapshot() map[string]*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Entry, len(s.jobs))
	for stem, e := range s.jobs {
		out[stem] = e.Clone()
	}
	return out
}

// Len returns the number of tracked recordings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// StatusCounts tallies entries per status, for metrics and the status API.
func (s *Store) StatusCounts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Status]int, 8)
	for _, e := range s.jobs {
		out[e.Status]++
	}
	return out
}
