// SPDX-License-Identifier: MIT

package speakers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aechclawbot/voicepipe/internal/fsx"
	"github.com/aechclawbot/voicepipe/internal/log"
)

// Sentinel errors for errors.Is checks at the API boundary.
var (
	ErrProfileNotFound   = errors.New("profile not found")
	ErrProfileExists     = errors.New("profile already exists")
	ErrCandidateNotFound = errors.New("candidate not found")
	ErrCandidateDecided  = errors.New("candidate already decided")
)

// Store reads and writes profile and candidate documents. Writes are
// serialized per filename by an in-process mutex; cross-process coordination
// is unnecessary because only this daemon writes these files.
type Store struct {
	profilesDir   string
	candidatesDir string
	log           zerolog.Logger
	locks         sync.Map // file path -> *sync.Mutex
}

// NewStore builds a store over the two document directories.
func NewStore(profilesDir, candidatesDir string) *Store {
	if profilesDir == "" || candidatesDir == "" {
		panic("invariant violation: empty directory in speakers.NewStore")
	}
	return &Store{
		profilesDir:   profilesDir,
		candidatesDir: candidatesDir,
		log:           log.WithComponent("speakers"),
	}
}

func (st *Store) lock(path string) func() {
	mu, _ := st.locks.LoadOrStore(path, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (st *Store) profilePath(name string) string {
	return filepath.Join(st.profilesDir, name+".json")
}

func (st *Store) candidatePath(id string) string {
	return filepath.Join(st.candidatesDir, id+".json")
}

// Profile loads the named profile.
func (st *Store) Profile(name string) (*Profile, error) {
	var p Profile
	if err := fsx.ReadJSON(st.profilePath(name), &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
		}
		return nil, fmt.Errorf("read profile %s: %w", name, err)
	}
	return &p, nil
}

// ProfileExists reports whether a profile file for name is present.
func (st *Store) ProfileExists(name string) bool {
	_, err := os.Stat(st.profilePath(name))
	return err == nil
}

// SaveProfile writes p atomically under its filename lock.
func (st *Store) SaveProfile(p *Profile) error {
	path := st.profilePath(p.Name)
	unlock := st.lock(path)
	defer unlock()

	if err := fsx.EnsureDir(st.profilesDir); err != nil {
		return fmt.Errorf("create profiles dir: %w", err)
	}
	if err := fsx.WriteJSONAtomic(path, p); err != nil {
		return fmt.Errorf("save profile %s: %w", p.Name, err)
	}
	return nil
}

// UpdateProfile applies mutate to the stored profile under its lock and
// writes the result back. The mutated profile is returned.
func (st *Store) UpdateProfile(name string, mutate func(*Profile) error) (*Profile, error) {
	path := st.profilePath(name)
	unlock := st.lock(path)
	defer unlock()

	var p Profile
	if err := fsx.ReadJSON(path, &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
		}
		return nil, fmt.Errorf("read profile %s: %w", name, err)
	}
	if err := mutate(&p); err != nil {
		return nil, err
	}
	if err := fsx.WriteJSONAtomic(path, &p); err != nil {
		return nil, fmt.Errorf("save profile %s: %w", name, err)
	}
	return &p, nil
}

// RenameProfile rewrites the profile under the new filename and removes the
// old one. The new name must be free. Both locks are taken in path order so
// concurrent renames cannot deadlock.
func (st *Store) RenameProfile(oldName, newName string) (*Profile, error) {
	oldPath := st.profilePath(oldName)
	newPath := st.profilePath(newName)
	first, second := oldPath, newPath
	if second < first {
		first, second = second, first
	}
	unlockFirst := st.lock(first)
	defer unlockFirst()
	unlockSecond := st.lock(second)
	defer unlockSecond()

	if _, err := os.Stat(newPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileExists, newName)
	}
	var p Profile
	if err := fsx.ReadJSON(oldPath, &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, oldName)
		}
		return nil, fmt.Errorf("read profile %s: %w", oldName, err)
	}
	p.Name = newName
	if err := fsx.WriteJSONAtomic(newPath, &p); err != nil {
		return nil, fmt.Errorf("save profile %s: %w", newName, err)
	}
	if err := os.Remove(oldPath); err != nil {
		return nil, fmt.Errorf("remove old profile %s: %w", oldName, err)
	}
	return &p, nil
}

// DeleteProfile removes the profile file. Transcripts tagged with the name
// are left alone; they simply refer to a name no profile backs.
func (st *Store) DeleteProfile(name string) error {
	path := st.profilePath(name)
	unlock := st.lock(path)
	defer unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
		}
		return fmt.Errorf("delete profile %s: %w", name, err)
	}
	return nil
}

// Profiles lists all readable profiles sorted by name. Unreadable files are
// logged and skipped so one corrupt document cannot hide the rest.
func (st *Store) Profiles() ([]*Profile, error) {
	names, err := st.listJSON(st.profilesDir)
	if err != nil {
		return nil, err
	}
	out := make([]*Profile, 0, len(names))
	for _, name := range names {
		var p Profile
		if err := fsx.ReadJSON(filepath.Join(st.profilesDir, name), &p); err != nil {
			st.log.Warn().
				Str("event", "speakers.profile_unreadable").
				Str("file", name).
				Err(err).
				Msg("skipping unreadable profile")
			continue
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Candidate loads the candidate document for id.
func (st *Store) Candidate(id string) (*Candidate, error) {
	var c Candidate
	if err := fsx.ReadJSON(st.candidatePath(id), &c); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
		}
		return nil, fmt.Errorf("read candidate %s: %w", id, err)
	}
	return &c, nil
}

// SaveCandidate writes c atomically under its filename lock.
func (st *Store) SaveCandidate(c *Candidate) error {
	path := st.candidatePath(c.SpeakerID)
	unlock := st.lock(path)
	defer unlock()

	if err := fsx.EnsureDir(st.candidatesDir); err != nil {
		return fmt.Errorf("create candidates dir: %w", err)
	}
	if err := fsx.WriteJSONAtomic(path, c); err != nil {
		return fmt.Errorf("save candidate %s: %w", c.SpeakerID, err)
	}
	return nil
}

// UpdateCandidate applies mutate to the stored candidate under its lock and
// writes the result back.
func (st *Store) UpdateCandidate(id string, mutate func(*Candidate) error) (*Candidate, error) {
	path := st.candidatePath(id)
	unlock := st.lock(path)
	defer unlock()

	var c Candidate
	if err := fsx.ReadJSON(path, &c); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
		}
		return nil, fmt.Errorf("read candidate %s: %w", id, err)
	}
	if err := mutate(&c); err != nil {
		return nil, err
	}
	if err := fsx.WriteJSONAtomic(path, &c); err != nil {
		return nil, fmt.Errorf("save candidate %s: %w", id, err)
	}
	return &c, nil
}

// Candidates lists all readable candidates sorted by id.
func (st *Store) Candidates() ([]*Candidate, error) {
	names, err := st.listJSON(st.candidatesDir)
	if err != nil {
		return nil, err
	}
	out := make([]*Candidate, 0, len(names))
	for _, name := range names {
		var c Candidate
		if err := fsx.ReadJSON(filepath.Join(st.candidatesDir, name), &c); err != nil {
			st.log.Warn().
				Str("event", "speakers.candidate_unreadable").
				Str("file", name).
				Err(err).
				Msg("skipping unreadable candidate")
			continue
		}
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpeakerID < out[j].SpeakerID })
	return out, nil
}

// PendingCandidates lists candidates still awaiting review.
func (st *Store) PendingCandidates() ([]*Candidate, error) {
	all, err := st.Candidates()
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, c := range all {
		if c.Status == CandidatePending {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// Counts returns the number of profiles and of pending candidates, for the
// metrics gauges. Missing directories count as zero.
func (st *Store) Counts() (profiles, pending int) {
	if names, err := st.listJSON(st.profilesDir); err == nil {
		profiles = len(names)
	}
	if cands, err := st.PendingCandidates(); err == nil {
		pending = len(cands)
	}
	return profiles, pending
}

// listJSON returns the *.json basenames in dir, treating a missing directory
// as empty.
func (st *Store) listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
