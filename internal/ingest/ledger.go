// SPDX-License-Identifier: MIT

package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aechclawbot/voicepipe/internal/fsx"
	"github.com/aechclawbot/voicepipe/internal/log"
)

// LedgerEntry records one successful ingestion, keyed by the source
// basename. Entries are never deleted: the content hash makes every import
// exactly-once across the ledger's lifetime.
type LedgerEntry struct {
	Hash           string `json:"hash"`
	ProcessedAt    string `json:"processed_at"`
	SourcePath     string `json:"source_path"`
	SourceFilename string `json:"source_filename"`
	InboxFilename  string `json:"inbox_filename"`
}

// Ledger is the on-disk dedup log of everything the ingester ever imported.
type Ledger struct {
	path string

	mu      sync.RWMutex
	entries map[string]LedgerEntry
}

// OpenLedger loads the ledger at path. A missing file is an empty ledger; a
// corrupt one is reset rather than blocking ingestion.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, entries: map[string]LedgerEntry{}}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from validated config
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	var entries map[string]LedgerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		lg := log.WithComponent("ingest")
		lg.Warn().
			Str("event", "ingest.ledger_corrupt").
			Str("path", path).
			Err(err).
			Msg("ledger unreadable, starting empty")
		return l, nil
	}
	if entries != nil {
		l.entries = entries
	}
	return l, nil
}

// Has reports whether the source basename was already ingested.
func (l *Ledger) Has(basename string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[basename]
	return ok
}

// FindHash returns the entry that already holds this content hash, if any.
func (l *Ledger) FindHash(hash string) (LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.Hash == hash {
			return e, true
		}
	}
	return LedgerEntry{}, false
}

// Append records a successful ingestion and persists the ledger atomically.
func (l *Ledger) Append(basename string, e LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[basename] = e
	if err := fsx.WriteJSONAtomic(l.path, l.entries); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// Len returns the number of ledger entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the ledger contents.
func (l *Ledger) Entries() map[string]LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]LedgerEntry, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}
