// SPDX-License-Identifier: MIT

// Package stitch groups temporally adjacent curator documents into logical
// conversations. Consecutive documents within the gap threshold join the same
// conversation; an extended threshold applies when they share an identified
// speaker. Each document gets a conversationId written back in place and
// every day directory gets a conversations.json index.
package stitch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aechclawbot/voicepipe/internal/curator"
	"github.com/aechclawbot/voicepipe/internal/fsx"
	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/transcript"
)

// Conversation is one entry of the per-day index.
type Conversation struct {
	ID              string   `json:"id"`
	StartTime       string   `json:"startTime"`
	EndTime         string   `json:"endTime"`
	Duration        int      `json:"duration"`
	Segments        []string `json:"segments"`
	Speakers        []string `json:"speakers"`
	TotalWords      int      `json:"totalWords"`
	TranscriptCount int      `json:"transcriptCount"`
}

// DayIndex is the conversations.json document.
type DayIndex struct {
	Date          string         `json:"date"`
	Conversations []Conversation `json:"conversations"`
	Generated     string         `json:"generated"`
}

// Stitcher scans the curator voice tree day by day.
type Stitcher struct {
	voiceDir   string
	gap        time.Duration
	speakerGap time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// New builds a Stitcher over the curator voice directory.
func New(voiceDir string, gap, speakerGap time.Duration) *Stitcher {
	if voiceDir == "" {
		panic("invariant violation: empty voice directory in stitch.New")
	}
	return &Stitcher{
		voiceDir:   voiceDir,
		gap:        gap,
		speakerGap: speakerGap,
		log:        log.WithComponent("stitch"),
		now:        time.Now,
	}
}

// dayDoc pairs the typed view of a curator document with its raw form. The
// raw map is what gets written back, so fields this code does not know about
// survive the conversationId update.
type dayDoc struct {
	name string
	path string
	doc  *curator.Document
	ts   time.Time
	raw  map[string]any
}

// StitchAll processes every day directory and returns how many days were
// (re)stitched. In incremental mode, days whose documents all carry a
// conversationId are skipped. Per-file write failures are logged and do not
// stop the scan.
func (s *Stitcher) StitchAll(incremental bool) int {
	days := s.findDayDirs()
	processed := 0
	for _, day := range days {
		docs := s.loadDay(day.path)
		if len(docs) == 0 {
			continue
		}
		if incremental && !hasUnstitched(docs) {
			continue
		}
		s.stitchDay(day, docs)
		processed++
	}
	return processed
}

type dayDir struct {
	path string
	date string // YYYY-MM-DD
}

// findDayDirs walks voice/YYYY/MM/DD, skipping anything that does not match
// the date layout (the _pending backlog in particular).
func (s *Stitcher) findDayDirs() []dayDir {
	var days []dayDir
	years, err := os.ReadDir(s.voiceDir)
	if err != nil {
		return nil
	}
	for _, year := range years {
		if !year.IsDir() || !isDigits(year.Name(), 4) {
			continue
		}
		months, err := os.ReadDir(filepath.Join(s.voiceDir, year.Name()))
		if err != nil {
			continue
		}
		for _, month := range months {
			if !month.IsDir() || !isDigits(month.Name(), 2) {
				continue
			}
			dayEntries, err := os.ReadDir(filepath.Join(s.voiceDir, year.Name(), month.Name()))
			if err != nil {
				continue
			}
			for _, day := range dayEntries {
				if !day.IsDir() || !isDigits(day.Name(), 2) {
					continue
				}
				days = append(days, dayDir{
					path: filepath.Join(s.voiceDir, year.Name(), month.Name(), day.Name()),
					date: fmt.Sprintf("%s-%s-%s", year.Name(), month.Name(), day.Name()),
				})
			}
		}
	}
	return days
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// loadDay reads every document of a day, dropping unreadable files and files
// without a parseable timestamp, sorted by timestamp.
func (s *Stitcher) loadDay(dir string) []dayDoc {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var docs []dayDoc
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == curator.IndexFileName || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path) // #nosec G304 -- scanning the curator tree
		if err != nil {
			continue
		}
		var doc curator.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		ts, ok := transcript.ParseTime(doc.Timestamp)
		if !ok {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		docs = append(docs, dayDoc{name: name, path: path, doc: &doc, ts: ts, raw: raw})
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].ts.Before(docs[j].ts) })
	return docs
}

func hasUnstitched(docs []dayDoc) bool {
	for _, d := range docs {
		if d.doc.ConversationID == "" {
			return true
		}
	}
	return false
}

// group clusters the sorted documents by time gap. The gap runs from the end
// of the previous document (timestamp plus duration) to the start of the
// current one.
func (s *Stitcher) group(docs []dayDoc) [][]dayDoc {
	if len(docs) == 0 {
		return nil
	}
	groups := [][]dayDoc{{docs[0]}}
	for i := 1; i < len(docs); i++ {
		prev := docs[i-1]
		curr := docs[i]

		prevEnd := prev.ts.Add(time.Duration(prev.doc.Duration) * time.Second)
		gap := curr.ts.Sub(prevEnd)

		threshold := s.gap
		if sharesSpeaker(prev.doc, curr.doc) {
			threshold = s.speakerGap
		}

		if gap <= threshold {
			last := len(groups) - 1
			groups[last] = append(groups[last], curr)
		} else {
			groups = append(groups, []dayDoc{curr})
		}
	}
	return groups
}

func sharesSpeaker(a, b *curator.Document) bool {
	names := map[string]struct{}{}
	for _, n := range a.NamedSpeakers() {
		names[n] = struct{}{}
	}
	for _, n := range b.NamedSpeakers() {
		if _, ok := names[n]; ok {
			return true
		}
	}
	return false
}

func conversationID(first dayDoc) string {
	return "conv-" + first.ts.Format("20060102-150405")
}

// stitchDay assigns conversation ids within one day and rewrites the index.
func (s *Stitcher) stitchDay(day dayDir, docs []dayDoc) {
	groups := s.group(docs)
	index := make([]Conversation, 0, len(groups))

	for _, group := range groups {
		first := group[0]
		convID := conversationID(first)

		speakers := map[string]struct{}{}
		totalWords := 0
		segments := make([]string, 0, len(group))
		start := first.ts
		end := first.ts

		for _, d := range group {
			segments = append(segments, d.name)
			for _, label := range d.doc.SpeakerLabels() {
				speakers[label] = struct{}{}
			}
			totalWords += len(strings.Fields(d.doc.Transcript))

			segEnd := d.ts.Add(time.Duration(d.doc.Duration) * time.Second)
			if segEnd.After(end) {
				end = segEnd
			}
		}

		sortedSpeakers := make([]string, 0, len(speakers))
		for name := range speakers {
			sortedSpeakers = append(sortedSpeakers, name)
		}
		sort.Strings(sortedSpeakers)

		index = append(index, Conversation{
			ID:              convID,
			StartTime:       start.Format(time.RFC3339),
			EndTime:         end.Format(time.RFC3339),
			Duration:        int(end.Sub(start).Seconds()),
			Segments:        segments,
			Speakers:        sortedSpeakers,
			TotalWords:      totalWords,
			TranscriptCount: len(group),
		})

		for _, d := range group {
			if d.doc.ConversationID == convID {
				continue
			}
			d.raw["conversationId"] = convID
			if err := fsx.WriteJSONAtomic(d.path, d.raw); err != nil {
				s.log.Error().
					Str("event", "stitch.writeback_failed").
					Str("file", d.name).
					Err(err).
					Msg("could not write conversation id")
			}
		}
	}

	dayIndex := DayIndex{
		Date:          day.date,
		Conversations: index,
		Generated:     s.now().UTC().Format(time.RFC3339),
	}
	if err := fsx.WriteJSONAtomic(filepath.Join(day.path, curator.IndexFileName), dayIndex); err != nil {
		s.log.Error().
			Str("event", "stitch.index_failed").
			Str("date", day.date).
			Err(err).
			Msg("could not write day index")
	}
}
