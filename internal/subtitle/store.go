// Package subtitle holds the ordered, exportable record of merged
// recognition results shown to the user and written out as SRT/VTT files.
package subtitle

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Source identifies which recognition path produced an entry.
type Source string

const (
	SourceFastLocal   Source = "fastlocal"
	SourcePreciseHTTP Source = "precisehttp"
	SourceCloudHTTP   Source = "cloudhttp"
)

// Entry is one displayed line of text with its timing.
type Entry struct {
	Text       string
	StartMs    int64
	DurationMs int64
	Source     Source
}

// Store holds an ordered, mutex-guarded list of subtitle entries for one
// session and exports them to SRT or VTT.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewStore returns an empty subtitle store.
func NewStore() *Store {
	return &Store{}
}

// Add appends one entry.
func (s *Store) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of all stored entries in order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// At returns the entry active at timeMs, if any.
func (s *Store) At(timeMs int64) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if timeMs >= e.StartMs && timeMs < e.StartMs+e.DurationMs {
			return e, true
		}
	}
	return Entry{}, false
}

// Remove deletes the entry at index, if valid.
func (s *Store) Remove(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.entries) {
		return
	}
	s.entries = append(s.entries[:index], s.entries[index+1:]...)
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// ExportSRT writes all entries to path in SubRip format, sorted by start
// time.
func (s *Store) ExportSRT(path string) error {
	s.mu.RLock()
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].StartMs < entries[j].StartMs })

	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", srtTimestamp(e.StartMs), srtTimestamp(e.StartMs+e.DurationMs))
		fmt.Fprintf(&b, "%s\n\n", e.Text)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// ExportVTT writes all entries to path in WebVTT format.
func (s *Store) ExportVTT(path string) error {
	s.mu.RLock()
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].StartMs < entries[j].StartMs })

	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s --> %s\n", vttTimestamp(e.StartMs), vttTimestamp(e.StartMs+e.DurationMs))
		fmt.Fprintf(&b, "%s\n\n", e.Text)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func srtTimestamp(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	d -= sec * time.Second
	msRemainder := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, sec, msRemainder)
}

func vttTimestamp(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	d -= sec * time.Second
	msRemainder := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, sec, msRemainder)
}
