// Package session tracks per-session transcription state: which segment
// sequence numbers are in flight awaiting recognition, and the merged
// results accumulated so far, kept in sequence order so a session's full
// transcript can be exported at any point.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SourceMode identifies which input source fed a session.
type SourceMode string

const (
	SourceMicrophone SourceMode = "microphone"
	SourceAudioFile  SourceMode = "audio_file"
	SourceVideoFile  SourceMode = "video_file"
)

// ErrSessionNotFound is returned for operations against an unknown session ID.
var ErrSessionNotFound = errors.New("session: not found")

// exportDir is where ExportSession writes transcript JSON files.
const exportDir = "exports"

// PendingSegment tracks a segment dispatched to a backend but not yet
// recognized.
type PendingSegment struct {
	SequenceNumber uint64    `json:"sequenceNumber"`
	DurationMs     float64   `json:"durationMs"`
	DispatchedAt   time.Time `json:"dispatchedAt"`
}

// ResultEntry is one merged recognition result in a session's transcript.
type ResultEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	SequenceNumber int64     `json:"sequenceNumber"`
	Text           string    `json:"text"`
}

// Session is one transcription run: a source bound to an active recognition
// backend, accumulating results until ended. Results stay sorted by
// sequence number even when the merger's gap-skip timeout lets a late
// result land after its successors; Pending is keyed by sequence number so
// a result clears its own bookkeeping in one step.
type Session struct {
	ID         string                    `json:"id"`
	Source     SourceMode                `json:"source"`
	SourcePath string                    `json:"sourcePath,omitempty"`
	Backend    string                    `json:"backend"`
	StartTime  time.Time                 `json:"startTime"`
	EndTime    *time.Time                `json:"endTime,omitempty"`
	Results    []ResultEntry             `json:"results"`
	Pending    map[uint64]PendingSegment `json:"pendingSegments,omitempty"`
}

// Manager owns every session created during the process lifetime.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// lookup returns the live session for id. Caller must hold m.mu.
func (m *Manager) lookup(sessionID string) (*Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// CreateSession registers a new transcription session bound to the given
// input source and recognition backend, returning its ID.
func (m *Manager) CreateSession(source SourceMode, sourcePath, backend string) string {
	s := &Session{
		ID:         uuid.New().String(),
		Source:     source,
		SourcePath: sourcePath,
		Backend:    backend,
		StartTime:  time.Now(),
		Results:    []ResultEntry{},
		Pending:    make(map[uint64]PendingSegment),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session_id": s.ID,
		"source":     source,
		"backend":    backend,
	}).Debug("session created")
	return s.ID
}

// AddPendingSegment records a dispatched segment under its sequence number.
// Re-dispatching the same sequence replaces the earlier record.
func (m *Manager) AddPendingSegment(sessionID string, sequenceNumber uint64, durationMs float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	s.Pending[sequenceNumber] = PendingSegment{
		SequenceNumber: sequenceNumber,
		DurationMs:     durationMs,
		DispatchedAt:   time.Now(),
	}
	return nil
}

// RemovePendingSegment clears a segment's in-flight bookkeeping once its
// result arrived or it was abandoned. Unknown sequence numbers are ignored.
func (m *Manager) RemovePendingSegment(sessionID string, sequenceNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	delete(s.Pending, sequenceNumber)
	return nil
}

// AddResult inserts a merged result into the transcript at its
// sequence-ordered position and clears the matching pending record.
func (m *Manager) AddResult(sessionID string, sequenceNumber int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	if sequenceNumber >= 0 {
		delete(s.Pending, uint64(sequenceNumber))
	}

	entry := ResultEntry{
		Timestamp:      time.Now(),
		SequenceNumber: sequenceNumber,
		Text:           text,
	}
	i := sort.Search(len(s.Results), func(i int) bool {
		return s.Results[i].SequenceNumber > sequenceNumber
	})
	s.Results = append(s.Results, ResultEntry{})
	copy(s.Results[i+1:], s.Results[i:])
	s.Results[i] = entry

	logrus.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"sequence":      sequenceNumber,
		"total_results": len(s.Results),
	}).Debug("result added to session")
	return nil
}

// EndSession stamps a session's end time.
func (m *Manager) EndSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	now := time.Now()
	s.EndTime = &now
	return nil
}

// snapshot copies a session so callers can read it without holding the
// manager's lock against concurrent result inserts.
func snapshot(s *Session) *Session {
	cp := *s
	cp.Results = append([]ResultEntry(nil), s.Results...)
	cp.Pending = make(map[uint64]PendingSegment, len(s.Pending))
	for seq, p := range s.Pending {
		cp.Pending[seq] = p
	}
	return &cp
}

// GetSession returns a point-in-time copy of a session.
func (m *Manager) GetSession(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return snapshot(s), nil
}

// ListSessions returns copies of all sessions, oldest first.
func (m *Manager) ListSessions() []Session {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *snapshot(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// ExportSession writes a session's transcript as indented JSON under the
// exports directory and returns the file path.
func (m *Manager) ExportSession(sessionID string) (string, error) {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return "", fmt.Errorf("session: create export directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("session: marshal transcript: %w", err)
	}

	name := fmt.Sprintf("session_%s_%s.json", s.StartTime.Format("20060102_150405"), s.ID)
	path := filepath.Join(exportDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("session: write transcript: %w", err)
	}
	return path, nil
}
