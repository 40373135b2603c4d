package pipeline

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/Cirno10124/stream-recognizer-go/internal/feedback"
)

// MergerConfig holds the ordering and timing knobs for ResultMerger.
type MergerConfig struct {
	SequentialMode        bool
	MaxWaitTime           time.Duration
	MaxResultsBeforeMerge int
	MergeDelay            time.Duration
	MergeInterval         time.Duration
	UseTimerMerge         bool
}

// DefaultMergerConfig matches the merger's documented defaults.
func DefaultMergerConfig() MergerConfig {
	return MergerConfig{
		SequentialMode:        true,
		MaxWaitTime:           5000 * time.Millisecond,
		MaxResultsBeforeMerge: 5,
		MergeDelay:            2000 * time.Millisecond,
		MergeInterval:         500 * time.Millisecond,
		UseTimerMerge:         true,
	}
}

type pendingResult struct {
	result   RecognitionResult
	received time.Time
}

// ResultMerger accepts per-segment recognition results, possibly out of
// order, and emits an ordered sequence of plain-text lines plus a merged
// event carrying the contributing sequence numbers.
type ResultMerger struct {
	mu sync.Mutex

	cfg MergerConfig

	pending            map[int64]pendingResult
	unordered          []pendingResult
	nextSequenceNumber int64
	lastEmittedSeq     int64
	previousText       string

	bus       *feedback.EventBus
	sessionID string

	onMerged func(batch []RecognitionResult)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SetMergedResultCallback registers fn to be invoked, synchronously on
// whichever goroutine triggered the merge (AddResult's caller or the
// background timer), with every batch as it is emitted. The orchestrator
// wires this to feed subtitle.Store and session.Manager, which need each
// result's individual timestamp and duration rather than the bus's
// flattened, newline-joined MergedResultData.Text.
func (m *ResultMerger) SetMergedResultCallback(fn func(batch []RecognitionResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMerged = fn
}

// NewResultMerger builds a merger publishing onto bus under sessionID.
func NewResultMerger(cfg MergerConfig, bus *feedback.EventBus, sessionID string) *ResultMerger {
	m := &ResultMerger{
		cfg:       cfg,
		pending:   make(map[int64]pendingResult),
		bus:       bus,
		sessionID: sessionID,
	}
	if cfg.UseTimerMerge {
		m.startTimer()
	}
	return m
}

func (m *ResultMerger) startTimer() {
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.MergeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.MergeAndEmit()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the background merge timer, if any.
func (m *ResultMerger) Stop() {
	if m.stopCh != nil {
		close(m.stopCh)
		m.wg.Wait()
	}
}

// SetSequentialMode toggles sequence-ordered emission.
func (m *ResultMerger) SetSequentialMode(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.SequentialMode = v
}

// SetNextExpectedSequence tells the merger which sequence number to expect
// first. Segment sources that number their first unit 1 rather than 0 (the
// segmenter does, to read better in logs) must call this once after
// construction, or every session's opening result sits in pending until
// MaxWaitTime's gap-skip rule forces it through.
func (m *ResultMerger) SetNextExpectedSequence(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSequenceNumber = n
}

// SetMaxWaitTime sets the gap-skip timeout.
func (m *ResultMerger) SetMaxWaitTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.MaxWaitTime = d
}

// SetMaxResultsBeforeMerge sets the non-sequential batch size.
func (m *ResultMerger) SetMaxResultsBeforeMerge(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.MaxResultsBeforeMerge = n
}

// SetMergeDelay stores the merge-delay setting in the config; no merge path
// reads it.
func (m *ResultMerger) SetMergeDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.MergeDelay = d
}

// AddResult ingests one backend result and attempts an immediate merge. A
// result whose sequence number was already emitted (or skipped past) is an
// ordering violation: it is dropped rather than left to poison the pending
// set.
func (m *ResultMerger) AddResult(r RecognitionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.Text = m.dedupeOverlap(r)

	entry := pendingResult{result: r, received: time.Now()}
	if m.cfg.SequentialMode {
		if r.SequenceNumber < m.nextSequenceNumber {
			logrus.WithFields(logrus.Fields{
				"sequence":      r.SequenceNumber,
				"next_expected": m.nextSequenceNumber,
			}).Warn("dropping result below the already-emitted sequence")
			return
		}
		m.pending[r.SequenceNumber] = entry
		m.mergeAndEmitLocked()
		return
	}

	m.unordered = append(m.unordered, entry)
	if len(m.unordered) >= m.cfg.MaxResultsBeforeMerge {
		m.mergeAndEmitLocked()
	}
}

// dedupeOverlap strips an estimated overlap prefix from r.Text against the
// previously emitted text, per the overlap-deduplication heuristic. A no-op
// whenever the originating segment reports no overlap, which is always true
// under the current segmentation contract (overlap is disabled) but is kept
// for a future overlap-aware segmenter.
func (m *ResultMerger) dedupeOverlap(r RecognitionResult) string {
	if !r.HasOverlap || r.OverlapMs <= 0 || m.previousText == "" {
		return r.Text
	}

	prevLen, curLen := len(m.previousText), len(r.Text)
	maxClamp := minInt(prevLen, curLen) / 2
	if maxClamp < 5 {
		return r.Text
	}
	overlapChars := int(float64(r.OverlapMs) / 1000 * 15)
	if overlapChars < 5 {
		overlapChars = 5
	}
	if overlapChars > maxClamp {
		overlapChars = maxClamp
	}

	searchLen := 3 * overlapChars
	if searchLen > curLen {
		searchLen = curLen
	}
	searchRegion := r.Text[:searchLen]

	// Longest suffix of previousText (length >= 4) that appears as a
	// prefix-region match within searchRegion.
	for length := minInt(prevLen, len(searchRegion)); length >= 4; length-- {
		suffix := m.previousText[prevLen-length:]
		if idx := strings.Index(searchRegion, suffix); idx >= 0 {
			return r.Text[idx+length:]
		}
	}

	// Fall back: trim to the first CJK/punctuation boundary within
	// 2*overlapChars characters.
	boundary := 2 * overlapChars
	chars := 0
	for i, ch := range r.Text {
		if chars >= boundary {
			break
		}
		if isBoundaryRune(ch) {
			return r.Text[i+utf8.RuneLen(ch):]
		}
		chars++
	}
	return r.Text
}

func isBoundaryRune(r rune) bool {
	switch r {
	case '。', '，', '、', '；', '.', ',', ';', '!', '?', '！', '？':
		return true
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MergeAndEmit forces an ordered drain attempt; the background timer calls
// this every MergeInterval so a gap older than MaxWaitTime is skipped even
// when no new result arrives to trigger a merge.
func (m *ResultMerger) MergeAndEmit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeAndEmitLocked()
}

// mergeAndEmitLocked runs the sequential-mode merge algorithm. Caller must
// hold m.mu.
func (m *ResultMerger) mergeAndEmitLocked() {
	if !m.cfg.SequentialMode {
		m.mergeUnorderedLocked()
		return
	}

	for {
		if len(m.pending) == 0 {
			return
		}

		if _, ok := m.pending[m.nextSequenceNumber]; !ok {
			oldest := m.oldestPendingLocked()
			if oldest == nil {
				return
			}
			if time.Since(oldest.received) >= m.cfg.MaxWaitTime {
				m.nextSequenceNumber++
				continue
			}
			return
		}

		var batch []RecognitionResult
		for {
			entry, ok := m.pending[m.nextSequenceNumber]
			if !ok {
				break
			}
			batch = append(batch, entry.result)
			delete(m.pending, m.nextSequenceNumber)
			m.nextSequenceNumber++
		}
		if len(batch) > 0 {
			m.emitBatchLocked(batch)
		}
		if len(m.pending) == 0 {
			return
		}
	}
}

func (m *ResultMerger) oldestPendingLocked() *pendingResult {
	var oldest *pendingResult
	for _, v := range m.pending {
		v := v
		if oldest == nil || v.received.Before(oldest.received) {
			oldest = &v
		}
	}
	return oldest
}

func (m *ResultMerger) mergeUnorderedLocked() {
	if len(m.unordered) == 0 {
		return
	}
	sort.Slice(m.unordered, func(i, j int) bool {
		if m.unordered[i].result.SequenceNumber != m.unordered[j].result.SequenceNumber {
			return m.unordered[i].result.SequenceNumber < m.unordered[j].result.SequenceNumber
		}
		return m.unordered[i].received.Before(m.unordered[j].received)
	})

	batch := make([]RecognitionResult, len(m.unordered))
	for i, e := range m.unordered {
		batch[i] = e.result
	}
	m.unordered = nil
	m.emitBatchLocked(batch)
}

func (m *ResultMerger) emitBatchLocked(batch []RecognitionResult) {
	var lines []string
	seqs := make([]int64, 0, len(batch))
	for _, r := range batch {
		lines = append(lines, r.Text)
		seqs = append(seqs, r.SequenceNumber)
		if r.SequenceNumber > m.lastEmittedSeq {
			m.lastEmittedSeq = r.SequenceNumber
		}
	}
	text := strings.Join(lines, "\n")
	if text != "" {
		m.previousText = lines[len(lines)-1]
	}

	if m.bus != nil {
		m.bus.PublishMergedResult(m.sessionID, feedback.MergedResultData{
			Text:            text,
			SequenceNumbers: seqs,
			LastEmitted:     m.lastEmittedSeq,
		})
	}
	if m.onMerged != nil {
		m.onMerged(batch)
	}
}

// Clear empties all pending state and resets ordering counters.
func (m *ResultMerger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[int64]pendingResult)
	m.unordered = nil
	m.nextSequenceNumber = 0
	m.lastEmittedSeq = 0
	m.previousText = ""
}
