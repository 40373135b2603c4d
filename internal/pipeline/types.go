// Package pipeline defines the segment/result types and the worker pool and
// merger operating on them: AudioSegment flows from the segmenter to the
// recognition backends; RecognitionResult flows from the backends to the
// merger and out to the subtitle sink.
package pipeline

import "time"

// AudioSegment is a bounded recognition unit: one WAV file plus the
// bookkeeping needed to order and merge its eventual result.
type AudioSegment struct {
	FilePath       string
	SequenceNumber uint64
	Timestamp      time.Time
	DurationMs     float64
	IsLast         bool

	// HasOverlap/OverlapMs are always false/0 under the current
	// segmentation contract (overlap is disabled to avoid word
	// duplication) but are preserved for a future overlap-aware segmenter.
	HasOverlap bool
	OverlapMs  int32
}

// RecognitionResult is the finalized text for one segment, as produced by a
// Backend and consumed by the merger. HasOverlap/OverlapMs carry the
// originating segment's overlap bookkeeping through to the merger's
// dedup heuristic; both are always false/0 under the current contract.
type RecognitionResult struct {
	Text           string
	SequenceNumber int64 // -1 if unknown
	Timestamp      time.Time
	DurationMs     int64
	IsLast         bool
	HasOverlap     bool
	OverlapMs      int32
}
