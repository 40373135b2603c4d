package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Cirno10124/stream-recognizer-go/internal/pipeline"
)

const (
	longSilenceThresholdMs = 300
	leadingSilenceKeepMs   = 100
	paddingMs              = 200
	maxStallMs             = 5000
	halfTargetStallMs      = 2500
)

// SegmentReadyFunc receives a finished segment. It must not block for long:
// the single-threaded handler invokes it synchronously and will not accept
// further frames until it returns.
type SegmentReadyFunc func(pipeline.AudioSegment)

// RealtimeSegmentHandler converts a stream of Frame into a stream of
// AudioSegment written to disk, following the hybrid length/silence/timeout
// segmentation algorithm.
type RealtimeSegmentHandler struct {
	mu sync.Mutex

	codec   *WavCodec
	tempDir string
	ownsDir bool

	maxMs         int
	targetSamples int

	onReady SegmentReadyFunc

	currentFrames   []float32
	silenceFrames   []float32
	totalSamples    int
	lastSegmentTime time.Time
	sequenceCounter uint64

	started bool
	stopped bool

	immediateProcessing bool
	openAIMode          bool
	useOverlap          bool // always false; setter accepted for contract compat
	bufferPoolSize      int
}

// NewRealtimeSegmentHandler builds a handler writing segments under tempDir.
// If tempDir is empty, a directory named "openai_segments" is created under
// the system temp dir and owned by the handler: its contents are removed on Stop.
func NewRealtimeSegmentHandler(tempDir string, maxMs int) (*RealtimeSegmentHandler, error) {
	owns := false
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "openai_segments")
		owns = true
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("audio: create segment temp dir: %w", err)
	}

	h := &RealtimeSegmentHandler{
		codec:   NewWavCodec(CanonicalSampleRate),
		tempDir: tempDir,
		ownsDir: owns,
	}
	h.SetSegmentSize(maxMs, 0)
	return h, nil
}

// SetSegmentSize sets the target segment length; overlapMs is accepted for
// interface compatibility but always forced to 0.
func (h *RealtimeSegmentHandler) SetSegmentSize(maxMs, overlapMs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxMs = maxMs
	h.targetSamples = maxMs * CanonicalSampleRate / 1000
}

// SetSegmentReadyCallback installs the callback invoked on each emission.
func (h *RealtimeSegmentHandler) SetSegmentReadyCallback(fn SegmentReadyFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReady = fn
}

// SetBufferPoolSize is a sizing hint for frame buffer reuse; accepted for
// interface compatibility.
func (h *RealtimeSegmentHandler) SetBufferPoolSize(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bufferPoolSize = n
}

// SetImmediateProcessing toggles whether segments are handed off as soon as
// they are emitted rather than batched; the single-threaded core always
// processes immediately, so this only affects caller-side expectations.
func (h *RealtimeSegmentHandler) SetImmediateProcessing(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.immediateProcessing = v
}

// SetOpenAIMode affects only logging verbosity in the caller.
func (h *RealtimeSegmentHandler) SetOpenAIMode(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openAIMode = v
}

// SetUseOverlapProcessing is disabled in the current contract; the setter
// is retained so callers written against the richer interface still link.
func (h *RealtimeSegmentHandler) SetUseOverlapProcessing(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.useOverlap = false
}

// Start begins accepting frames.
func (h *RealtimeSegmentHandler) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
	h.stopped = false
	h.lastSegmentTime = time.Now()
}

// Stop flushes any in-progress segment as a final segment, emits it, then
// refuses further input. The owned temp directory's contents are removed.
func (h *RealtimeSegmentHandler) Stop() {
	h.mu.Lock()
	if !h.started || h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.emitLocked(true)
	h.mu.Unlock()

	if h.ownsDir {
		entries, err := os.ReadDir(h.tempDir)
		if err == nil {
			for _, e := range entries {
				os.Remove(filepath.Join(h.tempDir, e.Name()))
			}
		}
	}
}

// AddBuffer enqueues one frame for processing; frames arriving after Stop
// are rejected.
func (h *RealtimeSegmentHandler) AddBuffer(f Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || h.stopped {
		return ErrHandlerStopped
	}
	h.processFrame(f)
	return nil
}

// FlushCurrentSegment force-emits whatever is currently accumulated as a
// terminal segment. A no-op when nothing has accumulated.
func (h *RealtimeSegmentHandler) FlushCurrentSegment() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.currentFrames) == 0 {
		return
	}
	h.emitLocked(true)
}

// processFrame implements the authoritative segmentation algorithm. Caller
// must hold h.mu.
func (h *RealtimeSegmentHandler) processFrame(f Frame) {
	mustEmit := false
	isLastTrigger := false

	switch {
	case f.IsLast:
		h.currentFrames = append(h.currentFrames, h.silenceFrames...)
		h.silenceFrames = nil
		if len(f.Samples) > 0 {
			h.currentFrames = append(h.currentFrames, f.Samples...)
			h.totalSamples += len(f.Samples)
		}
		mustEmit = true
		isLastTrigger = true

	case f.IsSilence:
		h.silenceFrames = append(h.silenceFrames, f.Samples...)
		silenceMs := len(h.silenceFrames) * 1000 / CanonicalSampleRate
		if silenceMs > longSilenceThresholdMs {
			if len(h.currentFrames) > 0 {
				keepSamples := leadingSilenceKeepMs * CanonicalSampleRate / 1000
				if keepSamples > len(h.silenceFrames) {
					keepSamples = len(h.silenceFrames)
				}
				h.currentFrames = append(h.currentFrames, h.silenceFrames[:keepSamples]...)
				h.totalSamples += keepSamples
				mustEmit = true
			}
			h.silenceFrames = nil
		}

	default:
		h.currentFrames = append(h.currentFrames, h.silenceFrames...)
		h.totalSamples += len(h.silenceFrames)
		h.silenceFrames = nil

		h.currentFrames = append(h.currentFrames, f.Samples...)
		h.totalSamples += len(f.Samples)

		if f.VoiceEnd {
			mustEmit = true
		} else if h.totalSamples >= h.targetSamples {
			mustEmit = true
		} else {
			mustEmit = h.checkTimeBasedForce()
		}
	}

	if mustEmit {
		h.emitLocked(isLastTrigger)
	}
}

// checkTimeBasedForce applies the stall-prevention rules. Caller must hold
// h.mu.
func (h *RealtimeSegmentHandler) checkTimeBasedForce() bool {
	now := time.Now()
	elapsed := now.Sub(h.lastSegmentTime)

	if elapsed >= time.Duration(maxStallMs)*time.Millisecond && len(h.currentFrames) > 0 {
		return true
	}
	if h.totalSamples >= h.targetSamples/2 && elapsed >= time.Duration(halfTargetStallMs)*time.Millisecond {
		return true
	}
	return false
}

// emitLocked runs the emission sequence. Caller must hold h.mu. When isLast
// is set and nothing accumulated, it still emits a zero-length terminal
// segment (no file written) so the callback's IsLast invariant holds even
// for a stream that ends without producing any audio.
func (h *RealtimeSegmentHandler) emitLocked(isLast bool) {
	if len(h.currentFrames) == 0 && !isLast {
		return
	}
	if len(h.currentFrames) == 0 && isLast {
		h.sequenceCounter++
		seg := pipeline.AudioSegment{
			SequenceNumber: h.sequenceCounter,
			Timestamp:      time.Now(),
			IsLast:         true,
		}
		cb := h.onReady
		h.resetAccumulatorLocked(seg.Timestamp)
		if cb != nil {
			h.invokeCallback(cb, seg)
		}
		return
	}

	padding := make([]float32, paddingMs*CanonicalSampleRate/1000)
	padded := append(h.currentFrames, padding...)

	h.sequenceCounter++
	seq := h.sequenceCounter
	now := time.Now()
	durationMs := float64(len(h.currentFrames)) * 1000 / CanonicalSampleRate

	filename := fmt.Sprintf("segment_%d_%dms_%d.wav", seq, int64(durationMs), now.UnixMilli())
	path := filepath.Join(h.tempDir, filename)

	if err := h.codec.Encode(path, padded); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"sequence": seq,
			"path":     path,
		}).Error("segment wav encode failed, skipping segment")
		h.resetAccumulatorLocked(now)
		return
	}

	seg := pipeline.AudioSegment{
		FilePath:       path,
		SequenceNumber: seq,
		Timestamp:      now,
		DurationMs:     durationMs,
		IsLast:         isLast,
	}

	cb := h.onReady
	h.resetAccumulatorLocked(now)

	if cb != nil {
		h.invokeCallback(cb, seg)
	}
}

// invokeCallback runs the segment-ready callback with panic recovery so a
// misbehaving consumer cannot abort the handler.
func (h *RealtimeSegmentHandler) invokeCallback(cb SegmentReadyFunc, seg pipeline.AudioSegment) {
	defer func() {
		_ = recover()
	}()
	cb(seg)
}

func (h *RealtimeSegmentHandler) resetAccumulatorLocked(now time.Time) {
	h.currentFrames = nil
	h.silenceFrames = nil
	h.totalSamples = 0
	h.lastSegmentTime = now
}
