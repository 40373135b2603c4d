// Package orchestrator wires the capture, preprocessing, segmentation,
// recognition and merge stages into one session-scoped pipeline owned by a
// single AudioProcessor.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Cirno10124/stream-recognizer-go/internal/audio"
	"github.com/Cirno10124/stream-recognizer-go/internal/audiosource"
	"github.com/Cirno10124/stream-recognizer-go/internal/config"
	"github.com/Cirno10124/stream-recognizer-go/internal/feedback"
	"github.com/Cirno10124/stream-recognizer-go/internal/pipeline"
	"github.com/Cirno10124/stream-recognizer-go/internal/queue"
	"github.com/Cirno10124/stream-recognizer-go/internal/session"
	"github.com/Cirno10124/stream-recognizer-go/internal/subtitle"
)

// Translator renders a merged transcript line into the session's target
// language; pkg/recognizer provides the chat-completion-backed
// implementation. Translation runs on its own stage so recognition workers
// never block on a translation round trip.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// joinStopTimeout bounds how long StopProcessing waits for in-flight
// recognitions to drain before giving up and returning anyway.
const joinStopTimeout = 15 * time.Second

// energyLearningWindowSeconds is how much audio the adaptive threshold
// collector observes before the VAD switches off its initial static
// threshold, matching the VAD adaptive-threshold collection window of about 90s.
const energyLearningWindowSeconds = 90

// AudioProcessor owns one transcription session end to end: it pulls frames
// from an audiosource.Source, runs them through the DSP chain and VAD,
// hands finished segments to the worker pool, and routes merged results to
// the subtitle store and session manager. Exactly one recognition backend
// is active for the processor's lifetime; switching backends means building
// a new AudioProcessor.
type AudioProcessor struct {
	cfg     config.Config
	backend pipeline.Backend

	bus       *feedback.EventBus
	sessions  *session.Manager
	subtitles *subtitle.Store

	source audiosource.Source

	preprocessor *audio.Preprocessor
	vad          *audio.VoiceActivityDetector
	energy       *audio.EnergyCollector
	handler      *audio.RealtimeSegmentHandler

	workers *pipeline.ParallelOpenAIProcessor
	merger  *pipeline.ResultMerger
	dedup   *dedupCache

	translator   Translator
	dualLanguage bool
	transQueue   *queue.BoundedQueue[subtitle.Entry]
	transDone    chan struct{}

	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc

	paused atomic.Bool
	ended  atomic.Bool

	timelineMu   sync.Mutex
	durations    map[uint64]float64 // sequence -> segment duration, set on segment-ready
	cumulativeMs int64              // running subtitle clock
}

// NewAudioProcessor builds a processor for one session, bound to backend
// and reading frames from source. The caller retains ownership of bus,
// sessions and subtitles: they are expected to outlive the processor and
// may be shared across processors run one after another.
func NewAudioProcessor(cfg config.Config, backend pipeline.Backend, source audiosource.Source, bus *feedback.EventBus, sessions *session.Manager, subtitles *subtitle.Store) *AudioProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &AudioProcessor{
		cfg:       cfg,
		backend:   backend,
		source:    source,
		bus:       bus,
		sessions:  sessions,
		subtitles: subtitles,
		dedup:     newDedupCache(dedupCapacity),
		durations: make(map[uint64]float64),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetTranslator installs an optional transcript translation stage. When
// dual is set, subtitle entries carry the original text and the translation
// on separate lines; otherwise the translation replaces the original. Must
// be called before StartProcessing.
func (a *AudioProcessor) SetTranslator(tr Translator, dual bool) {
	a.translator = tr
	a.dualLanguage = dual
}

func sourceModeFor(m audiosource.Mode) session.SourceMode {
	switch m {
	case audiosource.ModeAudioFile:
		return session.SourceAudioFile
	case audiosource.ModeVideoFile:
		return session.SourceVideoFile
	default:
		return session.SourceMicrophone
	}
}

// StartProcessing wires every stage together and begins pulling frames from
// the source. sourcePath is recorded on the session for audio/video file
// sources and ignored for live capture.
func (a *AudioProcessor) StartProcessing(sourcePath string) error {
	a.sessionID = a.sessions.CreateSession(sourceModeFor(a.source.Mode()), sourcePath, a.backend.Name())

	a.preprocessor = audio.NewPreprocessor(a.cfg.Preprocessing)
	a.vad = audio.NewVoiceActivityDetector(a.cfg.VAD)
	a.energy = audio.NewEnergyCollector(energyLearningWindowSeconds)

	handler, err := audio.NewRealtimeSegmentHandler(a.cfg.TempDir, a.cfg.Segmentation.SegmentSizeMs)
	if err != nil {
		return fmt.Errorf("orchestrator: build segment handler: %w", err)
	}
	handler.SetSegmentReadyCallback(a.onSegmentReady)
	a.handler = handler

	a.merger = pipeline.NewResultMerger(a.cfg.Merger, a.bus, a.sessionID)
	a.merger.SetNextExpectedSequence(1) // RealtimeSegmentHandler numbers its first segment 1, not 0
	a.merger.SetMergedResultCallback(a.onMergedBatch)

	a.workers = pipeline.NewParallelOpenAIProcessor(a.backend, a.bus, a.sessionID)
	a.workers.SetMaxParallelRequests(a.cfg.MaxParallelRequests)
	a.workers.SetBatchProcessing(a.cfg.BatchEnabled, time.Duration(a.cfg.BatchIntervalMs)*time.Millisecond, a.cfg.BatchSize)
	a.workers.SetResultCallback(a.onResult)
	a.workers.Start(a.ctx)

	if a.translator != nil {
		a.transQueue = queue.New[subtitle.Entry](64, func(subtitle.Entry) {
			logrus.Warn("translation backlog full, dropping oldest line")
		})
		a.transDone = make(chan struct{})
		go a.runTranslationLoop()
	}

	a.handler.Start()

	if err := a.source.Start(a.onFrame); err != nil {
		a.handler.Stop()
		a.workers.Stop()
		if a.transQueue != nil {
			a.transQueue.Terminate()
		}
		return fmt.Errorf("orchestrator: start audio source: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"session_id": a.sessionID,
		"backend":    a.backend.Name(),
		"mode":       a.source.Mode(),
	}).Info("processing started")
	return nil
}

// onFrame is the audio source's per-frame callback: it runs the DSP chain,
// classifies voice activity, and forwards the frame to the segmenter.
// Frames are silently dropped while paused rather than buffered, since a
// paused session has no use for stale audio once resumed.
func (a *AudioProcessor) onFrame(f audio.Frame) {
	if a.paused.Load() && !f.IsLast {
		return
	}

	if !f.IsLast && len(f.Samples) > 0 {
		a.preprocessor.Process(f.Samples, int(f.SampleRate))

		if !a.energy.Ready() {
			a.energy.Add(f.Samples)
			if a.energy.Ready() {
				a.vad.SetThreshold(a.energy.Threshold())
			}
		}

		isVoice := a.vad.Detect(f.Samples)
		f.IsSilence = !isVoice
		f.VoiceEnd = a.vad.HasVoiceEndedDetected()
	}

	if err := a.handler.AddBuffer(f); err != nil {
		logrus.WithError(err).Debug("dropped frame after handler stop")
	}
}

// onSegmentReady dispatches a finished segment to the worker pool and
// records its duration for subtitle timing once its result merges. A
// zero-length terminal segment (a stream that ended without accumulating
// any audio) has no file to recognize; it is fed straight to the merger as
// an empty result instead of being handed to a backend that would only fail
// trying to open it.
func (a *AudioProcessor) onSegmentReady(seg pipeline.AudioSegment) {
	a.timelineMu.Lock()
	a.durations[seg.SequenceNumber] = seg.DurationMs
	a.timelineMu.Unlock()

	if err := a.sessions.AddPendingSegment(a.sessionID, seg.SequenceNumber, seg.DurationMs); err != nil {
		logrus.WithError(err).Warn("failed to record pending segment")
	}

	if a.bus != nil {
		a.bus.PublishAudioSegmented(a.sessionID, feedback.AudioSegmentedData{
			SequenceNumber: seg.SequenceNumber,
			FilePath:       seg.FilePath,
			DurationMs:     seg.DurationMs,
			IsLast:         seg.IsLast,
		})
	}

	if seg.FilePath == "" {
		a.onResult(pipeline.RecognitionResult{
			SequenceNumber: int64(seg.SequenceNumber),
			Timestamp:      seg.Timestamp,
			IsLast:         seg.IsLast,
		})
		return
	}

	a.workers.AddSegment(seg)
}

// onResult feeds one backend result into the merger for ordering.
func (a *AudioProcessor) onResult(r pipeline.RecognitionResult) {
	a.merger.AddResult(r)
}

// onMergedBatch is the merger's emission callback: each result is written
// to the session transcript and, unless its text duplicates a recent
// emission, appended to the subtitle store with a timeline position derived
// from the originating segment's recorded duration.
func (a *AudioProcessor) onMergedBatch(batch []pipeline.RecognitionResult) {
	for _, r := range batch {
		seq := uint64(r.SequenceNumber)

		a.timelineMu.Lock()
		durationMs := r.DurationMs
		if d, ok := a.durations[seq]; ok {
			durationMs = int64(d)
			delete(a.durations, seq)
		}
		startMs := a.cumulativeMs
		a.cumulativeMs += durationMs
		a.timelineMu.Unlock()

		if r.Text == "" {
			// An empty-text result is a terminal sentinel from a
			// zero-length final segment, not a transcript line.
			continue
		}

		if err := a.sessions.AddResult(a.sessionID, r.SequenceNumber, r.Text); err != nil {
			logrus.WithError(err).Warn("failed to record session result")
		}

		if a.dedup.SeenBefore(a.backend.Name(), r.Text) {
			logrus.WithFields(logrus.Fields{
				"sequence": r.SequenceNumber,
			}).Debug("suppressed duplicate recognition result")
			continue
		}

		entry := subtitle.Entry{
			Text:       r.Text,
			StartMs:    startMs,
			DurationMs: durationMs,
			Source:     subtitle.Source(a.backend.Name()),
		}
		if a.transQueue != nil {
			a.transQueue.Push(entry)
		} else {
			a.subtitles.Add(entry)
		}
	}
}

// runTranslationLoop drains merged lines off the translation queue, renders
// each into the target language, and appends the (possibly dual-language)
// entry to the subtitle store. A failed translation falls back to the
// original text so a flaky endpoint degrades rather than losing lines.
func (a *AudioProcessor) runTranslationLoop() {
	defer close(a.transDone)
	for {
		entry, ok := a.transQueue.Pop(true)
		if !ok {
			return
		}
		translated, err := a.translator.Translate(a.ctx, entry.Text)
		switch {
		case err != nil:
			logrus.WithError(err).Warn("translation failed, keeping original text")
		case a.dualLanguage:
			entry.Text = entry.Text + "\n" + translated
		default:
			entry.Text = translated
		}
		a.subtitles.Add(entry)
	}
}

// PauseProcessing stops forwarding captured frames to the segmenter; the
// source keeps running so capture hardware isn't repeatedly reopened.
func (a *AudioProcessor) PauseProcessing() {
	a.paused.Store(true)
}

// ResumeProcessing resumes forwarding frames after a pause.
func (a *AudioProcessor) ResumeProcessing() {
	a.paused.Store(false)
}

// StopProcessing drains the pipeline in order: stop the source, flush the
// final segment, stop accepting new work, wait (bounded) for in-flight
// recognitions, force a final merge, end the session, and announce
// completion on the bus.
func (a *AudioProcessor) StopProcessing() error {
	if !a.ended.CompareAndSwap(false, true) {
		return nil
	}

	if err := a.source.Stop(); err != nil {
		logrus.WithError(err).Warn("error stopping audio source")
	}
	a.handler.Stop()
	a.workers.Stop()

	if !a.joinWithTimeout(joinStopTimeout) {
		logrus.WithField("session_id", a.sessionID).Warn("worker pool did not drain before timeout, continuing shutdown")
	}

	a.merger.MergeAndEmit()
	a.merger.Stop()

	if a.transQueue != nil {
		a.transQueue.Terminate()
		select {
		case <-a.transDone:
		case <-time.After(joinStopTimeout):
			logrus.WithField("session_id", a.sessionID).Warn("translation stage did not drain before timeout, continuing shutdown")
		}
	}
	a.cancel()

	if err := a.sessions.EndSession(a.sessionID); err != nil {
		logrus.WithError(err).Warn("failed to end session")
	}

	if a.bus != nil {
		a.bus.Publish(feedback.Event{
			Type:      feedback.EventProcessingStopped,
			SessionID: a.sessionID,
		})
	}

	logrus.WithField("session_id", a.sessionID).Info("processing stopped")
	return nil
}

func (a *AudioProcessor) joinWithTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.workers.Join()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// SessionID returns the session ID assigned at StartProcessing.
func (a *AudioProcessor) SessionID() string { return a.sessionID }
