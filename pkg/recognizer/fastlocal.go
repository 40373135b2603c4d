// Package recognizer implements the pipeline.Backend variants: an
// in-process sherpa-onnx model (FastLocal), a local precise-recognition
// HTTP service (PreciseHTTP), and an OpenAI-compatible cloud endpoint
// (CloudHTTP).
package recognizer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go-linux"
	"github.com/sirupsen/logrus"

	"github.com/Cirno10124/stream-recognizer-go/internal/audio"
	"github.com/Cirno10124/stream-recognizer-go/internal/pipeline"
)

// FastLocalConfig configures the in-process offline recognizer.
type FastLocalConfig struct {
	Encoder    string
	Decoder    string
	Tokens     string
	Language   string // "auto" maps to "" (model auto-detect)
	Provider   string // "cpu" or "cuda"; empty selects DefaultProvider()
	NumThreads int
	Debug      bool
}

// DefaultProvider uses the one-shot GPU-availability check HasNvidiaGPU:
// "cuda" when an NVIDIA GPU is detected, "cpu" otherwise.
func DefaultProvider() string {
	if HasNvidiaGPU() {
		return "cuda"
	}
	return "cpu"
}

var (
	gpuCheckOnce sync.Once
	gpuAvailable bool
)

// HasNvidiaGPU reports whether an NVIDIA GPU is present, probed once on
// first call and cached for the life of the process.
func HasNvidiaGPU() bool {
	gpuCheckOnce.Do(func() {
		for _, path := range []string{"/usr/bin/nvidia-smi", "/usr/local/bin/nvidia-smi", "/opt/nvidia/bin/nvidia-smi"} {
			if _, err := os.Stat(path); err == nil {
				gpuAvailable = true
				return
			}
		}
	})
	return gpuAvailable
}

// FastLocal recognizes segments with an in-process sherpa-onnx offline
// recognizer. Recognize calls are serialized by an internal mutex, so
// concurrent calls on one instance are safe and run one at a time.
type FastLocal struct {
	mu         sync.Mutex
	recognizer *sherpa.OfflineRecognizer
	codec      *audio.WavCodec
}

// NewFastLocal loads the configured model and returns a ready backend.
func NewFastLocal(cfg FastLocalConfig) (*FastLocal, error) {
	language := cfg.Language
	if strings.EqualFold(language, "auto") {
		language = ""
	}
	provider := cfg.Provider
	if provider == "" {
		provider = DefaultProvider()
	}
	numThreads := cfg.NumThreads
	if numThreads <= 0 {
		numThreads = 2
	}

	rc := &sherpa.OfflineRecognizerConfig{}
	rc.ModelConfig.Whisper.Encoder = cfg.Encoder
	rc.ModelConfig.Whisper.Decoder = cfg.Decoder
	rc.ModelConfig.Whisper.Language = language
	rc.ModelConfig.Whisper.Task = "transcribe"
	rc.ModelConfig.Whisper.TailPaddings = -1
	rc.ModelConfig.Tokens = cfg.Tokens
	rc.ModelConfig.NumThreads = numThreads
	rc.ModelConfig.Provider = provider
	rc.DecodingMethod = "greedy_search"
	if cfg.Debug {
		rc.ModelConfig.Debug = 1
	}

	r := sherpa.NewOfflineRecognizer(rc)
	if r == nil {
		return nil, fmt.Errorf("recognizer: failed to initialize fastlocal offline recognizer")
	}

	return &FastLocal{
		recognizer: r,
		codec:      audio.NewWavCodec(audio.CanonicalSampleRate),
	}, nil
}

// Name identifies this backend in logs and events.
func (f *FastLocal) Name() string { return "fastlocal" }

// Recognize decodes the segment's WAV file and runs it through the
// in-process model. Never retried by the caller on decode failure, since
// that indicates a malformed segment rather than a transient error.
func (f *FastLocal) Recognize(ctx context.Context, seg pipeline.AudioSegment) (pipeline.RecognitionResult, error) {
	samples, sampleRate, err := f.codec.Decode(seg.FilePath)
	if err != nil {
		return pipeline.RecognitionResult{}, fmt.Errorf("%w: %v", pipeline.ErrMalformedRequest, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stream := sherpa.NewOfflineStream(f.recognizer)
	if stream == nil {
		return pipeline.RecognitionResult{}, fmt.Errorf("recognizer: failed to create offline stream")
	}
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(int(sampleRate), samples)
	f.recognizer.Decode(stream)
	result := stream.GetResult()
	text := strings.TrimSpace(result.Text)

	logrus.WithFields(logrus.Fields{
		"backend":  f.Name(),
		"sequence": seg.SequenceNumber,
	}).Debug("fastlocal recognition complete")

	return pipeline.RecognitionResult{
		Text:           text,
		SequenceNumber: int64(seg.SequenceNumber),
		Timestamp:      seg.Timestamp,
		DurationMs:     int64(seg.DurationMs),
		IsLast:         seg.IsLast,
		HasOverlap:     seg.HasOverlap,
		OverlapMs:      seg.OverlapMs,
	}, nil
}

// Close releases the underlying recognizer.
func (f *FastLocal) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(f.recognizer)
		f.recognizer = nil
	}
}
