package audiosource

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Cirno10124/stream-recognizer-go/internal/audio"
)

// frameSamples is 20ms of canonical-rate audio (320 samples), the same
// window the VAD classifies, so a file source's frames line up with the
// segmenter/VAD's expected cadence.
const frameSamples = audio.CanonicalSampleRate / 50

// AudioFile decodes a WAV file and replays it as a sequence of fixed-size
// frames, ending with an is_last sentinel.
type AudioFile struct {
	path    string
	codec   *audio.WavCodec
	stopped atomic.Bool
}

// NewAudioFile builds a file source reading path, assumed already decoded
// to WAV PCM; arbitrary format conversion is the caller's responsibility.
func NewAudioFile(path string) *AudioFile {
	return &AudioFile{
		path:  path,
		codec: audio.NewWavCodec(audio.CanonicalSampleRate),
	}
}

// Mode identifies this as the pre-recorded audio file input source.
func (a *AudioFile) Mode() Mode { return ModeAudioFile }

// Start decodes the file and pushes it through onFrame synchronously,
// returning once the is_last frame has been delivered (or Stop is called).
func (a *AudioFile) Start(onFrame FrameFunc) error {
	samples, sampleRate, err := a.codec.Decode(a.path)
	if err != nil {
		return fmt.Errorf("audiosource: decode %s: %w", a.path, err)
	}
	if sampleRate != audio.CanonicalSampleRate {
		return fmt.Errorf("audiosource: %s is %d Hz, expected %d Hz (transcode externally first)", a.path, sampleRate, audio.CanonicalSampleRate)
	}

	for offset := 0; offset < len(samples); offset += frameSamples {
		if a.stopped.Load() {
			return nil
		}
		end := offset + frameSamples
		if end > len(samples) {
			end = len(samples)
		}
		chunk := make([]float32, end-offset)
		copy(chunk, samples[offset:end])
		onFrame(audio.Frame{
			Samples:    chunk,
			SampleRate: audio.CanonicalSampleRate,
			Channels:   1,
			Timestamp:  time.Now(),
		})
	}

	onFrame(audio.Frame{IsLast: true, SampleRate: audio.CanonicalSampleRate, Channels: 1, Timestamp: time.Now()})
	return nil
}

// Stop requests Start's replay loop end early; Start returns nil without
// delivering the remaining frames (the is_last sentinel is still skipped,
// matching a mid-session cancellation rather than a natural end).
func (a *AudioFile) Stop() error {
	a.stopped.Store(true)
	return nil
}
