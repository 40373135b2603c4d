// Package audio implements the capture-side DSP chain: pre-processing,
// voice activity detection, segmentation into bounded WAV segments, and
// the WAV codec itself.
package audio

import "time"

// Frame is one quantum of captured audio, assigned a monotonic timestamp at
// capture time. Samples are f32 PCM in [-1.0, 1.0].
type Frame struct {
	Samples    []float32
	SampleRate uint32
	Channels   uint8
	Timestamp  time.Time

	IsLast    bool // sentinel marking end-of-stream
	IsSilence bool // set by the VAD after classification
	VoiceEnd  bool // set when the VAD transitions voice->silence with sufficient prior speech
}

// CanonicalSampleRate is the sample rate the rest of the pipeline assumes;
// non-sentinel frames must be resampled to this rate before entering the
// preprocessor.
const CanonicalSampleRate = 16000
