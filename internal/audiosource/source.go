// Package audiosource implements the three input sources the orchestrator
// switches across: a live microphone, a pre-recorded audio file, and a
// video file whose audio track is extracted first. All three push
// audio.Frame values into the pipeline via a non-blocking callback; the
// capture side must never block waiting on the rest of the pipeline.
package audiosource

import (
	"github.com/Cirno10124/stream-recognizer-go/internal/audio"
)

// Mode identifies which input source a session is bound to.
type Mode string

const (
	ModeMicrophone Mode = "microphone"
	ModeAudioFile  Mode = "audio_file"
	ModeVideoFile  Mode = "video_file"
)

// FrameFunc receives one captured/decoded frame. Implementations must not
// block for long: the segment handler that normally sits behind this
// callback processes synchronously on the calling goroutine.
type FrameFunc func(audio.Frame)

// Source is the common contract across Microphone, AudioFile, and
// VideoFile input. Start begins producing frames on its own goroutine (for
// Microphone) or drives them synchronously before returning (for
// AudioFile/VideoFile). AudioFile/VideoFile end a complete replay with a
// frame that has IsLast set; a replay cut short by Stop ends without one,
// and Microphone never emits one.
type Source interface {
	Mode() Mode
	Start(onFrame FrameFunc) error
	Stop() error
}
