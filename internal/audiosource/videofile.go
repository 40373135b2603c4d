package audiosource

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/Cirno10124/stream-recognizer-go/internal/audio"
)

// VideoFile extracts a video's audio track to a temporary 16kHz mono WAV
// via an external ffmpeg binary, then replays it the same way AudioFile
// does. Video demuxing stays in ffmpeg; this package only shells out.
type VideoFile struct {
	path        string
	ffmpegPath  string
	extractedTo string
	inner       *AudioFile
}

// NewVideoFile builds a source that extracts path's audio track before
// replaying it. ffmpegPath defaults to "ffmpeg" on $PATH if empty.
func NewVideoFile(path, ffmpegPath string) *VideoFile {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &VideoFile{path: path, ffmpegPath: ffmpegPath}
}

// Mode identifies this as the video-file input source.
func (v *VideoFile) Mode() Mode { return ModeVideoFile }

// Start extracts v.path's audio track to a temp WAV file via ffmpeg, then
// delegates to an internal AudioFile source for the replay.
func (v *VideoFile) Start(onFrame FrameFunc) error {
	out, err := os.CreateTemp("", "segment-video-audio-*.wav")
	if err != nil {
		return fmt.Errorf("audiosource: create temp wav: %w", err)
	}
	outPath := out.Name()
	_ = out.Close()

	args := []string{
		"-y",
		"-i", v.path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(audio.CanonicalSampleRate),
		"-f", "wav",
		outPath,
	}
	cmd := exec.Command(v.ffmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("audiosource: ffmpeg extraction failed: %w: %s", err, string(output))
	}

	logrus.WithFields(logrus.Fields{
		"source": v.path,
		"wav":    outPath,
	}).Debug("video audio track extracted")

	v.extractedTo = outPath
	v.inner = NewAudioFile(outPath)
	return v.inner.Start(onFrame)
}

// Stop requests early termination of the replay and removes the extracted
// temp WAV file.
func (v *VideoFile) Stop() error {
	if v.inner != nil {
		_ = v.inner.Stop()
	}
	if v.extractedTo != "" {
		_ = os.Remove(v.extractedTo)
		logrus.WithField("wav", v.extractedTo).Debug("removed extracted video audio temp file")
	}
	return nil
}
