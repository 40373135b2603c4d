package audio

import "errors"

var (
	// ErrSegmentTooShort names an empty accumulator. No operation in this
	// package returns it: FlushCurrentSegment on an empty accumulator is a no-op.
	ErrSegmentTooShort = errors.New("audio: segment has no accumulated samples")

	// ErrHandlerStopped is returned by add operations once the handler has been stopped.
	ErrHandlerStopped = errors.New("audio: segment handler stopped")

	// ErrWavEncode wraps failures writing a segment to disk.
	ErrWavEncode = errors.New("audio: wav encode failed")

	// ErrWavDecode wraps failures reading a WAV file or buffer.
	ErrWavDecode = errors.New("audio: wav decode failed")

	// ErrUnsupportedFormat is returned for WAV files outside the accepted
	// PCM 8/16/32-bit, 1/2-channel contract.
	ErrUnsupportedFormat = errors.New("audio: unsupported wav format")
)
