package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cirno10124/stream-recognizer-go/internal/pipeline"
)

func voicedFrame(n int) Frame {
	return Frame{Samples: sineWave(n, 440, CanonicalSampleRate, 0.4), SampleRate: CanonicalSampleRate, Channels: 1}
}

func TestSegmentHandler_EmitsOnVoiceEnd(t *testing.T) {
	h, err := NewRealtimeSegmentHandler(t.TempDir(), 10000)
	require.NoError(t, err)

	var got []pipeline.AudioSegment
	h.SetSegmentReadyCallback(func(s pipeline.AudioSegment) {
		got = append(got, s)
	})
	h.Start()

	f := voicedFrame(1600)
	f.VoiceEnd = true
	require.NoError(t, h.AddBuffer(f))

	require.Len(t, got, 1)
	assert.EqualValues(t, 1, got[0].SequenceNumber)
	assert.False(t, got[0].IsLast)
}

func TestSegmentHandler_EmitsOnSizeThreshold(t *testing.T) {
	h, err := NewRealtimeSegmentHandler(t.TempDir(), 100) // 1600 samples target
	require.NoError(t, err)

	var got []pipeline.AudioSegment
	h.SetSegmentReadyCallback(func(s pipeline.AudioSegment) { got = append(got, s) })
	h.Start()

	require.NoError(t, h.AddBuffer(voicedFrame(2000)))
	require.Len(t, got, 1)
}

func TestSegmentHandler_LastFrameForcesFinalEmit(t *testing.T) {
	h, err := NewRealtimeSegmentHandler(t.TempDir(), 10000)
	require.NoError(t, err)

	var got []pipeline.AudioSegment
	h.SetSegmentReadyCallback(func(s pipeline.AudioSegment) { got = append(got, s) })
	h.Start()

	require.NoError(t, h.AddBuffer(voicedFrame(800)))
	require.NoError(t, h.AddBuffer(Frame{IsLast: true}))

	require.Len(t, got, 1)
	assert.True(t, got[0].IsLast)
}

func TestSegmentHandler_LongSilenceForcesEmitWithKeptLeadingPause(t *testing.T) {
	h, err := NewRealtimeSegmentHandler(t.TempDir(), 10000)
	require.NoError(t, err)

	var got []pipeline.AudioSegment
	h.SetSegmentReadyCallback(func(s pipeline.AudioSegment) { got = append(got, s) })
	h.Start()

	require.NoError(t, h.AddBuffer(voicedFrame(800)))

	silenceSamples := 400 * CanonicalSampleRate / 1000 // 400ms > 300ms threshold
	require.NoError(t, h.AddBuffer(Frame{
		Samples:   make([]float32, silenceSamples),
		IsSilence: true,
	}))

	require.Len(t, got, 1)
}

func TestSegmentHandler_PureSilenceStreamEmitsNothing(t *testing.T) {
	h, err := NewRealtimeSegmentHandler(t.TempDir(), 10000)
	require.NoError(t, err)

	var got []pipeline.AudioSegment
	h.SetSegmentReadyCallback(func(s pipeline.AudioSegment) { got = append(got, s) })
	h.Start()

	chunkSamples := 400 * CanonicalSampleRate / 1000 // 400ms > 300ms threshold, repeated
	for i := 0; i < 25; i++ {                         // ~10s of pure silence
		require.NoError(t, h.AddBuffer(Frame{
			Samples:   make([]float32, chunkSamples),
			IsSilence: true,
		}))
	}

	assert.Empty(t, got, "a stream with no accumulated voice should never force a silence-only segment")
}

func TestSegmentHandler_EmptyStreamIsLastEmitsZeroLengthSentinel(t *testing.T) {
	h, err := NewRealtimeSegmentHandler(t.TempDir(), 10000)
	require.NoError(t, err)

	var got []pipeline.AudioSegment
	h.SetSegmentReadyCallback(func(s pipeline.AudioSegment) { got = append(got, s) })
	h.Start()

	require.NoError(t, h.AddBuffer(Frame{IsLast: true}))

	require.Len(t, got, 1)
	assert.True(t, got[0].IsLast)
	assert.Empty(t, got[0].FilePath)
	assert.EqualValues(t, 1, got[0].SequenceNumber)
}

func TestSegmentHandler_RejectsFramesAfterStop(t *testing.T) {
	h, err := NewRealtimeSegmentHandler(t.TempDir(), 10000)
	require.NoError(t, err)
	h.Start()
	h.Stop()

	err = h.AddBuffer(voicedFrame(100))
	assert.ErrorIs(t, err, ErrHandlerStopped)
}

func TestSegmentHandler_FlushEmitsAccumulated(t *testing.T) {
	h, err := NewRealtimeSegmentHandler(t.TempDir(), 10000)
	require.NoError(t, err)

	var got []pipeline.AudioSegment
	h.SetSegmentReadyCallback(func(s pipeline.AudioSegment) { got = append(got, s) })
	h.Start()

	require.NoError(t, h.AddBuffer(voicedFrame(400)))
	h.FlushCurrentSegment()

	require.Len(t, got, 1)
	assert.True(t, got[0].IsLast)

	h.FlushCurrentSegment()
	assert.Len(t, got, 1, "flushing an empty accumulator must emit nothing")
}

func TestSegmentHandler_SequenceNumbersIncreaseMonotonically(t *testing.T) {
	h, err := NewRealtimeSegmentHandler(t.TempDir(), 100)
	require.NoError(t, err)

	var got []pipeline.AudioSegment
	h.SetSegmentReadyCallback(func(s pipeline.AudioSegment) { got = append(got, s) })
	h.Start()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.AddBuffer(voicedFrame(2000)))
	}

	require.Len(t, got, 3)
	assert.EqualValues(t, 1, got[0].SequenceNumber)
	assert.EqualValues(t, 2, got[1].SequenceNumber)
	assert.EqualValues(t, 3, got[2].SequenceNumber)
}

func TestSegmentHandler_TimeBasedForceEmitOnStall(t *testing.T) {
	h, err := NewRealtimeSegmentHandler(t.TempDir(), 100000) // huge target, never hit by size
	require.NoError(t, err)

	var got []pipeline.AudioSegment
	h.SetSegmentReadyCallback(func(s pipeline.AudioSegment) { got = append(got, s) })
	h.Start()

	h.mu.Lock()
	h.lastSegmentTime = time.Now().Add(-6 * time.Second)
	h.mu.Unlock()

	require.NoError(t, h.AddBuffer(voicedFrame(160)))
	require.Len(t, got, 1)
}
