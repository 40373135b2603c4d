package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sineWave(n int, freq, sampleRate float64, amp float32) []float32 {
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = amp * float32(math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return buf
}

func TestPreprocessor_ProcessEmptyIsNoop(t *testing.T) {
	p := NewPreprocessor(DefaultPreprocessorConfig())
	var buf []float32
	assert.NotPanics(t, func() { p.Process(buf, CanonicalSampleRate) })
}

func TestPreprocessor_AGCRaisesQuietSignalTowardTarget(t *testing.T) {
	cfg := DefaultPreprocessorConfig()
	cfg.UsePreEmphasis = false
	cfg.UseHighPass = false
	cfg.UseCompression = false
	cfg.UseNoiseSuppression = false
	cfg.AttackTime = 1.0
	cfg.ReleaseTime = 1.0

	p := NewPreprocessor(cfg)
	buf := sineWave(1600, 440, CanonicalSampleRate, 0.01)
	before := rms(buf)

	p.Process(buf, CanonicalSampleRate)
	after := rms(buf)

	assert.Greater(t, after, before)
}

func TestPreprocessor_FinalGainClips(t *testing.T) {
	cfg := PreprocessorConfig{
		UseFinalGain:    true,
		FinalGainFactor: 10,
	}
	p := NewPreprocessor(cfg)
	buf := []float32{0.5, -0.5, 0.05}
	p.Process(buf, CanonicalSampleRate)

	assert.Equal(t, float32(1.0), buf[0])
	assert.Equal(t, float32(-1.0), buf[1])
	assert.InDelta(t, float64(0.5), float64(buf[2]), 1e-6)
}

func TestPreprocessor_CompressionReducesPeaksAboveThreshold(t *testing.T) {
	cfg := PreprocessorConfig{
		UseCompression:       true,
		CompressionThreshold: 0.5,
		CompressionRatio:     4,
	}
	p := NewPreprocessor(cfg)
	buf := []float32{0.9, -0.9, 0.3}
	p.Process(buf, CanonicalSampleRate)

	assert.InDelta(t, float64(0.5+0.4/4), float64(buf[0]), 1e-6)
	assert.InDelta(t, float64(-(0.5 + 0.4/4)), float64(buf[1]), 1e-6)
	assert.Equal(t, float32(0.3), buf[2])
}

func TestPreprocessor_HighPassStatePersistsAcrossCalls(t *testing.T) {
	cfg := PreprocessorConfig{UseHighPass: true, HighPassCutoff: 80}
	p := NewPreprocessor(cfg)

	buf1 := []float32{0.1, 0.1, 0.1, 0.1}
	p.Process(buf1, CanonicalSampleRate)
	assert.NotEqual(t, [2]float32{0, 0}, p.hpState)

	buf2 := []float32{0.1, 0.1}
	assert.NotPanics(t, func() { p.Process(buf2, CanonicalSampleRate) })
}

func TestPreprocessor_DisableNoiseSuppressionSkipsStage(t *testing.T) {
	cfg := DefaultPreprocessorConfig()
	p := NewPreprocessor(cfg)
	p.DisableNoiseSuppression()

	buf := sineWave(320, 440, CanonicalSampleRate, 0.3)
	cp := make([]float32, len(buf))
	copy(cp, buf)

	assert.NotPanics(t, func() { p.Process(buf, CanonicalSampleRate) })

	ref := cfg
	ref.UseNoiseSuppression = false
	NewPreprocessor(ref).Process(cp, CanonicalSampleRate)
	assert.Equal(t, cp, buf)
}
