package audio

import "math"

// PreprocessorConfig holds the enable flags and numeric parameters for each
// DSP stage. Field names and defaults mirror the recognized config keys
// under the "preprocessing" subsystem.
type PreprocessorConfig struct {
	UsePreEmphasis  bool
	PreEmphasisCoef float32 // alpha in [0, 0.99], common 0.97

	UseHighPass    bool
	HighPassCutoff float32 // Hz, common 80

	UseAGC      bool
	TargetLevel float32 // 0.0-1.0, common 0.1
	MinGain     float32
	MaxGain     float32
	AttackTime  float32
	ReleaseTime float32

	UseCompression       bool
	CompressionThreshold float32 // 0.0-1.0
	CompressionRatio     float32 // 1.0-20.0

	UseNoiseSuppression      bool
	NoiseSuppressionStrength float32
	NoiseSuppressionMixRatio float32 // 0 = processed only, 1 = original only
	UseAdaptiveSuppression   bool

	UseFinalGain    bool
	FinalGainFactor float32 // suggested 1.0-3.0
}

// DefaultPreprocessorConfig returns the chain's standard operating point.
func DefaultPreprocessorConfig() PreprocessorConfig {
	return PreprocessorConfig{
		UsePreEmphasis:  true,
		PreEmphasisCoef: 0.97,

		UseHighPass:    true,
		HighPassCutoff: 80,

		UseAGC:      true,
		TargetLevel: 0.1,
		MinGain:     0.5,
		MaxGain:     4.0,
		AttackTime:  0.01,
		ReleaseTime: 0.1,

		UseCompression:       true,
		CompressionThreshold: 0.5,
		CompressionRatio:     4.0,

		UseNoiseSuppression:      true,
		NoiseSuppressionStrength: 0.5,
		NoiseSuppressionMixRatio: 0.3,
		UseAdaptiveSuppression:   true,

		UseFinalGain:    false,
		FinalGainFactor: 1.5,
	}
}

// Preprocessor applies the fixed-order DSP chain in place: pre-emphasis,
// high-pass, AGC, compression, noise suppression, final gain. High-pass
// filter memory and AGC gain persist across calls; everything else is
// stateless per frame.
type Preprocessor struct {
	cfg PreprocessorConfig

	hpState     [2]float32 // previous input/output sample for the high-pass filter
	currentGain float32    // AGC's running gain
	denoiserOK  bool       // false once noise-suppression init has failed
}

// NewPreprocessor builds a chain with the given configuration.
func NewPreprocessor(cfg PreprocessorConfig) *Preprocessor {
	return &Preprocessor{
		cfg:         cfg,
		currentGain: 1.0,
		denoiserOK:  true,
	}
}

// Process runs the enabled stages, in order, over buf in place.
func (p *Preprocessor) Process(buf []float32, sampleRate int) {
	if len(buf) == 0 {
		return
	}
	if p.cfg.UsePreEmphasis {
		p.applyPreEmphasis(buf, p.cfg.PreEmphasisCoef)
	}
	if p.cfg.UseHighPass {
		p.applyHighPass(buf, p.cfg.HighPassCutoff, sampleRate)
	}
	if p.cfg.UseAGC {
		p.applyAGC(buf, p.cfg.TargetLevel)
	}
	if p.cfg.UseCompression {
		p.applyCompression(buf)
	}
	if p.cfg.UseNoiseSuppression && p.denoiserOK {
		p.applyNoiseSuppression(buf)
	}
	if p.cfg.UseFinalGain {
		p.applyFinalGain(buf)
	}
}

// applyPreEmphasis computes y[n] = x[n] - alpha*x[n-1], then rescales so
// output RMS stays within [0.5x, 2x] of the input RMS.
func (p *Preprocessor) applyPreEmphasis(buf []float32, alpha float32) {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 0.99 {
		alpha = 0.99
	}

	inRMS := rms(buf)

	prev := float32(0)
	for i, x := range buf {
		y := x - alpha*prev
		prev = x
		buf[i] = y
	}

	outRMS := rms(buf)
	if inRMS <= 0 || outRMS <= 0 {
		return
	}
	ratio := outRMS / inRMS
	if ratio < 0.5 {
		scale := 0.5 / ratio
		scaleBuf(buf, scale)
	} else if ratio > 2.0 {
		scale := 2.0 / ratio
		scaleBuf(buf, scale)
	}
}

// applyHighPass is a one-pole high-pass filter with cutoff cutoffHz; the
// filter's previous input/output persist in p.hpState across calls.
func (p *Preprocessor) applyHighPass(buf []float32, cutoffHz float32, sampleRate int) {
	if cutoffHz <= 0 || sampleRate <= 0 {
		return
	}
	dt := float32(1.0 / float64(sampleRate))
	rc := float32(1.0 / (2 * math.Pi * float64(cutoffHz)))
	alpha := rc / (rc + dt)

	prevIn, prevOut := p.hpState[0], p.hpState[1]
	for i, x := range buf {
		y := alpha * (prevOut + x - prevIn)
		prevIn = x
		prevOut = y
		buf[i] = y
	}
	p.hpState[0], p.hpState[1] = prevIn, prevOut
}

// applyAGC computes the per-frame RMS, derives a desired gain toward
// targetLevel, smooths it with the configured attack/release, and applies
// it with clipping to [-1, 1]. The running gain persists in p.currentGain.
func (p *Preprocessor) applyAGC(buf []float32, targetLevel float32) {
	r := rms(buf)
	if r <= 1e-9 {
		return
	}

	desired := targetLevel / r
	if desired < p.cfg.MinGain {
		desired = p.cfg.MinGain
	}
	if desired > p.cfg.MaxGain {
		desired = p.cfg.MaxGain
	}

	smoothing := p.cfg.ReleaseTime
	if desired > p.currentGain {
		smoothing = p.cfg.AttackTime
	}
	if smoothing <= 0 {
		smoothing = 1
	}
	if smoothing > 1 {
		smoothing = 1
	}

	p.currentGain = smoothing*desired + (1-smoothing)*p.currentGain

	for i, x := range buf {
		buf[i] = clip(x * p.currentGain)
	}
}

// applyCompression reduces samples above CompressionThreshold so the ratio
// beyond the threshold is 1:CompressionRatio.
func (p *Preprocessor) applyCompression(buf []float32) {
	threshold := p.cfg.CompressionThreshold
	ratio := p.cfg.CompressionRatio
	if ratio <= 0 {
		ratio = 1
	}
	for i, x := range buf {
		mag := float32(math.Abs(float64(x)))
		if mag <= threshold {
			continue
		}
		over := mag - threshold
		compressed := threshold + over/ratio
		if x < 0 {
			buf[i] = -compressed
		} else {
			buf[i] = compressed
		}
	}
}

// applyNoiseSuppression mixes a simple spectral-floor gate (standing in for
// the fixed-frame denoiser) with the original signal at NoiseSuppressionMixRatio.
// If the adaptive policy would drive the mixed RMS below a VAD-relevant
// floor, the mix is biased back toward the original.
func (p *Preprocessor) applyNoiseSuppression(buf []float32) {
	floor := p.cfg.NoiseSuppressionStrength * 0.02
	processed := make([]float32, len(buf))
	for i, x := range buf {
		if float32(math.Abs(float64(x))) < floor {
			processed[i] = x * 0.2
		} else {
			processed[i] = x
		}
	}

	mix := p.cfg.NoiseSuppressionMixRatio
	if mix < 0 {
		mix = 0
	}
	if mix > 1 {
		mix = 1
	}

	if p.cfg.UseAdaptiveSuppression {
		const vadRelevantFloor = 0.01
		if rms(processed) < vadRelevantFloor {
			mix = float32(math.Min(float64(mix)+0.3, 1.0))
		}
	}

	for i := range buf {
		buf[i] = processed[i]*(1-mix) + buf[i]*mix
	}
}

// applyFinalGain multiplies every sample by FinalGainFactor then clips.
func (p *Preprocessor) applyFinalGain(buf []float32) {
	for i, x := range buf {
		buf[i] = clip(x * p.cfg.FinalGainFactor)
	}
}

// DisableNoiseSuppression is invoked when denoiser initialization fails;
// the chain continues without that stage.
func (p *Preprocessor) DisableNoiseSuppression() {
	p.denoiserOK = false
}

func rms(buf []float32) float32 {
	if len(buf) == 0 {
		return 0
	}
	var sum float64
	for _, x := range buf {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum / float64(len(buf))))
}

func scaleBuf(buf []float32, scale float32) {
	for i := range buf {
		buf[i] *= scale
	}
}

func clip(x float32) float32 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}
