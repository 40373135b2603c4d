package audio

import "math"

// windowSamples is 20ms of audio at CanonicalSampleRate (320 samples).
const windowSamples = CanonicalSampleRate / 50

// VADMode selects classifier sensitivity: 0 is least sensitive, 3 most.
type VADMode int

const (
	VADModeQuality       VADMode = 0
	VADModeLowBitrate    VADMode = 1
	VADModeAggressive    VADMode = 2
	VADModeVeryAggressive VADMode = 3
)

// VADConfig holds the state-machine and threshold parameters.
type VADConfig struct {
	Mode                  VADMode
	MinVoiceFrames        int // frames of voice needed for IDLE->VOICE
	VoiceHoldFrames       int // VOICE->IDLE once consecutive silent frames exceed this
	RequiredSilenceFrames int // consecutive silent windows needed for voice-end

	InitialThreshold float32
}

// DefaultVADConfig mirrors the handler's usual operating point.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Mode:                  VADModeAggressive,
		MinVoiceFrames:        2,
		VoiceHoldFrames:       8,
		RequiredSilenceFrames: 15,
		InitialThreshold:      0.02,
	}
}

type vadState int

const (
	stateIdle vadState = iota
	stateVoice
)

// VoiceActivityDetector classifies frames with hysteresis, tracking a
// rolling window history to support the one-shot voice-end edge trigger.
// Not safe for concurrent use without external synchronization.
type VoiceActivityDetector struct {
	cfg VADConfig

	state          vadState
	voiceCounter   int
	silenceCounter int

	// rolling per-window classification history, most recent last; bounded
	// to RequiredSilenceFrames plus 8 windows of voice lookback.
	windowHistory []bool
	voiceEndFired bool // latched until read by HasVoiceEndedDetected

	threshold        float32
	classifierFailed bool
}

// NewVoiceActivityDetector builds a detector with the given configuration.
func NewVoiceActivityDetector(cfg VADConfig) *VoiceActivityDetector {
	return &VoiceActivityDetector{
		cfg:       cfg,
		threshold: cfg.InitialThreshold,
	}
}

// SetThreshold installs an adaptively computed energy threshold, clamped to
// the contractual [0.005, 0.1] range.
func (v *VoiceActivityDetector) SetThreshold(t float32) {
	if t < 0.005 {
		t = 0.005
	}
	if t > 0.1 {
		t = 0.1
	}
	v.threshold = t
}

// MarkClassifierUnavailable switches the detector to energy-only mode; used
// when the underlying frame classifier fails to initialize.
func (v *VoiceActivityDetector) MarkClassifierUnavailable() {
	v.classifierFailed = true
}

// Detect classifies frame, updates the latched state machine, and returns
// the latched (not raw windowed) voice/silence decision: true means voice.
func (v *VoiceActivityDetector) Detect(samples []float32) bool {
	anyVoice := false
	for start := 0; start < len(samples); start += windowSamples {
		end := start + windowSamples
		if end > len(samples) {
			end = len(samples)
		}
		window := samples[start:end]
		isVoice := v.classifyWindow(window)
		v.recordWindow(isVoice)
		if isVoice {
			anyVoice = true
		}
	}
	if len(samples) == 0 {
		v.recordWindow(false)
	}

	v.UpdateVoiceState(!anyVoice)
	return v.state == stateVoice
}

// modeScale adjusts the effective energy threshold by VADMode: lower modes
// call more borderline audio voice (favoring recall in clean input), higher
// modes demand a stronger signal before doing so (favoring rejection of
// background noise), mirroring the mode 0-3 sensitivity knob.
var modeScale = map[VADMode]float32{
	VADModeQuality:        0.7,
	VADModeLowBitrate:     0.85,
	VADModeAggressive:     1.0,
	VADModeVeryAggressive: 1.3,
}

func (v *VoiceActivityDetector) effectiveThreshold() float32 {
	scale, ok := modeScale[v.cfg.Mode]
	if !ok {
		scale = 1.0
	}
	return v.threshold * scale
}

// classifyWindow applies the binary energy classifier (the only classifier
// available once the underlying decoder-assisted one has failed; per
// contract the VAD degrades to energy-only rather than erroring).
func (v *VoiceActivityDetector) classifyWindow(window []float32) bool {
	return rms(window) >= v.effectiveThreshold()
}

func (v *VoiceActivityDetector) recordWindow(isVoice bool) {
	v.windowHistory = append(v.windowHistory, isVoice)
	maxHistory := v.cfg.RequiredSilenceFrames + 8
	if len(v.windowHistory) > maxHistory {
		v.windowHistory = v.windowHistory[len(v.windowHistory)-maxHistory:]
	}
	v.checkVoiceEnd()
}

// checkVoiceEnd latches the one-shot voice-end trigger: the last
// RequiredSilenceFrames windows are silence AND at least 3 windows of prior
// voice exist in the retained history.
func (v *VoiceActivityDetector) checkVoiceEnd() {
	n := len(v.windowHistory)
	need := v.cfg.RequiredSilenceFrames
	if n < need {
		return
	}
	tail := v.windowHistory[n-need:]
	for _, w := range tail {
		if w {
			return
		}
	}
	priorVoiceCount := 0
	for _, w := range v.windowHistory[:n-need] {
		if w {
			priorVoiceCount++
		}
	}
	if priorVoiceCount >= 3 {
		v.voiceEndFired = true
	}
}

// HasVoiceEndedDetected is a one-shot read: it returns the latched
// voice-end flag and clears it.
func (v *VoiceActivityDetector) HasVoiceEndedDetected() bool {
	fired := v.voiceEndFired
	v.voiceEndFired = false
	return fired
}

// ResetVoiceEndDetection clears the latch and window history without
// touching the frame-level state machine.
func (v *VoiceActivityDetector) ResetVoiceEndDetection() {
	v.voiceEndFired = false
	v.windowHistory = nil
}

// UpdateVoiceState advances the hysteresis state machine given whether the
// current frame classified as silence.
func (v *VoiceActivityDetector) UpdateVoiceState(isSilence bool) {
	if isSilence {
		v.silenceCounter++
		v.voiceCounter = 0
		if v.state == stateVoice && v.silenceCounter > v.cfg.VoiceHoldFrames {
			v.state = stateIdle
		}
	} else {
		v.voiceCounter++
		v.silenceCounter = 0
		if v.state == stateIdle && v.voiceCounter >= v.cfg.MinVoiceFrames {
			v.state = stateVoice
		}
	}
}

// EnergyCollector accumulates per-frame RMS over roughly a 90s window to
// derive an adaptive VAD threshold.
type EnergyCollector struct {
	targetSamples int
	seen          int
	frames        int
	sum           float64
}

// NewEnergyCollector builds a collector that becomes Ready after
// approximately windowSeconds of audio at the canonical sample rate.
func NewEnergyCollector(windowSeconds float64) *EnergyCollector {
	return &EnergyCollector{
		targetSamples: int(windowSeconds * CanonicalSampleRate),
	}
}

// Add folds one frame's RMS into the running mean.
func (c *EnergyCollector) Add(samples []float32) {
	if c.seen >= c.targetSamples {
		return
	}
	c.sum += float64(rms(samples))
	c.seen += len(samples)
	c.frames++
}

// Ready reports whether enough audio has been observed to compute a
// threshold.
func (c *EnergyCollector) Ready() bool {
	return c.targetSamples > 0 && c.seen >= c.targetSamples
}

// Threshold returns 0.8x the mean per-frame energy, clamped to
// [0.005, 0.1]. Call only once Ready reports true.
func (c *EnergyCollector) Threshold() float32 {
	frames := c.frames
	if frames == 0 {
		frames = 1
	}
	mean := c.sum / float64(frames)
	t := 0.8 * mean
	return float32(math.Max(0.005, math.Min(0.1, t)))
}
