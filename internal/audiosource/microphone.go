package audiosource

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/Cirno10124/stream-recognizer-go/internal/audio"
	"github.com/Cirno10124/stream-recognizer-go/internal/queue"
)

// chunkQueueCapacity bounds how many undelivered capture chunks are held
// before the oldest is dropped; the malgo audio callback must never block.
const chunkQueueCapacity = 64

// Microphone captures live audio via malgo and delivers resampled,
// canonical-rate frames to the pipeline.
type Microphone struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	deviceRate uint32
	targetRate uint32

	chunks  *queue.BoundedQueue[[]float32]
	running atomic.Bool
	done    chan struct{}
}

// NewMicrophone builds a capturer targeting audio.CanonicalSampleRate.
func NewMicrophone() *Microphone {
	return &Microphone{
		targetRate: audio.CanonicalSampleRate,
	}
}

// Mode identifies this as the live-capture input source.
func (m *Microphone) Mode() Mode { return ModeMicrophone }

// Start opens the default capture device and begins delivering frames on a
// dedicated consumer goroutine; the malgo audio callback itself only
// pushes onto a bounded queue and returns immediately.
func (m *Microphone) Start(onFrame FrameFunc) error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audiosource: init audio context: %w", err)
	}
	m.ctx = ctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = m.targetRate
	deviceConfig.PeriodSizeInMilliseconds = 32

	m.chunks = queue.New[[]float32](chunkQueueCapacity, func([]float32) {
		logrus.Warn("microphone: capture queue full, dropping oldest chunk")
	})
	m.done = make(chan struct{})

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if !m.running.Load() {
			return
		}
		samples := bytesToFloat32(pInputSamples)
		if len(samples) > 0 {
			m.chunks.Push(samples)
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		_ = ctx.Uninit()
		return fmt.Errorf("audiosource: init capture device: %w", err)
	}
	m.device = device
	m.deviceRate = device.SampleRate()

	m.running.Store(true)
	go m.consumeLoop(onFrame)

	if err := device.Start(); err != nil {
		m.running.Store(false)
		return fmt.Errorf("audiosource: start capture device: %w", err)
	}
	return nil
}

func (m *Microphone) consumeLoop(onFrame FrameFunc) {
	defer close(m.done)
	for {
		samples, ok := m.chunks.Pop(true)
		if !ok {
			return
		}
		if m.deviceRate != 0 && m.deviceRate != m.targetRate {
			samples = resampleLinear(samples, int(m.deviceRate), int(m.targetRate))
		}
		onFrame(audio.Frame{
			Samples:    samples,
			SampleRate: m.targetRate,
			Channels:   1,
			Timestamp:  time.Now(),
		})
	}
}

// Stop terminates the chunk queue, waits for the consumer goroutine to
// drain, then tears down the capture device and context. It does not emit a
// sentinel frame itself; the caller flushes the segmenter after stopping.
// Safe to call more than once.
func (m *Microphone) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	m.chunks.Terminate()
	<-m.done

	if m.device != nil {
		m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
	return nil
}

func bytesToFloat32(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// resampleLinear is a minimal linear-interpolation resampler used when the
// device's native rate differs from the canonical 16kHz pipeline rate.
func resampleLinear(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(in) == 0 {
		return in
	}
	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(in)) / ratio)
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		if i0 >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(srcPos - float64(i0))
		out[i] = in[i0]*(1-frac) + in[i0+1]*frac
	}
	return out
}
