package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WavCodec encodes f32 PCM sample slices to 16-bit mono RIFF/WAVE files and
// decodes them back, the on-disk format handed to recognition backends.
type WavCodec struct {
	SampleRate uint32
}

// NewWavCodec builds a codec fixed to the given sample rate.
func NewWavCodec(sampleRate uint32) *WavCodec {
	return &WavCodec{SampleRate: sampleRate}
}

// Encode writes samples as mono 16-bit PCM to path, fully flushed before
// returning, per the segmenter's "WAV files are fully flushed before the
// callback returns a path" invariant.
func (c *WavCodec) Encode(path string, samples []float32) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWavEncode, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %v", ErrWavEncode, cerr)
		}
	}()

	const bitsPerSample = 16
	const numChannels = 1
	dataSize := uint32(len(samples) * 2)
	byteRate := c.SampleRate * numChannels * bitsPerSample / 8
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	if err = writeAll(f,
		[]byte("RIFF"),
		le32(36+dataSize),
		[]byte("WAVE"),
		[]byte("fmt "),
		le32(16),
		le16(1), // PCM
		le16(numChannels),
		le32(c.SampleRate),
		le32(byteRate),
		le16(blockAlign),
		le16(bitsPerSample),
		[]byte("data"),
		le32(dataSize),
	); err != nil {
		return fmt.Errorf("%w: %v", ErrWavEncode, err)
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(clip(s) * 32767)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	if _, err = f.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrWavEncode, err)
	}
	return nil
}

// Decode reads a mono or stereo PCM WAV file (8, 16 or 32 bits per sample)
// and returns its samples as mono f32, downmixing stereo by averaging
// channels.
func (c *WavCodec) Decode(path string) ([]float32, uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrWavDecode, err)
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrWavDecode, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: not a RIFF/WAVE file", ErrWavDecode)
	}

	var sampleRate uint32
	var numChannels, bitsPerSample uint16
	var data []byte

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, 0, fmt.Errorf("%w: %v", ErrWavDecode, err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrWavDecode, err)
			}
			if binary.LittleEndian.Uint16(body[0:2]) != 1 {
				return nil, 0, fmt.Errorf("%w: non-PCM format", ErrUnsupportedFormat)
			}
			numChannels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
		case "data":
			data = make([]byte, size)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrWavDecode, err)
			}
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrWavDecode, err)
			}
		}
	}

	if bitsPerSample != 8 && bitsPerSample != 16 && bitsPerSample != 32 {
		return nil, 0, fmt.Errorf("%w: %d-bit samples unsupported", ErrUnsupportedFormat, bitsPerSample)
	}
	if numChannels != 1 && numChannels != 2 {
		return nil, 0, fmt.Errorf("%w: %d channels unsupported", ErrUnsupportedFormat, numChannels)
	}

	sampleBytes := int(bitsPerSample) / 8
	frameBytes := int(numChannels) * sampleBytes
	n := len(data) / frameBytes
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		if numChannels == 1 {
			out[i] = pcmToF32(data, i*sampleBytes, sampleBytes)
		} else {
			l := pcmToF32(data, i*frameBytes, sampleBytes)
			r := pcmToF32(data, i*frameBytes+sampleBytes, sampleBytes)
			out[i] = (l + r) / 2
		}
	}
	return out, sampleRate, nil
}

// pcmToF32 converts one PCM sample to f32: 8-bit WAV samples are unsigned
// with a 128 midpoint, 16- and 32-bit are signed little-endian.
func pcmToF32(data []byte, offset, sampleBytes int) float32 {
	switch sampleBytes {
	case 1:
		return (float32(data[offset]) - 128) / 128.0
	case 4:
		v := int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
		return float32(float64(v) / 2147483648.0)
	default:
		v := int16(binary.LittleEndian.Uint16(data[offset : offset+2]))
		return float32(v) / 32768.0
	}
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func writeAll(w io.Writer, chunks ...[]byte) error {
	for _, c := range chunks {
		if _, err := w.Write(c); err != nil {
			return err
		}
	}
	return nil
}
