package synth

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// encodeWAV writes mono samples as a 16-bit PCM WAV, duplicating them across channels.
func encodeWAV(samples []float64, sampleRate, channels int) ([]byte, error) {
	if channels < 1 {
		channels = 1
	}
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           make([]int, len(samples)*channels),
		SourceBitDepth: bitDepth,
	}
	for i, v := range samples {
		q := int(math.Round(clampUnit(v) * math.MaxInt16))
		for c := 0; c < channels; c++ {
			buffer.Data[i*channels+c] = q
		}
	}

	out := &memFile{}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.buf, nil
}

// decodeWAV reads an integer PCM WAV and returns it down-mixed to mono in [-1,1].
func decodeWAV(r io.ReadSeeker) ([]float64, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("not a valid wav file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	depth := int(dec.BitDepth)
	if depth <= 0 || depth > 32 {
		return nil, 0, fmt.Errorf("unsupported wav bit depth %d", depth)
	}
	channels := pcm.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	fullScale := float64(int64(1) << (depth - 1))
	if depth == 8 {
		// 8-bit WAV is unsigned
		for i := range pcm.Data {
			pcm.Data[i] -= 128
		}
	}

	frames := len(pcm.Data) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(pcm.Data[i*channels+c])
		}
		mono[i] = clampUnit(sum / float64(channels) / fullScale)
	}
	return mono, int(dec.SampleRate), nil
}

// memFile is an in-memory io.WriteSeeker for the WAV encoder, which rewrites the header on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, errors.New("memfile: invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("memfile: negative position")
	}
	m.pos = int(next)
	return next, nil
}
