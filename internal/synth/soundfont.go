package synth

import (
	"bytes"
	"fmt"
	"os"

	meltysynth "github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/loqalabs/loqa-compose/internal/music"
)

type soundFontBackend struct {
	path string
}

// NewSoundFontBackend renders notes in-process through a SoundFont 2 bank.
func NewSoundFontBackend(path string) Backend {
	return &soundFontBackend{path: path}
}

func (b *soundFontBackend) Name() string { return "soundfont" }

func (b *soundFontBackend) Render(notes []music.NoteEvent, duration float64, sampleRate int) ([]float64, error) {
	if len(notes) == 0 {
		return nil, ErrNoNotes
	}
	smfData, err := buildSMF(notes)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("open soundfont: %w", err)
	}
	defer file.Close()

	bank, err := meltysynth.NewSoundFont(file)
	if err != nil {
		return nil, fmt.Errorf("load soundfont: %w", err)
	}
	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	synth, err := meltysynth.NewSynthesizer(bank, settings)
	if err != nil {
		return nil, fmt.Errorf("create sampler: %w", err)
	}
	song, err := meltysynth.NewMidiFile(bytes.NewReader(smfData))
	if err != nil {
		return nil, fmt.Errorf("load midi: %w", err)
	}
	seq := meltysynth.NewMidiFileSequencer(synth)
	seq.Play(song, false)

	n := masterLength(duration, sampleRate)
	left := make([]float32, n)
	right := make([]float32, n)
	seq.Render(left, right)

	mono := make([]float64, n)
	for i := range mono {
		mono[i] = (float64(left[i]) + float64(right[i])) / 2
	}
	return finishSampled(mono, n, sampleRate), nil
}
