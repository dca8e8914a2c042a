package synth

import (
	"math"

	"github.com/loqalabs/loqa-compose/internal/music"
)

// Backend turns a note list into mono PCM in [-1,1] covering the track plus one second of tail.
type Backend interface {
	Name() string
	Render(notes []music.NoteEvent, duration float64, sampleRate int) ([]float64, error)
}

// masterLength is the sample count of ceil((duration+1)*1000) milliseconds.
func masterLength(duration float64, sampleRate int) int {
	ms := math.Ceil((duration + 1) * 1000)
	return msToSamples(ms, sampleRate)
}

// OscillatorBackend is the always-available additive synthesizer.
type OscillatorBackend struct{}

func (OscillatorBackend) Name() string { return "oscillator" }

func (OscillatorBackend) Render(notes []music.NoteEvent, duration float64, sampleRate int) ([]float64, error) {
	if len(notes) == 0 {
		return nil, ErrNoNotes
	}
	master := make([]float64, masterLength(duration, sampleRate))
	for _, note := range notes {
		offset := msToSamples(float64(int(note.Start*1000)), sampleRate)
		mixAt(master, voice(note, sampleRate), offset)
	}
	return master, nil
}
