package synth

import "github.com/loqalabs/loqa-compose/internal/music"

const (
	minNoteMS      = 80
	minNoteGain    = 0.1
	maxNoteGain    = 0.85
	toneLowPassHz  = 6400
	toneHighPassHz = 120
)

// voice renders one note with its timbre recipe, envelope, tone filters and air.
func voice(note music.NoteEvent, sampleRate int) []float64 {
	ms := max(int(note.Duration*1000), minNoteMS)
	n := msToSamples(float64(ms), sampleRate)
	r := recipeFor(note.Timbre)

	buf := generate(r.base, note.Frequency, n, sampleRate)
	for _, p := range r.partials {
		freq := note.Frequency * p.ratio
		if p.floor > 0 {
			freq = max(freq, p.floor)
		}
		layer := generate(p.wave, freq, n, sampleRate)
		gain := dbToGain(p.gainDB)
		for i := range buf {
			buf[i] += layer[i] * gain
		}
	}

	scale(buf, min(max(note.Amplitude, minNoteGain), maxNoteGain))
	envelope(buf, r.attack.samples(n, sampleRate), r.release.samples(n, sampleRate))
	lowPass(buf, toneLowPassHz, sampleRate)
	highPass(buf, toneHighPassHz, sampleRate)
	return air(buf, sampleRate)
}

// envelope applies a linear fade in over attack samples and a linear fade out over the last release samples.
func envelope(buf []float64, attack, release int) {
	n := len(buf)
	attack = min(attack, n)
	release = min(release, n)
	for i := 0; i < attack; i++ {
		buf[i] *= float64(i) / float64(attack)
	}
	for i := 0; i < release; i++ {
		buf[n-1-i] *= float64(i) / float64(release)
	}
}
