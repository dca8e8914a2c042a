package synth

import "github.com/loqalabs/loqa-compose/internal/music"

type partial struct {
	wave   waveform
	ratio  float64
	gainDB float64
	floor  float64 // lowest allowed frequency, 0 for none
}

type ramp struct {
	fraction float64
	floorMS  float64
}

func (r ramp) samples(total, sampleRate int) int {
	frac := int(float64(total) * r.fraction)
	return max(frac, msToSamples(r.floorMS, sampleRate))
}

// recipe describes one timbre: a base generator, its partials, and the envelope.
type recipe struct {
	base     waveform
	partials []partial
	attack   ramp
	release  ramp
}

var (
	defaultAttack  = ramp{fraction: 0.18, floorMS: 15}
	defaultRelease = ramp{fraction: 0.35, floorMS: 60}
)

var recipes = [...]recipe{
	music.Sine:     {base: sine, attack: defaultAttack, release: defaultRelease},
	music.Square:   {base: square, attack: defaultAttack, release: defaultRelease},
	music.Sawtooth: {base: sawtooth, attack: defaultAttack, release: defaultRelease},
	music.Triangle: {base: triangle, attack: defaultAttack, release: defaultRelease},
	music.Warm: {
		base: sine,
		partials: []partial{
			{wave: sine, ratio: 0.5, gainDB: -12, floor: 55},
			{wave: triangle, ratio: 2, gainDB: -15},
		},
		attack:  defaultAttack,
		release: defaultRelease,
	},
	music.Bell: {
		base: sine,
		partials: []partial{
			{wave: sine, ratio: 2.5, gainDB: -8},
			{wave: triangle, ratio: 3.5, gainDB: -14},
		},
		attack:  defaultAttack,
		release: defaultRelease,
	},
	music.Pulse: {
		base: triangle,
		partials: []partial{
			{wave: triangle, ratio: 2, gainDB: -10},
			{wave: sine, ratio: 0.5, gainDB: -14, floor: 40},
		},
		attack:  defaultAttack,
		release: defaultRelease,
	},
	music.Glow: {
		base: triangle,
		partials: []partial{
			{wave: sine, ratio: 1 / 2.5, gainDB: -18, floor: 30},
			{wave: triangle, ratio: 1.6, gainDB: -14},
		},
		attack:  defaultAttack,
		release: defaultRelease,
	},
	music.Harp: {
		base: sine,
		partials: []partial{
			{wave: triangle, ratio: 1, gainDB: -8},
			{wave: sine, ratio: 2, gainDB: -12},
		},
		attack:  ramp{fraction: 0.05, floorMS: 5},
		release: ramp{fraction: 0.40, floorMS: 80},
	},
	music.Celesta: {
		base: sine,
		partials: []partial{
			{wave: sine, ratio: 2.8, gainDB: -6},
			{wave: triangle, ratio: 4.2, gainDB: -15},
		},
		attack:  ramp{fraction: 0.08, floorMS: 6},
		release: ramp{fraction: 0.30, floorMS: 70},
	},
	music.Choir: {
		base: sine,
		partials: []partial{
			{wave: sine, ratio: 0.5, gainDB: -12},
			{wave: square, ratio: 1, gainDB: -18},
		},
		attack:  ramp{fraction: 0.25, floorMS: 25},
		release: ramp{fraction: 0.45, floorMS: 120},
	},
}

func recipeFor(t music.Timbre) recipe {
	if !t.Valid() {
		return recipes[music.Sine]
	}
	return recipes[t]
}
