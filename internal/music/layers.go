package music

import (
	"cmp"
	"math"
	"slices"
)

const (
	harmonicStretch  = 1.1
	maxHarmonicLevel = 0.55

	fillThreshold = 1.4
	fillPosition  = 0.55
	fillMargin    = 0.35
	fillMinBeats  = 0.45
	fillMaxBeats  = 0.9
	fillLevel     = 0.45

	padTail       = 1.5
	padLevel      = 0.16
	padShimmer    = 0.45
	padChoirLevel = 0.4
)

type harmonic struct {
	semitones int
	level     float64
	timbre    Timbre
	every     int
}

var harmonics = []harmonic{
	{semitones: 4, level: 0.45, timbre: Celesta, every: 1},
	{semitones: 7, level: 0.34, timbre: Sine, every: 2},
	{semitones: 12, level: 0.24, timbre: Glow, every: 3},
}

// Harmonize derives the companion notes of each primary note.
func Harmonize(primary []NoteEvent) []NoteEvent {
	var out []NoteEvent
	for i, note := range primary {
		out = append(out, harmonicsOf(i, note)...)
	}
	return out
}

// Layer interleaves every primary note with its harmonics, ordered by start.
func Layer(primary []NoteEvent) []NoteEvent {
	out := make([]NoteEvent, 0, len(primary)*3)
	for i, note := range primary {
		out = append(out, note)
		out = append(out, harmonicsOf(i, note)...)
	}
	sortByStart(out)
	return out
}

func harmonicsOf(i int, note NoteEvent) []NoteEvent {
	var out []NoteEvent
	for _, h := range harmonics {
		if i%h.every != 0 {
			continue
		}
		out = append(out, NoteEvent{
			Start:     note.Start,
			Duration:  note.Duration * harmonicStretch,
			Frequency: Transpose(note.Frequency, h.semitones),
			Amplitude: math.Min(note.Amplitude*h.level, maxHarmonicLevel),
			Timbre:    h.timbre,
		})
	}
	return out
}

// FillGaps inserts a soft glow note into every gap wider than 1.4 beats. notes must be sorted by start.
func FillGaps(notes []NoteEvent, beat float64, scale Scale) []NoteEvent {
	if len(notes) == 0 {
		return nil
	}
	out := make([]NoteEvent, 0, len(notes)+len(notes)/2)
	out = append(out, notes[0])
	for i := 1; i < len(notes); i++ {
		prev, curr := notes[i-1], notes[i]
		if gap := curr.Start - prev.Start; gap > beat*fillThreshold {
			out = append(out, filler(prev, curr, gap, beat, scale))
		}
		out = append(out, curr)
	}
	sortByStart(out)
	return out
}

func filler(prev, curr NoteEvent, gap, beat float64, scale Scale) NoteEvent {
	earliest := prev.Start + beat*fillMargin
	latest := curr.Start - beat*fillMargin
	start := math.Min(math.Max(prev.Start+gap*fillPosition, earliest), latest)

	duration := math.Min(curr.Start-start, beat*fillMaxBeats)
	duration = math.Max(duration, beat*fillMinBeats)

	blended := prev.Frequency*0.45 + curr.Frequency*0.55
	return NoteEvent{
		Start:     start,
		Duration:  duration,
		Frequency: scale.Nearest(blended),
		Amplitude: math.Min(math.Max(prev.Amplitude, curr.Amplitude)*fillLevel, fillLevel),
		Timbre:    Glow,
	}
}

// Pad returns the drone bed for notes: root, an octave shimmer above and a choir an octave below.
func Pad(notes []NoteEvent) []NoteEvent {
	if len(notes) == 0 {
		return nil
	}
	root := notes[0].Frequency
	for _, n := range notes[1:] {
		root = math.Min(root, n.Frequency)
	}
	duration := TrackEnd(notes) + padTail
	return []NoteEvent{
		{Duration: duration, Frequency: root, Amplitude: padLevel, Timbre: Warm},
		{Duration: duration, Frequency: Transpose(root, 12), Amplitude: padLevel * padShimmer, Timbre: Celesta},
		{Duration: duration, Frequency: Transpose(root, -12), Amplitude: padLevel * padChoirLevel, Timbre: Choir},
	}
}

func sortByStart(notes []NoteEvent) {
	slices.SortStableFunc(notes, func(a, b NoteEvent) int {
		return cmp.Compare(a.Start, b.Start)
	})
}
