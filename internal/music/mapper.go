package music

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	baseAmplitude  = 0.28
	amplitudeRange = 0.28
	maxAmplitude   = 0.9
	vowelBonus     = 3
	maxPitchStep   = 2
	minGapBeats    = 1.0
	maxGapBeats    = 2.5
	stretchChars   = 95.0
	stretchBeats   = 3.0
	asciiPunct     = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

// authorPalette gives each speaker a stable voice.
var authorPalette = []Timbre{Warm, Sine, Bell, Glow, Harp, Celesta}

// Mapper turns chat messages into the primary melodic line.
type Mapper struct {
	Scale Scale
	Beat  float64
}

// carry is the state threaded through the left-to-right fold.
type carry struct {
	index int
	start float64
	ok    bool
}

// Map emits one note per event. Events must already be filtered and sorted by CreatedAt.
func (m Mapper) Map(events []TextEvent) []NoteEvent {
	notes, _ := m.fold(events)
	return notes
}

func (m Mapper) fold(events []TextEvent) ([]NoteEvent, []int) {
	if len(events) == 0 {
		return nil, nil
	}
	first := events[0].CreatedAt
	notes := make([]NoteEvent, 0, len(events))
	indices := make([]int, 0, len(events))
	var acc carry
	for _, evt := range events {
		content := strings.TrimSpace(evt.Content)

		idx := m.PitchIndex(content)
		if acc.ok {
			idx = m.Smooth(idx, acc.index)
		}

		start := Quantize(evt.CreatedAt.Sub(first).Seconds(), m.Beat)
		if acc.ok {
			start = m.Space(start, acc.start)
		}

		notes = append(notes, NoteEvent{
			Start:     start,
			Duration:  m.Duration(content),
			Frequency: m.Scale.Frequency(idx),
			Amplitude: Amplitude(content),
			Timbre:    TimbreFor(evt.AuthorID),
		})
		indices = append(indices, idx)
		acc = carry{index: idx, start: start, ok: true}
	}
	return notes, indices
}

// PitchIndex hashes the alphanumeric characters of content onto the scale.
func (m Mapper) PitchIndex(content string) int {
	var sum, vowels int
	for _, r := range content {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		sum += int(r)
		if strings.ContainsRune("aeiou", unicode.ToLower(r)) {
			vowels++
		}
	}
	if sum == 0 {
		return m.Scale.Mid()
	}
	return (sum + vowels*vowelBonus) % m.Scale.Len()
}

// Smooth pulls idx toward prev, allowing a wrap of one table length, and limits the step to two positions.
func (m Mapper) Smooth(idx, prev int) int {
	n := m.Scale.Len()
	closest := idx
	for _, candidate := range [...]int{idx + n, idx - n} {
		if absInt(candidate-prev) < absInt(closest-prev) {
			closest = candidate
		}
	}
	closest = clampInt(closest, 0, n-1)
	if absInt(closest-prev) > maxPitchStep {
		if closest > prev {
			closest = min(prev+maxPitchStep, n-1)
		} else {
			closest = max(prev-maxPitchStep, 0)
		}
	}
	return closest
}

// Space keeps a note between one and two and a half beats after the previous one.
func (m Mapper) Space(raw, prev float64) float64 {
	lo := prev + minGapBeats*m.Beat
	hi := prev + maxGapBeats*m.Beat
	return math.Min(math.Max(raw, lo), hi)
}

// Duration grows with message length, capped at three extra beats.
func (m Mapper) Duration(content string) float64 {
	length := utf8.RuneCountInString(content)
	if length == 0 {
		return m.Beat
	}
	stretch := math.Min(float64(length)/stretchChars, 1)
	return m.Beat*1.1 + stretch*m.Beat*stretchBeats
}

// Quantize rounds delta to the nearest beat multiple; non-positive deltas map to 0.
func Quantize(delta, beat float64) float64 {
	if delta <= 0 || beat <= 0 {
		return 0
	}
	return math.Round(delta/beat) * beat
}

// Intensity is the weighted share of uppercase and punctuation characters, in [0,1].
func Intensity(content string) float64 {
	length := utf8.RuneCountInString(content)
	if length == 0 {
		return 0
	}
	var caps, punct int
	for _, r := range content {
		if unicode.IsUpper(r) {
			caps++
		}
		if strings.ContainsRune(asciiPunct, r) {
			punct++
		}
	}
	weighted := (float64(caps)*1.2 + float64(punct)) / float64(length)
	return math.Min(weighted, 1)
}

func Amplitude(content string) float64 {
	return math.Min(baseAmplitude+Intensity(content)*amplitudeRange, maxAmplitude)
}

// TimbreFor picks the author's voice from the palette.
func TimbreFor(authorID int64) Timbre {
	n := int64(len(authorPalette))
	return authorPalette[((authorID%n)+n)%n]
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
