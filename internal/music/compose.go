package music

import (
	"cmp"
	"math"
	"slices"
)

const lengthTolerance = 1e-9

// Normalize scales every note's timing uniformly so the track length lands in [minLen, maxLen].
// It returns the scaled notes and the resulting length.
func Normalize(notes []NoteEvent, minLen, maxLen float64) ([]NoteEvent, float64, error) {
	if len(notes) == 0 {
		return nil, 0, ErrEmpty
	}
	if maxLen < minLen {
		maxLen = minLen
	}
	length := TrackEnd(notes)
	if length <= 0 {
		return slices.Clone(notes), length, nil
	}
	// rescaled ends can miss a bound by an ulp; snap those onto the bound instead of scaling again
	switch {
	case math.Abs(length-minLen) <= lengthTolerance:
		return slices.Clone(notes), minLen, nil
	case math.Abs(length-maxLen) <= lengthTolerance:
		return slices.Clone(notes), maxLen, nil
	}
	target := min(max(length, minLen), maxLen)
	if target == length {
		return slices.Clone(notes), length, nil
	}
	scale := target / length
	out := make([]NoteEvent, len(notes))
	for i, n := range notes {
		n.Start *= scale
		n.Duration *= scale
		out[i] = n
	}
	return out, target, nil
}

// Score is the full arrangement handed to the synthesizer.
type Score struct {
	Events   int         `json:"events"`
	Primary  int         `json:"primary"`
	Notes    []NoteEvent `json:"notes"`
	Duration float64     `json:"duration"`
}

// Composer runs the text-to-notes pipeline.
type Composer struct {
	Scale       Scale
	Beat        float64
	MinDuration float64
	MaxDuration float64
}

// Compose filters and orders events, then maps, layers, fills, pads and normalizes them.
func (c Composer) Compose(events []TextEvent) (Score, error) {
	eligible := Eligible(events)
	if len(eligible) == 0 {
		return Score{}, ErrEmpty
	}

	primary := Mapper{Scale: c.Scale, Beat: c.Beat}.Map(eligible)
	notes := Layer(primary)
	notes = FillGaps(notes, c.Beat, c.Scale)
	notes = append(notes, Pad(notes)...)

	scaled, length, err := Normalize(notes, c.MinDuration, c.MaxDuration)
	if err != nil {
		return Score{}, err
	}
	return Score{
		Events:   len(eligible),
		Primary:  len(primary),
		Notes:    scaled,
		Duration: length,
	}, nil
}

// Eligible keeps mappable events, oldest first.
func Eligible(events []TextEvent) []TextEvent {
	out := make([]TextEvent, 0, len(events))
	for _, evt := range events {
		if evt.Eligible() {
			out = append(out, evt)
		}
	}
	slices.SortStableFunc(out, func(a, b TextEvent) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	return out
}
