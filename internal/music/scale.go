package music

import "math"

// Scale is an ascending, read-only table of MIDI note numbers.
type Scale struct {
	notes []int
}

// DefaultScale spans three octaves of a lydian-flavoured hexatonic scale rooted on D.
var DefaultScale = NewScale(62, []int{0, 2, 4, 7, 9, 11}, 3)

// NewScale repeats steps above root for the given number of octaves.
func NewScale(root int, steps []int, octaves int) Scale {
	notes := make([]int, 0, len(steps)*octaves)
	for octave := 0; octave < octaves; octave++ {
		for _, step := range steps {
			notes = append(notes, root+octave*12+step)
		}
	}
	return Scale{notes: notes}
}

func (s Scale) Len() int { return len(s.notes) }

// Mid is the index used for content without any alphanumeric characters.
func (s Scale) Mid() int { return len(s.notes) / 2 }

func (s Scale) Note(i int) int { return s.notes[i] }

func (s Scale) Frequency(i int) float64 { return MIDIToFrequency(s.notes[i]) }

// Nearest returns the scale frequency closest to target.
func (s Scale) Nearest(target float64) float64 {
	best := s.Frequency(0)
	for i := 1; i < len(s.notes); i++ {
		f := s.Frequency(i)
		if math.Abs(f-target) < math.Abs(best-target) {
			best = f
		}
	}
	return best
}

func MIDIToFrequency(note int) float64 {
	return 440.0 * math.Pow(2, float64(note-69)/12.0)
}

// FrequencyToMIDI rounds to the nearest piano key (21..108); non-positive input maps to middle C.
func FrequencyToMIDI(freq float64) int {
	if freq <= 0 {
		return 60
	}
	n := int(math.Round(69 + 12*math.Log2(freq/440.0)))
	return min(max(n, 21), 108)
}

// Transpose shifts a frequency by a number of semitones.
func Transpose(freq float64, semitones int) float64 {
	return freq * math.Pow(2, float64(semitones)/12.0)
}
