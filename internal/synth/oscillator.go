package synth

import "math"

type waveform uint8

const (
	sine waveform = iota
	square
	sawtooth
	triangle
)

// sample returns the waveform value at the given cycle position in [0,1).
func (w waveform) sample(phase float64) float64 {
	switch w {
	case square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case sawtooth:
		return 2*phase - 1
	case triangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}

// generate fills n samples of the waveform at freq. The phase is derived from
// the sample index so long notes do not accumulate drift.
func generate(w waveform, freq float64, n, sampleRate int) []float64 {
	out := make([]float64, n)
	if freq <= 0 || sampleRate <= 0 {
		return out
	}
	step := freq / float64(sampleRate)
	for i := range out {
		_, phase := math.Modf(float64(i) * step)
		out[i] = w.sample(phase)
	}
	return out
}

func dbToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

func msToSamples(ms float64, sampleRate int) int {
	return int(ms * float64(sampleRate) / 1000)
}
