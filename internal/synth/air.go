package synth

type reflection struct {
	delayMS float64
	gainDB  float64
}

var reflections = []reflection{
	{delayMS: 110, gainDB: -12},
	{delayMS: 260, gainDB: -17},
	{delayMS: 430, gainDB: -22},
}

const (
	reverbSendDB  = -6
	shimmerHz     = 1800
	shimmerGainDB = -12
	slapDelayMS   = 90
	slapGainDB    = -9
)

// air adds a short reflection reverb, a bright shimmer of that reverb, and a slapback echo.
// The result is longer than dry by the longest reflection so tails are kept.
func air(dry []float64, sampleRate int) []float64 {
	tail := 0
	for _, r := range reflections {
		tail = max(tail, msToSamples(r.delayMS, sampleRate))
	}
	size := len(dry) + tail

	reverb := make([]float64, size)
	copy(reverb, dry)
	for _, r := range reflections {
		echo(reverb, dry, msToSamples(r.delayMS, sampleRate), dbToGain(r.gainDB))
	}

	shimmer := make([]float64, size)
	copy(shimmer, reverb)
	highPass(shimmer, shimmerHz, sampleRate)
	shimmerGain := dbToGain(shimmerGainDB)

	slap := make([]float64, size)
	copy(slap, dry)
	echo(slap, dry, msToSamples(slapDelayMS, sampleRate), dbToGain(slapGainDB))

	send := dbToGain(reverbSendDB)
	out := make([]float64, size)
	copy(out, dry)
	for i := range out {
		out[i] += reverb[i]*send + shimmer[i]*shimmerGain + slap[i]
	}
	return out
}

func echo(dst, src []float64, delay int, gain float64) {
	for i, v := range src {
		j := i + delay
		if j >= len(dst) {
			break
		}
		dst[j] += v * gain
	}
}
