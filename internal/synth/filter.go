package synth

import "math"

// lowPass applies a one-pole RC low-pass filter in place.
func lowPass(buf []float64, cutoff float64, sampleRate int) {
	if len(buf) == 0 || cutoff <= 0 {
		return
	}
	rc := 1 / (2 * math.Pi * cutoff)
	dt := 1 / float64(sampleRate)
	alpha := dt / (rc + dt)
	prev := buf[0]
	for i := 1; i < len(buf); i++ {
		prev += alpha * (buf[i] - prev)
		buf[i] = prev
	}
}

// highPass applies a one-pole RC high-pass filter in place.
func highPass(buf []float64, cutoff float64, sampleRate int) {
	if len(buf) == 0 || cutoff <= 0 {
		return
	}
	rc := 1 / (2 * math.Pi * cutoff)
	dt := 1 / float64(sampleRate)
	alpha := rc / (rc + dt)
	prevIn, prevOut := buf[0], buf[0]
	for i := 1; i < len(buf); i++ {
		x := buf[i]
		prevOut = alpha * (prevOut + x - prevIn)
		prevIn = x
		buf[i] = prevOut
	}
}

func scale(buf []float64, gain float64) {
	for i := range buf {
		buf[i] *= gain
	}
}

// mixAt adds src into dst starting at offset, dropping what falls past the end.
func mixAt(dst, src []float64, offset int) {
	if offset < 0 || offset >= len(dst) {
		return
	}
	n := min(len(src), len(dst)-offset)
	for i := 0; i < n; i++ {
		dst[offset+i] += src[i]
	}
}

func clampUnit(v float64) float64 {
	return min(max(v, -1), 1)
}
