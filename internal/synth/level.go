package synth

import "math"

const (
	peakCeilingDBFS = -1.5
	silentBoostDB   = 6
)

// PeakDBFS returns the peak level of buf in dBFS, or -Inf for silence.
func PeakDBFS(buf []float64) float64 {
	var peak float64
	for _, v := range buf {
		peak = max(peak, math.Abs(v))
	}
	if peak == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(peak)
}

// normalizePeak pulls loud buffers down to the ceiling and lifts silent ones by a fixed boost.
// Buffers already under the ceiling are left alone. It returns the resulting peak.
func normalizePeak(buf []float64) float64 {
	peak := PeakDBFS(buf)
	switch {
	case math.IsInf(peak, -1):
		scale(buf, dbToGain(silentBoostDB))
	case peak > peakCeilingDBFS:
		scale(buf, dbToGain(peakCeilingDBFS-peak))
	}
	return PeakDBFS(buf)
}
