package audio

import "math"

// Level summarizes the signal level of a block of samples
type Level struct {
	Peak    int16   `json:"peak"`
	RMS     float64 `json:"rms"`
	Clipped int     `json:"clipped"` // samples at either rail
}

// MeasureLevel computes peak, RMS energy and the number of clipped samples
func MeasureLevel(samples []int16) Level {
	if len(samples) == 0 {
		return Level{}
	}

	var (
		energy float64
		peak   int32
		level  Level
	)

	for _, s := range samples {
		energy += float64(s) * float64(s)

		abs := int32(s)
		if abs < 0 {
			abs = -abs
		}
		if abs > peak {
			peak = abs
		}

		if s == MaxSample16 || s == MinSample16 {
			level.Clipped++
		}
	}

	if peak > MaxSample16 {
		peak = MaxSample16
	}

	level.Peak = int16(peak)
	level.RMS = math.Sqrt(energy / float64(len(samples)))

	return level
}
