package audio

// 16-bit signed PCM range
const (
	MaxSample16 = 32767
	MinSample16 = -32768
)

// clamp16 saturates v to the 16-bit signed range
func clamp16(v int64) int16 {
	if v > MaxSample16 {
		return MaxSample16
	}
	if v < MinSample16 {
		return MinSample16
	}
	return int16(v)
}

// Downconvert converts wide peripheral words to 16-bit samples. Each word is
// shifted right by shiftBits to select the active bit range, multiplied by
// gain and clamped to the 16-bit range.
func Downconvert(wide []int32, shiftBits uint, gain int) []int16 {
	out := make([]int16, len(wide))
	DownconvertInto(out, wide, shiftBits, gain)
	return out
}

// DownconvertInto is Downconvert writing into dst. It converts
// min(len(dst), len(wide)) samples and returns that count.
func DownconvertInto(dst []int16, wide []int32, shiftBits uint, gain int) int {
	n := len(wide)
	if len(dst) < n {
		n = len(dst)
	}

	for i := 0; i < n; i++ {
		dst[i] = clamp16(int64(wide[i]>>shiftBits) * int64(gain))
	}

	return n
}

// UpmixMonoToStereo duplicates each gain-clamped mono sample into a left and
// right slot, producing 2*len(mono) interleaved samples.
func UpmixMonoToStereo(mono []int16, gain int) []int16 {
	out := make([]int16, len(mono)*2)
	UpmixMonoToStereoInto(out, mono, gain)
	return out
}

// UpmixMonoToStereoInto is UpmixMonoToStereo writing into dst, which must hold
// at least 2*len(mono) samples. It returns the number of samples written.
func UpmixMonoToStereoInto(dst []int16, mono []int16, gain int) int {
	n := len(mono)
	if len(dst) < n*2 {
		n = len(dst) / 2
	}

	for i := 0; i < n; i++ {
		s := clamp16(int64(mono[i]) * int64(gain))
		dst[i*2] = s
		dst[i*2+1] = s
	}

	return n * 2
}

// ApplyGainStereo applies gain with saturation to interleaved stereo samples
// in place.
func ApplyGainStereo(stereo []int16, gain int) {
	for i, s := range stereo {
		stereo[i] = clamp16(int64(s) * int64(gain))
	}
}
