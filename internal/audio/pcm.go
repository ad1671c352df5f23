package audio

import "encoding/binary"

// BytesToSamples decodes 16-bit little-endian PCM. A trailing odd byte is
// ignored.
func BytesToSamples(data []byte) []int16 {
	return BytesToSamplesInto(make([]int16, len(data)/2), data)
}

// BytesToSamplesInto decodes into dst, growing it when needed, and returns the
// decoded slice.
func BytesToSamplesInto(dst []int16, data []byte) []int16 {
	n := len(data) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]

	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}

	return dst
}

// SamplesToBytes encodes samples as 16-bit little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	return AppendSamples(make([]byte, 0, len(samples)*2), samples)
}

// AppendSamples appends the little-endian encoding of samples to dst.
func AppendSamples(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}
