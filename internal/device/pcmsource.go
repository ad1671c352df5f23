package device

import (
	"encoding/binary"
	"errors"
	"io"
)

// PCMSource replays 16-bit little-endian PCM as if it came from the
// microphone, shifting each sample into the upper bits of a 32-bit word.
type PCMSource struct {
	r         io.Reader
	shiftBits uint
	raw       []byte
}

// NewPCMSource wraps a raw PCM stream
func NewPCMSource(r io.Reader, shiftBits uint) *PCMSource {
	return &PCMSource{r: r, shiftBits: shiftBits}
}

// ReadSamples fills buf from the stream; a short final read returns the
// samples available followed by io.EOF on the next call.
func (s *PCMSource) ReadSamples(buf []int32) (int, error) {
	need := len(buf) * 2
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]

	n, err := io.ReadFull(s.r, raw)
	samples := n / 2
	for i := 0; i < samples; i++ {
		buf[i] = int32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) << s.shiftBits
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if samples == 0 && err == nil {
		err = io.EOF
	}
	return samples, err
}

// Close closes the underlying stream if it is closable
func (s *PCMSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
