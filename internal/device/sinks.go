package device

import (
	"io"
	"sync"
	"time"

	"github.com/jorgemp1270/mrzorro-esp32/internal/audio"
)

// WriterSink writes interleaved stereo PCM to an io.Writer, for example a
// file or a pipe into aplay.
type WriterSink struct {
	w            io.Writer
	clearSamples int
	buf          []byte

	mu sync.Mutex
}

// NewWriterSink creates a sink writing raw 16-bit little-endian PCM
func NewWriterSink(w io.Writer, clearSamples int) *WriterSink {
	return &WriterSink{w: w, clearSamples: clearSamples}
}

// WriteSamples writes samples to the underlying writer
func (s *WriterSink) WriteSamples(samples []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = audio.AppendSamples(s.buf[:0], samples)
	if _, err := s.w.Write(s.buf); err != nil {
		return 0, err
	}
	return len(samples), nil
}

// Clear writes a block of silence
func (s *WriterSink) Clear() error {
	if s.clearSamples == 0 {
		return nil
	}
	_, err := s.WriteSamples(make([]int16, s.clearSamples))
	return err
}

// Close closes the writer if it is closable
func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NullSink discards samples, optionally pacing writes to real time
type NullSink struct {
	sampleRate int
	paced      bool

	mu      sync.Mutex
	samples uint64
	clears  uint64
}

// NewNullSink creates a discarding sink; when paced, each write sleeps for
// the duration of the stereo samples written.
func NewNullSink(sampleRate int, paced bool) *NullSink {
	return &NullSink{sampleRate: sampleRate, paced: paced}
}

// WriteSamples counts and drops samples
func (s *NullSink) WriteSamples(samples []int16) (int, error) {
	s.mu.Lock()
	s.samples += uint64(len(samples))
	s.mu.Unlock()

	if s.paced && s.sampleRate > 0 {
		frames := len(samples) / 2
		time.Sleep(time.Duration(frames) * time.Second / time.Duration(s.sampleRate))
	}
	return len(samples), nil
}

// Clear counts the clear
func (s *NullSink) Clear() error {
	s.mu.Lock()
	s.clears++
	s.mu.Unlock()
	return nil
}

// Close is a no-op
func (s *NullSink) Close() error {
	return nil
}

// Stats returns samples written and clears performed
func (s *NullSink) Stats() (samples, clears uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples, s.clears
}
