package device

import (
	"io"
	"math"
	"sync"
	"time"
)

// ToneSource synthesizes a sine wave, paced to real time when Realtime is
// set. Useful on machines without a microphone and in tests.
type ToneSource struct {
	SampleRate int
	Frequency  float64
	Amplitude  int16
	ShiftBits  uint
	Realtime   bool
	// Limit ends the source after this many samples; zero means endless
	Limit int64

	mu       sync.Mutex
	produced int64
	phase    float64
	closed   bool

	// anchor and paced track real time since the last idle gap
	anchor time.Time
	paced  int64
}

// NewToneSource creates a 440 Hz tone source
func NewToneSource(sampleRate int, shiftBits uint, realtime bool) *ToneSource {
	return &ToneSource{
		SampleRate: sampleRate,
		Frequency:  440,
		Amplitude:  8000,
		ShiftBits:  shiftBits,
		Realtime:   realtime,
	}
}

// ReadSamples fills buf with the next samples of the tone
func (s *ToneSource) ReadSamples(buf []int32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.EOF
	}
	n := len(buf)
	if s.Limit > 0 {
		left := s.Limit - s.produced
		if left <= 0 {
			return 0, io.EOF
		}
		if int64(n) > left {
			n = int(left)
		}
	}

	step := 2 * math.Pi * s.Frequency / float64(s.SampleRate)
	for i := 0; i < n; i++ {
		v := int32(float64(s.Amplitude) * math.Sin(s.phase))
		buf[i] = v << s.ShiftBits
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	s.produced += int64(n)

	if s.Realtime {
		s.pace(n)
	}

	return n, nil
}

// pace blocks until n more samples would have been captured. A caller that
// went idle for longer than one read re-anchors instead of catching up.
func (s *ToneSource) pace(n int) {
	now := time.Now()
	fill := s.duration(int64(n))
	if s.anchor.IsZero() || now.Sub(s.anchor.Add(s.duration(s.paced))) > fill {
		s.anchor = now
		s.paced = 0
	}

	s.paced += int64(n)
	if wait := time.Until(s.anchor.Add(s.duration(s.paced))); wait > 0 {
		time.Sleep(wait)
	}
}

func (s *ToneSource) duration(samples int64) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(s.SampleRate)
}

// Close ends the source
func (s *ToneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
