package device

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/jorgemp1270/mrzorro-esp32/internal/audio"
)

// otoContext is shared because oto allows one context per process
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// OtoSink plays interleaved stereo through the default output device. Writes
// go through a pipe feeding a persistent player, so WriteSamples blocks while
// the device buffer is full.
type OtoSink struct {
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	silence    []byte
	buf        []byte

	mu sync.Mutex
}

// OpenOtoSink initializes oto for 16-bit stereo at sampleRate. clearSamples
// sets how much silence Clear pushes through the device.
func OpenOtoSink(sampleRate, clearSamples int) (*OtoSink, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatSignedInt16LE,
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			otoErr = err
			return
		}
		<-readyChan
		otoCtx = ctx
	})
	if otoErr != nil {
		return nil, &PeripheralInitError{Peripheral: "speaker", Backend: BackendOto, Err: otoErr}
	}

	s := &OtoSink{silence: make([]byte, clearSamples*2)}

	// Create pipe for continuous streaming
	s.pipeReader, s.pipeWriter = io.Pipe()

	// Create persistent player that reads from the pipe
	s.player = otoCtx.NewPlayer(s.pipeReader)
	s.player.Play()

	return s, nil
}

// WriteSamples blocks until the samples have been handed to the player
func (s *OtoSink) WriteSamples(samples []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = audio.AppendSamples(s.buf[:0], samples)
	if _, err := s.pipeWriter.Write(s.buf); err != nil {
		return 0, fmt.Errorf("pipe write failed: %w", err)
	}
	return len(samples), nil
}

// Clear pushes a block of silence so no stale samples remain audible
func (s *OtoSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.pipeWriter.Write(s.silence); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

// Close releases output resources
func (s *OtoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeWriter != nil {
		s.pipeWriter.Close()
		s.pipeWriter = nil
	}
	if s.player != nil {
		s.player.Close()
		s.player = nil
	}
	if s.pipeReader != nil {
		s.pipeReader.Close()
		s.pipeReader = nil
	}
	return nil
}
