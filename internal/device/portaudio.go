//go:build portaudio

package device

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// MicSource captures from the default PortAudio input device
type MicSource struct {
	stream *portaudio.Stream
	in     []int32
	mu     sync.Mutex
}

// OpenMicSource opens a mono input stream delivering chunkSamples per read
func OpenMicSource(sampleRate, chunkSamples int) (*MicSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &PeripheralInitError{Peripheral: "microphone", Backend: BackendPortAudio, Err: err}
	}

	m := &MicSource{in: make([]int32, chunkSamples)}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), chunkSamples, &m.in)
	if err != nil {
		portaudio.Terminate()
		return nil, &PeripheralInitError{Peripheral: "microphone", Backend: BackendPortAudio, Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, &PeripheralInitError{Peripheral: "microphone", Backend: BackendPortAudio, Err: err}
	}

	m.stream = stream
	return m, nil
}

// ReadSamples blocks for one buffer of input. PortAudio already delivers
// 32-bit samples with the significant bits at the top.
func (m *MicSource) ReadSamples(buf []int32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return 0, fmt.Errorf("microphone closed")
	}
	if err := m.stream.Read(); err != nil {
		return 0, fmt.Errorf("microphone read failed: %w", err)
	}
	return copy(buf, m.in), nil
}

// Close stops the stream and releases PortAudio
func (m *MicSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil
	}
	if err := m.stream.Stop(); err != nil {
		return err
	}
	if err := m.stream.Close(); err != nil {
		return err
	}
	m.stream = nil
	return portaudio.Terminate()
}
