//go:build !portaudio

package device

// MicSource is unavailable without the portaudio build tag
type MicSource struct{}

// OpenMicSource reports that PortAudio capture is not compiled in
func OpenMicSource(sampleRate, chunkSamples int) (*MicSource, error) {
	return nil, &PeripheralInitError{
		Peripheral: "microphone",
		Backend:    BackendPortAudio,
		Err:        ErrNotSupported,
	}
}

// ReadSamples always fails
func (m *MicSource) ReadSamples(buf []int32) (int, error) {
	return 0, ErrNotSupported
}

// Close is a no-op
func (m *MicSource) Close() error {
	return nil
}
