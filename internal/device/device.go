package device

import (
	"errors"
	"fmt"
)

// Source delivers captured samples as 32-bit words with the 16 significant
// bits in the upper half, the way an I2S microphone does.
type Source interface {
	// ReadSamples blocks until buf is filled or the source ends
	ReadSamples(buf []int32) (int, error)
	Close() error
}

// ErrNotSupported is returned for backends not compiled into this binary
var ErrNotSupported = errors.New("peripheral backend not supported in this build")

// PeripheralInitError reports a peripheral that could not be brought up
type PeripheralInitError struct {
	Peripheral string
	Backend    string
	Err        error
}

func (e *PeripheralInitError) Error() string {
	return fmt.Sprintf("failed to initialize %s (%s): %v", e.Peripheral, e.Backend, e.Err)
}

func (e *PeripheralInitError) Unwrap() error {
	return e.Err
}

// Source and sink backends accepted in configuration
const (
	BackendTone      = "tone"
	BackendFile      = "file"
	BackendPortAudio = "portaudio"
	BackendOto       = "oto"
	BackendNull      = "null"
)
