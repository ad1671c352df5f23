package device

import (
	"fmt"
	"os"
)

// SourceOptions selects and configures a capture source
type SourceOptions struct {
	Backend      string
	SampleRate   int
	ChunkSamples int
	ShiftBits    uint
	File         string // raw PCM replayed by the file backend
}

// SinkCloser is a speaker sink that owns resources
type SinkCloser interface {
	WriteSamples(samples []int16) (int, error)
	Clear() error
	Close() error
}

// SinkOptions selects and configures a playback sink
type SinkOptions struct {
	Backend      string
	SampleRate   int
	ClearSamples int
	File         string // raw stereo PCM output of the file backend
}

// OpenSource brings up the configured microphone
func OpenSource(opts SourceOptions) (Source, error) {
	switch opts.Backend {
	case BackendTone, "":
		return NewToneSource(opts.SampleRate, opts.ShiftBits, true), nil
	case BackendFile:
		f, err := os.Open(opts.File)
		if err != nil {
			return nil, &PeripheralInitError{Peripheral: "microphone", Backend: BackendFile, Err: err}
		}
		return NewPCMSource(f, opts.ShiftBits), nil
	case BackendPortAudio:
		mic, err := OpenMicSource(opts.SampleRate, opts.ChunkSamples)
		if err != nil {
			return nil, err
		}
		return mic, nil
	default:
		return nil, &PeripheralInitError{
			Peripheral: "microphone",
			Backend:    opts.Backend,
			Err:        fmt.Errorf("unknown backend"),
		}
	}
}

// OpenSink brings up the configured speaker
func OpenSink(opts SinkOptions) (SinkCloser, error) {
	switch opts.Backend {
	case BackendNull, "":
		return NewNullSink(opts.SampleRate, true), nil
	case BackendFile:
		f, err := os.Create(opts.File)
		if err != nil {
			return nil, &PeripheralInitError{Peripheral: "speaker", Backend: BackendFile, Err: err}
		}
		return NewWriterSink(f, opts.ClearSamples), nil
	case BackendOto:
		sink, err := OpenOtoSink(opts.SampleRate, opts.ClearSamples)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, &PeripheralInitError{
			Peripheral: "speaker",
			Backend:    opts.Backend,
			Err:        fmt.Errorf("unknown backend"),
		}
	}
}
