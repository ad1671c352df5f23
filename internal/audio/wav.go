package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV layout constants
const (
	WAVHeaderSize    = 44
	WAVFormatPCM     = 1
	WAVBitsPerSample = 16

	// WAVUnknownDataSize is written by streaming encoders that do not know the
	// final length up front.
	WAVUnknownDataSize = 0xFFFFFFFF
)

// ErrFormatValidation is returned when a WAV header fails validation
var ErrFormatValidation = errors.New("wav format validation failed")

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// NewWAVHeader builds a canonical 16-bit PCM header
func NewWAVHeader(sampleRate, channels int, dataSize uint32) WAVHeader {
	numChannels := uint16(channels)
	bitsPerSample := uint16(WAVBitsPerSample)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   WAVFormatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// Bytes returns the little-endian encoding of the header
func (h WAVHeader) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize))
	// Writes to a bytes.Buffer cannot fail
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// ParseWAVHeader decodes and validates a 44-byte WAV header. Only 16-bit
// linear PCM with one or two channels is accepted.
func ParseWAVHeader(data []byte) (*WAVHeader, error) {
	if len(data) < WAVHeaderSize {
		return nil, fmt.Errorf("%w: header too short: need %d bytes, got %d",
			ErrFormatValidation, WAVHeaderSize, len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:WAVHeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", ErrFormatValidation, err)
	}

	if err := header.Validate(); err != nil {
		return nil, err
	}

	return &header, nil
}

// Validate checks the container tags and the fields playback depends on
func (h *WAVHeader) Validate() error {
	if string(h.ChunkID[:]) != "RIFF" {
		return fmt.Errorf("%w: missing RIFF header", ErrFormatValidation)
	}

	if string(h.Format[:]) != "WAVE" {
		return fmt.Errorf("%w: missing WAVE format", ErrFormatValidation)
	}

	if h.AudioFormat != WAVFormatPCM {
		return fmt.Errorf("%w: unsupported audio format %d (only PCM is supported)",
			ErrFormatValidation, h.AudioFormat)
	}

	if h.BitsPerSample != WAVBitsPerSample {
		return fmt.Errorf("%w: unsupported bit depth %d (only 16-bit is supported)",
			ErrFormatValidation, h.BitsPerSample)
	}

	if h.NumChannels != 1 && h.NumChannels != 2 {
		return fmt.Errorf("%w: unsupported channel count %d", ErrFormatValidation, h.NumChannels)
	}

	return nil
}

// DataSizeKnown reports whether the data chunk declares a usable length
func (h *WAVHeader) DataSizeKnown() bool {
	return h.Subchunk2Size != WAVUnknownDataSize
}

// EncodeWAV encodes 16-bit PCM samples into a complete WAV file
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", channels)
	}

	header := NewWAVHeader(sampleRate, channels, uint32(len(samples)*2))

	buf := make([]byte, 0, WAVHeaderSize+len(samples)*2)
	buf = append(buf, header.Bytes()...)
	return AppendSamples(buf, samples), nil
}

// String returns a human-readable representation of the header
func (h *WAVHeader) String() string {
	return fmt.Sprintf("WAVHeader{Format:%d, Channels:%d, SampleRate:%d, Bits:%d, DataSize:%d}",
		h.AudioFormat, h.NumChannels, h.SampleRate, h.BitsPerSample, h.Subchunk2Size)
}
