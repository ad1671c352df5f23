package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame codec constants
const (
	// Frame types
	FrameTypeBegin = 0x01
	FrameTypeData  = 0x02
	FrameTypeEnd   = 0x03

	// HeaderSize is the frame header length: [FrameType:1][Length:4]
	HeaderSize = 5

	// DefaultMaxPayload bounds a single data frame
	DefaultMaxPayload = 8192
)

// Legacy in-band markers understood by the original capture node
const (
	MarkerBegin = "START\n"
	MarkerEnd   = "STOP\n"
)

var (
	// ErrProtocol reports a malformed frame on the link
	ErrProtocol = errors.New("link protocol error")

	// ErrResourceExhausted reports a frame or session exceeding its bound
	ErrResourceExhausted = errors.New("resource exhausted")
)

// Header represents the 5-byte frame header
// Layout: [FrameType:1][Length:4 big endian]
type Header struct {
	FrameType uint8  // 0x01=Begin, 0x02=Data, 0x03=End
	Length    uint32 // Payload length, header excluded
}

// ParseHeader parses the 5-byte frame header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		FrameType: data[0],
		Length:    binary.BigEndian.Uint32(data[1:5]),
	}, nil
}

// ValidateHeader validates the frame header fields against maxPayload
func ValidateHeader(header *Header, maxPayload int) error {
	if !IsValidFrameType(header.FrameType) {
		return fmt.Errorf("%w: invalid frame type: 0x%02x", ErrProtocol, header.FrameType)
	}

	switch header.FrameType {
	case FrameTypeBegin, FrameTypeEnd:
		if header.Length != 0 {
			return fmt.Errorf("%w: control frame carries %d payload bytes", ErrProtocol, header.Length)
		}
	case FrameTypeData:
		if int64(header.Length) > int64(maxPayload) {
			return fmt.Errorf("%w: data frame length %d exceeds maximum %d",
				ErrResourceExhausted, header.Length, maxPayload)
		}
	}

	return nil
}

// IsValidFrameType checks if the frame type is valid
func IsValidFrameType(frameType uint8) bool {
	return frameType == FrameTypeBegin || frameType == FrameTypeData || frameType == FrameTypeEnd
}

// AppendFrame appends an encoded frame to dst
func AppendFrame(dst []byte, frameType uint8, payload []byte) []byte {
	dst = append(dst, frameType)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// FrameTypeName returns a human-readable frame type
func FrameTypeName(frameType uint8) string {
	switch frameType {
	case FrameTypeBegin:
		return "begin"
	case FrameTypeData:
		return "data"
	case FrameTypeEnd:
		return "end"
	default:
		return fmt.Sprintf("unknown(0x%02x)", frameType)
	}
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	return fmt.Sprintf("Header{Type:%s, Len:%d}", FrameTypeName(h.FrameType), h.Length)
}
