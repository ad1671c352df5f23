package protocol

import (
	"fmt"
	"io"
)

// Control is an in-band control signal
type Control int

const (
	ControlBegin Control = iota + 1
	ControlEnd
)

// String returns the control name
func (c Control) String() string {
	switch c {
	case ControlBegin:
		return "begin"
	case ControlEnd:
		return "end"
	default:
		return fmt.Sprintf("Control(%d)", int(c))
	}
}

// Encoder writes control signals and payload onto a link
type Encoder interface {
	SendControl(c Control) error
	SendData(payload []byte) error
}

// FrameEncoder writes length-prefixed frames
type FrameEncoder struct {
	w          io.Writer
	maxPayload int
	buf        []byte
}

// NewFrameEncoder creates a frame encoder; payloads larger than maxPayload
// are split across several data frames.
func NewFrameEncoder(w io.Writer, maxPayload int) *FrameEncoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &FrameEncoder{w: w, maxPayload: maxPayload}
}

// SendControl writes a begin or end frame
func (e *FrameEncoder) SendControl(c Control) error {
	var frameType uint8
	switch c {
	case ControlBegin:
		frameType = FrameTypeBegin
	case ControlEnd:
		frameType = FrameTypeEnd
	default:
		return fmt.Errorf("unknown control %v", c)
	}

	e.buf = AppendFrame(e.buf[:0], frameType, nil)
	if _, err := e.w.Write(e.buf); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", c, err)
	}
	return nil
}

// SendData writes payload as one or more data frames
func (e *FrameEncoder) SendData(payload []byte) error {
	for len(payload) > 0 {
		n := len(payload)
		if n > e.maxPayload {
			n = e.maxPayload
		}

		e.buf = AppendFrame(e.buf[:0], FrameTypeData, payload[:n])
		if _, err := e.w.Write(e.buf); err != nil {
			return fmt.Errorf("failed to write data frame: %w", err)
		}

		payload = payload[n:]
	}
	return nil
}

// MarkerEncoder writes the legacy marker protocol. Payload bytes are written
// verbatim, so payload must never contain the marker text.
type MarkerEncoder struct {
	w io.Writer
}

// NewMarkerEncoder creates a legacy marker encoder
func NewMarkerEncoder(w io.Writer) *MarkerEncoder {
	return &MarkerEncoder{w: w}
}

// SendControl writes the literal marker text
func (e *MarkerEncoder) SendControl(c Control) error {
	var marker string
	switch c {
	case ControlBegin:
		marker = MarkerBegin
	case ControlEnd:
		marker = MarkerEnd
	default:
		return fmt.Errorf("unknown control %v", c)
	}

	if _, err := io.WriteString(e.w, marker); err != nil {
		return fmt.Errorf("failed to write %s marker: %w", c, err)
	}
	return nil
}

// SendData writes payload bytes without framing
func (e *MarkerEncoder) SendData(payload []byte) error {
	if _, err := e.w.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}
