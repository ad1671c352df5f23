package protocol

import (
	"fmt"
	"io"
)

// Codec names accepted in configuration
const (
	CodecFrame  = "frame"
	CodecMarker = "marker"
)

// NewEncoder returns the encoder for a codec name ("frame" or "marker")
func NewEncoder(codec string, w io.Writer, maxPayload int) (Encoder, error) {
	switch codec {
	case CodecFrame, "":
		return NewFrameEncoder(w, maxPayload), nil
	case CodecMarker:
		return NewMarkerEncoder(w), nil
	default:
		return nil, fmt.Errorf("unknown link codec %q", codec)
	}
}

// NewDecoder returns the decoder for a codec name ("frame" or "marker")
func NewDecoder(codec string, maxPayload int) (Decoder, error) {
	switch codec {
	case CodecFrame, "":
		return NewFrameDecoder(maxPayload), nil
	case CodecMarker:
		return NewMarkerDecoder(), nil
	default:
		return nil, fmt.Errorf("unknown link codec %q", codec)
	}
}
