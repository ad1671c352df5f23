package protocol

import (
	"bytes"
	"fmt"
)

// EventKind classifies a decoded link event
type EventKind int

const (
	EventBegin EventKind = iota + 1
	EventData
	EventEnd
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case EventBegin:
		return "begin"
	case EventData:
		return "data"
	case EventEnd:
		return "end"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one decoded unit from the link. Payload aliases the decoder's
// buffer and is only valid until the next call to Write or Next.
type Event struct {
	Kind    EventKind
	Payload []byte
}

// Decoder turns arbitrary byte windows into link events
type Decoder interface {
	// Write appends a received window to the decoder buffer
	Write(window []byte)
	// Next returns the next complete event, or ok=false when more bytes are needed
	Next() (ev Event, ok bool, err error)
	// Buffered reports bytes held back waiting for more input
	Buffered() int
	// Reset drops all buffered bytes
	Reset()
}

// window is the shared receive buffer used by both decoders
type window struct {
	buf []byte
	off int
}

func (w *window) write(p []byte) {
	if w.off > 0 {
		n := copy(w.buf, w.buf[w.off:])
		w.buf = w.buf[:n]
		w.off = 0
	}
	w.buf = append(w.buf, p...)
}

func (w *window) pending() []byte {
	return w.buf[w.off:]
}

func (w *window) consume(n int) []byte {
	p := w.buf[w.off : w.off+n]
	w.off += n
	return p
}

func (w *window) reset() {
	w.buf = w.buf[:0]
	w.off = 0
}

// MarkerDecoder decodes the legacy "START\n" / "STOP\n" marker protocol.
// Markers split across windows are found because the decoder holds back any
// trailing bytes that could begin a marker. Payload bytes that spell a
// marker are indistinguishable from a marker.
type MarkerDecoder struct {
	w window
}

// NewMarkerDecoder creates a legacy marker decoder
func NewMarkerDecoder() *MarkerDecoder {
	return &MarkerDecoder{}
}

// Write appends a received window
func (d *MarkerDecoder) Write(p []byte) {
	d.w.write(p)
}

// Next returns the next marker or run of payload bytes
func (d *MarkerDecoder) Next() (Event, bool, error) {
	data := d.w.pending()
	if len(data) == 0 {
		return Event{}, false, nil
	}

	beginIdx := bytes.Index(data, []byte(MarkerBegin))
	endIdx := bytes.Index(data, []byte(MarkerEnd))

	idx, kind, markerLen := -1, EventKind(0), 0
	if beginIdx >= 0 && (endIdx < 0 || beginIdx < endIdx) {
		idx, kind, markerLen = beginIdx, EventBegin, len(MarkerBegin)
	} else if endIdx >= 0 {
		idx, kind, markerLen = endIdx, EventEnd, len(MarkerEnd)
	}

	switch {
	case idx == 0:
		d.w.consume(markerLen)
		return Event{Kind: kind}, true, nil
	case idx > 0:
		return Event{Kind: EventData, Payload: d.w.consume(idx)}, true, nil
	}

	n := len(data) - partialMarkerSuffix(data)
	if n == 0 {
		return Event{}, false, nil
	}
	return Event{Kind: EventData, Payload: d.w.consume(n)}, true, nil
}

// Buffered reports bytes held back as a possible marker prefix
func (d *MarkerDecoder) Buffered() int {
	return len(d.w.pending())
}

// Reset drops buffered bytes
func (d *MarkerDecoder) Reset() {
	d.w.reset()
}

// partialMarkerSuffix returns the length of the longest suffix of data that is
// a proper prefix of either marker.
func partialMarkerSuffix(data []byte) int {
	maxLen := len(MarkerBegin) - 1
	if len(MarkerEnd)-1 > maxLen {
		maxLen = len(MarkerEnd) - 1
	}
	if maxLen > len(data) {
		maxLen = len(data)
	}

	for k := maxLen; k > 0; k-- {
		tail := data[len(data)-k:]
		if bytes.HasPrefix([]byte(MarkerBegin), tail) || bytes.HasPrefix([]byte(MarkerEnd), tail) {
			return k
		}
	}
	return 0
}

// FrameDecoder decodes length-prefixed frames
type FrameDecoder struct {
	w          window
	maxPayload int
}

// NewFrameDecoder creates a frame decoder accepting data frames up to maxPayload bytes
func NewFrameDecoder(maxPayload int) *FrameDecoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &FrameDecoder{maxPayload: maxPayload}
}

// Write appends a received window
func (d *FrameDecoder) Write(p []byte) {
	d.w.write(p)
}

// Next returns the next complete frame. An invalid header drops the buffer,
// since frame boundaries can no longer be trusted.
func (d *FrameDecoder) Next() (Event, bool, error) {
	data := d.w.pending()
	if len(data) < HeaderSize {
		return Event{}, false, nil
	}

	header, err := ParseHeader(data)
	if err != nil {
		return Event{}, false, err
	}
	if err := ValidateHeader(header, d.maxPayload); err != nil {
		d.w.reset()
		return Event{}, false, err
	}

	frameLen := HeaderSize + int(header.Length)
	if len(data) < frameLen {
		return Event{}, false, nil
	}

	frame := d.w.consume(frameLen)
	switch header.FrameType {
	case FrameTypeBegin:
		return Event{Kind: EventBegin}, true, nil
	case FrameTypeEnd:
		return Event{Kind: EventEnd}, true, nil
	default:
		return Event{Kind: EventData, Payload: frame[HeaderSize:]}, true, nil
	}
}

// Buffered reports bytes of incomplete frames
func (d *FrameDecoder) Buffered() int {
	return len(d.w.pending())
}

// Reset drops buffered bytes
func (d *FrameDecoder) Reset() {
	d.w.reset()
}
