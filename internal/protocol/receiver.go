package protocol

import (
	"fmt"
	"log/slog"

	"github.com/jorgemp1270/mrzorro-esp32/internal/metrics"
)

// SessionSink receives the payload of one link session
type SessionSink interface {
	Begin() error
	Write(p []byte) error
	End() error
	Abort()
}

// ReceiverState is the receiver's position in Idle -> Receiving -> Idle
type ReceiverState int

const (
	ReceiverIdle ReceiverState = iota
	ReceiverReceiving
)

// String returns the state name
func (s ReceiverState) String() string {
	if s == ReceiverReceiving {
		return "receiving"
	}
	return "idle"
}

// Result reports what happened during one OnBytesReceived call
type Result struct {
	Started   bool  // a session was opened
	Completed bool  // a session was handed off to the sink
	Bytes     int64 // payload bytes of the completed session
}

// Receiver drives a SessionSink from decoded link events
type Receiver struct {
	dec             Decoder
	sink            SessionSink
	maxSessionBytes int64
	logger          *slog.Logger
	metrics         *metrics.Metrics

	state     ReceiverState
	received  int64
	discarded int64
	sessions  uint64
}

// NewReceiver creates a receiver. maxSessionBytes <= 0 disables the session size bound.
func NewReceiver(dec Decoder, sink SessionSink, maxSessionBytes int64, logger *slog.Logger, m *metrics.Metrics) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		dec:             dec,
		sink:            sink,
		maxSessionBytes: maxSessionBytes,
		logger:          logger,
		metrics:         m,
	}
}

// OnBytesReceived feeds one window from the link. Processing stops right after
// a session completes so the caller can act on it; bytes that arrived behind
// the end marker stay buffered for the next call (a nil window is fine).
func (r *Receiver) OnBytesReceived(window []byte) (Result, error) {
	var res Result

	if len(window) > 0 {
		r.metrics.RecordLinkBytes(len(window))
		r.dec.Write(window)
	}

	for {
		ev, ok, err := r.dec.Next()
		if err != nil {
			r.metrics.RecordProtocolError()
			r.abort("protocol error", err)
			return res, fmt.Errorf("failed to decode link bytes: %w", err)
		}
		if !ok {
			return res, nil
		}

		r.metrics.RecordFrame(ev.Kind.String())

		switch ev.Kind {
		case EventBegin:
			if r.state == ReceiverReceiving {
				r.logger.Warn("Begin received mid-session, restarting",
					slog.Int64("abandoned_bytes", r.received))
				r.abort("restart", nil)
			}
			if err := r.sink.Begin(); err != nil {
				r.logger.Error("Failed to open session, ignoring it", slog.String("error", err.Error()))
				continue
			}
			r.state = ReceiverReceiving
			r.received = 0
			res.Started = true

		case EventData:
			if r.state == ReceiverIdle {
				r.discarded += int64(len(ev.Payload))
				continue
			}
			if r.maxSessionBytes > 0 && r.received+int64(len(ev.Payload)) > r.maxSessionBytes {
				err := fmt.Errorf("%w: session exceeds %d bytes", ErrResourceExhausted, r.maxSessionBytes)
				r.abort("session too large", err)
				return res, err
			}
			if err := r.sink.Write(ev.Payload); err != nil {
				r.abort("sink write failed", err)
				return res, fmt.Errorf("failed to store session bytes: %w", err)
			}
			r.received += int64(len(ev.Payload))

		case EventEnd:
			if r.state == ReceiverIdle {
				r.logger.Debug("End received while idle, ignoring")
				continue
			}
			r.state = ReceiverIdle
			if err := r.sink.End(); err != nil {
				r.logger.Warn("Session hand-off failed, abandoning it",
					slog.Int64("bytes", r.received),
					slog.String("error", err.Error()))
				r.sink.Abort()
				r.metrics.RecordSessionAbandoned()
				r.received = 0
				return res, fmt.Errorf("failed to close session: %w", err)
			}
			r.sessions++
			res.Completed = true
			res.Bytes = r.received
			return res, nil
		}
	}
}

// abort abandons the open session, if any
func (r *Receiver) abort(reason string, err error) {
	if r.state != ReceiverReceiving {
		return
	}

	attrs := []any{slog.String("reason", reason), slog.Int64("bytes", r.received)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	r.logger.Warn("Session abandoned", attrs...)

	r.sink.Abort()
	r.metrics.RecordSessionAbandoned()
	r.state = ReceiverIdle
	r.received = 0
}

// Reset abandons any open session and drops buffered bytes
func (r *Receiver) Reset() {
	r.abort("reset", nil)
	r.dec.Reset()
}

// State returns the receiver state
func (r *Receiver) State() ReceiverState {
	return r.state
}

// Pending reports bytes buffered in the decoder
func (r *Receiver) Pending() int {
	return r.dec.Buffered()
}

// Discarded reports payload bytes dropped while idle
func (r *Receiver) Discarded() int64 {
	return r.discarded
}

// Sessions reports completed sessions
func (r *Receiver) Sessions() uint64 {
	return r.sessions
}
