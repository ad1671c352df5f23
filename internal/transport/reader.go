package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Reader defaults
const (
	DefaultWindowSize = 256
	DefaultQueueSize  = 64
)

// Reader pulls bytes from a link on its own goroutine and queues them as
// windows for a poll loop. A full queue blocks the goroutine, which in turn
// pushes back on the link; windows are never dropped.
type Reader struct {
	link       io.Reader
	windowSize int
	logger     *slog.Logger

	windows chan []byte
	done    chan struct{}

	mu  sync.Mutex
	err error

	// Statistics
	bytesRead   uint64
	windowsRead uint64
}

// NewReader creates a link reader. Call Start to begin reading.
func NewReader(link io.Reader, windowSize, queueSize int, logger *slog.Logger) *Reader {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reader{
		link:       link,
		windowSize: windowSize,
		logger:     logger,
		windows:    make(chan []byte, queueSize),
		done:       make(chan struct{}),
	}
}

// Start launches the receive loop
func (r *Reader) Start(ctx context.Context) {
	go r.receiveLoop(ctx)
}

// receiveLoop is the main link receiving loop
func (r *Reader) receiveLoop(ctx context.Context) {
	defer close(r.done)

	buffer := make([]byte, r.windowSize)

	for {
		n, err := r.link.Read(buffer)
		if n > 0 {
			// Copy, the buffer is reused
			window := make([]byte, n)
			copy(window, buffer[:n])

			select {
			case r.windows <- window:
				r.mu.Lock()
				r.bytesRead += uint64(n)
				r.windowsRead++
				r.mu.Unlock()
			case <-ctx.Done():
				r.setErr(ctx.Err())
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Info("Link closed by peer")
			} else if ctx.Err() == nil {
				r.logger.Error("Failed to read from link", slog.String("error", err.Error()))
			}
			r.setErr(err)
			return
		}

		if ctx.Err() != nil {
			r.setErr(ctx.Err())
			return
		}
	}
}

func (r *Reader) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Poll returns the next queued window without blocking
func (r *Reader) Poll() ([]byte, bool) {
	select {
	case w := <-r.windows:
		return w, true
	default:
		return nil, false
	}
}

// Err returns the error that stopped the receive loop once every queued
// window has been polled, or nil while the link is healthy.
func (r *Reader) Err() error {
	select {
	case <-r.done:
	default:
		return nil
	}
	if len(r.windows) > 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed when the receive loop exits
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Stats returns bytes and windows read so far
func (r *Reader) Stats() (bytesRead, windowsRead uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytesRead, r.windowsRead
}
