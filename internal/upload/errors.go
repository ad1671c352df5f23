package upload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrNoResponse reports that the last chunk did not yield a response
	ErrNoResponse = errors.New("no response from backend")

	// ErrStreamerClosed reports use of a finished or aborted streamer
	ErrStreamerClosed = errors.New("streamer closed")
)

// TransportTimeoutError reports a chunk whose request deadline fired
type TransportTimeoutError struct {
	Chunk   int
	Timeout time.Duration
	Err     error
}

func (e *TransportTimeoutError) Error() string {
	return fmt.Sprintf("chunk %d timed out after %s: %v", e.Chunk, e.Timeout, e.Err)
}

func (e *TransportTimeoutError) Unwrap() error {
	return e.Err
}

// StatusError reports a chunk answered with a non-200 status
type StatusError struct {
	Chunk      int
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chunk %d: HTTP error %d: %s", e.Chunk, e.StatusCode, e.Body)
}

// isTimeout checks whether err came from a fired deadline
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
