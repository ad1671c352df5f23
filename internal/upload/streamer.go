package upload

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

type streamJob struct {
	data []byte
	last bool
}

// Streamer uploads a session while it is still being recorded. A single
// worker sends queued chunks strictly in order, so chunk n+1 never starts
// before chunk n has completed.
type Streamer struct {
	client   *Client
	identity string
	sink     io.Writer

	queue  chan streamJob
	done   chan *Response
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewStreamer starts a streaming upload. The response to the last chunk is
// drained into sink and the summary delivered on Done.
func (c *Client) NewStreamer(ctx context.Context, identity string, sink io.Writer) *Streamer {
	if sink == nil {
		sink = io.Discard
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Streamer{
		client:   c,
		identity: identity,
		sink:     sink,
		queue:    make(chan streamJob, c.config.QueueSize),
		done:     make(chan *Response, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	go s.run()
	return s
}

// Enqueue copies data onto the upload queue, splitting it into ChunkSize
// pieces. It blocks while the queue is full.
func (s *Streamer) Enqueue(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamerClosed
	}

	size := s.client.config.ChunkSize
	for len(data) > 0 {
		n := len(data)
		if n > size {
			n = size
		}
		job := streamJob{data: append([]byte(nil), data[:n]...)}

		select {
		case s.queue <- job:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
		data = data[n:]
	}
	return nil
}

// Finish queues the terminal chunk and closes the queue
func (s *Streamer) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamerClosed
	}
	s.closed = true

	select {
	case s.queue <- streamJob{data: dummyChunk, last: true}:
	case <-s.ctx.Done():
	}
	close(s.queue)
	return nil
}

// Done delivers the session result once the last chunk has been answered
func (s *Streamer) Done() <-chan *Response {
	return s.done
}

// Abort cancels in-flight and queued chunks. Done still delivers a result.
func (s *Streamer) Abort() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

func (s *Streamer) run() {
	defer s.cancel()

	resp := &Response{}
	seq := 0

	for job := range s.queue {
		if s.ctx.Err() != nil {
			continue
		}

		seq++
		written, err := s.client.postChunk(s.ctx, s.identity, seq, job.data, job.last, s.sink)
		s.client.account(resp, written, err)
	}

	s.client.finishSession(resp)
	switch {
	case resp.Completed:
	case s.ctx.Err() != nil:
		resp.Err = s.ctx.Err()
	default:
		resp.Err = ErrNoResponse
	}

	s.client.logger.Debug("Streamer finished", slog.String("user_id", s.identity))
	s.done <- resp
	close(s.done)
}
