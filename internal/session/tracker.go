package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jorgemp1270/mrzorro-esp32/internal/metrics"
)

// ErrSessionActive is returned by Begin while another session is open
var ErrSessionActive = errors.New("session already active")

// ErrNoSession is returned when no session is open
var ErrNoSession = errors.New("no active session")

// Outcome records how a session ended
type Outcome string

const (
	OutcomeActive    Outcome = "active"
	OutcomeCompleted Outcome = "completed"
	OutcomeAbandoned Outcome = "abandoned"
)

// defaultHistory bounds the finished sessions kept for monitoring
const defaultHistory = 16

// Session is one push-to-talk recording
type Session struct {
	ID        uuid.UUID
	Identity  string
	StartTime time.Time
	EndTime   time.Time
	Outcome   Outcome
	Reason    string

	chunks uint64
	bytes  uint64

	mu sync.RWMutex
}

// AddChunk counts one captured or received chunk of n bytes
func (s *Session) AddChunk(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks++
	s.bytes += uint64(n)
}

// Bytes returns the payload bytes recorded so far
func (s *Session) Bytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// Chunks returns the chunks recorded so far
func (s *Session) Chunks() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunks
}

// Info returns session information for monitoring and APIs
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}

	return Info{
		ID:        s.ID.String(),
		Identity:  s.Identity,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Duration:  end.Sub(s.StartTime),
		Chunks:    s.chunks,
		Bytes:     s.bytes,
		Outcome:   s.Outcome,
		Reason:    s.Reason,
	}
}

// Info represents session information for monitoring and APIs
type Info struct {
	ID        string        `json:"id"`
	Identity  string        `json:"identity"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`
	Chunks    uint64        `json:"chunks"`
	Bytes     uint64        `json:"bytes"`
	Outcome   Outcome       `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
}

// Tracker owns at most one active session
type Tracker struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	active  *Session
	history []*Session
	limit   int
	total   uint64

	mu sync.RWMutex
}

// NewTracker creates a session tracker
func NewTracker(logger *slog.Logger, m *metrics.Metrics) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:  logger,
		metrics: m,
		limit:   defaultHistory,
	}
}

// Begin opens a new session for identity
func (t *Tracker) Begin(identity string) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil {
		return nil, ErrSessionActive
	}

	s := &Session{
		ID:        uuid.New(),
		Identity:  identity,
		StartTime: time.Now(),
		Outcome:   OutcomeActive,
	}
	t.active = s
	t.total++
	t.metrics.RecordSessionStarted()

	t.logger.Info("Session started",
		slog.String("session_id", s.ID.String()),
		slog.String("user_id", identity))

	return s, nil
}

// End closes the active session as completed
func (t *Tracker) End() (*Session, error) {
	s, err := t.close(OutcomeCompleted, "")
	if err != nil {
		return nil, err
	}

	info := s.Info()
	t.metrics.RecordSessionCompleted(info.Duration.Seconds(), info.Bytes)
	t.logger.Info("Session completed",
		slog.String("session_id", info.ID),
		slog.Uint64("chunks", info.Chunks),
		slog.Uint64("bytes", info.Bytes),
		slog.Duration("duration", info.Duration))

	return s, nil
}

// Abandon closes the active session without handing it off
func (t *Tracker) Abandon(reason string) {
	s, err := t.close(OutcomeAbandoned, reason)
	if err != nil {
		return
	}

	t.metrics.RecordSessionAbandoned()
	t.logger.Warn("Session abandoned",
		slog.String("session_id", s.ID.String()),
		slog.String("reason", reason),
		slog.Uint64("bytes", s.Bytes()))
}

func (t *Tracker) close(outcome Outcome, reason string) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.active
	if s == nil {
		return nil, ErrNoSession
	}

	s.mu.Lock()
	s.EndTime = time.Now()
	s.Outcome = outcome
	s.Reason = reason
	s.mu.Unlock()

	t.active = nil
	t.history = append(t.history, s)
	if len(t.history) > t.limit {
		t.history = t.history[len(t.history)-t.limit:]
	}

	return s, nil
}

// Active returns the open session, if any
func (t *Tracker) Active() (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active, t.active != nil
}

// Last returns the most recently finished session, if any
func (t *Tracker) Last() (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.history) == 0 {
		return nil, false
	}
	return t.history[len(t.history)-1], true
}

// History returns finished sessions, oldest first
func (t *Tracker) History() []Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	infos := make([]Info, 0, len(t.history))
	for _, s := range t.history {
		infos = append(infos, s.Info())
	}
	return infos
}

// Total returns the number of sessions ever started
func (t *Tracker) Total() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}
