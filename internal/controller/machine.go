package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jorgemp1270/mrzorro-esp32/internal/device"
	"github.com/jorgemp1270/mrzorro-esp32/internal/metrics"
)

// ErrInvalidTransition is returned for moves the state machine does not allow
var ErrInvalidTransition = errors.New("invalid state transition")

// State is the device state
type State int

const (
	StateConfiguring State = iota
	StateInitializing
	StateReady
	StateRecording
	StateUploading
	StatePlayingResponse
)

var stateNames = map[State]string{
	StateConfiguring:     "configuring",
	StateInitializing:    "initializing",
	StateReady:           "ready",
	StateRecording:       "recording",
	StateUploading:       "uploading",
	StatePlayingResponse: "playing_response",
}

// String returns the state name
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the allowed moves out of each state
var transitions = map[State][]State{
	StateConfiguring:     {StateInitializing},
	StateInitializing:    {StateReady, StateConfiguring},
	StateReady:           {StateRecording},
	StateRecording:       {StateUploading, StateReady},
	StateUploading:       {StatePlayingResponse, StateReady},
	StatePlayingResponse: {StateReady},
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Machine is the device state machine
type Machine struct {
	indicator device.Indicator
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu          sync.RWMutex
	state       State
	since       time.Time
	transitions uint64
}

// NewMachine creates a machine in Configuring
func NewMachine(indicator device.Indicator, logger *slog.Logger, m *metrics.Metrics) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if indicator == nil {
		indicator = device.NewLogIndicator(logger)
	}

	indicator.Set(false)
	return &Machine{
		indicator: indicator,
		logger:    logger,
		metrics:   m,
		state:     StateConfiguring,
		since:     time.Now(),
	}
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Since returns when the current state was entered
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transitions returns the number of transitions made
func (m *Machine) Transitions() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transitions
}

// Transition moves to the next state
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.enter(to)
	m.mu.Unlock()

	m.metrics.RecordTransition(from.String(), to.String(), int(to))
	m.logger.Debug("State transition", slog.String("from", from.String()), slog.String("to", to.String()))
	return nil
}

// Reset returns to Ready from any operational state. Used when a session is
// abandoned after a fatal peripheral or transport error.
func (m *Machine) Reset(reason string) {
	m.mu.Lock()
	from := m.state
	if from == StateConfiguring || from == StateInitializing || from == StateReady {
		m.mu.Unlock()
		return
	}
	m.enter(StateReady)
	m.mu.Unlock()

	m.metrics.RecordTransition(from.String(), StateReady.String(), int(StateReady))
	m.logger.Warn("State reset", slog.String("from", from.String()), slog.String("reason", reason))
}

// enter updates the state; callers hold mu
func (m *Machine) enter(to State) {
	m.state = to
	m.since = time.Now()
	m.transitions++
	m.indicator.Set(to == StateRecording || to == StatePlayingResponse)
}
