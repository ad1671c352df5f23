package device

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Trigger is the push-to-talk button
type Trigger interface {
	Pressed() bool
}

// SoftTrigger is a trigger driven by software, e.g. the monitor API
type SoftTrigger struct {
	pressed atomic.Bool
}

// NewSoftTrigger creates a released trigger
func NewSoftTrigger() *SoftTrigger {
	return &SoftTrigger{}
}

// Pressed reports the current button level
func (t *SoftTrigger) Pressed() bool {
	return t.pressed.Load()
}

// Set sets the button level
func (t *SoftTrigger) Set(pressed bool) {
	t.pressed.Store(pressed)
}

// Indicator is the activity LED
type Indicator interface {
	Set(on bool)
}

// LogIndicator logs LED changes and remembers the level
type LogIndicator struct {
	logger *slog.Logger

	mu sync.Mutex
	on bool
}

// NewLogIndicator creates an indicator that logs at debug level
func NewLogIndicator(logger *slog.Logger) *LogIndicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogIndicator{logger: logger}
}

// Set switches the indicator, logging only real changes
func (l *LogIndicator) Set(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.on == on {
		return
	}
	l.on = on
	l.logger.Debug("Indicator changed", slog.Bool("on", on))
}

// On reports the indicator level
func (l *LogIndicator) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}
