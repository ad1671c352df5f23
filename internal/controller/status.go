package controller

import (
	"time"

	"github.com/jorgemp1270/mrzorro-esp32/internal/playback"
	"github.com/jorgemp1270/mrzorro-esp32/internal/session"
)

// Status is a point-in-time view of a driver for the monitor API
type Status struct {
	Role        string           `json:"role"`
	State       State            `json:"state"`
	Since       time.Time        `json:"since"`
	Transitions uint64           `json:"transitions"`
	Session     *session.Info    `json:"session,omitempty"`
	Playback    *playback.Cursor `json:"playback,omitempty"`
	Sessions    uint64           `json:"sessions"`
	Ignored     uint64           `json:"ignored_triggers"`
}

// Stats collects counters shared by the drivers
type Stats struct {
	Sessions      []session.Info `json:"sessions"`
	ChunksRead    uint64         `json:"chunks_read"`
	Responses     uint64         `json:"responses"`
	EmptyReplies  uint64         `json:"empty_replies"`
	PlaybackError uint64         `json:"playback_errors"`
	Resets        uint64         `json:"resets"`
}

// Driver is implemented by the standalone device and the relay
type Driver interface {
	Status() Status
	Stats() Stats
}

// Snapshot builds the common part of a driver Status
func Snapshot(role string, m *Machine, tracker *session.Tracker, player *playback.Decoder) Status {
	st := Status{
		Role:        role,
		State:       m.State(),
		Since:       m.Since(),
		Transitions: m.Transitions(),
		Sessions:    tracker.Total(),
	}
	if s, ok := tracker.Active(); ok {
		info := s.Info()
		st.Session = &info
	}
	if player != nil && player.State() != playback.StateIdle {
		cur := player.Cursor()
		st.Playback = &cur
	}
	return st
}
