package relay

import (
	"fmt"

	"github.com/jorgemp1270/mrzorro-esp32/internal/controller"
	"github.com/jorgemp1270/mrzorro-esp32/internal/storage"
)

// recorder is the receiver's view of the relay: it writes link sessions to
// recording.pcm and moves the machine through Recording.
type recorder struct {
	r *Relay
}

func (rec *recorder) Begin() error {
	r := rec.r

	if state := r.machine.State(); state != controller.StateReady {
		if state == controller.StateUploading || state == controller.StatePlayingResponse {
			r.ignored.Add(1)
		}
		return fmt.Errorf("%w: %s", errNotReady, state)
	}

	s, err := r.tracker.Begin(r.boot.Payload().UserID)
	if err != nil {
		return err
	}

	if err := r.deps.Store.Remove(storage.RecordingFile); err != nil {
		r.tracker.Abandon("storage unavailable")
		return err
	}
	f, err := r.deps.Store.Open(storage.RecordingFile, storage.ModeWrite)
	if err != nil {
		r.tracker.Abandon("storage unavailable")
		return err
	}

	r.recording = f
	r.active = s
	return r.machine.Transition(controller.StateRecording)
}

func (rec *recorder) Write(p []byte) error {
	r := rec.r

	if _, err := r.recording.Write(p); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	r.active.AddChunk(len(p))
	return nil
}

func (rec *recorder) End() error {
	r := rec.r

	r.closeRecording()
	r.active = nil
	if _, err := r.tracker.End(); err != nil {
		return err
	}
	return r.machine.Transition(controller.StateUploading)
}

func (rec *recorder) Abort() {
	r := rec.r

	r.closeRecording()
	r.active = nil
	r.tracker.Abandon("link session aborted")

	r.mu.Lock()
	r.stats.Resets++
	r.mu.Unlock()

	r.machine.Reset("link session aborted")
}
