package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jorgemp1270/mrzorro-esp32/internal/controller"
	"github.com/jorgemp1270/mrzorro-esp32/internal/device"
	"github.com/jorgemp1270/mrzorro-esp32/internal/metrics"
	"github.com/jorgemp1270/mrzorro-esp32/internal/playback"
	"github.com/jorgemp1270/mrzorro-esp32/internal/protocol"
	"github.com/jorgemp1270/mrzorro-esp32/internal/provision"
	"github.com/jorgemp1270/mrzorro-esp32/internal/session"
	"github.com/jorgemp1270/mrzorro-esp32/internal/storage"
	"github.com/jorgemp1270/mrzorro-esp32/internal/transport"
)

// Defaults for the relay loop
const (
	DefaultPollInterval    = 10 * time.Millisecond
	DefaultMaxSessionBytes = 16 << 20
	DefaultSampleRate      = 16000
)

// errNotReady rejects a session that arrives before the relay can take it
var errNotReady = errors.New("relay not ready for a session")

// ErrLinkPending is returned by a Reconnect that found no link to take yet.
// The relay retries it without reporting a failure.
var ErrLinkPending = errors.New("link pending")

// Reconnect re-establishes the link after it failed
type Reconnect func(ctx context.Context) (*transport.Reader, error)

// Config contains relay configuration
type Config struct {
	PollInterval    time.Duration
	RetryInterval   time.Duration
	MaxSessionBytes int64
	SampleRate      int  // of the PCM carried on the link
	ArchiveWAV      bool // keep a WAV copy of each recording
}

// Deps are the collaborators of a relay. Player may be nil when no speaker
// is available. Link may be nil when Reconnect establishes the first link;
// Reconnect may be nil when the link cannot be re-dialed.
type Deps struct {
	Link         *transport.Reader
	Decoder      protocol.Decoder
	Player       *playback.Decoder
	Store        *storage.Store
	Indicator    device.Indicator
	Provisioning *provision.Channel
	Bringup      controller.Bringup
	Reconnect    Reconnect
}

// Stats represents relay statistics
type Stats struct {
	controller.Stats
	LinkBytes     uint64 `json:"link_bytes"`
	LinkWindows   uint64 `json:"link_windows"`
	Discarded     int64  `json:"discarded_bytes"`
	Archived      uint64 `json:"archived"`
	UploadFailed  uint64 `json:"upload_failed"`
	LinkFailures  uint64 `json:"link_failures"`
	ReceiverState string `json:"receiver_state"`
}

// Relay drives the state machine from link sessions
type Relay struct {
	config   Config
	deps     Deps
	machine  *controller.Machine
	tracker  *session.Tracker
	boot     *controller.Bootstrap
	receiver *protocol.Receiver
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// Owned by the loop
	link      *transport.Reader
	recording *os.File
	active    *session.Session
	linkDown  bool
	nextDial  time.Time

	ignored atomic.Uint64

	mu    sync.Mutex
	stats Stats
}

// New creates a relay in Configuring
func New(config Config, deps Deps, logger *slog.Logger, m *metrics.Metrics) (*Relay, error) {
	if deps.Link == nil && deps.Reconnect == nil {
		return nil, fmt.Errorf("link reader or reconnect is required")
	}
	if deps.Decoder == nil {
		return nil, fmt.Errorf("link decoder is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = controller.DefaultRetryInterval
	}
	if config.MaxSessionBytes <= 0 {
		config.MaxSessionBytes = DefaultMaxSessionBytes
	}
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}

	boot, err := controller.NewBootstrap(deps.Provisioning, deps.Bringup, config.RetryInterval, logger)
	if err != nil {
		return nil, err
	}

	r := &Relay{
		config:   config,
		deps:     deps,
		machine:  controller.NewMachine(deps.Indicator, logger, m),
		tracker:  session.NewTracker(logger, m),
		boot:     boot,
		logger:   logger,
		metrics:  m,
		link:     deps.Link,
		linkDown: deps.Link == nil,
	}
	r.receiver = protocol.NewReceiver(deps.Decoder, &recorder{r: r}, config.MaxSessionBytes, logger, m)
	return r, nil
}

// Machine returns the relay state machine
func (r *Relay) Machine() *controller.Machine {
	return r.machine
}

// Tracker returns the session tracker
func (r *Relay) Tracker() *session.Tracker {
	return r.tracker
}

// Status returns the current state for the monitor API
func (r *Relay) Status() controller.Status {
	st := controller.Snapshot("relay", r.machine, r.tracker, r.deps.Player)
	st.Ignored = r.ignored.Load()
	return st
}

// Stats returns shared driver counters
func (r *Relay) Stats() controller.Stats {
	return r.RelayStats().Stats
}

// RelayStats returns relay counters including link activity
func (r *Relay) RelayStats() Stats {
	r.mu.Lock()
	stats := r.stats
	link := r.link
	r.mu.Unlock()

	stats.Sessions = r.tracker.History()
	if link != nil {
		stats.LinkBytes, stats.LinkWindows = link.Stats()
	}
	return stats
}

// Run drives Step until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.logger.Info("Relay loop started", slog.Duration("poll_interval", r.config.PollInterval))

	for {
		if err := r.Step(ctx); err != nil {
			r.logger.Warn("Relay step failed",
				slog.String("state", r.machine.State().String()),
				slog.String("error", err.Error()))
		}

		if r.machine.State() == controller.StatePlayingResponse && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step performs one bounded unit of work for the current state
func (r *Relay) Step(ctx context.Context) error {
	switch state := r.machine.State(); state {
	case controller.StateConfiguring, controller.StateInitializing:
		return r.boot.Step(ctx, r.machine)
	case controller.StateReady, controller.StateRecording:
		_, err := r.drainLink(ctx)
		return err
	case controller.StateUploading:
		return r.upload(ctx)
	case controller.StatePlayingResponse:
		// Reconnects wait for Ready so the speaker is never starved
		if !r.linkDown {
			if _, err := r.drainLink(ctx); err != nil {
				r.logger.Warn("Link failed during playback", slog.String("error", err.Error()))
			}
		}
		return r.stepPlaying()
	default:
		return fmt.Errorf("unknown state %s", state)
	}
}

// drainLink feeds at most one link window to the receiver. Bytes left behind
// a completed session are processed on the next call.
func (r *Relay) drainLink(ctx context.Context) (protocol.Result, error) {
	if r.linkDown {
		return protocol.Result{}, r.redial(ctx)
	}

	window, ok := r.link.Poll()
	if !ok {
		if err := r.link.Err(); err != nil {
			return protocol.Result{}, r.linkFailed(err)
		}
		if r.receiver.Pending() == 0 {
			return protocol.Result{}, nil
		}
	}

	res, err := r.receiver.OnBytesReceived(window)

	r.mu.Lock()
	r.stats.Discarded = r.receiver.Discarded()
	r.stats.ReceiverState = r.receiver.State().String()
	r.mu.Unlock()

	return res, err
}

// linkFailed abandons the session in progress and marks the link down
func (r *Relay) linkFailed(cause error) error {
	r.linkDown = true
	r.receiver.Reset()

	r.mu.Lock()
	r.stats.LinkFailures++
	r.mu.Unlock()

	return fmt.Errorf("link failed: %w", cause)
}

func (r *Relay) redial(ctx context.Context) error {
	if r.deps.Reconnect == nil || time.Now().Before(r.nextDial) {
		return nil
	}

	link, err := r.deps.Reconnect(ctx)
	if errors.Is(err, ErrLinkPending) {
		return nil
	}
	if err != nil {
		r.nextDial = time.Now().Add(r.config.RetryInterval)
		return fmt.Errorf("failed to reconnect link: %w", err)
	}

	r.mu.Lock()
	r.link = link
	r.mu.Unlock()
	r.linkDown = false

	r.logger.Info("Link reconnected")
	return nil
}

// upload sends the stored recording and prepares the reply for playback.
// It runs synchronously, bounded by the upload timeouts.
func (r *Relay) upload(ctx context.Context) error {
	last, ok := r.tracker.Last()
	if !ok {
		return r.machine.Transition(controller.StateReady)
	}

	if r.config.ArchiveWAV {
		r.archive(last)
	}

	resp, err := r.sendRecording(ctx, last.Identity)
	if err != nil {
		r.mu.Lock()
		r.stats.UploadFailed++
		r.mu.Unlock()
		if tErr := r.machine.Transition(controller.StateReady); tErr != nil {
			return tErr
		}
		return err
	}

	r.mu.Lock()
	r.stats.Responses++
	if resp == 0 {
		r.stats.EmptyReplies++
	}
	r.mu.Unlock()

	if resp == 0 {
		r.logger.Warn("Backend returned an empty response")
		return r.machine.Transition(controller.StateReady)
	}

	if r.deps.Player == nil {
		r.logger.Info("No speaker available, response stored",
			slog.String("file", storage.ResponseFile),
			slog.Int64("bytes", resp))
		return r.machine.Transition(controller.StateReady)
	}

	f, err := r.deps.Store.Open(storage.ResponseFile, storage.ModeRead)
	if err == nil {
		err = r.deps.Player.Open(f)
	}
	if err != nil {
		r.mu.Lock()
		r.stats.PlaybackError++
		r.mu.Unlock()
		if tErr := r.machine.Transition(controller.StateReady); tErr != nil {
			return tErr
		}
		return fmt.Errorf("failed to start playback: %w", err)
	}

	return r.machine.Transition(controller.StatePlayingResponse)
}

// sendRecording uploads recording.pcm and stores the reply in response.wav.
// It returns the number of response bytes.
func (r *Relay) sendRecording(ctx context.Context, identity string) (int64, error) {
	size, err := r.deps.Store.Size(storage.RecordingFile)
	if err != nil {
		return 0, err
	}
	src, err := r.deps.Store.Open(storage.RecordingFile, storage.ModeRead)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if err := r.deps.Store.Remove(storage.ResponseFile); err != nil {
		return 0, err
	}
	dst, err := r.deps.Store.Open(storage.ResponseFile, storage.ModeWrite)
	if err != nil {
		return 0, err
	}

	resp, err := r.boot.Client().UploadSession(ctx, src, size, identity, dst)
	if closeErr := dst.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close response: %w", closeErr)
	}
	if err != nil {
		return 0, fmt.Errorf("upload failed: %w", err)
	}

	r.logger.Info("Upload finished",
		slog.Int("chunks", resp.Chunks),
		slog.Int("failed_chunks", resp.FailedChunks),
		slog.Int64("response_bytes", resp.Bytes))
	return resp.Bytes, nil
}

func (r *Relay) archive(s *session.Session) {
	name := fmt.Sprintf("recordings/%s.wav", s.ID)
	if err := r.deps.Store.ArchiveWAV(storage.RecordingFile, name, r.config.SampleRate, 1); err != nil {
		r.logger.Warn("Failed to archive recording", slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	r.stats.Archived++
	r.mu.Unlock()
}

func (r *Relay) stepPlaying() error {
	done, err := r.deps.Player.Step()
	if !done {
		return nil
	}

	if tErr := r.machine.Transition(controller.StateReady); tErr != nil {
		return tErr
	}
	if err != nil {
		r.mu.Lock()
		r.stats.PlaybackError++
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Relay) closeRecording() {
	if r.recording == nil {
		return
	}
	if err := r.recording.Close(); err != nil {
		r.logger.Warn("Failed to close recording", slog.String("error", err.Error()))
	}
	r.recording = nil
}

func (r *Relay) shutdown() {
	r.receiver.Reset()
	if r.deps.Player != nil {
		r.deps.Player.Abort()
	}
	r.logger.Info("Relay loop stopped")
}
