package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jorgemp1270/mrzorro-esp32/internal/audio"
	"github.com/jorgemp1270/mrzorro-esp32/internal/device"
	"github.com/jorgemp1270/mrzorro-esp32/internal/metrics"
	"github.com/jorgemp1270/mrzorro-esp32/internal/playback"
	"github.com/jorgemp1270/mrzorro-esp32/internal/provision"
	"github.com/jorgemp1270/mrzorro-esp32/internal/session"
	"github.com/jorgemp1270/mrzorro-esp32/internal/storage"
	"github.com/jorgemp1270/mrzorro-esp32/internal/upload"
)

// Defaults for the standalone device loop
const (
	DefaultChunkSamples  = 2048
	DefaultShiftBits     = 14
	DefaultCaptureGain   = 1
	DefaultPollInterval  = 20 * time.Millisecond
	DefaultMaxRecording  = 30 * time.Second
	DefaultRetryInterval = 2 * time.Second
	DefaultLogEvery      = 10
)

// Bringup joins the network once configuration has arrived and returns the
// uploader for the configured backend.
type Bringup func(ctx context.Context, p provision.Payload) (*upload.Client, error)

// DeviceConfig contains standalone device configuration
type DeviceConfig struct {
	ChunkSamples  int
	ShiftBits     uint
	CaptureGain   int
	PollInterval  time.Duration
	MaxRecording  time.Duration
	RetryInterval time.Duration
	LogEvery      int // chunks between capture summaries
}

// DeviceDeps are the collaborators of a standalone device. Player may be nil
// when no speaker could be brought up; responses are then only stored.
type DeviceDeps struct {
	Source       device.Source
	Trigger      device.Trigger
	Indicator    device.Indicator
	Player       *playback.Decoder
	Store        *storage.Store
	Provisioning *provision.Channel
	Bringup      Bringup
}

// Device records from a local microphone while the trigger is held, streams
// the recording to the backend and plays the reply.
type Device struct {
	config  DeviceConfig
	deps    DeviceDeps
	machine *Machine
	tracker *session.Tracker
	logger  *slog.Logger
	metrics *metrics.Metrics

	boot *Bootstrap

	// Owned by the loop
	streamer    *upload.Streamer
	response    *os.File
	active      *session.Session
	wide        []int32
	samples     []int16
	pcm         []byte
	pressed     bool
	recordStart time.Time

	ignored atomic.Uint64

	mu    sync.Mutex
	stats Stats
}

// NewDevice creates a standalone device in Configuring
func NewDevice(config DeviceConfig, deps DeviceDeps, logger *slog.Logger, m *metrics.Metrics) (*Device, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("capture source is required")
	}
	if deps.Trigger == nil {
		return nil, fmt.Errorf("trigger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if config.ChunkSamples <= 0 {
		config.ChunkSamples = DefaultChunkSamples
	}
	if config.CaptureGain <= 0 {
		config.CaptureGain = DefaultCaptureGain
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.MaxRecording <= 0 {
		config.MaxRecording = DefaultMaxRecording
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.LogEvery <= 0 {
		config.LogEvery = DefaultLogEvery
	}

	boot, err := NewBootstrap(deps.Provisioning, deps.Bringup, config.RetryInterval, logger)
	if err != nil {
		return nil, err
	}

	return &Device{
		config:  config,
		deps:    deps,
		boot:    boot,
		machine: NewMachine(deps.Indicator, logger, m),
		tracker: session.NewTracker(logger, m),
		logger:  logger,
		metrics: m,
		wide:    make([]int32, config.ChunkSamples),
		samples: make([]int16, config.ChunkSamples),
		pcm:     make([]byte, 0, config.ChunkSamples*2),
	}, nil
}

// Machine returns the device state machine
func (d *Device) Machine() *Machine {
	return d.machine
}

// Tracker returns the session tracker
func (d *Device) Tracker() *session.Tracker {
	return d.tracker
}

// Status returns the current state for the monitor API
func (d *Device) Status() Status {
	st := Snapshot("device", d.machine, d.tracker, d.deps.Player)
	st.Ignored = d.ignored.Load()
	return st
}

// Stats returns device counters and recent sessions
func (d *Device) Stats() Stats {
	d.mu.Lock()
	stats := d.stats
	d.mu.Unlock()

	stats.Sessions = d.tracker.History()
	return stats
}

// Run drives Step until ctx is cancelled. Recording and playback are paced by
// their blocking peripherals; other states wait PollInterval between steps.
func (d *Device) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Info("Device loop started", slog.Duration("poll_interval", d.config.PollInterval))

	for {
		if err := d.Step(ctx); err != nil {
			d.logger.Warn("Device step failed",
				slog.String("state", d.machine.State().String()),
				slog.String("error", err.Error()))
		}

		if err := ctx.Err(); err != nil {
			d.shutdown()
			return err
		}

		switch d.machine.State() {
		case StateRecording, StatePlayingResponse:
			continue
		}

		select {
		case <-ctx.Done():
			d.shutdown()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step performs one bounded unit of work for the current state
func (d *Device) Step(ctx context.Context) error {
	pressed := d.deps.Trigger.Pressed()
	rising := pressed && !d.pressed
	d.pressed = pressed

	switch state := d.machine.State(); state {
	case StateConfiguring, StateInitializing:
		return d.boot.Step(ctx, d.machine)
	case StateReady:
		if rising {
			return d.startRecording(ctx)
		}
		return nil
	case StateRecording:
		return d.stepRecording(pressed)
	case StateUploading:
		d.ignoreTrigger(rising, state)
		return d.stepUploading()
	case StatePlayingResponse:
		d.ignoreTrigger(rising, state)
		return d.stepPlaying()
	default:
		return fmt.Errorf("unknown state %s", state)
	}
}

func (d *Device) ignoreTrigger(rising bool, state State) {
	if !rising {
		return
	}
	d.ignored.Add(1)
	d.logger.Debug("Trigger ignored", slog.String("state", state.String()))
}

func (d *Device) startRecording(ctx context.Context) error {
	user := d.boot.Payload().UserID
	s, err := d.tracker.Begin(user)
	if err != nil {
		return err
	}

	if err := d.deps.Store.Remove(storage.ResponseFile); err != nil {
		d.tracker.Abandon("storage unavailable")
		return err
	}
	f, err := d.deps.Store.Open(storage.ResponseFile, storage.ModeWrite)
	if err != nil {
		d.tracker.Abandon("storage unavailable")
		return err
	}

	d.active = s
	d.response = f
	d.streamer = d.boot.Client().NewStreamer(ctx, user, f)
	d.recordStart = time.Now()

	return d.machine.Transition(StateRecording)
}

func (d *Device) stepRecording(pressed bool) error {
	if !pressed {
		return d.stopRecording("released")
	}
	if time.Since(d.recordStart) >= d.config.MaxRecording {
		return d.stopRecording("max duration")
	}

	n, err := d.deps.Source.ReadSamples(d.wide)
	if errors.Is(err, io.EOF) {
		return d.stopRecording("source exhausted")
	}
	if err != nil {
		d.abandon("microphone read failed")
		return fmt.Errorf("microphone read failed: %w", err)
	}
	if n == 0 {
		return nil
	}

	k := audio.DownconvertInto(d.samples, d.wide[:n], d.config.ShiftBits, d.config.CaptureGain)
	samples := d.samples[:k]
	d.pcm = audio.AppendSamples(d.pcm[:0], samples)

	if err := d.streamer.Enqueue(d.pcm); err != nil {
		d.abandon("upload queue closed")
		return fmt.Errorf("failed to queue chunk: %w", err)
	}

	d.active.AddChunk(len(d.pcm))
	level := audio.MeasureLevel(samples)
	d.metrics.RecordCaptureChunk(level.Clipped)

	d.mu.Lock()
	d.stats.ChunksRead++
	d.mu.Unlock()

	if chunks := d.active.Chunks(); chunks%uint64(d.config.LogEvery) == 0 {
		d.logger.Debug("Capture progress",
			slog.Uint64("chunks", chunks),
			slog.Uint64("bytes", d.active.Bytes()),
			slog.Int("peak", int(level.Peak)),
			slog.Int("clipped", level.Clipped))
	}

	return nil
}

func (d *Device) stopRecording(reason string) error {
	d.logger.Info("Recording stopped", slog.String("reason", reason))

	if err := d.streamer.Finish(); err != nil {
		d.abandon("upload queue closed")
		return err
	}
	if _, err := d.tracker.End(); err != nil {
		return err
	}
	d.active = nil

	return d.machine.Transition(StateUploading)
}

func (d *Device) stepUploading() error {
	var resp *upload.Response
	select {
	case resp = <-d.streamer.Done():
	default:
		return nil
	}

	d.streamer = nil
	d.closeResponse()

	if resp == nil || !resp.Completed {
		err := upload.ErrNoResponse
		if resp != nil && resp.Err != nil {
			err = resp.Err
		}
		if tErr := d.machine.Transition(StateReady); tErr != nil {
			return tErr
		}
		return fmt.Errorf("upload failed: %w", err)
	}

	d.mu.Lock()
	d.stats.Responses++
	if resp.Bytes == 0 {
		d.stats.EmptyReplies++
	}
	d.mu.Unlock()

	if resp.Bytes == 0 {
		d.logger.Warn("Backend returned an empty response")
		return d.machine.Transition(StateReady)
	}

	if d.deps.Player == nil {
		d.logger.Info("No speaker available, response stored",
			slog.String("file", storage.ResponseFile),
			slog.Int64("bytes", resp.Bytes))
		return d.machine.Transition(StateReady)
	}

	f, err := d.deps.Store.Open(storage.ResponseFile, storage.ModeRead)
	if err == nil {
		err = d.deps.Player.Open(f)
	}
	if err != nil {
		d.mu.Lock()
		d.stats.PlaybackError++
		d.mu.Unlock()
		if tErr := d.machine.Transition(StateReady); tErr != nil {
			return tErr
		}
		return fmt.Errorf("failed to start playback: %w", err)
	}

	return d.machine.Transition(StatePlayingResponse)
}

func (d *Device) stepPlaying() error {
	done, err := d.deps.Player.Step()
	if !done {
		return nil
	}

	if tErr := d.machine.Transition(StateReady); tErr != nil {
		return tErr
	}
	if err != nil {
		d.mu.Lock()
		d.stats.PlaybackError++
		d.mu.Unlock()
		return err
	}
	return nil
}

// abandon drops the active session and returns to Ready
func (d *Device) abandon(reason string) {
	if d.streamer != nil {
		d.streamer.Abort()
		d.streamer = nil
	}
	d.closeResponse()
	d.tracker.Abandon(reason)
	d.active = nil

	if d.deps.Player != nil {
		d.deps.Player.Abort()
	}

	d.mu.Lock()
	d.stats.Resets++
	d.mu.Unlock()

	d.machine.Reset(reason)
}

func (d *Device) closeResponse() {
	if d.response == nil {
		return
	}
	if err := d.response.Close(); err != nil {
		d.logger.Warn("Failed to close response file", slog.String("error", err.Error()))
	}
	d.response = nil
}

func (d *Device) shutdown() {
	switch d.machine.State() {
	case StateRecording, StateUploading, StatePlayingResponse:
		d.abandon("shutdown")
	}
	d.logger.Info("Device loop stopped")
}
