package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jorgemp1270/mrzorro-esp32/internal/audio"
	"github.com/jorgemp1270/mrzorro-esp32/internal/device"
	"github.com/jorgemp1270/mrzorro-esp32/internal/metrics"
	"github.com/jorgemp1270/mrzorro-esp32/internal/protocol"
)

// Defaults for the capture node
const (
	DefaultChunkSamples = 2048
	DefaultShiftBits    = 14
	DefaultStartDelay   = 50 * time.Millisecond
	DefaultStopDelay    = 100 * time.Millisecond
	DefaultPollInterval = 20 * time.Millisecond
	DefaultLogEvery     = 10
)

// Config contains capture node configuration
type Config struct {
	ChunkSamples int
	ShiftBits    uint
	Gain         int
	StartDelay   time.Duration // pause after begin so the receiver can open storage
	StopDelay    time.Duration // pause after end before the next session
	PollInterval time.Duration
	LogEvery     int
}

// Stats represents capture node statistics
type Stats struct {
	Sessions   uint64 `json:"sessions"`
	Chunks     uint64 `json:"chunks"`
	BytesSent  uint64 `json:"bytes_sent"`
	Clipped    uint64 `json:"clipped"`
	LinkErrors uint64 `json:"link_errors"`
	Streaming  bool   `json:"streaming"`
}

// Node streams microphone audio onto a link
type Node struct {
	config    Config
	encoder   protocol.Encoder
	source    device.Source
	trigger   device.Trigger
	indicator device.Indicator
	logger    *slog.Logger
	metrics   *metrics.Metrics

	wide    []int32
	samples []int16
	pcm     []byte

	streaming     bool
	sessionChunks uint64

	mu    sync.Mutex
	stats Stats
}

// NewNode creates a capture node
func NewNode(config Config, encoder protocol.Encoder, source device.Source, trigger device.Trigger, indicator device.Indicator, logger *slog.Logger, m *metrics.Metrics) *Node {
	if config.ChunkSamples <= 0 {
		config.ChunkSamples = DefaultChunkSamples
	}
	if config.Gain <= 0 {
		config.Gain = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.LogEvery <= 0 {
		config.LogEvery = DefaultLogEvery
	}
	if logger == nil {
		logger = slog.Default()
	}
	if indicator == nil {
		indicator = device.NewLogIndicator(logger)
	}

	return &Node{
		config:    config,
		encoder:   encoder,
		source:    source,
		trigger:   trigger,
		indicator: indicator,
		logger:    logger,
		metrics:   m,
		wide:      make([]int32, config.ChunkSamples),
		samples:   make([]int16, config.ChunkSamples),
		pcm:       make([]byte, 0, config.ChunkSamples*2),
	}
}

// Stats returns node statistics
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Streaming reports whether a session is on the link
func (n *Node) Streaming() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats.Streaming
}

// Run steps the node until ctx is cancelled. While streaming the microphone
// read paces the loop.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := n.Step(ctx); err != nil {
			n.logger.Warn("Capture step failed", slog.String("error", err.Error()))
		}

		if n.streaming {
			if ctx.Err() == nil {
				continue
			}
			n.end(context.Background(), "shutdown")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step performs one unit of work: open, stream one chunk, or close a session
func (n *Node) Step(ctx context.Context) error {
	pressed := n.trigger.Pressed()

	switch {
	case !n.streaming && pressed:
		return n.begin(ctx)
	case n.streaming && !pressed:
		return n.end(ctx, "released")
	case n.streaming:
		return n.streamChunk(ctx)
	}
	return nil
}

func (n *Node) begin(ctx context.Context) error {
	if err := n.encoder.SendControl(protocol.ControlBegin); err != nil {
		n.linkFailed()
		return err
	}

	n.streaming = true
	n.sessionChunks = 0
	n.indicator.Set(true)

	n.mu.Lock()
	n.stats.Sessions++
	n.stats.Streaming = true
	n.mu.Unlock()

	n.logger.Info("Capture started")
	sleep(ctx, n.config.StartDelay)
	return nil
}

func (n *Node) end(ctx context.Context, reason string) error {
	n.streaming = false
	n.indicator.Set(false)

	n.mu.Lock()
	n.stats.Streaming = false
	n.mu.Unlock()

	if err := n.encoder.SendControl(protocol.ControlEnd); err != nil {
		n.linkFailed()
		return err
	}

	n.logger.Info("Capture stopped",
		slog.String("reason", reason),
		slog.Uint64("chunks", n.sessionChunks))
	sleep(ctx, n.config.StopDelay)
	return nil
}

func (n *Node) streamChunk(ctx context.Context) error {
	count, err := n.source.ReadSamples(n.wide)
	if errors.Is(err, io.EOF) {
		return n.end(ctx, "source exhausted")
	}
	if err != nil {
		// Close the session on the link so the receiver does not wait forever
		endErr := n.end(ctx, "microphone failure")
		return errors.Join(fmt.Errorf("microphone read failed: %w", err), endErr)
	}
	if count == 0 {
		return nil
	}

	k := audio.DownconvertInto(n.samples, n.wide[:count], n.config.ShiftBits, n.config.Gain)
	samples := n.samples[:k]
	n.pcm = audio.AppendSamples(n.pcm[:0], samples)

	if err := n.encoder.SendData(n.pcm); err != nil {
		n.linkFailed()
		return err
	}

	level := audio.MeasureLevel(samples)
	n.metrics.RecordCaptureChunk(level.Clipped)
	n.metrics.RecordLinkBytes(len(n.pcm))
	n.sessionChunks++

	n.mu.Lock()
	n.stats.Chunks++
	n.stats.BytesSent += uint64(len(n.pcm))
	n.stats.Clipped += uint64(level.Clipped)
	n.mu.Unlock()

	if n.sessionChunks%uint64(n.config.LogEvery) == 0 {
		n.logger.Debug("Capture progress",
			slog.Uint64("chunks", n.sessionChunks),
			slog.Int("peak", int(level.Peak)),
			slog.String("rms", fmt.Sprintf("%.1f", level.RMS)))
	}
	return nil
}

// linkFailed drops the session; the receiver resynchronizes on the next begin
func (n *Node) linkFailed() {
	n.streaming = false
	n.indicator.Set(false)

	n.mu.Lock()
	n.stats.LinkErrors++
	n.stats.Streaming = false
	n.mu.Unlock()

	n.logger.Warn("Link write failed, session dropped")
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
