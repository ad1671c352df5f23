package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jorgemp1270/mrzorro-esp32/internal/audio"
	"github.com/jorgemp1270/mrzorro-esp32/internal/metrics"
)

// Defaults for the speaker path
const (
	DefaultGain             = 3
	DefaultWindowSize       = 4096
	DefaultProgressInterval = time.Second
	DefaultSettle           = 300 * time.Millisecond
)

var (
	// ErrBusy is returned by Open while a response is already streaming
	ErrBusy = errors.New("playback in progress")

	// ErrFormatValidation is returned when the response header is unusable
	ErrFormatValidation = audio.ErrFormatValidation
)

// Sink is a stereo 16-bit output such as a speaker DMA buffer
type Sink interface {
	// WriteSamples blocks until the interleaved stereo samples are accepted
	WriteSamples(samples []int16) (int, error)
	// Clear zero-fills the output buffer
	Clear() error
}

// State of the decoder
type State int32

const (
	StateIdle State = iota
	StateHeaderRead
	StateStreaming
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHeaderRead:
		return "header_read"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config contains playback configuration
type Config struct {
	Gain             int
	WindowSize       int
	ProgressInterval time.Duration
	Settle           time.Duration
}

// Cursor tracks progress through the data section
type Cursor struct {
	Consumed  int64 `json:"consumed"`
	Remaining int64 `json:"remaining"` // -1 when the data size is unknown
	Total     int64 `json:"total"`     // -1 when the data size is unknown
}

// Percent returns progress through a known data size
func (c Cursor) Percent() float64 {
	if c.Total <= 0 {
		return 0
	}
	return float64(c.Consumed) * 100 / float64(c.Total)
}

// Decoder streams WAV data into a Sink. Open and Step are driven from a
// single loop; State and Cursor may be read from any goroutine.
type Decoder struct {
	config  Config
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	state atomic.Int32

	src       io.Reader
	header    *audio.WAVHeader
	frameSize int
	window    []byte
	carry     int
	samples   []int16
	stereo    []int16

	lastProgress time.Time

	mu     sync.RWMutex
	cursor Cursor
}

// NewDecoder creates a playback decoder writing to sink
func NewDecoder(config Config, sink Sink, logger *slog.Logger, m *metrics.Metrics) *Decoder {
	if config.Gain <= 0 {
		config.Gain = DefaultGain
	}
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultWindowSize
	}
	// Whole stereo frames plus room for a carried partial frame
	config.WindowSize -= config.WindowSize % 4
	if config.WindowSize < 4 {
		config.WindowSize = 4
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = DefaultProgressInterval
	}
	if config.Settle < 0 {
		config.Settle = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Decoder{
		config:  config,
		sink:    sink,
		logger:  logger,
		metrics: m,
		window:  make([]byte, config.WindowSize),
		samples: make([]int16, config.WindowSize/2),
		stereo:  make([]int16, config.WindowSize),
	}
}

// State returns the current decoder state
func (d *Decoder) State() State {
	return State(d.state.Load())
}

// Cursor returns a snapshot of the playback cursor
func (d *Decoder) Cursor() Cursor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cursor
}

// Header returns the header of the response being streamed, or nil
func (d *Decoder) Header() *audio.WAVHeader {
	if d.State() != StateStreaming {
		return nil
	}
	return d.header
}

// Open reads and validates the WAV header from src. A rejected header leaves
// the sink untouched and the decoder idle. src is closed when playback ends if
// it implements io.Closer.
func (d *Decoder) Open(src io.Reader) error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateHeaderRead)) {
		return ErrBusy
	}

	var raw [audio.WAVHeaderSize]byte
	if _, err := io.ReadFull(src, raw[:]); err != nil {
		return d.reject(src, fmt.Errorf("%w: failed to read header: %v", ErrFormatValidation, err))
	}

	header, err := audio.ParseWAVHeader(raw[:])
	if err != nil {
		return d.reject(src, err)
	}

	if err := d.sink.Clear(); err != nil {
		d.logger.Warn("Failed to clear sink before playback", slog.String("error", err.Error()))
	}

	d.src = src
	d.header = header
	d.frameSize = int(header.NumChannels) * 2
	d.carry = 0
	d.lastProgress = time.Now()

	total := int64(-1)
	if header.DataSizeKnown() {
		total = int64(header.Subchunk2Size)
	}
	d.setCursor(Cursor{Total: total, Remaining: total})

	d.state.Store(int32(StateStreaming))
	d.metrics.RecordPlaybackStarted()

	d.logger.Info("Playback started",
		slog.Int("channels", int(header.NumChannels)),
		slog.Int("sample_rate", int(header.SampleRate)),
		slog.Int64("data_bytes", total),
		slog.Int("gain", d.config.Gain))

	return nil
}

func (d *Decoder) reject(src io.Reader, err error) error {
	closeSource(src)
	d.state.Store(int32(StateIdle))
	d.metrics.RecordPlaybackRejected()
	d.logger.Warn("Rejected response", slog.String("error", err.Error()))
	return err
}

// Step streams one window to the sink. It returns done=true once the
// response has been fully played (or failed) and the decoder is idle again.
func (d *Decoder) Step() (bool, error) {
	if d.State() != StateStreaming {
		return true, nil
	}

	want := len(d.window) - d.carry
	cur := d.Cursor()
	if cur.Remaining >= 0 {
		unread := cur.Remaining
		if int64(want) > unread {
			want = int(unread)
		}
	}

	n, readErr := d.src.Read(d.window[d.carry : d.carry+want])

	total := d.carry + n
	usable := total - total%d.frameSize
	if usable > 0 {
		if err := d.writeWindow(d.window[:usable]); err != nil {
			d.finish(false)
			return true, fmt.Errorf("failed to write to sink: %w", err)
		}
	}
	d.carry = copy(d.window, d.window[usable:total])

	cur.Consumed += int64(n)
	if cur.Remaining >= 0 {
		cur.Remaining -= int64(n)
	}
	d.setCursor(cur)
	d.logProgress(cur)

	switch {
	case readErr == io.EOF, cur.Remaining == 0:
		if d.carry > 0 {
			d.logger.Debug("Dropping partial trailing frame", slog.Int("bytes", d.carry))
		}
		d.finish(true)
		return true, nil
	case readErr != nil:
		d.finish(false)
		return true, fmt.Errorf("failed to read response: %w", readErr)
	}

	return false, nil
}

func (d *Decoder) writeWindow(data []byte) error {
	d.samples = audio.BytesToSamplesInto(d.samples, data)

	out := d.samples
	if d.header.NumChannels == 1 {
		n := audio.UpmixMonoToStereoInto(d.stereo, d.samples, d.config.Gain)
		out = d.stereo[:n]
	} else {
		audio.ApplyGainStereo(out, d.config.Gain)
	}

	if _, err := d.sink.WriteSamples(out); err != nil {
		return err
	}
	d.metrics.RecordPlaybackBytes(len(data))
	return nil
}

func (d *Decoder) logProgress(cur Cursor) {
	if time.Since(d.lastProgress) < d.config.ProgressInterval {
		return
	}
	d.lastProgress = time.Now()

	if cur.Total > 0 {
		d.logger.Info("Playback progress",
			slog.String("percent", fmt.Sprintf("%.1f", cur.Percent())),
			slog.Int64("consumed", cur.Consumed))
		return
	}
	d.logger.Info("Playback progress", slog.Int64("consumed", cur.Consumed))
}

// finish clears the sink and returns to idle
func (d *Decoder) finish(settle bool) {
	if settle && d.config.Settle > 0 {
		time.Sleep(d.config.Settle)
	}
	if err := d.sink.Clear(); err != nil {
		d.logger.Warn("Failed to clear sink after playback", slog.String("error", err.Error()))
	}

	cur := d.Cursor()
	d.logger.Info("Playback finished", slog.Int64("consumed", cur.Consumed))

	closeSource(d.src)
	d.src = nil
	d.header = nil
	d.carry = 0
	d.setCursor(Cursor{})
	d.state.Store(int32(StateIdle))
}

// Abort stops a response mid-stream
func (d *Decoder) Abort() {
	if d.State() != StateStreaming {
		return
	}
	d.logger.Info("Playback aborted")
	d.finish(false)
}

// Play drives Open and Step until the response has been played or ctx ends
func (d *Decoder) Play(ctx context.Context, src io.Reader) error {
	if err := d.Open(src); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			d.Abort()
			return err
		}
		done, err := d.Step()
		if done {
			return err
		}
	}
}

func (d *Decoder) setCursor(c Cursor) {
	d.mu.Lock()
	d.cursor = c
	d.mu.Unlock()
}

func closeSource(src io.Reader) {
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
}
