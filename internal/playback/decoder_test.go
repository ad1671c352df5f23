package playback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jorgemp1270/mrzorro-esp32/internal/audio"
)

type fakeSink struct {
	samples []int16
	writes  int
	clears  int
}

func (s *fakeSink) WriteSamples(samples []int16) (int, error) {
	s.writes++
	s.samples = append(s.samples, samples...)
	return len(samples), nil
}

func (s *fakeSink) Clear() error {
	s.clears++
	return nil
}

func newTestDecoder(sink Sink, cfg Config) *Decoder {
	return NewDecoder(cfg, sink, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func wavBytes(t *testing.T, samples []int16, channels int) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(samples, 16000, channels)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return data
}

func TestMonoUpmixWithGain(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDecoder(sink, Config{Gain: 3})

	if err := d.Play(context.Background(), bytes.NewReader(wavBytes(t, []int16{100, -100}, 1))); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	want := []int16{300, 300, -300, -300}
	if len(sink.samples) != len(want) {
		t.Fatalf("Expected %v, got %v", want, sink.samples)
	}
	for i := range want {
		if sink.samples[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], sink.samples[i])
		}
	}
	if sink.clears != 2 {
		t.Errorf("Expected sink cleared before and after, got %d clears", sink.clears)
	}
	if d.State() != StateIdle {
		t.Errorf("Expected idle after playback, got %s", d.State())
	}
}

func TestStereoGainSaturates(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDecoder(sink, Config{Gain: 3})

	if err := d.Play(context.Background(), bytes.NewReader(wavBytes(t, []int16{20000, -20000, 10, -10}, 2))); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	want := []int16{32767, -32768, 30, -30}
	for i := range want {
		if sink.samples[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], sink.samples[i])
		}
	}
}

func TestRejectedHeaderWritesNothing(t *testing.T) {
	valid := wavBytes(t, []int16{1, 2, 3}, 1)

	float := append([]byte(nil), valid...)
	float[20] = 3 // IEEE float

	eightBit := append([]byte(nil), valid...)
	eightBit[34] = 8

	tests := []struct {
		name string
		data []byte
	}{
		{"short header", valid[:30]},
		{"non-PCM format", float},
		{"8-bit samples", eightBit},
		{"garbage", bytes.Repeat([]byte{0xAB}, 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			d := newTestDecoder(sink, Config{})

			err := d.Open(bytes.NewReader(tt.data))
			if !errors.Is(err, ErrFormatValidation) {
				t.Fatalf("Expected ErrFormatValidation, got %v", err)
			}
			if sink.writes != 0 || sink.clears != 0 {
				t.Errorf("Expected no sink activity, got %d writes and %d clears", sink.writes, sink.clears)
			}
			if d.State() != StateIdle {
				t.Errorf("Expected idle, got %s", d.State())
			}
		})
	}
}

func TestOpenWhileStreamingIsBusy(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDecoder(sink, Config{})

	if err := d.Open(bytes.NewReader(wavBytes(t, make([]int16, 100), 1))); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := d.Open(bytes.NewReader(wavBytes(t, make([]int16, 100), 1))); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected ErrBusy, got %v", err)
	}
	if d.State() != StateStreaming {
		t.Errorf("Expected first response still streaming, got %s", d.State())
	}
}

// oneByteReader returns a single byte per Read to exercise the frame carry
type oneByteReader struct {
	r io.Reader
}

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestCarriesPartialFrames(t *testing.T) {
	samples := []int16{1, 2, 3, 4, 5}
	sink := &fakeSink{}
	d := newTestDecoder(sink, Config{Gain: 1})

	src := &oneByteReader{r: bytes.NewReader(wavBytes(t, samples, 1))}
	if err := d.Play(context.Background(), src); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	want := audio.UpmixMonoToStereo(samples, 1)
	if len(sink.samples) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(sink.samples))
	}
	for i := range want {
		if sink.samples[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], sink.samples[i])
		}
	}
}

func TestStopsAtDeclaredDataSize(t *testing.T) {
	data := wavBytes(t, []int16{7, 8}, 1)
	data = append(data, 0xEE, 0xEE, 0xEE, 0xEE) // trailing chunk bytes

	sink := &fakeSink{}
	d := newTestDecoder(sink, Config{Gain: 1})

	if err := d.Play(context.Background(), bytes.NewReader(data)); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if len(sink.samples) != 4 {
		t.Errorf("Expected 4 stereo samples, got %d", len(sink.samples))
	}
}

func TestUnknownDataSizeReadsToEOF(t *testing.T) {
	header := audio.NewWAVHeader(16000, 1, audio.WAVUnknownDataSize)
	data := append(header.Bytes(), audio.SamplesToBytes([]int16{1, 2, 3})...)

	sink := &fakeSink{}
	d := newTestDecoder(sink, Config{Gain: 1, WindowSize: 4})

	if err := d.Play(context.Background(), bytes.NewReader(data)); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if len(sink.samples) != 6 {
		t.Errorf("Expected 6 stereo samples, got %d", len(sink.samples))
	}
}

func TestCursorTracksProgress(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDecoder(sink, Config{WindowSize: 8})

	if err := d.Open(bytes.NewReader(wavBytes(t, make([]int16, 8), 1))); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	done, err := d.Step()
	if err != nil || done {
		t.Fatalf("Expected more data, got done=%v err=%v", done, err)
	}

	cur := d.Cursor()
	if cur.Consumed != 8 || cur.Remaining != 8 || cur.Total != 16 {
		t.Errorf("Unexpected cursor: %+v", cur)
	}
	if cur.Percent() != 50 {
		t.Errorf("Expected 50%%, got %.1f", cur.Percent())
	}

	d.Abort()
	if d.State() != StateIdle || d.Cursor() != (Cursor{}) {
		t.Errorf("Expected reset after abort, got %s %+v", d.State(), d.Cursor())
	}
}
