package storage

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/jorgemp1270/mrzorro-esp32/internal/audio"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestOpenModes(t *testing.T) {
	s := newTestStore(t)

	f, err := s.Open(RecordingFile, ModeWrite)
	if err != nil {
		t.Fatalf("Open for write failed: %v", err)
	}
	_, _ = f.Write([]byte("abc"))
	f.Close()

	f, err = s.Open(RecordingFile, ModeAppend)
	if err != nil {
		t.Fatalf("Open for append failed: %v", err)
	}
	_, _ = f.Write([]byte("def"))
	f.Close()

	size, err := s.Size(RecordingFile)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 6 {
		t.Errorf("Expected 6 bytes, got %d", size)
	}

	f, err = s.Open(RecordingFile, ModeWrite)
	if err != nil {
		t.Fatalf("Open for write failed: %v", err)
	}
	f.Close()

	if size, _ := s.Size(RecordingFile); size != 0 {
		t.Errorf("Expected truncated file, got %d bytes", size)
	}
}

func TestRemoveMissingFile(t *testing.T) {
	s := newTestStore(t)

	if err := s.Remove(ResponseFile); err != nil {
		t.Errorf("Expected no error removing missing file, got %v", err)
	}

	f, err := s.Open(ResponseFile, ModeWrite)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	f.Close()

	if err := s.Remove(ResponseFile); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if s.Exists(ResponseFile) {
		t.Errorf("Expected file removed")
	}
}

func TestPathStaysInsideRoot(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name    string
		wantErr bool
	}{
		{"recording.pcm", false},
		{"archive/2024/a.wav", false},
		{"../escape.pcm", false}, // cleaned to the root
		{"/", true},
		{"", true},
	}

	for _, tt := range tests {
		_, err := s.Path(tt.name)
		if tt.wantErr && !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("Path(%q): expected ErrOutsideRoot, got %v", tt.name, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("Path(%q): unexpected error %v", tt.name, err)
		}
	}
}

func TestArchiveWAV(t *testing.T) {
	s := newTestStore(t)

	samples := make([]int16, 5000)
	for i := range samples {
		samples[i] = int16(i*7 - 10000)
	}

	f, err := s.Open(RecordingFile, ModeWrite)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_, _ = f.Write(audio.SamplesToBytes(samples))
	f.Close()

	if err := s.ArchiveWAV(RecordingFile, "archive/session.wav", 16000, 1); err != nil {
		t.Fatalf("ArchiveWAV failed: %v", err)
	}

	path, _ := s.Path("archive/session.wav")
	got, rate, channels, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile failed: %v", err)
	}
	if rate != 16000 || channels != 1 {
		t.Errorf("Expected 16000 Hz mono, got %d Hz %d channels", rate, channels)
	}
	if len(got) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("Sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}

	// The archive is also a valid playback response
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if _, err := audio.ParseWAVHeader(raw); err != nil {
		t.Errorf("Expected playable header, got %v", err)
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bad.wav"
	if err := os.WriteFile(path, []byte("definitely not a wav file at all"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, _, _, err := ReadWAVFile(path); err == nil {
		t.Errorf("Expected error for garbage file")
	}
}
