package backend

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jorgemp1270/mrzorro-esp32/internal/audio"
	"github.com/jorgemp1270/mrzorro-esp32/internal/upload"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAccumulatorReordersChunks(t *testing.T) {
	acc := NewAccumulator("u")

	_ = acc.Add(2, []byte("bb"))
	_ = acc.Add(1, []byte("aa"))
	_ = acc.Add(3, []byte("cc"))

	if err := acc.Add(2, []byte("bb")); err == nil {
		t.Errorf("Expected duplicate to be rejected")
	}

	data, missing := acc.Finalize()
	if string(data) != "aabbcc" {
		t.Errorf("Expected aabbcc, got %q", data)
	}
	if len(missing) != 0 {
		t.Errorf("Expected no missing chunks, got %v", missing)
	}
	if acc.GetStats().Duplicates != 1 {
		t.Errorf("Expected 1 duplicate, got %d", acc.GetStats().Duplicates)
	}
}

func TestAccumulatorReportsGaps(t *testing.T) {
	acc := NewAccumulator("u")

	_ = acc.Add(1, []byte("a"))
	_ = acc.Add(4, []byte("d"))
	_ = acc.Add(3, []byte("c"))

	data, missing := acc.Finalize()
	if string(data) != "acd" {
		t.Errorf("Expected acd, got %q", data)
	}
	if len(missing) != 1 || missing[0] != 2 {
		t.Errorf("Expected chunk 2 missing, got %v", missing)
	}
}

func newTestBackend(t *testing.T, mode string) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(Config{ResponseDir: t.TempDir(), Mode: mode, SampleRate: 16000}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestEchoRoundTrip(t *testing.T) {
	for _, mode := range []string{ModeWAV, ModeJSON} {
		t.Run(mode, func(t *testing.T) {
			s, srv := newTestBackend(t, mode)

			client, err := upload.NewClient(upload.Config{BaseURL: srv.URL, ChunkSize: 4096}, discardLogger(), nil)
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}

			samples := make([]int16, 5000)
			for i := range samples {
				samples[i] = int16(i)
			}
			pcm := audio.SamplesToBytes(samples)

			var sink bytes.Buffer
			resp, err := client.UploadSession(context.Background(), bytes.NewReader(pcm), int64(len(pcm)), "user-9", &sink)
			if err != nil {
				t.Fatalf("UploadSession failed: %v", err)
			}
			if resp.Chunks != 3 {
				t.Errorf("Expected 3 chunks, got %d", resp.Chunks)
			}

			header, err := audio.ParseWAVHeader(sink.Bytes())
			if err != nil {
				t.Fatalf("Expected WAV response, got %v", err)
			}
			if header.NumChannels != 1 || header.SampleRate != 16000 {
				t.Errorf("Unexpected header %s", header)
			}

			echoed := audio.BytesToSamples(sink.Bytes()[audio.WAVHeaderSize:])
			if len(echoed) != len(samples) {
				t.Fatalf("Expected %d echoed samples, got %d", len(samples), len(echoed))
			}
			for i := range samples {
				if echoed[i] != samples[i] {
					t.Fatalf("Sample %d: expected %d, got %d", i, samples[i], echoed[i])
				}
			}

			records := s.Records()
			if len(records) != 3 || !records[2].Last || records[2].UserID != "user-9" {
				t.Errorf("Unexpected records: %+v", records)
			}
		})
	}
}

func TestEmptyRecordingYieldsSilence(t *testing.T) {
	_, srv := newTestBackend(t, ModeWAV)

	client, err := upload.NewClient(upload.Config{BaseURL: srv.URL}, discardLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var sink bytes.Buffer
	if _, err := client.UploadSession(context.Background(), bytes.NewReader(nil), 0, "u", &sink); err != nil {
		t.Fatalf("UploadSession failed: %v", err)
	}

	header, err := audio.ParseWAVHeader(sink.Bytes())
	if err != nil {
		t.Fatalf("Expected WAV response, got %v", err)
	}
	if header.Subchunk2Size != 16000/4*2 {
		t.Errorf("Expected %d bytes of silence, got %d", 16000/4*2, header.Subchunk2Size)
	}
}

func TestAudioRejectsBadRequests(t *testing.T) {
	_, srv := newTestBackend(t, ModeWAV)

	tests := []struct {
		name    string
		method  string
		headers map[string]string
		want    int
	}{
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
		{"missing user", http.MethodPost, map[string]string{upload.HeaderChunkNumber: "1", upload.HeaderLastChunk: "false"}, http.StatusBadRequest},
		{"bad sequence", http.MethodPost, map[string]string{upload.HeaderUserID: "u", upload.HeaderChunkNumber: "zero", upload.HeaderLastChunk: "false"}, http.StatusBadRequest},
		{"bad last flag", http.MethodPost, map[string]string{upload.HeaderUserID: "u", upload.HeaderChunkNumber: "1", upload.HeaderLastChunk: "maybe"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+"/audio", bytes.NewReader([]byte{1, 2}))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestGetResponseRejectsBadNames(t *testing.T) {
	_, srv := newTestBackend(t, ModeJSON)

	resp, err := http.Get(srv.URL + "/get_response/missing.wav")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/get_response/a%5Cb.wav")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}
