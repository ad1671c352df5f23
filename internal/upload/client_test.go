package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

type chunkRecord struct {
	seq    int
	last   bool
	userID string
	size   int
}

// fakeBackend records chunk requests and answers the last one
type fakeBackend struct {
	mu       sync.Mutex
	chunks   []chunkRecord
	reply    []byte
	jsonMode bool
	failSeq  int
	delaySeq int
	delay    time.Duration
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seq, _ := strconv.Atoi(r.Header.Get(HeaderChunkNumber))
		last := r.Header.Get(HeaderLastChunk) == "true"

		b.mu.Lock()
		b.chunks = append(b.chunks, chunkRecord{seq: seq, last: last, userID: r.Header.Get(HeaderUserID), size: len(body)})
		b.mu.Unlock()

		if seq == b.delaySeq {
			select {
			case <-time.After(b.delay):
			case <-r.Context().Done():
				return
			}
		}
		if seq == b.failSeq {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if !last {
			w.WriteHeader(http.StatusOK)
			return
		}
		if b.jsonMode {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"filename": "resp 1.wav"})
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(b.reply)
	})
	mux.HandleFunc("/get_response/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_response/resp 1.wav" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b.reply)
	})
	return mux
}

func (b *fakeBackend) records() []chunkRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]chunkRecord(nil), b.chunks...)
}

func newTestClient(t *testing.T, baseURL string, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = baseURL
	c, err := NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestUploadSessionChunking(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		wantChunks int
		lastSize   int
	}{
		{"empty session sends dummy", 0, 1, 1},
		{"single byte", 1, 1, 1},
		{"exactly one chunk", 4096, 1, 4096},
		{"one byte over", 4097, 2, 1},
		{"three chunks", 10000, 3, 10000 - 2*4096},
		{"four chunks", 12289, 4, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{reply: []byte("RIFF-response")}
			srv := httptest.NewServer(backend.handler())
			defer srv.Close()

			c := newTestClient(t, srv.URL, Config{})
			var sink bytes.Buffer

			resp, err := c.UploadSession(context.Background(), bytes.NewReader(make([]byte, tt.size)), int64(tt.size), "user-1", &sink)
			if err != nil {
				t.Fatalf("UploadSession failed: %v", err)
			}

			chunks := backend.records()
			if len(chunks) != tt.wantChunks {
				t.Fatalf("Expected %d chunks, got %d", tt.wantChunks, len(chunks))
			}
			for i, ch := range chunks {
				if ch.seq != i+1 {
					t.Errorf("Chunk %d: expected sequence %d, got %d", i, i+1, ch.seq)
				}
				if ch.last != (i == len(chunks)-1) {
					t.Errorf("Chunk %d: unexpected last flag %v", i, ch.last)
				}
				if ch.userID != "user-1" {
					t.Errorf("Chunk %d: expected user-1, got %q", i, ch.userID)
				}
			}
			if got := chunks[len(chunks)-1].size; got != tt.lastSize {
				t.Errorf("Expected last chunk of %d bytes, got %d", tt.lastSize, got)
			}
			if sink.String() != "RIFF-response" {
				t.Errorf("Expected response in sink, got %q", sink.String())
			}
			if !resp.Completed || resp.Bytes != int64(len("RIFF-response")) {
				t.Errorf("Unexpected response summary: %+v", resp)
			}
		})
	}
}

func TestUploadSessionFollowsFileReference(t *testing.T) {
	backend := &fakeBackend{reply: []byte("RIFF-json"), jsonMode: true}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	var sink bytes.Buffer

	resp, err := c.UploadSession(context.Background(), bytes.NewReader(make([]byte, 100)), 100, "u", &sink)
	if err != nil {
		t.Fatalf("UploadSession failed: %v", err)
	}
	if sink.String() != "RIFF-json" {
		t.Errorf("Expected fetched file in sink, got %q", sink.String())
	}
	if resp.Bytes != int64(len("RIFF-json")) {
		t.Errorf("Expected %d response bytes, got %d", len("RIFF-json"), resp.Bytes)
	}
}

func TestUploadSessionContinuesAfterFailedChunk(t *testing.T) {
	backend := &fakeBackend{reply: []byte("ok"), failSeq: 2}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{ChunkSize: 10})

	resp, err := c.UploadSession(context.Background(), bytes.NewReader(make([]byte, 30)), 30, "u", io.Discard)
	if err != nil {
		t.Fatalf("UploadSession failed: %v", err)
	}
	if resp.Chunks != 3 || resp.FailedChunks != 1 {
		t.Errorf("Expected 3 chunks with 1 failure, got %+v", resp)
	}
	if len(backend.records()) != 3 {
		t.Errorf("Expected no retries, got %d requests", len(backend.records()))
	}

	stats := c.GetStats()
	if stats.FailedRequests != 1 || stats.SuccessRequests != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestUploadSessionLastChunkFailure(t *testing.T) {
	backend := &fakeBackend{failSeq: 1}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})

	resp, err := c.UploadSession(context.Background(), bytes.NewReader([]byte{1, 2}), 2, "u", io.Discard)
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Expected ErrNoResponse, got %v", err)
	}
	if resp.Completed {
		t.Errorf("Expected incomplete response")
	}
}

func TestInterruptedReplyLeavesNoPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write(make([]byte, 100))
		// Returning short of Content-Length drops the connection
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})

	f, err := os.Create(filepath.Join(t.TempDir(), "response.wav"))
	if err != nil {
		t.Fatalf("Failed to create response file: %v", err)
	}
	defer f.Close()

	resp, err := c.UploadSession(context.Background(), bytes.NewReader([]byte{1, 2}), 2, "u", f)
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Expected ErrNoResponse, got %v", err)
	}
	if resp.FailedChunks != 1 {
		t.Errorf("Expected 1 failed chunk, got %d", resp.FailedChunks)
	}

	info, err := f.Stat()
	if err != nil {
		t.Fatalf("Failed to stat response file: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("Expected empty response file, got %d bytes", info.Size())
	}
}

func TestChunkTimeoutIsTyped(t *testing.T) {
	backend := &fakeBackend{delaySeq: 1, delay: time.Second}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{ChunkTimeout: 50 * time.Millisecond})

	_, err := c.postChunk(context.Background(), "u", 1, []byte{1, 2}, false, io.Discard)

	var timeoutErr *TransportTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected TransportTimeoutError, got %v", err)
	}
	if timeoutErr.Chunk != 1 || timeoutErr.Timeout != 50*time.Millisecond {
		t.Errorf("Unexpected timeout error: %+v", timeoutErr)
	}
	if c.GetStats().TimeoutRequests != 1 {
		t.Errorf("Expected 1 timeout request, got %d", c.GetStats().TimeoutRequests)
	}
}

func TestStreamerSendsInOrder(t *testing.T) {
	backend := &fakeBackend{reply: []byte("RIFF-stream")}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{ChunkSize: 8, QueueSize: 1})
	var sink bytes.Buffer

	s := c.NewStreamer(context.Background(), "user-2", &sink)
	for i := 0; i < 3; i++ {
		if err := s.Enqueue(make([]byte, 8)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	select {
	case resp := <-s.Done():
		if resp.Err != nil || !resp.Completed {
			t.Fatalf("Unexpected result: %+v", resp)
		}
		if resp.Chunks != 4 {
			t.Errorf("Expected 4 chunks, got %d", resp.Chunks)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Streamer did not finish")
	}

	chunks := backend.records()
	for i, ch := range chunks {
		if ch.seq != i+1 {
			t.Errorf("Chunk %d: expected sequence %d, got %d", i, i+1, ch.seq)
		}
	}
	if last := chunks[len(chunks)-1]; !last.last || last.size != 1 {
		t.Errorf("Expected 1-byte terminal chunk, got %+v", last)
	}
	if sink.String() != "RIFF-stream" {
		t.Errorf("Expected response in sink, got %q", sink.String())
	}

	if err := s.Enqueue([]byte{1}); !errors.Is(err, ErrStreamerClosed) {
		t.Errorf("Expected ErrStreamerClosed, got %v", err)
	}
}

func TestStreamerAbort(t *testing.T) {
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	s := c.NewStreamer(context.Background(), "u", nil)
	s.Abort()

	select {
	case resp := <-s.Done():
		if resp.Err == nil {
			t.Errorf("Expected error after abort")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Streamer did not finish after abort")
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"192.168.1.20", 8000, "http://192.168.1.20:8000"},
		{"backend.local", 0, "http://backend.local:8000"},
		{"backend.local:9000", 8000, "http://backend.local:9000"},
		{"http://api.example.com/", 8000, "http://api.example.com"},
		{"", 8000, ""},
	}

	for _, tt := range tests {
		if got := BaseURL(tt.host, tt.port); got != tt.want {
			t.Errorf("BaseURL(%q, %d): expected %q, got %q", tt.host, tt.port, tt.want, got)
		}
	}
}
