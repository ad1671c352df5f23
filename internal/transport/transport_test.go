package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// drain polls r until want bytes arrived or the deadline passes
func drain(t *testing.T, r *Reader, want int) []byte {
	t.Helper()

	var got []byte
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < want && time.Now().Before(deadline) {
		w, ok := r.Poll()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		got = append(got, w...)
	}
	return got
}

func TestReaderQueuesWindows(t *testing.T) {
	local, remote := Pipe()
	defer local.Close()

	r := NewReader(local, 8, 2, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	payload := bytes.Repeat([]byte("0123456789"), 10)
	go func() {
		_, _ = remote.Write(payload)
		remote.Close()
	}()

	got := drain(t, r, len(payload))
	if !bytes.Equal(got, payload) {
		t.Fatalf("Expected %d bytes in order, got %d", len(payload), len(got))
	}

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Reader did not stop after peer closed")
	}
	if !errors.Is(r.Err(), io.EOF) {
		t.Errorf("Expected io.EOF, got %v", r.Err())
	}

	bytesRead, _ := r.Stats()
	if bytesRead != uint64(len(payload)) {
		t.Errorf("Expected %d bytes read, got %d", len(payload), bytesRead)
	}
}

func TestReaderErrWaitsForQueuedWindows(t *testing.T) {
	local, remote := Pipe()

	r := NewReader(local, 4, 4, discardLogger())
	r.Start(context.Background())

	_, _ = remote.Write([]byte("abcd"))
	remote.Close()

	<-r.Done()
	if r.Err() != nil {
		t.Fatalf("Expected nil error while a window is queued, got %v", r.Err())
	}
	if w, ok := r.Poll(); !ok || string(w) != "abcd" {
		t.Fatalf("Expected queued window, got %q %v", w, ok)
	}
	if r.Err() == nil {
		t.Errorf("Expected error after queue drained")
	}
}

func TestWebSocketLink(t *testing.T) {
	listener := NewWSListener(discardLogger())
	srv := httptest.NewServer(listener)
	defer srv.Close()
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}

	server, err := listener.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	defer server.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := client.Write([]byte("world")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	buf := make([]byte, 10)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if string(buf) != "helloworld" {
		t.Errorf("Expected helloworld, got %q", buf)
	}

	client.Close()
	if _, err := server.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after close, got %v", err)
	}
}

func TestAcceptAfterClose(t *testing.T) {
	listener := NewWSListener(discardLogger())
	listener.Close()

	if _, err := listener.Accept(context.Background()); !errors.Is(err, ErrListenerClosed) {
		t.Errorf("Expected ErrListenerClosed, got %v", err)
	}
}

func TestOpenSerialDeviceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyFAKE")
	if err := os.WriteFile(path, []byte("START\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	link, err := Dial(context.Background(), KindSerial, path)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer link.Close()

	buf := make([]byte, 6)
	if _, err := io.ReadFull(link, buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if string(buf) != "START\n" {
		t.Errorf("Expected START marker, got %q", buf)
	}

	if _, err := Dial(context.Background(), "carrier-pigeon", path); err == nil {
		t.Errorf("Expected error for unknown link kind")
	}
}
