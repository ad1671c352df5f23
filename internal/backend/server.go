package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jorgemp1270/mrzorro-esp32/internal/storage"
	"github.com/jorgemp1270/mrzorro-esp32/internal/upload"
)

// Response modes
const (
	ModeWAV  = "wav"  // last chunk answered with the WAV body
	ModeJSON = "json" // last chunk answered with {"filename": ...}
)

// maxRecords bounds the request log kept for inspection
const maxRecords = 1024

// Config contains mock backend configuration
type Config struct {
	Address         string
	Port            int
	ResponseDir     string
	Mode            string
	SampleRate      int
	ProcessingDelay time.Duration
	SessionTimeout  time.Duration
	MaxChunkBytes   int64
}

// RequestRecord describes one received chunk
type RequestRecord struct {
	UserID string    `json:"user_id"`
	Seq    uint32    `json:"seq"`
	Last   bool      `json:"last"`
	Size   int       `json:"size"`
	Time   time.Time `json:"time"`
}

// Server is the mock inference backend
type Server struct {
	config Config
	logger *slog.Logger
	store  *storage.Store
	server *http.Server

	sessions  map[string]*Accumulator
	records   []RequestRecord
	responses uint64
	startTime time.Time

	mu sync.Mutex
}

// New creates a mock backend writing responses under cfg.ResponseDir
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeWAV
	}
	if cfg.Mode != ModeWAV && cfg.Mode != ModeJSON {
		return nil, fmt.Errorf("invalid response mode %q (must be %s or %s)", cfg.Mode, ModeWAV, ModeJSON)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 5 * time.Minute
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = 1 << 20
	}

	store, err := storage.New(cfg.ResponseDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open response directory: %w", err)
	}

	s := &Server{
		config:    cfg,
		logger:    logger,
		store:     store,
		sessions:  make(map[string]*Accumulator),
		startTime: time.Now(),
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the backend routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio", s.handleAudio)
	mux.HandleFunc("/get_response/", s.handleGetResponse)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting mock backend",
		slog.String("address", s.server.Addr),
		slog.String("mode", s.config.Mode),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Mock backend error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping mock backend...")
	return s.server.Shutdown(ctx)
}

// Records returns the chunks received so far
func (s *Server) Records() []RequestRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RequestRecord(nil), s.records...)
}

// handleAudio implements POST /audio
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get(upload.HeaderUserID))
	if userID == "" {
		http.Error(w, "Missing "+upload.HeaderUserID, http.StatusBadRequest)
		return
	}

	seq, err := strconv.ParseUint(r.Header.Get(upload.HeaderChunkNumber), 10, 32)
	if err != nil || seq == 0 {
		http.Error(w, "Invalid "+upload.HeaderChunkNumber, http.StatusBadRequest)
		return
	}

	last, err := strconv.ParseBool(r.Header.Get(upload.HeaderLastChunk))
	if err != nil {
		http.Error(w, "Invalid "+upload.HeaderLastChunk, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxChunkBytes+1))
	if err != nil {
		http.Error(w, "Error reading chunk", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > s.config.MaxChunkBytes {
		http.Error(w, "Chunk too large", http.StatusRequestEntityTooLarge)
		return
	}

	recording, missing, done := s.addChunk(userID, uint32(seq), last, body)
	if !done {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.logger.Info("Recording complete",
		slog.String("user_id", userID),
		slog.Int("bytes", len(recording)),
		slog.Int("missing_chunks", len(missing)),
	)

	if s.config.ProcessingDelay > 0 {
		// Simulate inference time
		select {
		case <-time.After(s.config.ProcessingDelay):
		case <-r.Context().Done():
			return
		}
	}

	filename, err := s.synthesize(userID, recording)
	if err != nil {
		s.logger.Error("Failed to synthesize response", slog.String("error", err.Error()))
		http.Error(w, "Error creating response", http.StatusInternalServerError)
		return
	}

	if s.config.Mode == ModeJSON {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"filename": filename})
		return
	}

	s.serveFile(w, filename)
}

// addChunk records a chunk and, on the last one, returns the recording
func (s *Server) addChunk(userID string, seq uint32, last bool, body []byte) ([]byte, []uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, RequestRecord{
		UserID: userID,
		Seq:    seq,
		Last:   last,
		Size:   len(body),
		Time:   time.Now(),
	})
	if len(s.records) > maxRecords {
		s.records = s.records[len(s.records)-maxRecords:]
	}

	acc, exists := s.sessions[userID]
	if exists && (seq == 1 || time.Since(acc.LastUpdate()) > s.config.SessionTimeout) {
		s.logger.Warn("Discarding stale recording", slog.String("user_id", userID))
		exists = false
	}
	if !exists {
		acc = NewAccumulator(userID)
		s.sessions[userID] = acc
	}

	// A single odd byte on the last chunk is the terminal marker, not audio
	if !(last && len(body) == 1) {
		if err := acc.Add(seq, body); err != nil {
			s.logger.Warn("Chunk rejected", slog.String("user_id", userID), slog.String("error", err.Error()))
		}
	}

	if !last {
		return nil, nil, false
	}

	delete(s.sessions, userID)
	s.responses++
	data, missing := acc.Finalize()
	return data, missing, true
}

// synthesize writes the response WAV and returns its file name. An empty
// recording yields a short silence.
func (s *Server) synthesize(userID string, recording []byte) (string, error) {
	if len(recording) == 0 {
		recording = make([]byte, s.config.SampleRate/4*2)
	}
	// Keep whole samples
	recording = recording[:len(recording)-len(recording)%2]

	name := fmt.Sprintf("response_%s.wav", uuid.NewString())
	f, err := s.store.Open(name, storage.ModeWrite)
	if err != nil {
		return "", err
	}

	samples, err := storage.WriteWAV(f, bytes.NewReader(recording), s.config.SampleRate, 1)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.store.Remove(name)
		return "", err
	}

	s.logger.Debug("Response written",
		slog.String("user_id", userID),
		slog.String("file", name),
		slog.Int64("samples", samples),
		slog.Duration("duration", time.Duration(samples)*time.Second/time.Duration(s.config.SampleRate)))

	return name, nil
}

// handleGetResponse implements GET /get_response/{filename}
func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/get_response/")
	if name == "" || strings.ContainsAny(name, `/\`) {
		http.Error(w, "Invalid file name", http.StatusBadRequest)
		return
	}
	if !s.store.Exists(name) {
		http.Error(w, "Response not found", http.StatusNotFound)
		return
	}

	s.serveFile(w, name)
}

func (s *Server) serveFile(w http.ResponseWriter, name string) {
	f, err := s.store.Open(name, storage.ModeRead)
	if err != nil {
		http.Error(w, "Response not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	if size, err := s.store.Size(name); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn("Failed to send response", slog.String("file", name), slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	active := make([]AccumulatorStats, 0, len(s.sessions))
	for _, acc := range s.sessions {
		active = append(active, acc.GetStats())
	}
	health := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC(),
		"uptime":          time.Since(s.startTime).String(),
		"mode":            s.config.Mode,
		"chunks_received": len(s.records),
		"responses":       s.responses,
		"active_sessions": active,
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}
