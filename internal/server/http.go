package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jorgemp1270/mrzorro-esp32/internal/config"
	"github.com/jorgemp1270/mrzorro-esp32/internal/device"
	"github.com/jorgemp1270/mrzorro-esp32/internal/metrics"
	"github.com/jorgemp1270/mrzorro-esp32/internal/provision"
)

const (
	serviceName    = "mrzorro"
	serviceVersion = "1.0.0"

	// maxProvisionBody bounds configuration payloads
	maxProvisionBody = 4096
)

// HTTPServer provides the monitor API of a node
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	config  *config.Config
	opts    Options
	metrics *metrics.Metrics

	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// Options wires the node into the API. Every field is optional; endpoints
// whose source is missing answer 404.
type Options struct {
	State        func() any          // current driver state for /state
	Stats        func() any          // node statistics for /stats
	Trigger      *device.SoftTrigger // software push-to-talk for /trigger
	Provisioning *provision.Channel  // configuration intake for /provision
	Link         http.Handler        // capture link websocket endpoint at /link
	Gatherer     prometheus.Gatherer // registry served on /metrics
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, appConfig *config.Config, opts Options, m *metrics.Metrics) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		opts:      opts,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	// No write timeout: /link holds a long-lived websocket
	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// Handler returns the routed API handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/state", h.withMetrics("/state", h.handleState))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/trigger", h.withMetrics("/trigger", h.handleTrigger))
	mux.HandleFunc("/provision", h.withMetrics("/provision", h.handleProvision))

	// The websocket upgrade needs the raw ResponseWriter
	if h.opts.Link != nil {
		mux.Handle("/link", h.opts.Link)
	}

	if h.opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Capture the status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
			"role":    h.config.Role,
		},
	}
	if h.opts.Provisioning != nil {
		health["provisioned"] = h.opts.Provisioning.Delivered()
	}
	if h.opts.State != nil {
		health["state"] = h.opts.State()
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleState implements the /state endpoint
func (h *HTTPServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.opts.State == nil {
		http.NotFound(w, r)
		return
	}

	h.writeJSON(w, http.StatusOK, h.opts.State())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	if h.opts.Stats != nil {
		stats[h.config.Role] = h.opts.Stats()
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := h.config

	// Credentials arrive through provisioning and are never echoed
	sanitizedConfig := map[string]interface{}{
		"role": c.Role,
		"device": map[string]interface{}{
			"sample_rate":   c.Device.SampleRate,
			"chunk_samples": c.Device.ChunkSamples,
			"shift_bits":    c.Device.ShiftBits,
			"capture_gain":  c.Device.CaptureGain,
			"source":        c.Device.Source,
			"sink":          c.Device.Sink,
			"poll_interval": c.Device.PollInterval,
			"max_recording": c.Device.MaxRecording,
		},
		"link": map[string]interface{}{
			"kind":              c.Link.Kind,
			"address":           c.Link.Address,
			"codec":             c.Link.Codec,
			"max_payload":       c.Link.MaxPayload,
			"max_session_bytes": c.Link.MaxSessionBytes,
			"start_delay":       c.Link.StartDelay,
			"stop_delay":        c.Link.StopDelay,
		},
		"upload": map[string]interface{}{
			"port":               c.Upload.Port,
			"chunk_size":         c.Upload.ChunkSize,
			"chunk_timeout":      c.Upload.ChunkTimeout,
			"last_chunk_timeout": c.Upload.LastChunkTimeout,
			"queue_size":         c.Upload.QueueSize,
		},
		"playback": map[string]interface{}{
			"gain":        c.Playback.Gain,
			"window_size": c.Playback.WindowSize,
			"settle":      c.Playback.Settle,
		},
		"storage": map[string]interface{}{
			"root":        c.Storage.Root,
			"archive_wav": c.Storage.ArchiveWAV,
		},
		"discovery": map[string]interface{}{
			"enabled": c.Discovery.Enabled,
			"timeout": c.Discovery.Timeout,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitizedConfig)
}

type triggerRequest struct {
	Pressed bool `json:"pressed"`
}

// handleTrigger implements POST /trigger, a software push-to-talk button
func (h *HTTPServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if h.opts.Trigger == nil {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req triggerRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxProvisionBody)).Decode(&req); err != nil {
			http.Error(w, "Invalid trigger request", http.StatusBadRequest)
			return
		}
		h.opts.Trigger.Set(req.Pressed)
		h.logger.Debug("Software trigger", slog.Bool("pressed", req.Pressed))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, triggerRequest{Pressed: h.opts.Trigger.Pressed()})
}

// handleProvision implements POST /provision. Fragments are merged until the
// payload is complete; the complete payload is handed to the node once.
func (h *HTTPServer) handleProvision(w http.ResponseWriter, r *http.Request) {
	if h.opts.Provisioning == nil {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxProvisionBody+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxProvisionBody {
		http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	complete, err := h.opts.Provisioning.Deliver(body)

	var incomplete *provision.ConfigurationIncompleteError
	switch {
	case complete:
		h.logger.Info("Configuration accepted over HTTP")
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"complete": true})
	case errors.As(err, &incomplete):
		h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"complete": false,
			"missing":  incomplete.Missing,
		})
	case errors.Is(err, provision.ErrAlreadyConfigured):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": serviceName,
		"version": serviceVersion,
		"role":    h.config.Role,
		"endpoints": map[string]interface{}{
			"GET /":           "API documentation",
			"GET /health":     "Node health check",
			"GET /state":      "Current state machine state",
			"GET /stats":      "Node statistics",
			"GET /config":     "Node configuration without credentials",
			"GET /metrics":    "Prometheus metrics",
			"POST /trigger":   "Set the software push-to-talk button {\"pressed\": bool}",
			"POST /provision": "Deliver configuration {\"userid\", \"ssid\", \"wifi_password\", \"api_host\"}",
			"GET /link":       "Capture link websocket (relay with link kind 'listen')",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}
