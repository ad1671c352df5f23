package upload

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jorgemp1270/mrzorro-esp32/internal/metrics"
)

// Defaults match what the backend expects from the device firmware
const (
	DefaultPort             = 8000
	DefaultChunkSize        = 4096
	DefaultChunkTimeout     = 5 * time.Second
	DefaultLastChunkTimeout = 90 * time.Second
	DefaultQueueSize        = 8
)

// Request headers understood by the backend
const (
	HeaderChunkNumber = "X-Chunk-Number"
	HeaderLastChunk   = "X-Last-Chunk"
	HeaderUserID      = "X-User-Id"
)

// dummyChunk is the terminal body sent when there is no audio left to carry
var dummyChunk = []byte{0}

// Client uploads sessions to the backend
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	timeoutRequests uint64
	sessions        uint64
	responseBytes   uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains upload client configuration
type Config struct {
	BaseURL          string        // e.g. http://192.168.1.20:8000
	ChunkSize        int           // bytes per request
	ChunkTimeout     time.Duration // deadline for intermediate chunks
	LastChunkTimeout time.Duration // deadline for the last chunk, covers inference
	QueueSize        int           // Streamer queue depth
}

// Response summarizes one uploaded session
type Response struct {
	Bytes        int64 `json:"bytes"`         // response bytes written to the sink
	Chunks       int   `json:"chunks"`        // requests sent
	FailedChunks int   `json:"failed_chunks"` // requests that failed
	Completed    bool  `json:"completed"`     // the last chunk yielded a response
	Err          error `json:"-"`             // set on results delivered by a Streamer
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	TimeoutRequests uint64        `json:"timeout_requests"`
	SuccessRate     float64       `json:"success_rate"`
	Sessions        uint64        `json:"sessions"`
	ResponseBytes   uint64        `json:"response_bytes"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// fileReference is the JSON form of a last-chunk reply
type fileReference struct {
	Filename string `json:"filename"`
}

// BaseURL builds the backend base URL from a host that may already carry a scheme and port
func BaseURL(host string, port int) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if port <= 0 {
		port = DefaultPort
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return "http://" + host
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// NewClient creates a new upload client
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkTimeout <= 0 {
		config.ChunkTimeout = DefaultChunkTimeout
	}
	if config.LastChunkTimeout <= 0 {
		config.LastChunkTimeout = DefaultLastChunkTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	// Deadlines are applied per request through the context
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
	}, nil
}

// Config returns the effective client configuration
func (c *Client) Config() Config {
	return c.config
}

// UploadSession reads src in ChunkSize pieces and posts them in order. The
// chunk that brings the sent total to totalSize is flagged last; if src holds
// no data (or ends early) a one-byte terminal chunk is sent instead. Failed
// chunks are logged and counted but never retried or abort the upload. The
// response to the last chunk is drained into sink.
func (c *Client) UploadSession(ctx context.Context, src io.Reader, totalSize int64, identity string, sink io.Writer) (*Response, error) {
	if sink == nil {
		sink = io.Discard
	}

	c.logger.Info("Starting upload",
		slog.Int64("total_bytes", totalSize),
		slog.Int("chunk_size", c.config.ChunkSize),
		slog.String("user_id", identity))

	resp := &Response{}
	buf := make([]byte, c.config.ChunkSize)
	var sent int64
	seq := 0
	lastSent := false

	for sent < totalSize {
		if err := ctx.Err(); err != nil {
			return resp, err
		}

		n, err := io.ReadFull(src, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return resp, fmt.Errorf("failed to read session data: %w", err)
		}
		if n == 0 {
			break
		}

		seq++
		isLast := sent+int64(n) >= totalSize
		written, chunkErr := c.postChunk(ctx, identity, seq, buf[:n], isLast, sink)
		c.account(resp, written, chunkErr)
		sent += int64(n)

		if isLast {
			lastSent = true
			break
		}
		if err != nil {
			// Source ended before totalSize
			break
		}
	}

	if !lastSent {
		seq++
		written, chunkErr := c.postChunk(ctx, identity, seq, dummyChunk, true, sink)
		c.account(resp, written, chunkErr)
	}

	c.finishSession(resp)
	if !resp.Completed {
		return resp, ErrNoResponse
	}
	return resp, nil
}

// account folds one chunk outcome into resp
func (c *Client) account(resp *Response, written int64, err error) {
	resp.Chunks++
	if err != nil {
		resp.FailedChunks++
		c.logger.Warn("Chunk upload failed", slog.String("error", err.Error()))
		return
	}
	if written >= 0 {
		resp.Bytes = written
		resp.Completed = true
	}
}

func (c *Client) finishSession(resp *Response) {
	c.mu.Lock()
	c.sessions++
	c.responseBytes += uint64(resp.Bytes)
	c.mu.Unlock()

	c.logger.Info("Upload finished",
		slog.Int("chunks", resp.Chunks),
		slog.Int("failed_chunks", resp.FailedChunks),
		slog.Int64("response_bytes", resp.Bytes),
		slog.Bool("completed", resp.Completed))
}

// postChunk sends one chunk under its own deadline. For the last chunk the
// response is drained into sink and its size returned; intermediate chunks
// return -1.
func (c *Client) postChunk(ctx context.Context, identity string, seq int, data []byte, last bool, sink io.Writer) (int64, error) {
	timeout := c.config.ChunkTimeout
	if last {
		timeout = c.config.LastChunkTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()
	written, err := c.doChunk(reqCtx, identity, seq, data, last, sink)
	elapsed := time.Since(startTime)

	result := "success"
	if err != nil {
		result = "failed"
		if isTimeout(err) {
			result = "timeout"
			err = &TransportTimeoutError{Chunk: seq, Timeout: timeout, Err: err}
		}
	}
	c.recordRequest(result, elapsed)
	c.metrics.RecordChunk(result, last, len(data), elapsed.Seconds())

	if err != nil {
		if last {
			discardPartial(sink)
		}
		return -1, err
	}

	c.logger.Debug("Chunk sent",
		slog.Int("chunk", seq),
		slog.Int("bytes", len(data)),
		slog.Bool("last", last),
		slog.Duration("elapsed", elapsed))

	return written, nil
}

func (c *Client) doChunk(ctx context.Context, identity string, seq int, data []byte, last bool, sink io.Writer) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/audio", bytes.NewReader(data))
	if err != nil {
		return -1, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set(HeaderChunkNumber, strconv.Itoa(seq))
	httpReq.Header.Set(HeaderLastChunk, strconv.FormatBool(last))
	httpReq.Header.Set(HeaderUserID, identity)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return -1, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return -1, &StatusError{Chunk: seq, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if !last {
		_, _ = io.Copy(io.Discard, resp.Body)
		return -1, nil
	}

	return c.drainResponse(ctx, resp, sink)
}

// truncater is a sink that can drop a partially written reply, such as *os.File
type truncater interface {
	Truncate(size int64) error
	Seek(offset int64, whence int) (int64, error)
}

// discardPartial empties sink after a reply failed midway, so a stored
// response file never holds a truncated reply. Other sinks are left as is.
func discardPartial(sink io.Writer) {
	t, ok := sink.(truncater)
	if !ok {
		return
	}
	_ = t.Truncate(0)
	_, _ = t.Seek(0, io.SeekStart)
}

// drainResponse copies the last-chunk reply into sink, following a JSON file reference if present
func (c *Client) drainResponse(ctx context.Context, resp *http.Response, sink io.Writer) (int64, error) {
	body := bufio.NewReader(resp.Body)

	if isJSONReply(resp.Header.Get("Content-Type"), body) {
		var ref fileReference
		if err := json.NewDecoder(body).Decode(&ref); err != nil {
			return -1, fmt.Errorf("failed to parse response JSON: %w", err)
		}
		if ref.Filename == "" {
			return -1, fmt.Errorf("response JSON carries no filename")
		}
		return c.fetchResponse(ctx, ref.Filename, sink)
	}

	n, err := io.Copy(sink, body)
	if err != nil {
		return n, fmt.Errorf("failed to drain response: %w", err)
	}
	c.metrics.RecordResponseBytes(n)
	return n, nil
}

func isJSONReply(contentType string, body *bufio.Reader) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "application/json":
			return true
		case "audio/wav", "audio/x-wav", "audio/wave":
			return false
		}
	}
	first, err := body.Peek(1)
	return err == nil && first[0] == '{'
}

// fetchResponse downloads a response file named by the backend
func (c *Client) fetchResponse(ctx context.Context, filename string, sink io.Writer) (int64, error) {
	target := c.config.BaseURL + "/get_response/" + url.PathEscape(filename)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return -1, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return -1, fmt.Errorf("failed to fetch response %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return -1, fmt.Errorf("failed to fetch response %s: HTTP error %d", filename, resp.StatusCode)
	}

	n, err := io.Copy(sink, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to drain response %s: %w", filename, err)
	}
	c.metrics.RecordResponseBytes(n)
	return n, nil
}

// Statistics methods
func (c *Client) recordRequest(result string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	switch result {
	case "success":
		c.successRequests++
	case "timeout":
		c.timeoutRequests++
		c.failedRequests++
	default:
		c.failedRequests++
	}

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = elapsed
	} else {
		c.avgResponseTime = (c.avgResponseTime + elapsed) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		TimeoutRequests: c.timeoutRequests,
		SuccessRate:     successRate,
		Sessions:        c.sessions,
		ResponseBytes:   c.responseBytes,
		AvgResponseTime: c.avgResponseTime,
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
