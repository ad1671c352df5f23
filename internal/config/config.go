package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Roles a node can run as
const (
	RoleDevice  = "device"
	RoleRelay   = "relay"
	RoleCapture = "capture"
)

// Link kinds
const (
	LinkSerial    = "serial"
	LinkWebSocket = "websocket" // dial ws://address
	LinkListen    = "listen"    // accept the capture node on the monitor API at /link
)

// Config represents the complete node configuration
type Config struct {
	Role         string             `yaml:"role"`
	Device       DeviceConfig       `yaml:"device"`
	Link         LinkConfig         `yaml:"link"`
	Upload       UploadConfig       `yaml:"upload"`
	Playback     PlaybackConfig     `yaml:"playback"`
	Storage      StorageConfig      `yaml:"storage"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	HTTP         HTTPConfig         `yaml:"http"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DeviceConfig contains capture and speaker peripheral configuration
type DeviceConfig struct {
	SampleRate   int     `yaml:"sample_rate"`
	ChunkSamples int     `yaml:"chunk_samples"`
	ShiftBits    uint    `yaml:"shift_bits"`
	CaptureGain  int     `yaml:"capture_gain"`
	Source       string  `yaml:"source"`      // tone, file, portaudio
	SourceFile   string  `yaml:"source_file"` // raw 16-bit LE PCM for the file source
	Sink         string  `yaml:"sink"`        // null, file, oto
	SinkFile     string  `yaml:"sink_file"`
	ClearSamples int     `yaml:"clear_samples"`
	PollInterval int     `yaml:"poll_interval"` // milliseconds
	MaxRecording float64 `yaml:"max_recording"` // seconds
}

// LinkConfig contains configuration of the capture link
type LinkConfig struct {
	Kind            string `yaml:"kind"`
	Address         string `yaml:"address"` // device path or websocket URL
	Codec           string `yaml:"codec"`   // frame or marker
	MaxPayload      int    `yaml:"max_payload"`
	WindowSize      int    `yaml:"window_size"`
	QueueSize       int    `yaml:"queue_size"`
	MaxSessionBytes int64  `yaml:"max_session_bytes"`
	StartDelay      int    `yaml:"start_delay"`    // milliseconds
	StopDelay       int    `yaml:"stop_delay"`     // milliseconds
	RetryInterval   int    `yaml:"retry_interval"` // seconds
}

// UploadConfig contains backend upload configuration
type UploadConfig struct {
	Port             int `yaml:"port"`
	ChunkSize        int `yaml:"chunk_size"`
	ChunkTimeout     int `yaml:"chunk_timeout"`      // seconds
	LastChunkTimeout int `yaml:"last_chunk_timeout"` // seconds
	QueueSize        int `yaml:"queue_size"`
}

// PlaybackConfig contains response playback configuration
type PlaybackConfig struct {
	Gain             int     `yaml:"gain"`
	WindowSize       int     `yaml:"window_size"`
	ProgressInterval float64 `yaml:"progress_interval"` // seconds
	Settle           int     `yaml:"settle"`            // milliseconds
}

// StorageConfig contains local storage configuration
type StorageConfig struct {
	Root       string `yaml:"root"`
	ArchiveWAV bool   `yaml:"archive_wav"`
}

// ProvisioningConfig contains configuration payload delivery settings
type ProvisioningConfig struct {
	PayloadPath string `yaml:"payload_path"`
}

// DiscoveryConfig contains backend discovery configuration
type DiscoveryConfig struct {
	Enabled bool    `yaml:"enabled"`
	Timeout float64 `yaml:"timeout"` // seconds
}

// HTTPConfig contains monitor API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with the firmware defaults
func Default() *Config {
	return &Config{
		Role: RoleDevice,
		Device: DeviceConfig{
			SampleRate:   16000,
			ChunkSamples: 2048,
			ShiftBits:    14,
			CaptureGain:  1,
			Source:       "tone",
			Sink:         "null",
			ClearSamples: 1024,
			PollInterval: 20,
			MaxRecording: 30,
		},
		Link: LinkConfig{
			Kind:            LinkListen,
			Codec:           "frame",
			MaxPayload:      8192,
			WindowSize:      256,
			QueueSize:       64,
			MaxSessionBytes: 16 << 20,
			StartDelay:      50,
			StopDelay:       100,
			RetryInterval:   2,
		},
		Upload: UploadConfig{
			Port:             8000,
			ChunkSize:        4096,
			ChunkTimeout:     5,
			LastChunkTimeout: 90,
			QueueSize:        8,
		},
		Playback: PlaybackConfig{
			Gain:             3,
			WindowSize:       4096,
			ProgressInterval: 1,
			Settle:           300,
		},
		Storage: StorageConfig{
			Root: "./data",
		},
		Discovery: DiscoveryConfig{
			Timeout: 3,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	switch c.Role {
	case RoleDevice, RoleRelay, RoleCapture:
	default:
		return fmt.Errorf("role must be one of [device, relay, capture], got '%s'", c.Role)
	}

	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}

	if c.Role != RoleDevice {
		if err := c.Link.Validate(); err != nil {
			return fmt.Errorf("link config: %w", err)
		}
		if c.Link.Kind == LinkListen && !c.HTTP.Enabled {
			return fmt.Errorf("link config: kind 'listen' requires the http server")
		}
		if c.Role == RoleCapture && c.Link.Kind == LinkListen {
			return fmt.Errorf("link config: the capture node must dial the relay")
		}
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates peripheral configuration
func (d *DeviceConfig) Validate() error {
	if d.SampleRate < 8000 || d.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", d.SampleRate)
	}

	if d.ChunkSamples < 64 || d.ChunkSamples > 16384 {
		return fmt.Errorf("chunk_samples must be between 64 and 16384, got %d", d.ChunkSamples)
	}

	if d.ShiftBits > 24 {
		return fmt.Errorf("shift_bits must be at most 24, got %d", d.ShiftBits)
	}

	if d.CaptureGain < 1 {
		return fmt.Errorf("capture_gain must be at least 1, got %d", d.CaptureGain)
	}

	validSources := map[string]bool{"tone": true, "file": true, "portaudio": true}
	if !validSources[d.Source] {
		return fmt.Errorf("source must be one of [tone, file, portaudio], got '%s'", d.Source)
	}
	if d.Source == "file" && d.SourceFile == "" {
		return fmt.Errorf("source_file cannot be empty for the file source")
	}

	validSinks := map[string]bool{"null": true, "file": true, "oto": true}
	if !validSinks[d.Sink] {
		return fmt.Errorf("sink must be one of [null, file, oto], got '%s'", d.Sink)
	}
	if d.Sink == "file" && d.SinkFile == "" {
		return fmt.Errorf("sink_file cannot be empty for the file sink")
	}

	if d.ClearSamples < 0 {
		return fmt.Errorf("clear_samples cannot be negative, got %d", d.ClearSamples)
	}

	if d.PollInterval < 1 {
		return fmt.Errorf("poll_interval must be at least 1 ms, got %d", d.PollInterval)
	}

	if d.MaxRecording <= 0 {
		return fmt.Errorf("max_recording must be positive, got %f", d.MaxRecording)
	}

	return nil
}

// Validate validates link configuration
func (l *LinkConfig) Validate() error {
	switch l.Kind {
	case LinkSerial, LinkWebSocket:
		if l.Address == "" {
			return fmt.Errorf("address cannot be empty for a %s link", l.Kind)
		}
	case LinkListen:
	default:
		return fmt.Errorf("kind must be one of [serial, websocket, listen], got '%s'", l.Kind)
	}

	validCodecs := map[string]bool{"frame": true, "marker": true}
	if !validCodecs[l.Codec] {
		return fmt.Errorf("codec must be 'frame' or 'marker', got '%s'", l.Codec)
	}

	if l.MaxPayload < 256 || l.MaxPayload > 1<<20 {
		return fmt.Errorf("max_payload must be between 256 and 1048576 bytes, got %d", l.MaxPayload)
	}

	if l.WindowSize < 16 {
		return fmt.Errorf("window_size must be at least 16 bytes, got %d", l.WindowSize)
	}

	if l.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", l.QueueSize)
	}

	if l.MaxSessionBytes < 0 {
		return fmt.Errorf("max_session_bytes cannot be negative, got %d", l.MaxSessionBytes)
	}

	if l.StartDelay < 0 || l.StopDelay < 0 {
		return fmt.Errorf("start_delay and stop_delay cannot be negative")
	}

	if l.RetryInterval < 1 {
		return fmt.Errorf("retry_interval must be at least 1 second, got %d", l.RetryInterval)
	}

	return nil
}

// Validate validates upload configuration
func (u *UploadConfig) Validate() error {
	if u.Port < 1 || u.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", u.Port)
	}

	if u.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be at least 1 byte, got %d", u.ChunkSize)
	}

	if u.ChunkTimeout < 1 {
		return fmt.Errorf("chunk_timeout must be at least 1 second, got %d", u.ChunkTimeout)
	}

	// The last chunk covers backend inference
	if u.LastChunkTimeout < 60 || u.LastChunkTimeout > 120 {
		return fmt.Errorf("last_chunk_timeout must be between 60 and 120 seconds, got %d", u.LastChunkTimeout)
	}

	if u.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", u.QueueSize)
	}

	return nil
}

// Validate validates playback configuration
func (p *PlaybackConfig) Validate() error {
	if p.Gain < 1 {
		return fmt.Errorf("gain must be at least 1, got %d", p.Gain)
	}

	if p.WindowSize < 4 || p.WindowSize%4 != 0 {
		return fmt.Errorf("window_size must be a positive multiple of 4 bytes, got %d", p.WindowSize)
	}

	if p.ProgressInterval <= 0 {
		return fmt.Errorf("progress_interval must be positive, got %f", p.ProgressInterval)
	}

	if p.Settle < 0 {
		return fmt.Errorf("settle cannot be negative, got %d", p.Settle)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Root == "" {
		return fmt.Errorf("root cannot be empty")
	}
	return nil
}

// Validate validates discovery configuration
func (d *DiscoveryConfig) Validate() error {
	if d.Enabled && d.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive when discovery is enabled, got %f", d.Timeout)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is a file path
	return nil
}

// GetPollInterval returns the loop poll interval as a time.Duration
func (d *DeviceConfig) GetPollInterval() time.Duration {
	return time.Duration(d.PollInterval) * time.Millisecond
}

// GetMaxRecording returns the recording limit as a time.Duration
func (d *DeviceConfig) GetMaxRecording() time.Duration {
	return time.Duration(d.MaxRecording * float64(time.Second))
}

// GetStartDelay returns the pause after a begin signal
func (l *LinkConfig) GetStartDelay() time.Duration {
	return time.Duration(l.StartDelay) * time.Millisecond
}

// GetStopDelay returns the pause after an end signal
func (l *LinkConfig) GetStopDelay() time.Duration {
	return time.Duration(l.StopDelay) * time.Millisecond
}

// GetRetryInterval returns the delay between reconnect attempts
func (l *LinkConfig) GetRetryInterval() time.Duration {
	return time.Duration(l.RetryInterval) * time.Second
}

// GetChunkTimeout returns the intermediate chunk deadline
func (u *UploadConfig) GetChunkTimeout() time.Duration {
	return time.Duration(u.ChunkTimeout) * time.Second
}

// GetLastChunkTimeout returns the last chunk deadline
func (u *UploadConfig) GetLastChunkTimeout() time.Duration {
	return time.Duration(u.LastChunkTimeout) * time.Second
}

// GetProgressInterval returns the playback progress log interval
func (p *PlaybackConfig) GetProgressInterval() time.Duration {
	return time.Duration(p.ProgressInterval * float64(time.Second))
}

// GetSettle returns the pause before the final sink clear
func (p *PlaybackConfig) GetSettle() time.Duration {
	return time.Duration(p.Settle) * time.Millisecond
}

// GetTimeout returns the discovery browse timeout
func (d *DiscoveryConfig) GetTimeout() time.Duration {
	return time.Duration(d.Timeout * float64(time.Second))
}
