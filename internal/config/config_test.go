package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	for _, role := range []string{RoleDevice, RoleRelay} {
		cfg := Default()
		cfg.Role = role
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected default %s config to be valid, got: %v", role, err)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid device configuration",
			mutate: func(c *Config) {},
		},
		{
			name:        "unknown role",
			mutate:      func(c *Config) { c.Role = "gateway" },
			expectError: true,
			errorMsg:    "role must be one of",
		},
		{
			name: "capture node dialing relay",
			mutate: func(c *Config) {
				c.Role = RoleCapture
				c.Link.Kind = LinkWebSocket
				c.Link.Address = "ws://relay.local:8080/link"
			},
		},
		{
			name:        "capture node cannot listen",
			mutate:      func(c *Config) { c.Role = RoleCapture },
			expectError: true,
			errorMsg:    "must dial the relay",
		},
		{
			name: "listen link without http",
			mutate: func(c *Config) {
				c.Role = RoleRelay
				c.HTTP.Enabled = false
			},
			expectError: true,
			errorMsg:    "requires the http server",
		},
		{
			name: "serial link without device path",
			mutate: func(c *Config) {
				c.Role = RoleRelay
				c.Link.Kind = LinkSerial
			},
			expectError: true,
			errorMsg:    "address cannot be empty",
		},
		{
			name: "unknown codec",
			mutate: func(c *Config) {
				c.Role = RoleRelay
				c.Link.Codec = "slip"
			},
			expectError: true,
			errorMsg:    "codec must be",
		},
		{
			name:        "last chunk timeout below range",
			mutate:      func(c *Config) { c.Upload.LastChunkTimeout = 30 },
			expectError: true,
			errorMsg:    "last_chunk_timeout must be between 60 and 120",
		},
		{
			name:        "last chunk timeout above range",
			mutate:      func(c *Config) { c.Upload.LastChunkTimeout = 121 },
			expectError: true,
			errorMsg:    "last_chunk_timeout",
		},
		{
			name:        "zero playback gain",
			mutate:      func(c *Config) { c.Playback.Gain = 0 },
			expectError: true,
			errorMsg:    "playback config",
		},
		{
			name:        "playback window not frame aligned",
			mutate:      func(c *Config) { c.Playback.WindowSize = 4094 },
			expectError: true,
			errorMsg:    "multiple of 4",
		},
		{
			name:        "file source without file",
			mutate:      func(c *Config) { c.Device.Source = "file" },
			expectError: true,
			errorMsg:    "source_file cannot be empty",
		},
		{
			name:        "unknown sink",
			mutate:      func(c *Config) { c.Device.Sink = "alsa" },
			expectError: true,
			errorMsg:    "sink must be one of",
		},
		{
			name:        "empty storage root",
			mutate:      func(c *Config) { c.Storage.Root = "" },
			expectError: true,
			errorMsg:    "storage config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "partial file keeps defaults",
			configYAML: `
role: relay
link:
  kind: serial
  address: /dev/ttyUSB0
  codec: marker
upload:
  last_chunk_timeout: 120
`,
			check: func(t *testing.T, c *Config) {
				if c.Link.Codec != "marker" {
					t.Errorf("Expected marker codec, got %s", c.Link.Codec)
				}
				if c.Upload.ChunkSize != 4096 {
					t.Errorf("Expected default chunk size 4096, got %d", c.Upload.ChunkSize)
				}
				if c.Upload.GetLastChunkTimeout() != 120*time.Second {
					t.Errorf("Expected 120s last chunk timeout, got %v", c.Upload.GetLastChunkTimeout())
				}
				if c.Playback.Gain != 3 {
					t.Errorf("Expected default gain 3, got %d", c.Playback.Gain)
				}
			},
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
device:
  chunk_samples: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid value",
			configYAML: `
device:
  chunk_samples: 16
`,
			expectError: true,
			errorMsg:    "chunk_samples must be between",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if tt.check != nil {
				tt.check(t, config)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatal("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Expected sample config to load, got: %v", err)
	}
	if cfg.Device.ChunkSamples != 2048 {
		t.Errorf("Expected 2048 samples per chunk, got %d", cfg.Device.ChunkSamples)
	}
}

func TestDurationHelpers(t *testing.T) {
	device := DeviceConfig{PollInterval: 20, MaxRecording: 1.5}
	if device.GetPollInterval() != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %v", device.GetPollInterval())
	}
	if device.GetMaxRecording() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", device.GetMaxRecording())
	}

	link := LinkConfig{StartDelay: 50, StopDelay: 100, RetryInterval: 2}
	if link.GetStartDelay() != 50*time.Millisecond {
		t.Errorf("Expected 50ms, got %v", link.GetStartDelay())
	}
	if link.GetStopDelay() != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", link.GetStopDelay())
	}
	if link.GetRetryInterval() != 2*time.Second {
		t.Errorf("Expected 2 seconds, got %v", link.GetRetryInterval())
	}

	upload := UploadConfig{ChunkTimeout: 5, LastChunkTimeout: 90}
	if upload.GetChunkTimeout() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", upload.GetChunkTimeout())
	}
	if upload.GetLastChunkTimeout() != 90*time.Second {
		t.Errorf("Expected 90 seconds, got %v", upload.GetLastChunkTimeout())
	}

	playback := PlaybackConfig{ProgressInterval: 0.5, Settle: 300}
	if playback.GetProgressInterval() != 500*time.Millisecond {
		t.Errorf("Expected 0.5 seconds, got %v", playback.GetProgressInterval())
	}
	if playback.GetSettle() != 300*time.Millisecond {
		t.Errorf("Expected 300ms, got %v", playback.GetSettle())
	}

	discovery := DiscoveryConfig{Timeout: 2.5}
	if discovery.GetTimeout() != 2500*time.Millisecond {
		t.Errorf("Expected 2.5 seconds, got %v", discovery.GetTimeout())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{"valid json to stdout", LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, true},
		{"valid text to file", LoggingConfig{Level: "debug", Format: "text", Output: "/tmp/mrzorro.log"}, true},
		{"invalid log level", LoggingConfig{Level: "trace", Format: "json", Output: "stdout"}, false},
		{"invalid format", LoggingConfig{Level: "info", Format: "xml", Output: "stdout"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
