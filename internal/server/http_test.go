package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jorgemp1270/mrzorro-esp32/internal/config"
	"github.com/jorgemp1270/mrzorro-esp32/internal/device"
	"github.com/jorgemp1270/mrzorro-esp32/internal/metrics"
	"github.com/jorgemp1270/mrzorro-esp32/internal/provision"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	opts.Gatherer = reg
	h := NewHTTPServer(HTTPServerConfig{Port: 8080, Address: "127.0.0.1", Enabled: true},
		discardLogger(), config.Default(), opts, metrics.NewMetrics(reg))

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func TestHealthAndState(t *testing.T) {
	srv := newTestServer(t, Options{
		State: func() any { return map[string]string{"state": "ready"} },
	})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	body := decode(t, resp)
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", body["status"])
	}

	resp, err = http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if state := decode(t, resp)["state"]; state != "ready" {
		t.Errorf("Expected ready, got %v", state)
	}
}

func TestMissingSourcesAnswerNotFound(t *testing.T) {
	srv := newTestServer(t, Options{})

	for _, path := range []string{"/state", "/trigger", "/provision", "/link", "/nope"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("Request to %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestSoftwareTrigger(t *testing.T) {
	trigger := device.NewSoftTrigger()
	srv := newTestServer(t, Options{Trigger: trigger})

	resp, err := http.Post(srv.URL+"/trigger", "application/json", strings.NewReader(`{"pressed": true}`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if pressed := decode(t, resp)["pressed"]; pressed != true {
		t.Errorf("Expected pressed=true in response, got %v", pressed)
	}
	if !trigger.Pressed() {
		t.Error("Expected trigger to be pressed")
	}

	resp, err = http.Post(srv.URL+"/trigger", "application/json", strings.NewReader(`not json`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestProvisioning(t *testing.T) {
	channel := provision.NewChannel()
	srv := newTestServer(t, Options{Provisioning: channel})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{"userid":`, http.StatusBadRequest},
		{"fragment", `{"userid":"u1"}`, http.StatusAccepted},
		{"completes", `{"ssid":"lab","wifi_password":"pw"}`, http.StatusOK},
		{"after configured", `{"userid":"u2"}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/provision", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}

	select {
	case p := <-channel.C():
		if p.UserID != "u1" || p.SSID != "lab" {
			t.Errorf("Expected merged payload, got %v", p)
		}
	default:
		t.Fatal("Expected a delivered payload")
	}
}

func TestConfigOmitsCredentials(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/config")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(raw), "wifi_password") {
		t.Error("Expected config to omit credentials")
	}
	if !strings.Contains(string(raw), `"last_chunk_timeout":90`) {
		t.Errorf("Expected upload settings in config, got %s", raw)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	// Generate one instrumented request first
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "mrzorro_http_requests_total") {
		t.Errorf("Expected HTTP request metric in output")
	}
}
