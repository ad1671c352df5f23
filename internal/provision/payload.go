package provision

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrAlreadyConfigured is returned when a payload arrives after configuration completed
var ErrAlreadyConfigured = errors.New("device already configured")

// Payload is the device configuration message
type Payload struct {
	UserID       string `json:"userid"`
	SSID         string `json:"ssid"`
	WiFiPassword string `json:"wifi_password"`
	APIHost      string `json:"api_host,omitempty"`
}

// ConfigurationIncompleteError lists the fields still missing
type ConfigurationIncompleteError struct {
	Missing []string
}

func (e *ConfigurationIncompleteError) Error() string {
	return fmt.Sprintf("configuration incomplete: missing %s", strings.Join(e.Missing, ", "))
}

// Parse decodes a JSON payload. Unknown keys are ignored.
func Parse(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("failed to parse configuration payload: %w", err)
	}
	p.UserID = strings.TrimSpace(p.UserID)
	p.SSID = strings.TrimSpace(p.SSID)
	p.APIHost = strings.TrimSpace(p.APIHost)
	return p, nil
}

// Merge overlays the non-empty fields of update onto p
func (p Payload) Merge(update Payload) Payload {
	if update.UserID != "" {
		p.UserID = update.UserID
	}
	if update.SSID != "" {
		p.SSID = update.SSID
	}
	if update.WiFiPassword != "" {
		p.WiFiPassword = update.WiFiPassword
	}
	if update.APIHost != "" {
		p.APIHost = update.APIHost
	}
	return p
}

// Validate reports a ConfigurationIncompleteError if required fields are missing
func (p Payload) Validate() error {
	var missing []string
	if p.UserID == "" {
		missing = append(missing, "userid")
	}
	if p.SSID == "" {
		missing = append(missing, "ssid")
	}
	if p.WiFiPassword == "" {
		missing = append(missing, "wifi_password")
	}
	if len(missing) > 0 {
		return &ConfigurationIncompleteError{Missing: missing}
	}
	return nil
}

// Complete reports whether the payload can configure the device
func (p Payload) Complete() bool {
	return p.Validate() == nil
}

// String renders the payload with the password redacted
func (p Payload) String() string {
	password := ""
	if p.WiFiPassword != "" {
		password = "****"
	}
	return fmt.Sprintf("Payload{UserID:%s, SSID:%s, Password:%s, APIHost:%s}",
		p.UserID, p.SSID, password, p.APIHost)
}

// LogValue keeps the password out of structured logs
func (p Payload) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("userid", p.UserID),
		slog.String("ssid", p.SSID),
		slog.String("api_host", p.APIHost),
	)
}
