// Package provision parses the device configuration payload and delivers it
// to the state machine exactly once.
//
// The payload is the JSON document the companion app writes over Bluetooth:
//
//	{"userid": "...", "ssid": "...", "wifi_password": "...", "api_host": "..."}
//
// Partial documents are merged until userid, ssid and wifi_password are all
// present. api_host may stay empty when the backend is discovered over mDNS.
package provision
