// Package discovery advertises and finds the inference backend over mDNS so
// a device provisioned without api_host can still reach it on the LAN.
package discovery
