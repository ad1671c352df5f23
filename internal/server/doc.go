// Package server implements the monitor HTTP API of a node: health, state,
// statistics, sanitized configuration and Prometheus metrics, plus the
// software trigger, configuration intake and the capture link endpoint.
package server
