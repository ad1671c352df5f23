// Package metrics defines the Prometheus collectors exported by the relay and
// the helpers the pipeline uses to record capture, link, upload, playback and
// state machine activity.
package metrics
