// Package config loads the YAML node configuration. Missing keys keep the
// firmware defaults from Default; each section validates itself.
package config
