// Package storage provides the rooted file store used for session
// recordings and responses, plus WAV archiving of finished recordings.
package storage
