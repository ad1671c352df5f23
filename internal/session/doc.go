// Package session tracks the single active recording session and a short
// history of finished ones for monitoring.
package session
