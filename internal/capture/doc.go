// Package capture implements the capture node: while the trigger is held it
// reads microphone chunks, converts them to 16-bit PCM and streams them onto
// the link between begin and end control signals.
package capture
