// Package controller holds the device state machine and the standalone
// device loop that drives it.
//
// The machine is one enum-tagged state with explicit transitions:
//
//	Configuring -> Initializing -> Ready -> Recording -> Uploading -> PlayingResponse -> Ready
//
// Recording and Uploading may also fall back to Ready when a session is
// abandoned. Invalid moves are rejected with ErrInvalidTransition. The
// indicator is lit while Recording and PlayingResponse.
//
// Drivers call Step from a single cooperative loop. Each Step does one
// bounded unit of work so the trigger is sampled regularly; network I/O
// runs on the upload worker and never blocks the loop.
package controller
