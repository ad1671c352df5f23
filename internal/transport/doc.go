// Package transport provides the byte links between the capture node and
// the relay: a serial device file, a websocket carrying binary messages,
// and an in-memory pipe for tests. Reader moves link bytes onto a bounded
// queue so the cooperative loop can poll without blocking.
package transport
