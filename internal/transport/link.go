package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
)

// Link kinds accepted in configuration
const (
	KindSerial    = "serial"
	KindWebSocket = "websocket"
)

// OpenSerial opens a serial device file for reading and writing. Line
// settings (baud rate, raw mode) are expected to be applied to the device
// beforehand.
func OpenSerial(path string) (io.ReadWriteCloser, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial device %s: %w", path, err)
	}
	return f, nil
}

// Dial opens an outbound link of the given kind
func Dial(ctx context.Context, kind, address string) (io.ReadWriteCloser, error) {
	switch kind {
	case KindSerial:
		return OpenSerial(address)
	case KindWebSocket:
		conn, err := DialWebSocket(ctx, address)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unknown link kind %q", kind)
	}
}

// Pipe returns the two ends of a synchronous in-memory link
func Pipe() (io.ReadWriteCloser, io.ReadWriteCloser) {
	return net.Pipe()
}
