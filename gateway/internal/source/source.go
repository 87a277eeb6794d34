// Package source opens the byte stream the gateway decodes: a serial port
// with a radio receiver, or a capture file when no baud rate is given.
package source

import (
	"fmt"
	"io"
	"os"

	"go.bug.st/serial"
)

// Open opens path as a serial port at baud, or as a plain file when baud is 0.
func Open(path string, baud int) (io.ReadCloser, error) {
	if baud == 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open capture %s: %w", path, err)
		}
		return f, nil
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	return port, nil
}

// IsCapture reports whether Open treats the source as a finite file.
func IsCapture(baud int) bool {
	return baud == 0
}
