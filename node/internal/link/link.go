// Package link is the node's transmit path: a serial port (the radio or a
// USB CDC device) or stdout, wrapped so every write is counted.
package link

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/michaelfletchercgy/rainguage/node/internal/metrics"
)

// Stdout selects standard output as the link.
const Stdout = "-"

// CountingWriter adds the bytes written to one counter and failed writes to
// another.
type CountingWriter struct {
	w      io.Writer
	bytes  *atomic.Uint32
	errors *atomic.Uint32
}

func NewCountingWriter(w io.Writer, bytes, errors *atomic.Uint32) *CountingWriter {
	return &CountingWriter{w: w, bytes: bytes, errors: errors}
}

func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	metrics.AddBytes(cw.bytes, n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		cw.errors.Add(1)
	}
	return n, err
}

// Open opens path as a serial port at baud. Stdout ignores baud; a baud of
// 0 opens path as a plain file for appending (capture mode).
func Open(path string, baud int) (io.WriteCloser, error) {
	switch {
	case path == Stdout:
		return nopCloser{os.Stdout}, nil
	case baud == 0:
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
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

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
