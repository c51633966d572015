// Package transport provides HID report transports for the display
// diagnostic protocol.
//
// A Transport exchanges whole HID reports: 1 report-ID byte plus the
// 64-byte payload. The protocol engine adds the report-ID byte on writes
// and strips it on reads; a Transport just moves reports.
package transport

import (
	"errors"
	"time"
)

// ReportSize is the full HID report length: report-ID byte + 64 payload bytes.
const ReportSize = 65

// ErrReadTimeout is returned by Read when no report arrived within the
// requested timeout. A timeout is a first-class result, not a connection
// failure: the caller decides whether it means "sub-system absent" or
// "protocol failure".
var ErrReadTimeout = errors.New("transport: read timeout")

// ErrNotOpen is returned when I/O is attempted on a transport that has not
// been opened or has been closed.
var ErrNotOpen = errors.New("transport: not open")

// Transport is the capability the protocol engine runs against.
// Implementations exchange one HID report per call. A handle is exclusively
// owned by one diagnostic session at a time; no concurrent readers or
// writers are permitted.
type Transport interface {
	// Open acquires the underlying device or connection.
	Open() error

	// Write sends one outbound report and returns the number of bytes written.
	Write(report []byte) (int, error)

	// Read waits up to timeout for one inbound report. It returns
	// ErrReadTimeout when nothing arrived in time.
	Read(timeout time.Duration) ([]byte, error)

	// Close releases the device or connection. Closing is the only way to
	// abandon a pending exchange; there is no in-band cancel.
	Close() error

	// Describe returns a human-readable description of the endpoint.
	Describe() string
}
