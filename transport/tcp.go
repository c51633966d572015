package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"bikelink/logging"
)

// tcpDialTimeout bounds the initial connection attempt.
const tcpDialTimeout = 5 * time.Second

// TCP is a Transport over a stream socket carrying fixed-size HID reports.
// It talks to a report bridge: a small relay that forwards 65-byte reports
// between the network and a display attached elsewhere (the remote-HID
// deployment). Framing is trivial because every report is exactly
// ReportSize bytes.
type TCP struct {
	mu      sync.Mutex
	address string
	conn    net.Conn

	// readMu serializes Read; partial carries the bytes of an incomplete
	// report across timed-out calls so the stream never desyncs.
	readMu  sync.Mutex
	partial []byte
}

// NewTCP creates a transport that connects to a report bridge at address
// (host:port). The connection is not made until Open is called.
func NewTCP(address string) *TCP {
	return &TCP{address: address}
}

// Open dials the bridge.
func (t *TCP) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	logging.DebugConnect("tcp", t.address)
	conn, err := net.DialTimeout("tcp", t.address, tcpDialTimeout)
	if err != nil {
		logging.DebugConnectError("tcp", t.address, err)
		return fmt.Errorf("failed to connect to report bridge %s: %w", t.address, err)
	}

	t.conn = conn

	// A reconnect starts a fresh stream; leftover bytes from the old one
	// must not leak into the first report.
	t.readMu.Lock()
	t.partial = nil
	t.readMu.Unlock()

	logging.DebugConnectSuccess("tcp", t.address, "bridge connected")
	return nil
}

// Write sends one report to the bridge.
func (t *TCP) Write(report []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return 0, ErrNotOpen
	}

	n, err := conn.Write(report)
	if err != nil {
		return n, fmt.Errorf("bridge write failed: %w", err)
	}
	return n, nil
}

// Read waits up to timeout for one full report from the bridge. A report
// split across TCP segments may span several calls: bytes that arrive
// before the deadline are kept, and the next call resumes filling the same
// report until all ReportSize bytes are in.
func (t *TCP) Read(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil, ErrNotOpen
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("bridge read failed: %w", err)
	}

	if t.partial == nil {
		t.partial = make([]byte, 0, ReportSize)
	}
	for len(t.partial) < ReportSize {
		buf := make([]byte, ReportSize-len(t.partial))
		n, err := conn.Read(buf)
		t.partial = append(t.partial, buf[:n]...)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil, ErrReadTimeout
			}
			return nil, fmt.Errorf("bridge read failed: %w", err)
		}
	}

	report := t.partial
	t.partial = nil
	return report, nil
}

// Close tears down the bridge connection.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	logging.DebugDisconnect("tcp", t.address, "closed")
	return err
}

// Describe returns a human-readable description of the endpoint.
func (t *TCP) Describe() string {
	return fmt.Sprintf("tcp %s", t.address)
}
