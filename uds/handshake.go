package uds

import (
	"errors"
	"time"

	"bikelink/logging"
	"bikelink/transport"
)

// DefaultHandshakeTimeout bounds the wait for the handshake acknowledgement.
const DefaultHandshakeTimeout = 1000 * time.Millisecond

// PerformHandshake runs the one-shot exchange that must succeed before any
// diagnostic traffic is sent. It sends the fixed handshake frame and waits
// up to timeout for the acknowledgement.
//
// The handshake is never retried here: the caller decides whether a failure
// warrants reconnecting the whole session.
func PerformHandshake(t transport.Transport, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	frame := EncodeHandshakeRequest()
	report := frame.Report()

	logging.DebugTX("uds", report)
	if _, err := t.Write(report); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	data, err := t.Read(timeout)
	if err != nil {
		if errors.Is(err, transport.ErrReadTimeout) {
			logging.DebugLog("uds", "handshake timed out after %v", timeout)
			return ErrHandshakeTimeout
		}
		return &TransportError{Op: "read", Err: err}
	}

	logging.DebugRX("uds", data)
	if !DecodeHandshakeResponse(stripReportID(data)) {
		return ErrHandshakeRejected
	}
	return nil
}
