package uds

import (
	"errors"
	"fmt"
)

// Transaction and handshake errors. Frame-level failures are fatal to one
// transaction, never to the whole session; handshake failures are fatal to
// the session.
var (
	// ErrMalformedFrame means a response was too short or its header did
	// not match either known layout.
	ErrMalformedFrame = errors.New("uds: malformed frame")

	// ErrEmptyResponse means the peer acknowledged a read positively but
	// carried no data.
	ErrEmptyResponse = errors.New("uds: empty response")

	// ErrTimeout means no response frame arrived within the transaction
	// deadline. At the field level this usually means the queried
	// sub-system is physically absent, not that the protocol failed.
	ErrTimeout = errors.New("uds: response timeout")

	// ErrHandshakeTimeout means the peer never answered the handshake.
	ErrHandshakeTimeout = errors.New("uds: handshake timeout")

	// ErrHandshakeRejected means a frame arrived during the handshake but
	// did not match the expected acknowledgement pattern.
	ErrHandshakeRejected = errors.New("uds: handshake rejected")
)

// NegativeResponseError is an explicit rejection from the peer.
type NegativeResponseError struct {
	Service byte
	Code    byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("uds: negative response for %s: %s",
		ServiceName(e.Service), ErrorCodeName(e.Code))
}

// TransportError wraps a transport-level failure (write error, device
// unplugged, broken bridge). These are surfaced immediately and never
// retried by the protocol engine.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("uds: transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
