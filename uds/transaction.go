package uds

import (
	"errors"
	"time"

	"bikelink/logging"
	"bikelink/transport"
)

const (
	// DefaultReadTimeout applies to identifier reads against the display
	// itself.
	DefaultReadTimeout = 3000 * time.Millisecond

	// AuxReadTimeout applies when querying auxiliary sub-systems (drive
	// unit, battery management) that may be physically absent.
	AuxReadTimeout = 2000 * time.Millisecond

	// pollInterval is the delay between transport read attempts while a
	// transaction waits for its response. Short enough to stay responsive,
	// long enough to avoid busy-spinning.
	pollInterval = 10 * time.Millisecond
)

// Execute runs exactly one request/response exchange: encode, write, then
// poll for a single inbound frame until data arrives or timeout elapses.
//
// The wire format has no correlation ID, so the response is assumed to
// belong to the most recently sent request. Callers must never issue a
// second request before the first has resolved; the session layer enforces
// this with a per-transport lock.
//
// Execute never retries. A caller wanting resilience against a momentarily
// absent sub-system issues one transaction and interprets ErrTimeout as
// "feature unavailable".
func Execute(t transport.Transport, serviceID byte, id DataIdentifier, extra []byte, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	frame := EncodeRequest(serviceID, id, extra)
	report := frame.Report()

	logging.DebugLog("uds", "REQUEST %s id=%s timeout=%v", ServiceName(serviceID), id, timeout)
	logging.DebugTX("uds", report)

	if _, err := t.Write(report); err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}

	data, err := awaitFrame(t, timeout)
	if err != nil {
		return nil, err
	}

	logging.DebugRX("uds", data)

	resp, err := DecodeResponse(stripReportID(data))
	if err != nil {
		return nil, err
	}

	if resp.Code == NegativeResponse {
		nre := &NegativeResponseError{}
		if len(resp.Data) > 0 {
			nre.Service = resp.Data[0]
		}
		if len(resp.Data) > 1 {
			nre.Code = resp.Data[1]
		}
		logging.DebugLog("uds", "NEGATIVE %v", nre)
		return nil, nre
	}

	if resp.Code == PositiveReadResponse && resp.DataLength == 0 {
		return nil, ErrEmptyResponse
	}

	// Anything else is treated as success: the caller never sees a response
	// whose positivity has not already been validated.
	return resp, nil
}

// awaitFrame polls the transport until one frame arrives or the wall-clock
// deadline passes. The wait is never an indefinite block.
func awaitFrame(t transport.Transport, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	for {
		data, err := t.Read(pollInterval)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		if err != nil && !errors.Is(err, transport.ErrReadTimeout) {
			return nil, &TransportError{Op: "read", Err: err}
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
	}
}
