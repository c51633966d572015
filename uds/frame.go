// Package uds implements the display's vendor-adapted UDS protocol over
// fixed-size HID report frames: the handshake, the request/response
// transaction layer, and the frame codec.
//
// Only identifier read/write framing is modeled. Security access, firmware
// transfer, and session-control negotiation are not part of this dialect.
package uds

import (
	"fmt"

	"bikelink/logging"
)

const (
	// FrameSize is the HID report payload length, excluding the report-ID
	// byte the transport layer carries.
	FrameSize = 64

	// ReportID is the fixed report-ID byte prepended to every outbound
	// report and stripped from every inbound one.
	ReportID = 0x00
)

// Fixed frame prefixes. The request header and handshake patterns are
// verbatim from captured traffic; their internal structure is unknown.
var (
	requestHeader     = [4]byte{0x01, 0x00, 0x3A, 0x08}
	handshakeRequest  = [4]byte{0x00, 0x00, 0x01, 0x01}
	handshakeResponse = [4]byte{0x00, 0x01, 0x01, 0x00}
)

// requestLengthByte follows the request header in every outbound frame.
// Observed constant regardless of actual payload length.
const requestLengthByte = 0x03

// DataIdentifier is the 2-byte code naming a readable or writable parameter.
// Identifiers are not namespaced by target component: the same code is
// reused across display, drive unit, and battery subsystems and is
// disambiguated only by which logical session issued the request.
type DataIdentifier uint16

// Bytes returns the identifier as a big-endian byte pair.
func (d DataIdentifier) Bytes() (hi, lo byte) {
	return byte(d >> 8), byte(d)
}

func (d DataIdentifier) String() string {
	return fmt.Sprintf("0x%04X", uint16(d))
}

// Frame is one HID report payload: always exactly FrameSize bytes.
type Frame [FrameSize]byte

// NewFrame builds a frame from content, zero-padding to FrameSize.
// Content longer than FrameSize is silently truncated. That is a wire
// quirk, not an error: the device ignores everything past the report
// boundary and the original firmware relies on it.
func NewFrame(content []byte) Frame {
	var f Frame
	copy(f[:], content)
	return f
}

// Bytes returns the frame payload as a slice.
func (f Frame) Bytes() []byte {
	return f[:]
}

// Report returns the full outbound HID report: report-ID byte + payload.
func (f Frame) Report() []byte {
	report := make([]byte, 0, FrameSize+1)
	report = append(report, ReportID)
	return append(report, f[:]...)
}

// EncodeHandshakeRequest builds the fixed handshake frame.
func EncodeHandshakeRequest() Frame {
	return NewFrame(handshakeRequest[:])
}

// EncodeRequest builds a UDS request frame for the given service, identifier
// and optional extra payload bytes.
func EncodeRequest(serviceID byte, id DataIdentifier, extra []byte) Frame {
	hi, lo := id.Bytes()

	content := make([]byte, 0, FrameSize)
	content = append(content, requestHeader[:]...)
	content = append(content, requestLengthByte, serviceID, hi, lo)
	content = append(content, extra...)

	return NewFrame(content)
}

// DecodeHandshakeResponse reports whether data is the expected handshake
// acknowledgement. Anything other than an exact 4-byte prefix match is a
// rejection; there is no partial-success state.
func DecodeHandshakeResponse(data []byte) bool {
	if len(data) < len(handshakeResponse) {
		return false
	}
	for i, b := range handshakeResponse {
		if data[i] != b {
			return false
		}
	}
	return true
}

// Response is a parsed inbound frame. Data is a view into the frame buffer,
// not a copy; it is only valid for the lifetime of one transaction.
type Response struct {
	DataLength byte
	ServiceID  byte
	Code       byte
	Data       []byte
}

// fallbackDataOffset applies when a response carries less data than the
// caller's offset expects. Observed on older display firmware, which uses a
// 3-byte pre-data header instead of 4 and so shifts the payload forward.
const fallbackDataOffset = 5

// DecodeResponse parses one inbound frame payload.
// The response layout is [0x01][0x00][?][dataLength][serviceID][code][data...];
// byte 2 varies across firmware revisions and is not interpreted.
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(data))
	}
	if data[0] != 0x01 || data[1] != 0x00 {
		return nil, fmt.Errorf("%w: header %02X %02X", ErrMalformedFrame, data[0], data[1])
	}

	// The declared length bounds the data area; everything past it is frame
	// padding, not payload.
	payload := data[6:]
	if n := int(data[3]); n < len(payload) {
		payload = payload[:n]
	}

	return &Response{
		DataLength: data[3],
		ServiceID:  data[4],
		Code:       data[5],
		Data:       payload,
	}, nil
}

// DataAt returns the response payload starting at the given byte offset.
//
// Different identifiers place their payload at different start positions
// within the frame; offset selection is centralized here rather than
// duplicated per field. When the response is shorter than the requested
// offset expects, the documented fallback offset of 5 applies (the 3-byte
// header layout); a response too short even for that yields an empty slice.
// Unexpected offsets are flagged in the debug log instead of guessed at.
func (r *Response) DataAt(offset int) []byte {
	if offset < 0 {
		offset = 0
	}
	if len(r.Data) > offset {
		return r.Data[offset:]
	}
	if offset != fallbackDataOffset && len(r.Data) > fallbackDataOffset {
		logging.DebugLog("uds", "short response: %d data bytes, offset %d requested, falling back to %d",
			len(r.Data), offset, fallbackDataOffset)
		return r.Data[fallbackDataOffset:]
	}
	logging.DebugLog("uds", "short response: %d data bytes, offset %d requested, no usable payload",
		len(r.Data), offset)
	return nil
}

// stripReportID removes the leading report-ID byte from an inbound report
// when the transport delivered it. Some backends hand back the bare 64-byte
// payload instead; both shapes are accepted.
func stripReportID(report []byte) []byte {
	if len(report) == FrameSize+1 && report[0] == ReportID {
		return report[1:]
	}
	return report
}
