package uds

import "fmt"

// Service IDs used by the display's diagnostic dialect. The dialect is a
// minimal UDS subset: identifier read and write only.
const (
	// ServiceReadDataByIdentifier requests the value of a data identifier.
	ServiceReadDataByIdentifier byte = 0x22

	// ServiceWriteDataByIdentifier writes the value of a data identifier.
	ServiceWriteDataByIdentifier byte = 0x2E

	// PositiveReadResponse marks a positive ReadDataByIdentifier reply
	// (0x22 + 0x40, per UDS convention).
	PositiveReadResponse byte = 0x62

	// PositiveWriteResponse marks a positive WriteDataByIdentifier reply
	// (0x2E + 0x40). Distinct from the read marker; the two must not be
	// confused.
	PositiveWriteResponse byte = 0x6E

	// NegativeResponse marks an explicit rejection. The following byte is
	// the rejected service ID, then the error code.
	NegativeResponse byte = 0x7F
)

// Negative-response error codes observed from the display.
const (
	CodeGeneralReject          byte = 0x10
	CodeServiceNotSupported    byte = 0x11
	CodeSubFunctionUnsupported byte = 0x12
	CodeIncorrectMessageLength byte = 0x13
	CodeConditionsNotCorrect   byte = 0x22
	CodeRequestOutOfRange      byte = 0x31
	CodeSecurityAccessDenied   byte = 0x33
	CodeResponsePending        byte = 0x78
)

var errorCodeNames = map[byte]string{
	CodeGeneralReject:          "general reject",
	CodeServiceNotSupported:    "service not supported",
	CodeSubFunctionUnsupported: "sub-function not supported",
	CodeIncorrectMessageLength: "incorrect message length",
	CodeConditionsNotCorrect:   "conditions not correct",
	CodeRequestOutOfRange:      "request out of range",
	CodeSecurityAccessDenied:   "security access denied",
	CodeResponsePending:        "response pending",
}

// ErrorCodeName returns a human-readable name for a negative-response error
// code, or a hex rendering for unknown codes.
func ErrorCodeName(code byte) string {
	if name, ok := errorCodeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", code)
}

var serviceNames = map[byte]string{
	ServiceReadDataByIdentifier:  "Read Data By Identifier",
	ServiceWriteDataByIdentifier: "Write Data By Identifier",
}

// ServiceName returns a human-readable name for a service ID, or a hex
// rendering for unknown services.
func ServiceName(service byte) string {
	if name, ok := serviceNames[service]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", service)
}
