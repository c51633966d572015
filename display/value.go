package display

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeFunc maps raw response payload bytes to a presentation value.
// Decoders are pure and total: they always return a usable string, falling
// back to a hex rendering rather than failing on malformed input. Several
// of them encode reverse-engineered, firmware-revision-dependent guesses;
// the special-case branches are kept explicit and must not be "corrected",
// since the true wire format is unknown.
type DecodeFunc func(data []byte) string

// hexFallback renders bytes that match no known layout.
func hexFallback(data []byte) string {
	return "0x" + strings.ToUpper(hex.EncodeToString(data))
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isAlphanumeric(b byte) bool {
	return isDigit(b) || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// decodeASCII keeps printable bytes (0x20..0x7E, excluding NUL padding) and
// strips leading non-alphanumeric noise, a wire artifact seen before text
// fields on some firmware.
func decodeASCII(data []byte) string {
	buf := make([]byte, 0, len(data))
	for _, b := range data {
		if b >= 0x20 && b <= 0x7E {
			buf = append(buf, b)
		}
	}
	for len(buf) > 0 && !isAlphanumeric(buf[0]) {
		buf = buf[1:]
	}
	return string(buf)
}

// decodeVersion renders a firmware or hardware version.
//
// Four or more bytes are the regular layout: four dot-separated decimal
// octets. Exactly two bytes appear on older firmware in two observed
// shapes, each handled by its own branch; everything shorter falls back to
// hex rather than failing.
func decodeVersion(data []byte) string {
	switch {
	case len(data) >= 4:
		return fmt.Sprintf("%d.%d.%d.%d", data[0], data[1], data[2], data[3])
	case len(data) == 2:
		// Observed trace: bytes 02 72 render as "0.0.2.2" on the vendor
		// tool. Possibly BCD, possibly an unrelated encoding; kept verbatim.
		if data[0] == 0x02 && data[1] == 0x72 {
			return "0.0.2.2"
		}
		// Observed trace: a 0xFF second byte is padding, only the first
		// byte carries the version.
		if data[1] == 0xFF {
			return fmt.Sprintf("%d.0", data[0])
		}
		return fmt.Sprintf("%d.%02d", data[0], data[1])
	default:
		return hexFallback(data)
	}
}

// maxSerialBytes bounds the serial-number rendering; responses can carry
// trailing frame padding past the actual serial.
const maxSerialBytes = 20

// decodeSerialNumber renders up to the first 20 bytes as uppercase hex.
// No semantic validation is applied to the contents.
func decodeSerialNumber(data []byte) string {
	if len(data) > maxSerialBytes {
		data = data[:maxSerialBytes]
	}
	return "0x" + strings.ToUpper(hex.EncodeToString(data))
}

// decodeArticleNumber extracts the decimal article number: NUL padding is
// dropped, one leading non-digit marker byte is stripped when present, and
// trailing non-digit characters are removed.
func decodeArticleNumber(data []byte) string {
	buf := make([]byte, 0, len(data))
	for _, b := range data {
		if b != 0x00 {
			buf = append(buf, b)
		}
	}
	if len(buf) > 0 && !isDigit(buf[0]) {
		buf = buf[1:]
	}
	end := len(buf)
	for end > 0 && !isDigit(buf[end-1]) {
		end--
	}
	return string(buf[:end])
}

// decodeTime renders a 2-byte clock value as HH:MM. The byte order is
// ambiguous across firmware revisions; whichever interpretation yields a
// valid hour and minutes component wins.
func decodeTime(data []byte) string {
	if len(data) < 2 {
		return hexFallback(data)
	}
	h, m := data[0], data[1]
	if h > 23 || m > 59 {
		// Swapped byte order observed on some firmware.
		h, m = m, h
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// decodeDate renders a 3-byte date as DD.MM.YYYY. The bytes are
// (year offset from 2000, month, day) in that order.
func decodeDate(data []byte) string {
	if len(data) < 3 {
		return hexFallback(data)
	}
	return fmt.Sprintf("%02d.%02d.%04d", data[2], data[1], 2000+int(data[0]))
}

// decodeComponentType looks the single type byte up in the model table.
func decodeComponentType(data []byte) string {
	if len(data) < 1 {
		return hexFallback(data)
	}
	if name, ok := componentTypes[data[0]]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", data[0])
}
