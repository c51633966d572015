// Package logging provides file and protocol debug logging for bikelink.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// DebugLogger provides verbose debug logging with hex dump capability.
// It writes to a dedicated debug.log file and is intended for troubleshooting
// protocol-level issues: handshake failures, malformed frames, negative
// responses, and dropped HID devices.
type DebugLogger struct {
	file    *os.File
	mu      sync.Mutex
	closed  bool
	filters map[string]bool // Channel filters (empty = log all)
}

// Global debug logger instance
var globalDebugLogger *DebugLogger
var globalDebugMu sync.RWMutex

// Known channel names for filtering
var knownChannels = []string{
	"hid",
	"tcp",
	"uds",
	"display",
	"devman",
	"mqtt",
	"valkey",
	"kafka",
	"web",
	"debug",
}

// NewDebugLogger creates a new debug logger that writes to the specified path.
// The file is created fresh (truncated if it exists) for each session.
func NewDebugLogger(path string) (*DebugLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log file: %w", err)
	}

	logger := &DebugLogger{
		file:    file,
		filters: make(map[string]bool),
	}

	logger.Log("debug", "Debug logging started - %s", time.Now().Format(time.RFC3339))
	logger.Log("debug", "========================================")

	return logger, nil
}

// KnownChannels returns the channel names understood by SetFilter.
func KnownChannels() []string {
	out := make([]string, len(knownChannels))
	copy(out, knownChannels)
	return out
}

// SetFilter sets the channel filter for logging.
// The filter can be a single channel or a comma-separated list.
// Empty string means log all channels. Names are matched case-insensitively.
func (l *DebugLogger) SetFilter(filter string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.filters = make(map[string]bool)

	if filter == "" {
		return // Empty filter = log all
	}

	channels := strings.Split(filter, ",")
	for _, c := range channels {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" {
			continue
		}
		l.filters[c] = true
		// Also add related channels
		switch c {
		case "display":
			l.filters["uds"] = true
		case "uds":
			l.filters["hid"] = true
			l.filters["tcp"] = true
		}
	}

	if len(l.filters) > 0 {
		filterList := make([]string, 0, len(l.filters))
		for c := range l.filters {
			filterList = append(filterList, c)
		}
		timestamp := time.Now().Format("2006-01-02 15:04:05.000")
		fmt.Fprintf(l.file, "%s [debug] Filtering enabled for channels: %s\n",
			timestamp, strings.Join(filterList, ", "))
	}
}

// shouldLog returns true if the channel should be logged based on current filter.
// Must be called with l.mu held.
func (l *DebugLogger) shouldLog(channel string) bool {
	if len(l.filters) == 0 {
		return true
	}

	if l.filters[strings.ToLower(channel)] {
		return true
	}

	// Always allow debug messages (for header/footer)
	return strings.EqualFold(channel, "debug")
}

// SetGlobalDebugLogger sets the global debug logger instance.
func SetGlobalDebugLogger(logger *DebugLogger) {
	globalDebugMu.Lock()
	defer globalDebugMu.Unlock()
	globalDebugLogger = logger
}

// GetGlobalDebugLogger returns the global debug logger instance.
func GetGlobalDebugLogger() *DebugLogger {
	globalDebugMu.RLock()
	defer globalDebugMu.RUnlock()
	return globalDebugLogger
}

// Log writes a formatted message with timestamp and channel prefix.
func (l *DebugLogger) Log(channel, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	if !l.shouldLog(channel) {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "%s [%s] %s\n", timestamp, channel, msg)
}

// LogTX logs a transmitted report with hex dump.
func (l *DebugLogger) LogTX(channel string, data []byte) {
	if l == nil {
		return
	}
	l.logPacket(channel, "TX", data)
}

// LogRX logs a received report with hex dump.
func (l *DebugLogger) LogRX(channel string, data []byte) {
	if l == nil {
		return
	}
	l.logPacket(channel, "RX", data)
}

// logPacket logs a report with direction and hex dump.
func (l *DebugLogger) logPacket(channel, direction string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	if !l.shouldLog(channel) {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s [%s] %s (%d bytes):\n", timestamp, channel, direction, len(data))
	fmt.Fprintf(l.file, "%s\n", hexDump(data))
}

// LogConnect logs a connection event.
func (l *DebugLogger) LogConnect(channel, address string) {
	l.Log(channel, "CONNECT to %s", address)
}

// LogConnectSuccess logs a successful connection.
func (l *DebugLogger) LogConnectSuccess(channel, address, details string) {
	l.Log(channel, "CONNECTED to %s - %s", address, details)
}

// LogConnectError logs a connection failure.
func (l *DebugLogger) LogConnectError(channel, address string, err error) {
	l.Log(channel, "CONNECT FAILED to %s: %v", address, err)
}

// LogDisconnect logs a disconnection event.
func (l *DebugLogger) LogDisconnect(channel, address, reason string) {
	l.Log(channel, "DISCONNECT from %s: %s", address, reason)
}

// LogError logs an error with context.
func (l *DebugLogger) LogError(channel, context string, err error) {
	l.Log(channel, "ERROR in %s: %v", context, err)
}

// Close closes the debug log file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s [debug] Debug logging ended\n", timestamp)

	return l.file.Close()
}

// hexDump returns a hex dump of the data in a readable format.
// Format: offset: hex bytes   ASCII
// Example:
//
//	0000: 01 00 3A 08 03 22 F1 8C  00 00 00 00 00 00 00 00  ..:.."..........
//	0010: 00 00 00 00 00 00 00 00                          ........
func hexDump(data []byte) string {
	if len(data) == 0 {
		return "    (empty)"
	}

	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		// Offset
		sb.WriteString(fmt.Sprintf("    %04X: ", offset))

		// Hex bytes (first 8)
		for i := 0; i < 8; i++ {
			if offset+i < len(data) {
				sb.WriteString(fmt.Sprintf("%02X ", data[offset+i]))
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" ")

		// Hex bytes (second 8)
		for i := 8; i < 16; i++ {
			if offset+i < len(data) {
				sb.WriteString(fmt.Sprintf("%02X ", data[offset+i]))
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" ")

		// ASCII representation
		for i := 0; i < 16; i++ {
			if offset+i < len(data) {
				b := data[offset+i]
				if b >= 32 && b < 127 {
					sb.WriteByte(b)
				} else {
					sb.WriteByte('.')
				}
			}
		}
		sb.WriteString("\n")
	}

	return strings.TrimSuffix(sb.String(), "\n")
}

// Global debug logging functions for use by protocol packages

// DebugLog logs a message if debug logging is enabled.
func DebugLog(channel, format string, args ...interface{}) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.Log(channel, format, args...)
	}
}

// DebugTX logs transmitted data if debug logging is enabled.
func DebugTX(channel string, data []byte) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogTX(channel, data)
	}
}

// DebugRX logs received data if debug logging is enabled.
func DebugRX(channel string, data []byte) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogRX(channel, data)
	}
}

// DebugConnect logs a connection attempt if debug logging is enabled.
func DebugConnect(channel, address string) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogConnect(channel, address)
	}
}

// DebugConnectSuccess logs a successful connection if debug logging is enabled.
func DebugConnectSuccess(channel, address, details string) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogConnectSuccess(channel, address, details)
	}
}

// DebugConnectError logs a connection error if debug logging is enabled.
func DebugConnectError(channel, address string, err error) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogConnectError(channel, address, err)
	}
}

// DebugDisconnect logs a disconnection if debug logging is enabled.
func DebugDisconnect(channel, address, reason string) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogDisconnect(channel, address, reason)
	}
}

// DebugError logs an error if debug logging is enabled.
func DebugError(channel, context string, err error) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogError(channel, context, err)
	}
}
