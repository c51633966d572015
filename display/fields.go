package display

import (
	"fmt"
	"time"

	"bikelink/uds"
)

// Data identifiers understood by the display dialect. The same code is
// reused across physical subsystems (display, drive unit, battery
// management); on the wire it is disambiguated only by which logical
// session issued the request, so the field table below carries the target
// group alongside the identifier.
const (
	IdentSerialNumber    uds.DataIdentifier = 0xF18C
	IdentProductCode     uds.DataIdentifier = 0xF187
	IdentArticleNumber   uds.DataIdentifier = 0xF18A
	IdentHardwareVersion uds.DataIdentifier = 0xF191
	IdentSoftwareVersion uds.DataIdentifier = 0xF195
	IdentComponentType   uds.DataIdentifier = 0xF197
	IdentCurrentTime     uds.DataIdentifier = 0xF1A2
	IdentCurrentDate     uds.DataIdentifier = 0xF1A3
)

// Group identifies the physical subsystem a field belongs to.
type Group int

const (
	GroupPrimary Group = iota
	GroupDriveUnit
	GroupBattery
)

func (g Group) String() string {
	switch g {
	case GroupPrimary:
		return "display"
	case GroupDriveUnit:
		return "driveUnit"
	case GroupBattery:
		return "batteryManagement"
	default:
		return "unknown"
	}
}

// Scope selects which field groups a full scan covers.
type Scope int

const (
	// ScopePrimary reads the display's own field set.
	ScopePrimary Scope = iota

	// ScopeExtended additionally attempts the drive-unit and
	// battery-management groups, tolerating their absence.
	ScopeExtended
)

func (s Scope) String() string {
	if s == ScopeExtended {
		return "extended"
	}
	return "primary"
}

// ParseScope maps a config string to a Scope. Empty defaults to primary.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "", "primary":
		return ScopePrimary, nil
	case "extended":
		return ScopeExtended, nil
	default:
		return ScopePrimary, fmt.Errorf("unknown scope %q", s)
	}
}

// defaultDataOffset is where most identifiers place their payload within
// the response data. Offset handling, including the short-response
// fallback, lives in uds.Response.DataAt.
const defaultDataOffset = 8

// Field declares one diagnostic field: its identifier, decoder, payload
// offset, transaction timeout, and target group. ReadAll iterates this
// table instead of hand-rolling one request per field.
type Field struct {
	Name    string
	ID      uds.DataIdentifier
	Decode  DecodeFunc
	Offset  int
	Timeout time.Duration
	Group   Group
}

var fieldTable = []Field{
	// Display (primary) group.
	{Name: "serialNumber", ID: IdentSerialNumber, Decode: decodeSerialNumber, Offset: defaultDataOffset, Timeout: uds.DefaultReadTimeout, Group: GroupPrimary},
	{Name: "hardwareVersion", ID: IdentHardwareVersion, Decode: decodeVersion, Offset: defaultDataOffset, Timeout: uds.DefaultReadTimeout, Group: GroupPrimary},
	{Name: "softwareVersion", ID: IdentSoftwareVersion, Decode: decodeVersion, Offset: defaultDataOffset, Timeout: uds.DefaultReadTimeout, Group: GroupPrimary},
	{Name: "productCode", ID: IdentProductCode, Decode: decodeASCII, Offset: defaultDataOffset, Timeout: uds.DefaultReadTimeout, Group: GroupPrimary},
	{Name: "articleNumber", ID: IdentArticleNumber, Decode: decodeArticleNumber, Offset: defaultDataOffset, Timeout: uds.DefaultReadTimeout, Group: GroupPrimary},
	{Name: "componentType", ID: IdentComponentType, Decode: decodeComponentType, Offset: defaultDataOffset, Timeout: uds.DefaultReadTimeout, Group: GroupPrimary},
	{Name: "currentTime", ID: IdentCurrentTime, Decode: decodeTime, Offset: defaultDataOffset, Timeout: uds.DefaultReadTimeout, Group: GroupPrimary},
	{Name: "currentDate", ID: IdentCurrentDate, Decode: decodeDate, Offset: defaultDataOffset, Timeout: uds.DefaultReadTimeout, Group: GroupPrimary},

	// Drive unit. Shorter timeouts: the sub-system may simply not be
	// connected, and a timeout there means "absent", not "broken".
	{Name: "driveUnit.serialNumber", ID: IdentSerialNumber, Decode: decodeSerialNumber, Offset: defaultDataOffset, Timeout: uds.AuxReadTimeout, Group: GroupDriveUnit},
	{Name: "driveUnit.partNumber", ID: IdentProductCode, Decode: decodeASCII, Offset: defaultDataOffset, Timeout: uds.AuxReadTimeout, Group: GroupDriveUnit},
	{Name: "driveUnit.softwareVersion", ID: IdentSoftwareVersion, Decode: decodeVersion, Offset: defaultDataOffset, Timeout: uds.AuxReadTimeout, Group: GroupDriveUnit},

	// Battery management.
	{Name: "batteryManagement.serialNumber", ID: IdentSerialNumber, Decode: decodeSerialNumber, Offset: defaultDataOffset, Timeout: uds.AuxReadTimeout, Group: GroupBattery},
	{Name: "batteryManagement.hardwareVersion", ID: IdentHardwareVersion, Decode: decodeVersion, Offset: defaultDataOffset, Timeout: uds.AuxReadTimeout, Group: GroupBattery},
	{Name: "batteryManagement.softwareVersion", ID: IdentSoftwareVersion, Decode: decodeVersion, Offset: defaultDataOffset, Timeout: uds.AuxReadTimeout, Group: GroupBattery},
}

// Fields returns the field set covered by the given scope, in scan order.
func Fields(scope Scope) []Field {
	out := make([]Field, 0, len(fieldTable))
	for _, f := range fieldTable {
		if scope == ScopePrimary && f.Group != GroupPrimary {
			continue
		}
		out = append(out, f)
	}
	return out
}

// FieldByName looks a field up by its record name.
func FieldByName(name string) (Field, bool) {
	for _, f := range fieldTable {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
