package display

// VendorID is the USB vendor ID shared by every supported display family.
const VendorID = 0x108C

// Known product IDs. The product ID varies per physical model; several PIDs
// map to the same display family across hardware revisions.
var productIDs = map[uint16]string{
	0x0139: "Intuvia",
	0x013A: "Intuvia",
	0x0152: "Purion",
	0x0176: "Nyon",
	0x01A4: "Kiox",
}

// ProductIDs returns the known product IDs for transport discovery.
func ProductIDs() []uint16 {
	ids := make([]uint16, 0, len(productIDs))
	for id := range productIDs {
		ids = append(ids, id)
	}
	return ids
}

// ProductName returns the display family for a product ID, or "" when the
// PID is not recognized.
func ProductName(pid uint16) string {
	return productIDs[pid]
}

// componentTypes maps the single-byte component-type code reported by the
// device to a display model name.
var componentTypes = map[byte]string{
	0x01: "Intuvia",
	0x02: "Purion",
	0x03: "Nyon",
	0x04: "Kiox",
	0x05: "SmartphoneHub",
}
