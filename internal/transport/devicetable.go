package transport

// deviceTableEntry is one row of the static vendor/product table. Per
// spec §9, vendor-specific report layouts are data, not core logic: the
// OWP-1 wire format is the same for every entry here, only the declared
// capabilities differ.
type deviceTableEntry struct {
	VendorID     uint16
	ProductID    uint16
	ProductName  string
	Capabilities DeviceCapabilities
}

// deviceTable lists every wheelbase, pedal set, and accessory this core
// recognizes. Unknown (vendor_id, product_id) pairs are filtered out of
// Enumerate; this package provides no listing of them.
var deviceTable = []deviceTableEntry{
	{
		VendorID:    0x3153,
		ProductID:   0x0001,
		ProductName: "OpenRacing RT1 Direct Drive Wheelbase",
		Capabilities: DeviceCapabilities{
			SupportsPID:           true,
			SupportsRawTorque1kHz: true,
			SupportsHealthStream:  true,
			SupportsLEDBus:        true,
			MaxTorqueNm:           20.0,
			EncoderCPR:            4096,
			MinReportPeriodUs:     1000,
		},
	},
	{
		VendorID:    0x3153,
		ProductID:   0x0002,
		ProductName: "OpenRacing RT1-Lite Wheelbase",
		Capabilities: DeviceCapabilities{
			SupportsPID:           true,
			SupportsRawTorque1kHz: false,
			SupportsHealthStream:  true,
			SupportsLEDBus:        true,
			MaxTorqueNm:           8.0,
			EncoderCPR:            2048,
			MinReportPeriodUs:     16667, // ~60 Hz
		},
	},
	{
		VendorID:    0x3153,
		ProductID:   0x0010,
		ProductName: "OpenRacing Pedal Set P1",
		Capabilities: DeviceCapabilities{
			SupportsPID:           false,
			SupportsRawTorque1kHz: false,
			SupportsHealthStream:  false,
			SupportsLEDBus:        false,
			MaxTorqueNm:           0,
			EncoderCPR:            1024,
			MinReportPeriodUs:     8333, // ~120 Hz
		},
	},
	{
		VendorID:    0x4C45,
		ProductID:   0x4C45,
		ProductName: "OpenRacing LED Rim Accessory",
		Capabilities: DeviceCapabilities{
			SupportsPID:           false,
			SupportsRawTorque1kHz: false,
			SupportsHealthStream:  false,
			SupportsLEDBus:        true,
			MaxTorqueNm:           0,
			EncoderCPR:            1,
			MinReportPeriodUs:     5000,
		},
	},
}

// IsSupported is a pure, idempotent lookup: repeated calls for the same
// (vid, pid) always return the same result.
func IsSupported(vendorID, productID uint16) bool {
	_, ok := lookup(vendorID, productID)
	return ok
}

// CapabilitiesFor returns the declared capabilities for a known
// (vendor_id, product_id) pair.
func CapabilitiesFor(vendorID, productID uint16) (DeviceCapabilities, bool) {
	entry, ok := lookup(vendorID, productID)
	if !ok {
		return DeviceCapabilities{}, false
	}
	return entry.Capabilities, true
}

func lookup(vendorID, productID uint16) (deviceTableEntry, bool) {
	for _, e := range deviceTable {
		if e.VendorID == vendorID && e.ProductID == productID {
			return e, true
		}
	}
	return deviceTableEntry{}, false
}
