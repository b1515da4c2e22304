package gatt

// MaxEIRPacketLength is the maximum length of an advertising or scan
// response packet, [Vol 3, Part C, 11].
const MaxEIRPacketLength = 31

// ErrEIRPacketTooLong is returned when an assembled advertising or scan
// response packet exceeds MaxEIRPacketLength.
type errEIRPacketTooLong struct{}

func (errEIRPacketTooLong) Error() string { return "gatt: max advertising packet length is 31" }

// ErrEIRPacketTooLong is the error returned when an AdvertisingData or
// ScanResponseData packet is too long.
var ErrEIRPacketTooLong error = errEIRPacketTooLong{}

// advertising data field types, [Vol 3, Part C, 11].
const (
	adTypeFlags        = 1
	adTypeSomeUUID16   = 2
	adTypeAllUUID16    = 3
	adTypeSomeUUID128  = 6
	adTypeAllUUID128   = 7
	adTypeShortName    = 8
	adTypeCompleteName = 9
	adTypeManufacturer = 0xFF
)

// flag bits, [Vol 3, Part C, 18.1].
const (
	flagLimitedDiscoverable = 1 << 0
	flagGenerallyDiscoverable = 1 << 1
	flagLEOnly                = 1 << 2
)

// An advPacket incrementally builds an advertising or scan response
// packet, one length-prefixed field at a time.
type advPacket struct {
	data []byte
}

func (p *advPacket) appendField(typ byte, data []byte) {
	p.data = append(p.data, byte(len(data)+1))
	p.data = append(p.data, typ)
	p.data = append(p.data, data...)
}

// appendUUIDFit appends u as an incomplete-list service UUID field if it
// still fits within MaxEIRPacketLength, reporting whether it did.
func (p *advPacket) appendUUIDFit(u UUID) bool {
	if len(p.data)+u.Len()+2 > MaxEIRPacketLength {
		return false
	}
	switch u.Len() {
	case 2:
		p.appendField(adTypeSomeUUID16, u.reverseBytes())
	case 16:
		p.appendField(adTypeSomeUUID128, u.reverseBytes())
	}
	return true
}

// appendManufacturerDataFit appends manufacturer-specific data (company
// ID followed by payload) if it fits, reporting whether it did.
func (p *advPacket) appendManufacturerDataFit(companyID uint16, payload []byte) bool {
	data := append([]byte{byte(companyID), byte(companyID >> 8)}, payload...)
	if len(p.data)+len(data)+2 > MaxEIRPacketLength {
		return false
	}
	p.appendField(adTypeManufacturer, data)
	return true
}

// nameScanResponsePacket constructs a scan response packet carrying name,
// truncated (and marked as a shortened name) if it would not otherwise
// fit.
func nameScanResponsePacket(name string) []byte {
	typ := byte(adTypeCompleteName)
	if max := MaxEIRPacketLength - 2; len(name) > max {
		name = name[:max]
		typ = adTypeShortName
	}
	p := new(advPacket)
	p.appendField(typ, []byte(name))
	return p.data
}

// serviceAdvertisingPacket constructs an advertising packet flagged
// generally-discoverable/LE-only, advertising as many of uu as fit. It
// returns the packet and the subset of uu it was able to include.
func serviceAdvertisingPacket(uu []UUID) ([]byte, []UUID) {
	fit := make([]UUID, 0, len(uu))
	p := new(advPacket)
	p.appendField(adTypeFlags, []byte{flagGenerallyDiscoverable | flagLEOnly})
	for _, u := range uu {
		if p.appendUUIDFit(u) {
			fit = append(fit, u)
		}
	}
	return p.data, fit
}
