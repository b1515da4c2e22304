package gatt

// This file includes GATT-layer constants from the BLE spec; ATT opcodes
// and error codes live in att.go.

// GATT profile UUIDs, per the Bluetooth-assigned numbers document.
var (
	uuidGAP  = UUID16(0x1800)
	uuidGATT = UUID16(0x1801)

	uuidPrimaryService   = UUID16(0x2800)
	uuidSecondaryService = UUID16(0x2801)
	uuidIncludeService   = UUID16(0x2802)
	uuidCharacteristic   = UUID16(0x2803)

	uuidCharUserDescription  = UUID16(0x2901)
	uuidClientCharConfig     = UUID16(0x2902)
	uuidServerCharConfig     = UUID16(0x2903)
	uuidCharPresentationFmt  = UUID16(0x2904)

	uuidDeviceName = UUID16(0x2A00)
	uuidAppearance = UUID16(0x2A01)
)

// https://developer.bluetooth.org/gatt/characteristics/Pages/CharacteristicViewer.aspx?u=org.bluetooth.characteristic.gap.appearance.xml
var gapCharAppearanceGenericComputer = []byte{0x00, 0x80}

// CCCD flag bits, [Vol 3, Part G, 3.3.3.3].
const (
	cccdNotifyFlag   = 1 << 0
	cccdIndicateFlag = 1 << 1
)

// DefaultMTU is the ATT_MTU in effect on a link until ExchangeMTU negotiates
// a larger value, [Vol 3, Part F, 3.2.8].
const DefaultMTU = 23
