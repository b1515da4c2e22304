package gatt

import "fmt"

// A UUID is a BLE UUID, either the 16-bit Bluetooth-assigned form or a full
// 128-bit form. Internally it is stored little-endian, the wire order used
// by every ATT PDU field; String and the 128-bit constructors accept and
// produce the conventional big-endian textual form.
type UUID struct {
	b []byte
}

// UUID16 returns the UUID corresponding to the 16-bit value v, as defined
// by the Bluetooth base UUID.
func UUID16(v uint16) UUID {
	return UUID{b: []byte{byte(v), byte(v >> 8)}}
}

// MustParseUUID128 parses s, a 128-bit UUID in the canonical
// "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx" textual form, and panics if it is
// malformed. It is intended for schema-construction call sites where the
// UUID is a compile-time literal.
func MustParseUUID128(s string) UUID {
	u, err := ParseUUID128(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ParseUUID128 parses s, a 128-bit UUID in canonical textual form.
func ParseUUID128(s string) (UUID, error) {
	b := make([]byte, 0, 16)
	var hi byte
	haveHi := false
	for _, r := range s {
		if r == '-' {
			continue
		}
		v, ok := hexVal(r)
		if !ok {
			return UUID{}, fmt.Errorf("gatt: invalid uuid %q", s)
		}
		if !haveHi {
			hi = v
			haveHi = true
			continue
		}
		b = append(b, hi<<4|v)
		haveHi = false
	}
	if len(b) != 16 || haveHi {
		return UUID{}, fmt.Errorf("gatt: invalid uuid %q", s)
	}
	return UUID{b: reverse(b)}, nil
}

func hexVal(r rune) (byte, bool) {
	switch {
	case r >= '0' && r <= '9':
		return byte(r - '0'), true
	case r >= 'a' && r <= 'f':
		return byte(r-'a') + 10, true
	case r >= 'A' && r <= 'F':
		return byte(r-'A') + 10, true
	default:
		return 0, false
	}
}

// Len returns the length of the UUID in bytes: 2 or 16.
func (u UUID) Len() int { return len(u.b) }

// Equal reports whether u and v represent the same UUID, expanding the
// 16-bit form against the Bluetooth base UUID where needed.
func (u UUID) Equal(v UUID) bool { return uuidEqual(u, v) }

// reverseBytes returns u's bytes in big-endian (wire-reversed) order, the
// order ATT PDUs place a UUID in.
func (u UUID) reverseBytes() []byte { return reverse(u.b) }

// String renders u in the canonical big-endian textual form.
func (u UUID) String() string {
	b := u.reverseBytes()
	if len(b) == 2 {
		return fmt.Sprintf("%02x%02x", b[0], b[1])
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// bluetoothBase16 holds bytes 4-15 of the Bluetooth base UUID
// 0000xxxx-0000-1000-8000-00805F9B34FB, in internal (little-endian) order.
var bluetoothBase16 = []byte{0xFB, 0x34, 0x9B, 0x5F, 0x80, 0x00, 0x00, 0x80, 0x00, 0x10, 0x00, 0x00}

func expand16(b []byte) []byte {
	out := make([]byte, 16)
	copy(out[0:12], bluetoothBase16)
	copy(out[12:14], b)
	return out
}

// uuidEqual reports whether a and b are the same UUID, promoting whichever
// operand is 16-bit against the Bluetooth base UUID before comparing.
func uuidEqual(a, b UUID) bool {
	ab, bb := a.b, b.b
	if len(ab) == 2 && len(bb) == 16 {
		ab = expand16(ab)
	} else if len(bb) == 2 && len(ab) == 16 {
		bb = expand16(bb)
	}
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}

// reverse returns a new slice holding b's bytes in reverse order.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
