package gatt

// A Descriptor is a GATT characteristic descriptor: a single attribute
// that annotates the owning characteristic, such as a Characteristic User
// Description (0x2901) or Characteristic Presentation Format (0x2904).
// CCCDs are not represented as Descriptors; they are modeled separately
// (see cccdstore.go) since their value is per-connection, not per-table.
type Descriptor struct {
	uuid  UUID
	char  *Characteristic
	value []byte // static value

	handle uint16 // assigned by compile (called from Server.Start)
}

func (d *Descriptor) UUID() UUID { return d.uuid }

// Characteristic returns the characteristic this descriptor belongs to.
func (d *Descriptor) Characteristic() *Characteristic { return d.char }

// Value returns the descriptor's static value.
func (d *Descriptor) Value() []byte { return d.value }
