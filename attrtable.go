package gatt

import "sort"

// attrKind distinguishes the five attribute shapes a compiled table holds,
// grounded on handle.go's handleType in the teacher repo.
type attrKind int

const (
	attrService attrKind = iota
	attrIncludedService
	attrCharacteristic
	attrCharValue
	attrDescriptor
)

// An attribute is one dense row of a compiled Table: either a Service
// Declaration, an Include Declaration, a Characteristic Declaration, a
// Characteristic Value, or a descriptor (including a CCCD).
type attribute struct {
	handle  uint16
	kind    attrKind
	typ     UUID // the attribute TYPE, e.g. uuidPrimaryService or a characteristic's own UUID for its value
	perms   uint // charRead/charWrite/... bits that gate this attribute specifically
	readSec SecurityLevel
	writeSec SecurityLevel

	endGroupHandle uint16 // for attrService only: last handle in the service's group

	svc  *Service
	char *Characteristic
	desc *Descriptor
}

// A Table is the compiled, immutable form of a Server's services: a dense
// array of attributes indexed by handle, plus the lookup structures the
// ATT dispatcher needs. Compiling is a one-time, request-time-free step;
// nothing after compile allocates on the request path for a by-handle
// lookup.
type Table struct {
	name  string
	attrs []attribute   // ordered by handle, handle == attrs[i].handle
	byUUID map[string][]int

	cccdCount  int   // number of CCCD-bearing characteristics, == width of a Conn's CCCD vector
	drainOrder []int // indices into attrs, priority-ordered, for notify/indicate draining
}

// compile assembles name and svcs (plus the mandatory GAP and GATT
// services) into a Table, assigning handles in declaration order starting
// at 1, [Vol 3, Part F, 3.2.1]. It returns a *SchemaError if two
// characteristics in the same service share a UUID, if an Include refers
// to a service compile hasn't placed yet, or if the table would need more
// than 0xFFFF handles.
func compile(name string, svcs []*Service) (*Table, error) {
	all := append(defaultServices(name), svcs...)

	t := &Table{name: name, byUUID: map[string][]int{}}
	n := uint16(1)
	includeTargets := map[*Service]int{} // service -> index of its Service Declaration attribute

	for si, svc := range all {
		for _, char := range svc.chars {
			for _, other := range svc.chars {
				if other != char && uuidEqual(other.uuid, char.uuid) {
					return nil, schemaErrorf("service %s contains duplicate characteristic %s", svc.uuid, char.uuid)
				}
			}
		}

		if n == 0 {
			return nil, schemaErrorf("attribute table exhausted handle space compiling service %s", svc.uuid)
		}
		svcAttrIdx := len(t.attrs)
		declType := uuidPrimaryService
		if svc.secondary {
			declType = uuidSecondaryService
		}
		svc.declHandle = n
		t.attrs = append(t.attrs, attribute{handle: n, kind: attrService, typ: declType, perms: charRead, svc: svc})
		includeTargets[svc] = svcAttrIdx
		n++

		for _, inc := range svc.includes {
			incIdx, ok := includeTargets[inc]
			if !ok {
				return nil, schemaErrorf("service %s includes %s before it is compiled", svc.uuid, inc.uuid)
			}
			_ = incIdx
			t.attrs = append(t.attrs, attribute{handle: n, kind: attrIncludedService, typ: uuidIncludeService, perms: charRead, svc: inc})
			n++
		}

		for _, char := range svc.chars {
			nn, err := t.compileCharacteristic(char, n)
			if err != nil {
				return nil, err
			}
			n = nn
		}

		t.attrs[svcAttrIdx].endGroupHandle = n - 1
		svc.endHandle = n - 1
	}

	t.indexByUUID()
	t.assignDrainOrder()
	return t, nil
}

func (t *Table) compileCharacteristic(c *Characteristic, n uint16) (uint16, error) {
	c.declHandle = n
	declIdx := len(t.attrs)
	t.attrs = append(t.attrs, attribute{
		handle: n, kind: attrCharacteristic, typ: uuidCharacteristic, perms: charRead, char: c,
	})
	n++

	c.valueHandle = n
	t.attrs = append(t.attrs, attribute{
		handle: n, kind: attrCharValue, typ: c.uuid, perms: c.props, readSec: c.readSec, writeSec: c.writeSec, char: c,
	})
	n++
	_ = declIdx

	c.cccdIndex = -1
	if c.props&(charNotify|charIndicate) != 0 {
		c.cccdHandle = n
		c.cccdIndex = t.cccdCount
		t.cccdCount++
		t.attrs = append(t.attrs, attribute{
			handle: n, kind: attrDescriptor, typ: uuidClientCharConfig, perms: charRead | charWrite, char: c,
		})
		n++
	}

	for _, d := range c.descs {
		d.handle = n
		t.attrs = append(t.attrs, attribute{
			handle: n, kind: attrDescriptor, typ: d.uuid, perms: charRead, char: c, desc: d,
		})
		n++
	}

	return n, nil
}

func (t *Table) indexByUUID() {
	for i, a := range t.attrs {
		key := a.typ.String()
		t.byUUID[key] = append(t.byUUID[key], i)
	}
}

// assignDrainOrder orders the notify/indicate-capable characteristics by
// (priority, table order), stably, so the notification queue (C4) has a
// fixed, deterministic drain sequence: spec.md calls out that table order
// alone is not the drain order once priorities are set, which is exactly
// the distinction TestConfigureAndTriggerOrdering exercises.
func (t *Table) assignDrainOrder() {
	var idxs []int
	for i, a := range t.attrs {
		if a.kind == attrCharValue && a.char.cccdIndex >= 0 {
			idxs = append(idxs, i)
		}
	}
	sort.SliceStable(idxs, func(i, j int) bool {
		return t.attrs[idxs[i]].char.priority < t.attrs[idxs[j]].char.priority
	})
	t.drainOrder = idxs
}

// at returns the attribute with the given handle.
func (t *Table) at(h uint16) (attribute, bool) {
	i := t.idx(h)
	if i < 0 {
		return attribute{}, false
	}
	return t.attrs[i], true
}

func (t *Table) idx(h uint16) int {
	// attrs is dense and sorted by handle starting at 1.
	i := int(h) - 1
	if i < 0 || i >= len(t.attrs) {
		return -1
	}
	if t.attrs[i].handle != h {
		return -1 // defensive; compile never produces gaps
	}
	return i
}

// subrange returns the attributes with handle in [start, end].
func (t *Table) subrange(start, end uint16) []attribute {
	if int(start) < 1 {
		start = 1
	}
	si := int(start) - 1
	if si >= len(t.attrs) {
		return nil
	}
	ei := int(end) // end is inclusive; end+1 exclusive == end as a slice bound after the -1 shift
	if ei > len(t.attrs) {
		ei = len(t.attrs)
	}
	if ei <= si {
		return nil
	}
	return t.attrs[si:ei]
}

// lastHandle returns the highest handle present in the table.
func (t *Table) lastHandle() uint16 {
	if len(t.attrs) == 0 {
		return 0
	}
	return t.attrs[len(t.attrs)-1].handle
}

func defaultServices(name string) []*Service {
	gap := NewService(uuidGAP)
	gap.AddCharacteristic(uuidDeviceName).SetValue([]byte(name))
	gap.AddCharacteristic(uuidAppearance).SetValue(gapCharAppearanceGenericComputer)

	gatt := NewService(uuidGATT)
	return []*Service{gap, gatt}
}
