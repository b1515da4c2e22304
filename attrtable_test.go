package gatt

import "testing"

func TestCompileAssignsHandlesInDeclarationOrder(t *testing.T) {
	svc := NewService(MustParseUUID128("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
	c := svc.AddCharacteristic(MustParseUUID128("6e400002-b5a3-f393-e0a9-e50e24dcca9e"))
	c.HandleRead(ReadHandlerFunc(func(resp ReadResponseWriter, req *ReadRequest) {}))
	c.EnableNotify()

	tbl, err := compile("dut", []*Service{svc})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if c.declHandle == 0 || c.valueHandle != c.declHandle+1 {
		t.Errorf("unexpected handle layout: decl=%d value=%d", c.declHandle, c.valueHandle)
	}
	if c.cccdHandle != c.valueHandle+1 {
		t.Errorf("cccdHandle = %d, want %d", c.cccdHandle, c.valueHandle+1)
	}
	if c.cccdIndex != 0 {
		t.Errorf("cccdIndex = %d, want 0 (first CCCD-bearing characteristic)", c.cccdIndex)
	}
	if tbl.cccdCount != 1 {
		t.Errorf("cccdCount = %d, want 1", tbl.cccdCount)
	}

	a, ok := tbl.at(svc.declHandle)
	if !ok || a.kind != attrService {
		t.Fatalf("expected a service attribute at handle %d", svc.declHandle)
	}
}

func TestAddCharacteristicPanicsOnDuplicateUUID(t *testing.T) {
	u := UUID16(0x1234)
	svc := NewService(UUID16(0xABCD))
	svc.AddCharacteristic(u)
	defer func() {
		if recover() == nil {
			t.Errorf("AddCharacteristic should panic on a duplicate uuid")
		}
	}()
	svc.AddCharacteristic(u)
}

func TestAssignDrainOrderHonorsPriorityOverTableOrder(t *testing.T) {
	svc := NewService(UUID16(0xABCD))
	first := svc.AddCharacteristic(UUID16(0x1111))
	first.EnableNotify()
	second := svc.AddCharacteristic(UUID16(0x2222))
	second.EnableNotify()
	second.SetPriority(-1) // should drain before first despite being declared later

	tbl, err := compile("dut", []*Service{svc})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(tbl.drainOrder) != 2 {
		t.Fatalf("drainOrder len = %d, want 2", len(tbl.drainOrder))
	}
	if got := tbl.attrs[tbl.drainOrder[0]].char; got != second {
		t.Errorf("first in drain order = %s, want the higher-priority characteristic", got.uuid)
	}
}
