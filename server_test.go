package gatt

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/silicon-periph/gattcore/bond"
)

func newTestServer(t *testing.T) (*Server, *Characteristic) {
	t.Helper()
	s := NewServer("dut")
	svc := s.AddService(MustParseUUID128("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
	ch := svc.AddCharacteristic(MustParseUUID128("6e400002-b5a3-f393-e0a9-e50e24dcca9e"))
	ch.HandleReadFunc(func(resp ReadResponseWriter, req *ReadRequest) {
		v := []byte("hello")
		if req.Offset >= len(v) {
			resp.SetStatus(StatusInvalidOffset)
			return
		}
		resp.Write(v[req.Offset:])
	})
	ch.HandleWriteFunc(func(r Request, data []byte) byte {
		return StatusSuccess
	})
	ch.EnableNotify()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, ch
}

func mustConnect(t *testing.T, s *Server) ConnID {
	t.Helper()
	id, err := s.Connect([]byte{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return id
}

func TestMTUExchangeClampsToMinimum(t *testing.T) {
	s, _ := newTestServer(t)
	id := mustConnect(t, s)
	resp, err := s.L2CAPInput(id, []byte{attOpMtuReq, 0x05, 0x00})
	if err != nil {
		t.Fatalf("L2CAPInput: %v", err)
	}
	if resp[0] != attOpMtuResp {
		t.Fatalf("unexpected opcode %x", resp[0])
	}
	if mtu := binary.LittleEndian.Uint16(resp[1:]); mtu != DefaultMTU {
		t.Errorf("mtu = %d, want %d", mtu, DefaultMTU)
	}
}

func TestReadCharacteristicValue(t *testing.T) {
	s, ch := newTestServer(t)
	id := mustConnect(t, s)

	req := make([]byte, 3)
	req[0] = attOpReadReq
	binary.LittleEndian.PutUint16(req[1:], ch.valueHandle)
	resp, err := s.L2CAPInput(id, req)
	if err != nil {
		t.Fatalf("L2CAPInput: %v", err)
	}
	if resp[0] != attOpReadResp {
		t.Fatalf("unexpected opcode %x", resp[0])
	}
	if got, want := string(resp[1:]), "hello"; got != want {
		t.Errorf("value = %q, want %q", got, want)
	}
}

func TestWriteCharacteristicValue(t *testing.T) {
	s, ch := newTestServer(t)
	id := mustConnect(t, s)

	req := append([]byte{attOpWriteReq, byte(ch.valueHandle), byte(ch.valueHandle >> 8)}, []byte("hi")...)
	resp, err := s.L2CAPInput(id, req)
	if err != nil {
		t.Fatalf("L2CAPInput: %v", err)
	}
	if len(resp) != 1 || resp[0] != attOpWriteResp {
		t.Fatalf("unexpected response %x", resp)
	}
}

func TestWriteCommandSendsNoResponse(t *testing.T) {
	s, ch := newTestServer(t)
	id := mustConnect(t, s)

	req := append([]byte{attOpWriteCmd, byte(ch.valueHandle), byte(ch.valueHandle >> 8)}, []byte("hi")...)
	resp, err := s.L2CAPInput(id, req)
	if err != nil {
		t.Fatalf("L2CAPInput: %v", err)
	}
	if resp != nil {
		t.Errorf("expected no response to a write command, got %x", resp)
	}
}

// TestConfigureAndNotify exercises the full path from the central
// subscribing via its CCCD through Server.Notify delivering a Handle
// Value Notification.
func TestConfigureAndNotify(t *testing.T) {
	s, ch := newTestServer(t)
	id := mustConnect(t, s)

	cccdReq := make([]byte, 5)
	cccdReq[0] = attOpWriteReq
	binary.LittleEndian.PutUint16(cccdReq[1:], ch.cccdHandle)
	cccdReq[3] = cccdNotifyFlag
	if _, err := s.L2CAPInput(id, cccdReq); err != nil {
		t.Fatalf("enabling notify: %v", err)
	}

	if err := s.Notify(id, ch, []byte("update")); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case pdu := <-s.L2CAPOutput(id):
		if pdu[0] != attOpHandleNotify {
			t.Fatalf("opcode = %x, want attOpHandleNotify", pdu[0])
		}
		if got, want := string(pdu[3:]), "update"; got != want {
			t.Errorf("notified value = %q, want %q", got, want)
		}
	default:
		t.Fatal("expected a queued notification PDU")
	}
}

// TestNotificationClipping checks that a notification longer than fits in
// the MTU is clipped rather than causing an oversized PDU.
func TestNotificationClipping(t *testing.T) {
	s, ch := newTestServer(t)
	id := mustConnect(t, s)

	cccdReq := make([]byte, 5)
	cccdReq[0] = attOpWriteReq
	binary.LittleEndian.PutUint16(cccdReq[1:], ch.cccdHandle)
	cccdReq[3] = cccdNotifyFlag
	if _, err := s.L2CAPInput(id, cccdReq); err != nil {
		t.Fatalf("enabling notify: %v", err)
	}

	big := bytes.Repeat([]byte{0x42}, 40)
	if err := s.Notify(id, ch, big); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	pdu := <-s.L2CAPOutput(id)
	if len(pdu) > int(DefaultMTU) {
		t.Errorf("notification pdu length %d exceeds mtu %d", len(pdu), DefaultMTU)
	}
}

// TestOutgoingPriorityOrder checks that when two characteristics both
// have pending notifications, the higher-priority one drains first
// regardless of declaration order.
func TestOutgoingPriorityOrder(t *testing.T) {
	s := NewServer("dut")
	svc := s.AddService(UUID16(0xAAAA))
	first := svc.AddCharacteristic(UUID16(0x1111))
	first.EnableNotify()
	second := svc.AddCharacteristic(UUID16(0x2222))
	second.EnableNotify()
	second.SetPriority(-1)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := mustConnect(t, s)

	for _, ch := range []*Characteristic{first, second} {
		req := make([]byte, 5)
		req[0] = attOpWriteReq
		binary.LittleEndian.PutUint16(req[1:], ch.cccdHandle)
		req[3] = cccdNotifyFlag
		if _, err := s.L2CAPInput(id, req); err != nil {
			t.Fatalf("enabling notify on %s: %v", ch.uuid, err)
		}
	}

	if err := s.Notify(id, first, []byte("first")); err != nil {
		t.Fatalf("Notify(first): %v", err)
	}
	if err := s.Notify(id, second, []byte("second")); err != nil {
		t.Fatalf("Notify(second): %v", err)
	}

	pdu := <-s.L2CAPOutput(id)
	handle := binary.LittleEndian.Uint16(pdu[1:])
	if handle != second.valueHandle {
		t.Errorf("first drained handle = %d, want %d (higher priority characteristic)", handle, second.valueHandle)
	}
}

// TestConfigureAndTriggerOrdering regression-tests that drain order is
// governed by priority/table order (Table.drainOrder), not by the CCCD
// store's cccdIndex assignment order, which can differ once priorities
// are set.
func TestConfigureAndTriggerOrdering(t *testing.T) {
	s := NewServer("dut")
	svc := s.AddService(UUID16(0xBBBB))
	low := svc.AddCharacteristic(UUID16(0x3333))
	low.EnableNotify() // cccdIndex 0, declared first
	high := svc.AddCharacteristic(UUID16(0x4444))
	high.EnableNotify() // cccdIndex 1, declared second
	high.SetPriority(-5)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if low.cccdIndex != 0 || high.cccdIndex != 1 {
		t.Fatalf("unexpected cccdIndex assignment: low=%d high=%d", low.cccdIndex, high.cccdIndex)
	}
	if s.table.drainOrder[0] != s.table.idx(high.valueHandle) {
		t.Errorf("drainOrder[0] should be the high-priority characteristic despite its higher cccdIndex")
	}
}

// TestSetSecurityLevelGatesEncryptedAttribute exercises the path a
// transport drives once its Security Manager reports a pairing has
// completed: before SetSecurityLevel is called, reading an
// encryption-gated characteristic fails; after, it succeeds.
func TestSetSecurityLevelGatesEncryptedAttribute(t *testing.T) {
	s := NewServer("dut")
	svc := s.AddService(UUID16(0xCCCC))
	ch := svc.AddCharacteristic(UUID16(0x5555))
	ch.SecureRead(SecurityUnauthenticatedEncrypted)
	ch.HandleReadFunc(func(resp ReadResponseWriter, req *ReadRequest) {
		resp.Write([]byte("secret"))
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := mustConnect(t, s)

	req := make([]byte, 3)
	req[0] = attOpReadReq
	binary.LittleEndian.PutUint16(req[1:], ch.valueHandle)

	resp, err := s.L2CAPInput(id, req)
	if err != nil {
		t.Fatalf("L2CAPInput: %v", err)
	}
	if resp[0] != attOpError || resp[len(resp)-1] != attEcodeInsuffEnc {
		t.Fatalf("read before pairing = % x, want insufficient-encryption error", resp)
	}

	if err := s.SetSecurityLevel(id, SecurityUnauthenticatedEncrypted); err != nil {
		t.Fatalf("SetSecurityLevel: %v", err)
	}

	resp, err = s.L2CAPInput(id, req)
	if err != nil {
		t.Fatalf("L2CAPInput: %v", err)
	}
	if resp[0] != attOpReadResp || !bytes.Equal(resp[1:], []byte("secret")) {
		t.Errorf("read after pairing = % x, want a Read Response carrying \"secret\"", resp)
	}
}

// TestBondPersistsRecordAndCCCDSnapshot mirrors what Pump.onPaired does
// after a successful legacy pairing: save a Bond Record through the
// server, keyed by the connection's remote address, carrying whatever
// CCCD state that connection has configured so far.
func TestBondPersistsRecordAndCCCDSnapshot(t *testing.T) {
	s, ch := newTestServer(t)
	store, err := bond.NewStore(8, nil)
	if err != nil {
		t.Fatalf("bond.NewStore: %v", err)
	}
	s.Bonds = store
	id := mustConnect(t, s)

	cccdReq := make([]byte, 5)
	cccdReq[0] = attOpWriteReq
	binary.LittleEndian.PutUint16(cccdReq[1:], ch.cccdHandle)
	cccdReq[3] = cccdNotifyFlag
	if _, err := s.L2CAPInput(id, cccdReq); err != nil {
		t.Fatalf("enabling notify: %v", err)
	}

	if err := s.Bond(id, bond.Record{LTK: bytes.Repeat([]byte{0x42}, 16)}); err != nil {
		t.Fatalf("Bond: %v", err)
	}

	rec, err := store.Find("01:02:03:04:05:06")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !bytes.Equal(rec.LTK, bytes.Repeat([]byte{0x42}, 16)) {
		t.Errorf("LTK = %x, want a repeated 0x42", rec.LTK)
	}
	if len(rec.CCCD) == 0 {
		t.Errorf("expected a non-empty CCCD snapshot to be saved alongside the bond")
	}
}

// TestReadStaticValueLongerThanMTUIsClipped regression-tests that a plain
// Read of a static value longer than fits in the current MTU is clipped
// to MTU-1 instead of reaching the pdu writer's mustFit panic.
func TestReadStaticValueLongerThanMTUIsClipped(t *testing.T) {
	s := NewServer("dut")
	svc := s.AddService(UUID16(0xDDDD))
	ch := svc.AddCharacteristic(UUID16(0x6666))
	ch.SetValue(bytes.Repeat([]byte{0x01}, 30))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := mustConnect(t, s)

	req := make([]byte, 3)
	req[0] = attOpReadReq
	binary.LittleEndian.PutUint16(req[1:], ch.valueHandle)

	resp, err := s.L2CAPInput(id, req)
	if err != nil {
		t.Fatalf("L2CAPInput: %v", err)
	}
	if resp[0] != attOpReadResp {
		t.Fatalf("unexpected opcode %x", resp[0])
	}
	if want := int(DefaultMTU) - 1; len(resp)-1 != want {
		t.Errorf("value length = %d, want %d (MTU-1)", len(resp)-1, want)
	}
}

// TestReadBlobAtValueLengthReturnsInvalidOffset checks the §8 boundary:
// a Read Blob with offset == len(value) is InvalidOffset, not an empty
// success response.
func TestReadBlobAtValueLengthReturnsInvalidOffset(t *testing.T) {
	s, ch := newTestServer(t)
	id := mustConnect(t, s)

	req := make([]byte, 5)
	req[0] = attOpReadBlobReq
	binary.LittleEndian.PutUint16(req[1:], ch.valueHandle)
	binary.LittleEndian.PutUint16(req[3:], uint16(len("hello")))

	resp, err := s.L2CAPInput(id, req)
	if err != nil {
		t.Fatalf("L2CAPInput: %v", err)
	}
	if resp[0] != attOpError || resp[len(resp)-1] != attEcodeInvalidOffset {
		t.Fatalf("resp = % x, want an InvalidOffset error", resp)
	}
}
