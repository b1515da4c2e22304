package transport

import (
	"bytes"
	"testing"
)

func TestH4FramerRoundTripsACL(t *testing.T) {
	var buf bytes.Buffer
	w := NewH4Framer(&buf)
	if err := w.WriteACL(0x0040, []byte{0xde, 0xad, 0xbe, 0xef}); err != nil {
		t.Fatalf("WriteACL: %v", err)
	}

	r := NewH4Framer(&buf)
	handle, payload, err := r.ReadACL()
	if err != nil {
		t.Fatalf("ReadACL: %v", err)
	}
	if handle != 0x0040 {
		t.Errorf("handle = %#x, want 0x0040", handle)
	}
	if !bytes.Equal(payload, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("payload = %x, want deadbeef", payload)
	}
}

func TestH4FramerDiscardsEventsBeforeACL(t *testing.T) {
	var buf bytes.Buffer
	// One HCI Event: code 0x05, length 2, two parameter bytes.
	buf.Write([]byte{h4Event, 0x05, 0x02, 0xaa, 0xbb})
	w := NewH4Framer(&buf)
	if err := w.WriteACL(1, []byte{0x01}); err != nil {
		t.Fatalf("WriteACL: %v", err)
	}

	r := NewH4Framer(&buf)
	handle, payload, err := r.ReadACL()
	if err != nil {
		t.Fatalf("ReadACL: %v", err)
	}
	if handle != 1 || !bytes.Equal(payload, []byte{0x01}) {
		t.Errorf("unexpected frame: handle=%d payload=%x", handle, payload)
	}
}

func TestEncodeDecodeL2CAPRoundTrips(t *testing.T) {
	sdu := []byte{0x01, 0x02, 0x03}
	acl := encodeL2CAP(CIDAttribute, sdu)

	cid, got, err := decodeL2CAP(acl)
	if err != nil {
		t.Fatalf("decodeL2CAP: %v", err)
	}
	if cid != CIDAttribute {
		t.Errorf("cid = %#x, want CIDAttribute", cid)
	}
	if !bytes.Equal(got, sdu) {
		t.Errorf("sdu = %x, want %x", got, sdu)
	}
}

func TestDecodeL2CAPRejectsTruncatedHeader(t *testing.T) {
	if _, _, err := decodeL2CAP([]byte{0x01, 0x02}); err == nil {
		t.Error("expected an error for a payload shorter than the l2cap header")
	}
}

func TestDecodeL2CAPRejectsOverlongLength(t *testing.T) {
	acl := []byte{0xff, 0xff, 0x04, 0x00} // claims 65535 bytes of sdu with none present
	if _, _, err := decodeL2CAP(acl); err == nil {
		t.Error("expected an error when the declared length exceeds the payload")
	}
}
