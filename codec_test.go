package gatt

import (
	"bytes"
	"testing"
)

func TestPDUWriterFitsWithinMTU(t *testing.T) {
	w := newPDUWriter(23)
	w.WriteByteFit(attOpReadResp)
	w.WriteFit(bytes.Repeat([]byte{0xAA}, 22))
	if got, want := w.Bytes(), append([]byte{attOpReadResp}, bytes.Repeat([]byte{0xAA}, 22)...); !bytes.Equal(got, want) {
		t.Errorf("Bytes() = %x, want %x", got, want)
	}
}

func TestPDUWriterWriteFitPanicsOverMTU(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic writing past the mtu")
		}
	}()
	w := newPDUWriter(23)
	w.WriteFit(bytes.Repeat([]byte{0x00}, 24))
}

func TestPDUWriterChunkRollsBackOnOverflow(t *testing.T) {
	w := newPDUWriter(8)
	w.WriteByteFit(attOpFindInfoResp)

	w.Chunk()
	w.WriteUint16Fit(1)
	w.WriteUint16Fit(0x1800)
	if !w.Commit() {
		t.Fatalf("first chunk should fit in an 8 byte mtu")
	}

	w.Chunk()
	w.WriteUint16Fit(2)
	w.WriteUint16Fit(0x2800)
	if w.Commit() {
		t.Fatalf("second chunk should not fit in an 8 byte mtu")
	}

	want := []byte{attOpFindInfoResp, 0x01, 0x00, 0x00, 0x18}
	if got := w.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("Bytes() = %x, want %x", got, want)
	}
}

func TestPDUWriterChunkSeekAppliesBlobOffset(t *testing.T) {
	w := newPDUWriter(23)
	w.WriteByteFit(attOpReadBlobResp)
	w.Chunk()
	w.WriteFit([]byte("hello world"))
	if ok := w.ChunkSeek(6); !ok {
		t.Fatalf("ChunkSeek(6) should succeed with an 11 byte chunk")
	}
	w.CommitFit()

	want := []byte("world")
	if got := w.Bytes()[1:]; !bytes.Equal(got, want) {
		t.Errorf("Bytes()[1:] = %q, want %q", got, want)
	}
}

func TestPDUWriterChunkSeekRejectsOffsetPastEnd(t *testing.T) {
	w := newPDUWriter(23)
	w.WriteByteFit(attOpReadBlobResp)
	w.Chunk()
	w.WriteFit([]byte("hi"))
	if ok := w.ChunkSeek(10); ok {
		t.Errorf("ChunkSeek(10) should fail against a 2 byte chunk")
	}
}

func TestPDUWriterWriteable(t *testing.T) {
	w := newPDUWriter(10)
	w.WriteByteFit(attOpReadResp)
	if got, want := w.Writeable(0, bytes.Repeat([]byte{0}, 20)), 9; got != want {
		t.Errorf("Writeable = %d, want %d", got, want)
	}
	if got, want := w.Writeable(3, bytes.Repeat([]byte{0}, 20)), 6; got != want {
		t.Errorf("Writeable with overhead = %d, want %d", got, want)
	}
}
