package gatt

import (
	"encoding/binary"
	"fmt"
)

// A pduWriter assembles one outgoing ATT PDU, clipped to a connection's
// negotiated MTU. Every Write*Fit call panics if the PDU built so far
// cannot hold the new bytes; callers that can't guarantee a fit ahead of
// time (multi-attribute group responses) instead bracket the uncertain
// part with Chunk/Commit, which rolls back to the last committed point
// instead of panicking. This chunk/commit split is what lets
// handleReadByType and friends pack "as many whole attributes as fit"
// into one PDU instead of either truncating an attribute mid-value or
// bailing out at the first one that doesn't fit.
type pduWriter struct {
	mtu        uint16
	buf        []byte
	chunkStart int // -1 when not inside a Chunk/Commit bracket
}

func newPDUWriter(mtu uint16) *pduWriter {
	return &pduWriter{mtu: mtu, chunkStart: -1}
}

// Writeable returns how many bytes of b would fit in the PDU right now,
// reserving overhead additional bytes for a header the caller is about to
// write. It never panics; callers use it to decide how much of a long
// value to include before calling WriteFit.
func (w *pduWriter) Writeable(overhead int, b []byte) int {
	avail := int(w.mtu) - len(w.buf) - overhead
	if avail < 0 {
		avail = 0
	}
	if avail > len(b) {
		avail = len(b)
	}
	return avail
}

func (w *pduWriter) mustFit(n int) {
	if w.chunkStart >= 0 {
		return // inside a Chunk, Commit decides whether the bytes stay
	}
	if len(w.buf)+n > int(w.mtu) {
		panic(fmt.Errorf("gatt: pdu write of %d bytes exceeds mtu %d", n, w.mtu))
	}
}

// WriteByteFit appends b, panicking if it would not fit in the MTU.
func (w *pduWriter) WriteByteFit(b byte) {
	w.mustFit(1)
	w.buf = append(w.buf, b)
}

// WriteUint16Fit appends v little-endian, panicking if it would not fit.
func (w *pduWriter) WriteUint16Fit(v uint16) {
	w.mustFit(2)
	w.buf = append(w.buf, byte(v), byte(v>>8))
}

// WriteUUIDFit appends u in its wire (reversed) byte order, panicking if
// it would not fit.
func (w *pduWriter) WriteUUIDFit(u UUID) {
	b := u.reverseBytes()
	w.mustFit(len(b))
	w.buf = append(w.buf, b...)
}

// WriteFit appends all of b, panicking if it would not fit.
func (w *pduWriter) WriteFit(b []byte) {
	w.mustFit(len(b))
	w.buf = append(w.buf, b...)
}

// Chunk marks the start of a tentative group of writes: a later Commit
// call either keeps them (if the PDU built so far still fits the MTU) or
// discards them back to this mark.
func (w *pduWriter) Chunk() {
	w.chunkStart = len(w.buf)
}

func (w *pduWriter) chunkLen() int {
	return len(w.buf) - w.chunkStart
}

// Commit reports whether the bytes written since Chunk fit within the
// MTU; if they don't, it rolls the PDU back to the Chunk mark and returns
// false.
func (w *pduWriter) Commit() bool {
	start := w.chunkStart
	w.chunkStart = -1
	if len(w.buf) > int(w.mtu) {
		w.buf = w.buf[:start]
		return false
	}
	return true
}

// CommitFit is Commit, but panics instead of reporting failure. It is
// used where the caller has already bounded the chunk's size (via
// Writeable) and a failed commit would indicate a logic error.
func (w *pduWriter) CommitFit() {
	if !w.Commit() {
		panic(fmt.Errorf("gatt: pdu chunk does not fit in mtu %d", w.mtu))
	}
}

// ChunkSeek drops the first offset bytes written since the last Chunk
// call, shifting the remainder down. It is how a Read Blob Request's
// offset is applied to an already-assembled value chunk. It reports
// false, leaving the chunk untouched, if offset exceeds the chunk's
// current length.
func (w *pduWriter) ChunkSeek(offset uint16) bool {
	n := int(offset)
	if n > w.chunkLen() {
		return false
	}
	w.buf = append(w.buf[:w.chunkStart], w.buf[w.chunkStart+n:]...)
	return true
}

// Bytes returns the assembled PDU.
func (w *pduWriter) Bytes() []byte {
	return w.buf
}

func readHandleRange(b []byte) (start, end uint16) {
	return binary.LittleEndian.Uint16(b), binary.LittleEndian.Uint16(b[2:])
}
