package gatt

import "sync/atomic"

// notifyQueue tracks, per connection, which CCCD-bearing characteristics
// have a notification or indication pending. It is a pair of fixed
// bitsets sized once at compile time (one bit per cccdIndex), not a
// growable list: the number of distinct outstanding value-changed events
// is bounded by the table, not by how fast the application produces them,
// which is what makes queue_notification safe to call from a context that
// cannot allocate or block (see markNotify/markIndicate).
type notifyQueue struct {
	pendingNotify   []uint64
	pendingIndicate []uint64

	// indicateInFlight gates the indication channel: [Vol 3, Part F,
	// 3.4.7.1] forbids sending a second Handle Value Indication before
	// the peer's Handle Value Confirmation for the first arrives. While
	// true, Next skips every indicate-pending bit.
	indicateInFlight bool
	inFlightIndex    int // cccdIndex of the indication currently awaiting confirmation
}

func newNotifyQueue(n int) *notifyQueue {
	words := (n + 63) / 64
	return &notifyQueue{
		pendingNotify:   make([]uint64, words),
		pendingIndicate: make([]uint64, words),
	}
}

func bitSet(bits []uint64, i int) {
	w, m := &bits[i/64], uint64(1)<<uint(i%64)
	for old := atomic.LoadUint64(w); !atomic.CompareAndSwapUint64(w, old, old|m); old = atomic.LoadUint64(w) {
	}
}
func bitClear(bits []uint64, i int) {
	w, m := &bits[i/64], uint64(1)<<uint(i%64)
	for old := atomic.LoadUint64(w); !atomic.CompareAndSwapUint64(w, old, old&^m); old = atomic.LoadUint64(w) {
	}
}
func bitTest(bits []uint64, i int) bool {
	return atomic.LoadUint64(&bits[i/64])&(1<<uint(i%64)) != 0
}

// markNotify records that the characteristic at cccdIndex i has a pending
// notification. Safe to call with a queue's drain loop running
// concurrently, since the bit is set with an atomic compare-and-swap on
// its word.
func (q *notifyQueue) markNotify(i int) { bitSet(q.pendingNotify, i) }

// markIndicate is markNotify for the indicate bitmap.
func (q *notifyQueue) markIndicate(i int) { bitSet(q.pendingIndicate, i) }

func (q *notifyQueue) hasNotifyPending(i int) bool   { return bitTest(q.pendingNotify, i) }
func (q *notifyQueue) hasIndicatePending(i int) bool { return bitTest(q.pendingIndicate, i) }

// empty reports whether there is nothing left to drain: no notification
// is ever gated, so "empty" ignores indicateInFlight.
func (q *notifyQueue) empty() bool {
	for i := range q.pendingNotify {
		if q.pendingNotify[i] != 0 || q.pendingIndicate[i] != 0 {
			return false
		}
	}
	return true
}

// drainKind distinguishes the two outgoing server-initiated PDU types.
type drainKind int

const (
	drainNone drainKind = iota
	drainNotify
	drainIndicate
)

// Next walks tbl.drainOrder (priority, then table order) and returns the
// first characteristic with a pending notification or indication.
// Notifications are never gated; an indication is only returned if none
// is currently in flight. Next does not clear the pending bit — the
// caller does that via Sent/IndicateSent once the PDU is actually
// written, so a failed write leaves the bit set for the next drain pass.
func (q *notifyQueue) Next(tbl *Table) (char *Characteristic, kind drainKind) {
	for _, ai := range tbl.drainOrder {
		c := tbl.attrs[ai].char
		i := c.cccdIndex
		if q.hasNotifyPending(i) {
			return c, drainNotify
		}
		if !q.indicateInFlight && q.hasIndicatePending(i) {
			return c, drainIndicate
		}
	}
	return nil, drainNone
}

// Sent clears char's pending notification bit.
func (q *notifyQueue) Sent(char *Characteristic) {
	bitClear(q.pendingNotify, char.cccdIndex)
}

// IndicateSent clears char's pending indicate bit and raises the
// in-flight gate until Confirmed is called.
func (q *notifyQueue) IndicateSent(char *Characteristic) {
	bitClear(q.pendingIndicate, char.cccdIndex)
	q.indicateInFlight = true
	q.inFlightIndex = char.cccdIndex
}

// Confirmed lowers the indicate in-flight gate on receipt of a Handle
// Value Confirmation PDU.
func (q *notifyQueue) Confirmed() {
	q.indicateInFlight = false
}
