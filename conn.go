package gatt

import (
	"errors"
	"sync"
)

// ConnID identifies one connection within a Server's fixed connection
// arena. It is valid only for the lifetime of that connection.
type ConnID uint16

// A preparedWrite is one queued Prepare Write Request value, held until
// the following Execute Write Request commits or cancels the whole FIFO,
// [Vol 3, Part F, 3.4.6].
type preparedWrite struct {
	handle uint16
	offset uint16
	value  []byte
}

// conn is the Connection Context (spec.md's C7): everything the ATT
// dispatcher needs to know about one central that is specific to that
// central, as opposed to the attribute table, which all connections
// share.
type conn struct {
	server     *Server
	id         ConnID
	localAddr  BDAddr
	remoteAddr BDAddr
	rssi       int

	mtu      uint16
	security SecurityLevel

	cccd    *cccdStore
	notifyQ *notifyQueue

	out chan []byte // outgoing notify/indicate PDUs, drained by the transport

	mu          sync.Mutex // guards the fields below; the dispatcher serializes requests per connection
	reqInFlight bool
	prepared    []preparedWrite
	notifyData   map[int][]byte
	indicateData map[int][]byte
	notifiers    map[*Characteristic]*notifier
	indicators   map[*Characteristic]*notifier

	pairing interface{} // not set anywhere in this package; always nil

	closed bool
}

func newConn(s *Server, id ConnID, addr BDAddr) *conn {
	return &conn{
		server:     s,
		id:         id,
		localAddr:  s.Addr,
		remoteAddr: addr,
		rssi:       -1,
		mtu:        DefaultMTU,
		cccd:       newCCCDStore(s.table.cccdCount),
		notifyQ:    newNotifyQueue(s.table.cccdCount),
		out:        make(chan []byte, 16),
	}
}

func (c *conn) String() string     { return c.remoteAddr.String() }
func (c *conn) LocalAddr() BDAddr  { return c.localAddr }
func (c *conn) RemoteAddr() BDAddr { return c.remoteAddr }
func (c *conn) RSSI() int          { return c.rssi }
func (c *conn) MTU() int           { return int(c.mtu) }

// SecurityLevel returns the connection's current security tier, raised by
// a completed pairing/bonding exchange.
func (c *conn) SecurityLevel() SecurityLevel { return c.security }

func (c *conn) Close() error { return c.server.disconnect(c) }

func (c *conn) UpdateRSSI() (rssi int, err error) {
	return 0, errors.New("gatt: UpdateRSSI requires transport support, not implemented by this connection's transport")
}

// beginRequest enforces the ATT rule that a client may not send a new
// request before the server's response to the previous one, [Vol 3, Part
// F, 3.3.3]. It returns false, leaving reqInFlight untouched, if a
// request is already outstanding.
func (c *conn) beginRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reqInFlight {
		return false
	}
	c.reqInFlight = true
	return true
}

func (c *conn) endRequest() {
	c.mu.Lock()
	c.reqInFlight = false
	c.mu.Unlock()
}

// clearPrepared empties the prepared-write FIFO when the connection drops.
// An Execute Write Request empties the queue itself, without calling this.
func (c *conn) clearPrepared() {
	c.mu.Lock()
	c.prepared = nil
	c.mu.Unlock()
}

func (c *conn) setNotifier(ch *Characteristic, n *notifier) {
	c.mu.Lock()
	if c.notifiers == nil {
		c.notifiers = map[*Characteristic]*notifier{}
	}
	c.notifiers[ch] = n
	c.mu.Unlock()
}

func (c *conn) takeNotifier(ch *Characteristic) *notifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.notifiers[ch]
	delete(c.notifiers, ch)
	return n
}

func (c *conn) setIndicator(ch *Characteristic, n *notifier) {
	c.mu.Lock()
	if c.indicators == nil {
		c.indicators = map[*Characteristic]*notifier{}
	}
	c.indicators[ch] = n
	c.mu.Unlock()
}

func (c *conn) takeIndicator(ch *Characteristic) *notifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.indicators[ch]
	delete(c.indicators, ch)
	return n
}

// enqueueOutput pushes a ready-to-send PDU onto the connection's
// outgoing channel for the transport to drain via Server.L2CAPOutput. It
// never blocks: a full channel means the transport has stalled, and a
// stalled transport should not be allowed to back up the dispatcher
// goroutine, so the oldest queued PDU is dropped to make room.
func (c *conn) enqueueOutput(pdu []byte) {
	select {
	case c.out <- pdu:
	default:
		select {
		case <-c.out:
		default:
		}
		select {
		case c.out <- pdu:
		default:
		}
	}
}
