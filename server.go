package gatt

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/silicon-periph/gattcore/bond"
)

// A Server is a GATT peripheral protocol engine: it compiles a set of
// Services into an attribute Table and then answers ATT PDUs fed to it
// through L2CAPInput, producing the replies and asynchronous
// notification/indication PDUs a transport (gatt/transport, or a test)
// is responsible for actually getting on and off the air. A Server never
// touches a socket itself; that separation is what makes the protocol
// engine testable without real HCI hardware.
type Server struct {
	// Name is the device name, exposed via the Generic Access Service
	// (0x1800). It must not change once Start has been called.
	Name string

	// Addr is the peripheral's own Bluetooth device address, reported to
	// centrals as conn.LocalAddr. It is optional; a transport that knows
	// the controller's address may set it before Start.
	Addr BDAddr

	// MaxConnections bounds the server's fixed connection arena. It
	// defaults to 1, matching a single-central BLE 4.0 peripheral; set
	// it higher for a 4.1+ peripheral that multiplexes several
	// centrals.
	MaxConnections int

	// AdvertisingData, if set, overrides the automatically constructed
	// advertising packet. It must be at most MaxEIRPacketLength bytes.
	AdvertisingData []byte

	// ScanResponseData, if set, overrides the automatically constructed
	// scan response packet.
	ScanResponseData []byte

	// OnConnect, if set, is called when a central connects.
	OnConnect func(c Conn)

	// OnDisconnect, if set, is called when a central disconnects.
	OnDisconnect func(c Conn)

	// Logger receives structured diagnostic events. It defaults to
	// logrus's standard logger if left nil before Start.
	Logger *logrus.Logger

	// Bonds, if set, persists CCCD state across reconnects for bonded
	// centrals: Connect restores a matching record's CCCD snapshot, and
	// Disconnect saves the connection's final CCCD state back to it.
	Bonds *bond.Store

	services []*Service
	table    *Table

	mu    sync.RWMutex
	conns map[ConnID]*conn
	nextID ConnID

	started bool
}

// NewServer returns a Server advertising as name, ready to accept
// AddService calls.
func NewServer(name string) *Server {
	return &Server{Name: name, MaxConnections: 1, Logger: logrus.StandardLogger()}
}

// AddService registers a new Service with the server. All services must
// be added before Start is called.
func (s *Server) AddService(u UUID) *Service {
	if s.started {
		return nil
	}
	svc := NewService(u)
	s.services = append(s.services, svc)
	return svc
}

// Start compiles the server's services into an attribute Table. It must
// be called exactly once, after every AddService call and before any
// L2CAPInput/Connect call.
func (s *Server) Start() error {
	if s.started {
		return fmt.Errorf("gatt: server already started")
	}
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	if s.MaxConnections == 0 {
		s.MaxConnections = 1
	}
	tbl, err := compile(s.Name, s.services)
	if err != nil {
		return err
	}
	s.table = tbl
	s.conns = map[ConnID]*conn{}
	s.started = true
	s.Logger.WithFields(logrus.Fields{
		"name":        s.Name,
		"services":    len(s.services),
		"lastHandle":  tbl.lastHandle(),
		"cccdSlots":   tbl.cccdCount,
	}).Info("gatt: server started")
	return nil
}

// AdvertisingPacket returns the advertising packet to transmit: the
// explicit AdvertisingData override if set, or an automatically built
// packet advertising as many of the server's service UUIDs as fit.
func (s *Server) AdvertisingPacket() ([]byte, error) {
	if s.AdvertisingData != nil {
		if len(s.AdvertisingData) > MaxEIRPacketLength {
			return nil, ErrEIRPacketTooLong
		}
		return s.AdvertisingData, nil
	}
	uuids := make([]UUID, len(s.services))
	for i, svc := range s.services {
		uuids[i] = svc.UUID()
	}
	pkt, _ := serviceAdvertisingPacket(uuids)
	return pkt, nil
}

// ScanResponsePacket returns the scan response packet to transmit: the
// explicit ScanResponseData override if set, or the server's name.
func (s *Server) ScanResponsePacket() ([]byte, error) {
	if s.ScanResponseData != nil {
		if len(s.ScanResponseData) > MaxEIRPacketLength {
			return nil, ErrEIRPacketTooLong
		}
		return s.ScanResponseData, nil
	}
	return nameScanResponsePacket(s.Name), nil
}

func (s *Server) maxMTU() uint16 {
	return 0xFFFF
}

// Connect admits a new connection from addr into the server's connection
// arena and returns its ConnID. It returns an error if the server is not
// started or the arena is full.
func (s *Server) Connect(addr net.HardwareAddr) (ConnID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0, fmt.Errorf("gatt: server not started")
	}
	if len(s.conns) >= s.MaxConnections {
		return 0, fmt.Errorf("gatt: connection arena full (max %d)", s.MaxConnections)
	}
	id := s.nextID
	s.nextID++
	c := newConn(s, id, BDAddr{addr})
	s.conns[id] = c
	s.Logger.WithField("conn", id).Info("gatt: central connected")

	if s.Bonds != nil {
		if rec, err := s.Bonds.Find(addr.String()); err == nil {
			c.cccd.Restore(rec.CCCD)
			c.security = SecurityUnauthenticatedEncrypted
		}
	}

	if s.OnConnect != nil {
		s.OnConnect(c)
	}
	return id, nil
}

func (s *Server) conn(id ConnID) *conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id]
}

// SetSecurityLevel raises (or lowers) connection id's security tier,
// gating the encrypted/authenticated attribute permissions checked in
// dispatcher.go. It is called by a transport once its Security Manager
// reports a pairing has completed encryption on the link; the ATT
// dispatcher never negotiates security itself.
func (s *Server) SetSecurityLevel(id ConnID, level SecurityLevel) error {
	c := s.conn(id)
	if c == nil {
		return fmt.Errorf("gatt: unknown connection %d", id)
	}
	c.security = level
	s.Logger.WithFields(logrus.Fields{"conn": id, "level": level}).Info("gatt: connection security level raised")
	return nil
}

// Bond records the pairing material a completed SMP exchange produced
// for connection id's remote, persisting it (keyed by identity address)
// alongside that connection's current CCCD snapshot so a future
// reconnect can be recognized as already-bonded. It is a no-op if the
// server has no Bonds store configured.
func (s *Server) Bond(id ConnID, rec bond.Record) error {
	if s.Bonds == nil {
		return nil
	}
	c := s.conn(id)
	if c == nil {
		return fmt.Errorf("gatt: unknown connection %d", id)
	}
	rec.IdentityAddress = c.remoteAddr.String()
	rec.CCCD = c.cccd.Snapshot()
	return s.Bonds.Save(rec)
}

// disconnect removes c from the connection arena. It is idempotent.
func (s *Server) disconnect(c *conn) error {
	s.mu.Lock()
	if _, ok := s.conns[c.id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.conns, c.id)
	s.mu.Unlock()

	c.clearPrepared()
	if s.Bonds != nil {
		if err := s.Bonds.UpdateCCCD(c.remoteAddr.String(), c.cccd.Snapshot()); err != nil && !errors.Is(err, bond.ErrNotBonded) {
			s.Logger.WithError(err).Warn("gatt: failed to persist cccd snapshot on disconnect")
		}
	}
	s.Logger.WithField("conn", c.id).Info("gatt: central disconnected")
	if s.OnDisconnect != nil {
		s.OnDisconnect(c)
	}
	return nil
}

// Disconnect tears down the connection id, if present.
func (s *Server) Disconnect(id ConnID) error {
	c := s.conn(id)
	if c == nil {
		return fmt.Errorf("gatt: unknown connection %d", id)
	}
	return s.disconnect(c)
}

// L2CAPOutput returns the channel a transport should drain for
// asynchronously generated outgoing PDUs (notifications and indications)
// on connection id. ATT request/response pairs are not sent on this
// channel; they are the direct return value of L2CAPInput.
func (s *Server) L2CAPOutput(id ConnID) <-chan []byte {
	c := s.conn(id)
	if c == nil {
		return nil
	}
	return c.out
}

// Notify queues data as a notification on ch for connection id, draining
// it (and any other pending notifications, in priority order) onto the
// connection's output channel immediately. It is a no-op, not an error,
// if the central has not enabled notifications on ch.
func (s *Server) Notify(id ConnID, ch *Characteristic, data []byte) error {
	c := s.conn(id)
	if c == nil {
		return fmt.Errorf("gatt: unknown connection %d", id)
	}
	if ch.cccdIndex < 0 {
		return fmt.Errorf("gatt: characteristic %s has no cccd", ch.uuid)
	}
	if !c.cccd.notifyEnabled(ch.cccdIndex) {
		return nil
	}
	c.mu.Lock()
	if c.notifyData == nil {
		c.notifyData = map[int][]byte{}
	}
	c.notifyData[ch.cccdIndex] = data
	c.mu.Unlock()
	c.notifyQ.markNotify(ch.cccdIndex)
	s.kickNotifyQueue(c)
	return nil
}

// Indicate is Notify's acknowledged sibling: it queues an indication,
// which will not actually be transmitted until any indication already in
// flight on this connection has been confirmed.
func (s *Server) Indicate(id ConnID, ch *Characteristic, data []byte) error {
	c := s.conn(id)
	if c == nil {
		return fmt.Errorf("gatt: unknown connection %d", id)
	}
	if ch.cccdIndex < 0 {
		return fmt.Errorf("gatt: characteristic %s has no cccd", ch.uuid)
	}
	if !c.cccd.indicateEnabled(ch.cccdIndex) {
		return nil
	}
	c.mu.Lock()
	if c.indicateData == nil {
		c.indicateData = map[int][]byte{}
	}
	c.indicateData[ch.cccdIndex] = data
	c.mu.Unlock()
	c.notifyQ.markIndicate(ch.cccdIndex)
	s.kickNotifyQueue(c)
	return nil
}

// kickNotifyQueue drains as many pending notifications as are ready,
// stopping after the first indication it sends (the in-flight gate keeps
// a second one from going out before the first is confirmed).
func (s *Server) kickNotifyQueue(c *conn) {
	for {
		ch, kind := c.notifyQ.Next(s.table)
		if kind == drainNone {
			return
		}
		c.mu.Lock()
		var data []byte
		if kind == drainNotify {
			data = c.notifyData[ch.cccdIndex]
		} else {
			data = c.indicateData[ch.cccdIndex]
		}
		c.mu.Unlock()

		w := newPDUWriter(c.mtu)
		if kind == drainNotify {
			w.WriteByteFit(attOpHandleNotify)
		} else {
			w.WriteByteFit(attOpHandleInd)
		}
		w.WriteUint16Fit(ch.valueHandle)
		n := w.Writeable(0, data)
		w.WriteFit(data[:n])
		c.enqueueOutput(w.Bytes())

		if kind == drainNotify {
			c.notifyQ.Sent(ch)
			continue
		}
		c.notifyQ.IndicateSent(ch)
		return
	}
}

// sendNotification writes an immediate, unqueued notification PDU; it is
// the path a push-style NotifyHandler's Notifier uses.
func (s *Server) sendNotification(c *conn, ch *Characteristic, data []byte) (int, error) {
	if ch.cccdIndex < 0 || !c.cccd.notifyEnabled(ch.cccdIndex) {
		return 0, fmt.Errorf("gatt: notifications not enabled for %s", ch.uuid)
	}
	w := newPDUWriter(c.mtu)
	w.WriteByteFit(attOpHandleNotify)
	w.WriteUint16Fit(ch.valueHandle)
	n := w.Writeable(0, data)
	w.WriteFit(data[:n])
	c.enqueueOutput(w.Bytes())
	return n, nil
}

// sendIndication is sendNotification's acknowledged sibling.
func (s *Server) sendIndication(c *conn, ch *Characteristic, data []byte) (int, error) {
	if ch.cccdIndex < 0 || !c.cccd.indicateEnabled(ch.cccdIndex) {
		return 0, fmt.Errorf("gatt: indications not enabled for %s", ch.uuid)
	}
	if c.notifyQ.indicateInFlight {
		return 0, fmt.Errorf("gatt: indication already in flight on connection %d", c.id)
	}
	w := newPDUWriter(c.mtu)
	w.WriteByteFit(attOpHandleInd)
	w.WriteUint16Fit(ch.valueHandle)
	n := w.Writeable(0, data)
	w.WriteFit(data[:n])
	c.enqueueOutput(w.Bytes())
	c.notifyQ.indicateInFlight = true
	c.notifyQ.inFlightIndex = ch.cccdIndex
	return n, nil
}

func (s *Server) startNotify(c *conn, ch *Characteristic) {
	if ch.nhandler == nil {
		return
	}
	n := newNotifier(c, ch, int(c.mtu)-3, false)
	c.setNotifier(ch, n)
	req := Request{Conn: c, Service: ch.service, Characteristic: ch}
	go ch.nhandler.ServeNotify(req, n)
}

func (s *Server) stopNotify(c *conn, ch *Characteristic) {
	if n := c.takeNotifier(ch); n != nil {
		n.stop()
	}
}

func (s *Server) startIndicate(c *conn, ch *Characteristic) {
	if ch.nhandler == nil {
		return
	}
	n := newNotifier(c, ch, int(c.mtu)-3, true)
	c.setIndicator(ch, n)
	req := Request{Conn: c, Service: ch.service, Characteristic: ch}
	go ch.nhandler.ServeNotify(req, n)
}

func (s *Server) stopIndicate(c *conn, ch *Characteristic) {
	if n := c.takeIndicator(ch); n != nil {
		n.stop()
	}
}

// A BDAddr (Bluetooth Device Address) is a hardware-addressed-based
// net.Addr.
type BDAddr struct {
	net.HardwareAddr
}

func (a BDAddr) Network() string { return "BLE" }

// Conn is one connection to a central. Method calls are safe from any
// goroutine.
type Conn interface {
	// LocalAddr returns the peripheral's own address.
	LocalAddr() BDAddr

	// RemoteAddr returns the connected central's address.
	RemoteAddr() BDAddr

	// Close disconnects the connection.
	Close() error

	// RSSI returns the last RSSI measurement, or -1 if there have not
	// been any.
	RSSI() int

	// UpdateRSSI requests an RSSI update. The connections this package
	// creates do not support it and always return an error.
	UpdateRSSI() (rssi int, err error)

	// MTU returns the current connection MTU.
	MTU() int

	// SecurityLevel returns the connection's current security tier.
	SecurityLevel() SecurityLevel
}
