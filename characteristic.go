package gatt

import (
	"bytes"
	"fmt"
)

// Do not re-order the bit flags below;
// they are organized to match the BLE spec.

// Characteristic property flags.
const (
	charRead     = 1 << (iota + 1) // the characteristic may be read
	charWriteNR                    // the characteristic may be written to, with no reply
	charWrite                      // the characteristic may be written to, with a reply
	charNotify                     // the characteristic supports notifications
	charIndicate                   // the characteristic supports indications
)

// SecurityLevel orders the access tiers a characteristic's read or write
// side may demand, from no security to LE Secure Connections
// authenticated. A Conn below the required level has its requests rejected
// with StatusInsufficientAuth/StatusInsufficientEncryption rather than
// routed to a handler.
type SecurityLevel int

const (
	SecurityNone SecurityLevel = iota
	SecurityUnauthenticatedEncrypted
	SecurityAuthenticatedEncrypted
	SecurityLescAuthenticated
)

// A Request is the context for a request from a connected device.
type Request struct {
	Conn           Conn
	Service        *Service
	Characteristic *Characteristic
}

// A ReadRequest is a characteristic read request from a connected device.
type ReadRequest struct {
	Request
	Cap    int // maximum allowed reply length
	Offset int // request value offset
}

type ReadResponseWriter interface {
	// Write writes data to return as the characteristic value.
	Write([]byte) (int, error)
	// SetStatus reports the result of the read operation. See the Status* constants.
	SetStatus(byte)
}

// A ReadHandler handles GATT read requests.
type ReadHandler interface {
	ServeRead(resp ReadResponseWriter, req *ReadRequest)
}

// ReadHandlerFunc is an adapter to allow the use of
// ordinary functions as ReadHandlers. If f is a function
// with the appropriate signature, ReadHandlerFunc(f) is a
// ReadHandler that calls f.
type ReadHandlerFunc func(resp ReadResponseWriter, req *ReadRequest)

// ServeRead calls f(resp, req).
func (f ReadHandlerFunc) ServeRead(resp ReadResponseWriter, req *ReadRequest) {
	f(resp, req)
}

// A WriteHandler handles GATT write requests.
// Write and WriteNR requests are presented identically;
// the server will ensure that a response is sent if appropriate.
type WriteHandler interface {
	ServeWrite(r Request, data []byte) (status byte)
}

// WriteHandlerFunc is an adapter to allow the use of
// ordinary functions as WriteHandlers. If f is a function
// with the appropriate signature, WriteHandlerFunc(f) is a
// WriteHandler that calls f.
type WriteHandlerFunc func(r Request, data []byte) byte

// ServeWrite returns f(r, data).
func (f WriteHandlerFunc) ServeWrite(r Request, data []byte) byte {
	return f(r, data)
}

// A NotifyHandler handles GATT notification requests.
// Notifications can be sent using the provided notifier.
type NotifyHandler interface {
	ServeNotify(r Request, n Notifier)
}

// NotifyHandlerFunc is an adapter to allow the use of
// ordinary functions as NotifyHandlers. If f is a function
// with the appropriate signature, NotifyHandlerFunc(f) is a
// NotifyHandler that calls f.
type NotifyHandlerFunc func(r Request, n Notifier)

// ServeNotify calls f(r, n).
func (f NotifyHandlerFunc) ServeNotify(r Request, n Notifier) {
	f(r, n)
}

// A Notifier provides a means for a GATT server to send
// notifications about value changes to a connected device.
// Notifiers are provided by NotifyHandlers.
type Notifier interface {
	// Write sends data to the central.
	Write(data []byte) (int, error)

	// Done reports whether the central has requested not to
	// receive any more notifications with this notifier.
	Done() bool

	// Cap returns the maximum number of bytes that may be sent
	// in a single notification.
	Cap() int
}

// A Characteristic is a BLE characteristic: a declaration attribute, a
// value attribute, an optional CCCD, and zero or more descriptors.
type Characteristic struct {
	uuid     UUID
	props    uint // enabled properties (charRead | charWrite | ...)
	readSec  SecurityLevel
	writeSec SecurityLevel

	value []byte // static value, served directly when no ReadHandler is set

	descs []*Descriptor

	rhandler ReadHandler
	whandler WriteHandler
	nhandler NotifyHandler

	service *Service

	// assigned by compile (called from Server.Start); zero until a Server containing this
	// characteristic has been compiled.
	declHandle  uint16
	valueHandle uint16
	cccdHandle  uint16 // 0 if the characteristic has no CCCD
	cccdIndex   int    // table-order index into a Conn's CCCD vector; -1 if none
	priority    int    // outgoing notify/indicate drain priority, lower drains first
}

// HandleRead makes the characteristic support read requests,
// and routes read requests to h. HandleRead must be called
// before any server using c has been started.
func (c *Characteristic) HandleRead(h ReadHandler) {
	c.props |= charRead
	c.rhandler = h
}

// HandleReadFunc calls HandleRead(ReadHandlerFunc(f)).
func (c *Characteristic) HandleReadFunc(f func(resp ReadResponseWriter, req *ReadRequest)) {
	c.HandleRead(ReadHandlerFunc(f))
}

// HandleWrite makes the characteristic support write and
// write-no-response requests, and routes write requests to h.
// The WriteHandler does not differentiate between write and
// write-no-response requests; it is handled automatically.
// HandleWrite must be called before any server using c has been started.
func (c *Characteristic) HandleWrite(h WriteHandler) {
	c.props |= charWrite | charWriteNR
	c.whandler = h
}

// HandleWriteFunc calls HandleWrite(WriteHandlerFunc(f)).
func (c *Characteristic) HandleWriteFunc(f func(r Request, data []byte) (status byte)) {
	c.HandleWrite(WriteHandlerFunc(f))
}

// HandleNotify makes the characteristic support notify requests,
// and routes notification requests to h. HandleNotify must be called
// before any server using c has been started.
func (c *Characteristic) HandleNotify(h NotifyHandler) {
	c.props |= charNotify
	c.nhandler = h
}

// HandleNotifyFunc calls HandleNotify(NotifyHandlerFunc(f)).
func (c *Characteristic) HandleNotifyFunc(f func(r Request, n Notifier)) {
	c.HandleNotify(NotifyHandlerFunc(f))
}

// HandleIndicate makes the characteristic support indications, the
// acknowledged sibling of HandleNotify: the server withholds the next
// indication on the connection until the peer's confirmation arrives, per
// spec.md's indication-in-flight gating. h is invoked the same way a
// NotifyHandler is; the transport distinction is handled by the
// dispatcher, not by the handler.
func (c *Characteristic) HandleIndicate(h NotifyHandler) {
	c.props |= charIndicate
	c.nhandler = h
}

// HandleIndicateFunc calls HandleIndicate(NotifyHandlerFunc(f)).
func (c *Characteristic) HandleIndicateFunc(f func(r Request, n Notifier)) {
	c.HandleIndicate(NotifyHandlerFunc(f))
}

// EnableNotify marks the characteristic as notifiable and gives it a CCCD,
// without installing a NotifyHandler. Use it together with Server.Notify
// when notifications are driven by server-side events rather than by a
// per-connection handler goroutine.
func (c *Characteristic) EnableNotify() *Characteristic {
	c.props |= charNotify
	return c
}

// EnableIndicate is EnableNotify's acknowledged-delivery sibling, for use
// with Server.Indicate.
func (c *Characteristic) EnableIndicate() *Characteristic {
	c.props |= charIndicate
	return c
}

// SetValue installs a static value for the characteristic, served directly
// on read without invoking a ReadHandler. It must not be combined with
// HandleRead.
func (c *Characteristic) SetValue(b []byte) *Characteristic {
	c.props |= charRead
	c.value = b
	return c
}

// SecureRead raises the security tier required to read this
// characteristic; requests from a Conn below level are rejected before
// reaching rhandler.
func (c *Characteristic) SecureRead(level SecurityLevel) *Characteristic {
	c.readSec = level
	return c
}

// SecureWrite raises the security tier required to write this
// characteristic.
func (c *Characteristic) SecureWrite(level SecurityLevel) *Characteristic {
	c.writeSec = level
	return c
}

// AddDescriptor attaches a descriptor to the characteristic. It must be
// called before the owning Server is compiled; the descriptor occupies one
// more handle, ordered after the CCCD if the characteristic has one.
func (c *Characteristic) AddDescriptor(u UUID, value []byte) *Descriptor {
	d := &Descriptor{uuid: u, value: value, char: c}
	c.descs = append(c.descs, d)
	return d
}

// AddUserDescription attaches a Characteristic User Description descriptor
// (0x2901) carrying a fixed human-readable string.
func (c *Characteristic) AddUserDescription(text string) *Descriptor {
	return c.AddDescriptor(uuidCharUserDescription, []byte(text))
}

// AddPresentationFormat attaches a Characteristic Presentation Format
// descriptor (0x2904), [Vol 3, Part G, 3.3.3.5]. format, exponent and unit
// are the fields that table defines; namespace is set to 0x01 (Bluetooth
// SIG) and description is left 0 (no description).
func (c *Characteristic) AddPresentationFormat(format byte, exponent int8, unit uint16) *Descriptor {
	b := []byte{format, byte(exponent), byte(unit), byte(unit >> 8), 0x01, 0x00, 0x00}
	return c.AddDescriptor(uuidCharPresentationFmt, b)
}

// SetPriority overrides the characteristic's outgoing notify/indicate
// drain priority; lower values drain first when several CCCDs on a
// connection are pending at once. Characteristics default to draining in
// table order (the order they were added to their Service).
func (c *Characteristic) SetPriority(p int) *Characteristic {
	c.priority = p
	return c
}

// UUID returns the characteristic's UUID
func (c *Characteristic) UUID() UUID {
	return c.uuid
}

// readResponseWriter is the default implementation of ReadResponseWriter.
type readResponseWriter struct {
	capacity int
	buf      *bytes.Buffer
	status   byte
}

func newReadResponseWriter(c int) *readResponseWriter {
	return &readResponseWriter{
		capacity: c,
		buf:      new(bytes.Buffer),
		status:   StatusSuccess,
	}
}

func (w *readResponseWriter) Write(b []byte) (int, error) {
	if avail := w.capacity - w.buf.Len(); avail < len(b) {
		return 0, fmt.Errorf("requested write %d bytes, %d available", len(b), avail)
	}
	return w.buf.Write(b)
}

func (w *readResponseWriter) SetStatus(status byte) { w.status = status }
func (w *readResponseWriter) bytes() []byte         { return w.buf.Bytes() }
