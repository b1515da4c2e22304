package transport

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// H4 packet indicator octets, [Vol 4, Part A, 2].
const (
	h4Command = 0x01
	h4ACLData = 0x02
	h4SCOData = 0x03
	h4Event   = 0x04
)

// aclHeaderLen is the HCI ACL Data packet header: a 2-byte handle+flags
// field followed by a 2-byte little-endian data total length,
// [Vol 4, Part E, 5.4.2].
const aclHeaderLen = 4

// H4Framer reads and writes H4-framed HCI ACL Data packets over an
// underlying byte stream: a UART or TCP connection, or an HCI user-channel
// socket, whose packets also carry the H4 packet-type octet.
type H4Framer struct {
	r *bufio.Reader
	w io.Writer
}

// NewH4Framer wraps rw for H4 framing.
func NewH4Framer(rw io.ReadWriter) *H4Framer {
	return &H4Framer{r: bufio.NewReader(rw), w: rw}
}

// ReadACL blocks until one HCI ACL Data packet arrives, returning the
// connection handle and its L2CAP payload. Event packets read in between
// are discarded; a Command or SCO packet, or an unknown indicator, ends
// the read with an error. This stack only ever originates and consumes
// ACL Data carrying L2CAP traffic.
func (f *H4Framer) ReadACL() (handle uint16, payload []byte, err error) {
	for {
		kind, err := f.r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		switch kind {
		case h4ACLData:
			return f.readACLBody()
		case h4Event:
			if err := f.discardEvent(); err != nil {
				return 0, nil, err
			}
		case h4Command, h4SCOData:
			return 0, nil, errors.Errorf("transport: unexpected h4 packet type 0x%02x on a peripheral link", kind)
		default:
			return 0, nil, errors.Errorf("transport: unknown h4 packet indicator 0x%02x", kind)
		}
	}
}

func (f *H4Framer) readACLBody() (uint16, []byte, error) {
	hdr := make([]byte, aclHeaderLen)
	if _, err := io.ReadFull(f.r, hdr); err != nil {
		return 0, nil, errors.Wrap(err, "transport: reading acl header")
	}
	handleAndFlags := binary.LittleEndian.Uint16(hdr)
	handle := handleAndFlags & 0x0fff
	dataLen := binary.LittleEndian.Uint16(hdr[2:])
	body := make([]byte, dataLen)
	if _, err := io.ReadFull(f.r, body); err != nil {
		return 0, nil, errors.Wrap(err, "transport: reading acl payload")
	}
	return handle, body, nil
}

// discardEvent reads and throws away one HCI Event packet: a 1-byte event
// code, a 1-byte parameter length, then that many parameter bytes.
func (f *H4Framer) discardEvent() error {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(f.r, hdr); err != nil {
		return errors.Wrap(err, "transport: reading event header")
	}
	if _, err := io.CopyN(io.Discard, f.r, int64(hdr[1])); err != nil {
		return errors.Wrap(err, "transport: discarding event payload")
	}
	return nil
}

// WriteACL frames payload as one HCI ACL Data packet addressed to handle
// and writes it, prefixed with the H4 ACL Data indicator.
func (f *H4Framer) WriteACL(handle uint16, payload []byte) error {
	out := make([]byte, 1+aclHeaderLen+len(payload))
	out[0] = h4ACLData
	// PB flag 0b10 (first automatically-flushable fragment), BC flag 0b00.
	binary.LittleEndian.PutUint16(out[1:], (handle&0x0fff)|(0x2<<12))
	binary.LittleEndian.PutUint16(out[3:], uint16(len(payload)))
	copy(out[5:], payload)
	_, err := f.w.Write(out)
	return errors.Wrap(err, "transport: writing acl packet")
}
