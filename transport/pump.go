package transport

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	gatt "github.com/silicon-periph/gattcore"
	"github.com/silicon-periph/gattcore/bond"
	"github.com/silicon-periph/gattcore/smp"
)

// Pump drives one connection's worth of ATT/SMP traffic between a
// gatt.Server and a physical link, grounded on the teacher's own
// eventloop() dispatch loop: read one frame, route it by type, write back
// whatever the handler produced, forever, until the link errors out.
type Pump struct {
	server *gatt.Server
	framer *H4Framer
	smp    *smp.Manager
	log    *logrus.Entry

	handle uint32 // current ACL connection handle, atomically updated
}

// NewPump returns a Pump reading/writing rw. smpMgr may be nil, in which
// case SMP traffic is answered with Pairing Not Supported.
func NewPump(server *gatt.Server, rw io.ReadWriter, smpMgr *smp.Manager, log *logrus.Logger) *Pump {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pump{
		server: server,
		framer: NewH4Framer(rw),
		smp:    smpMgr,
		log:    log.WithField("component", "transport"),
	}
}

// Run pumps frames for connID until the link returns an error (including
// io.EOF on a clean disconnect). It also drains the server's outgoing
// notification/indication channel for connID for as long as Run is
// running.
func (p *Pump) Run(connID gatt.ConnID) error {
	done := make(chan struct{})
	defer close(done)
	go p.drainOutput(connID, done)

	for {
		handle, payload, err := p.framer.ReadACL()
		if err != nil {
			return err
		}
		atomic.StoreUint32(&p.handle, uint32(handle))

		cid, sdu, err := decodeL2CAP(payload)
		if err != nil {
			p.log.WithError(err).Warn("transport: dropping malformed l2cap frame")
			continue
		}

		switch cid {
		case CIDAttribute:
			p.handleATT(connID, handle, sdu)
		case CIDSecurityManager:
			p.handleSMP(connID, handle, sdu)
		default:
			p.log.WithField("cid", cid).Debug("transport: ignoring unsupported l2cap channel")
		}
	}
}

func (p *Pump) handleATT(connID gatt.ConnID, handle uint16, sdu []byte) {
	resp, err := p.server.L2CAPInput(connID, sdu)
	if err != nil {
		p.log.WithError(err).Warn("transport: att dispatch error")
		return
	}
	if resp == nil {
		return
	}
	if err := p.framer.WriteACL(handle, encodeL2CAP(CIDAttribute, resp)); err != nil {
		p.log.WithError(err).Warn("transport: writing att response")
	}
}

func (p *Pump) handleSMP(connID gatt.ConnID, handle uint16, sdu []byte) {
	if p.smp == nil {
		resp := smp.FailurePDU(smp.ReasonPairingNotSupported)
		_ = p.framer.WriteACL(handle, encodeL2CAP(CIDSecurityManager, resp))
		return
	}
	resp, err := p.smp.Handle(sdu)
	if err != nil {
		p.log.WithError(err).Warn("transport: smp dispatch error")
		return
	}
	if p.smp.State() == smp.StateFinished {
		p.onPaired(connID)
	}
	if resp == nil {
		return
	}
	if err := p.framer.WriteACL(handle, encodeL2CAP(CIDSecurityManager, resp)); err != nil {
		p.log.WithError(err).Warn("transport: writing smp response")
	}
}

// onPaired raises connID's security level and, if the server keeps a
// bond store, persists the freshly negotiated key material once this
// Pump's Security Manager reports pairing finished. Legacy (STK-derived)
// pairing without MITM protection yields unauthenticated-encrypted;
// everything stronger than Just Works/OOB legacy pairing is out of this
// module's Open-Question scope (see smp/manager.go) and is treated the
// same until passkey/numeric-comparison methods are wired.
func (p *Pump) onPaired(connID gatt.ConnID) {
	ltk, legacy := p.smp.LegacyShortTermKey()
	if err := p.server.SetSecurityLevel(connID, gatt.SecurityUnauthenticatedEncrypted); err != nil {
		p.log.WithError(err).Warn("transport: raising security level after pairing")
		return
	}
	if legacy {
		if err := p.server.Bond(connID, bond.Record{LTK: ltk, EncryptionKeySize: 16}); err != nil {
			p.log.WithError(err).Warn("transport: persisting bond record")
		}
	}
}

func (p *Pump) drainOutput(connID gatt.ConnID, done <-chan struct{}) {
	ch := p.server.L2CAPOutput(connID)
	if ch == nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case pdu, ok := <-ch:
			if !ok {
				return
			}
			handle := uint16(atomic.LoadUint32(&p.handle))
			if err := p.framer.WriteACL(handle, encodeL2CAP(CIDAttribute, pdu)); err != nil {
				p.log.WithError(err).Warn("transport: writing queued notification")
				return
			}
		}
	}
}
