package smp

import (
	"crypto/rand"
	"fmt"

	"github.com/sirupsen/logrus"
)

// PairingState tracks a single pairing attempt's progress through the SMP
// state machine, grounded on the teacher stack's own smp manager state
// enum.
type PairingState int

const (
	StateIdle PairingState = iota
	StateWaitPairingResponse
	StateWaitPublicKey
	StateWaitConfirm
	StateWaitRandom
	StateWaitDHKeyCheck
	StateFinished
	StateFailed
)

// Config is the local peripheral's pairing posture: what it can do and
// what it demands of the central.
type Config struct {
	IOCapability      IOCapability
	AuthReq           byte
	OOBData           []byte // local out-of-band confirm/random pair, if provisioned out-of-band
	MaxEncryptionKeySize byte
	Supported         bool // if false, every incoming SMP PDU is answered with Pairing Not Supported
}

// DefaultConfig is a NoInputNoOutput, bondable, non-MITM posture: the
// common case for a peripheral with no display or keyboard.
func DefaultConfig() Config {
	return Config{
		IOCapability:         IONoInputNoOutput,
		AuthReq:              AuthReqBonding,
		MaxEncryptionKeySize: 16,
		Supported:            true,
	}
}

// pairingContext is everything specific to one in-progress pairing
// attempt, reset between connections.
type pairingContext struct {
	state PairingState

	localAddr, remoteAddr         [6]byte
	localAddrType, remoteAddrType byte

	remoteIOCap IOCapability
	remoteAuthReq byte
	method      PairingMethod

	pReq, pResp []byte

	keys           *KeyAgreement
	peerPublicKey  []byte
	localRandom    []byte
	remoteConfirm  []byte
	remoteRandom   []byte

	legacy       bool
	shortTermKey []byte
}

// Manager answers SMP PDUs for one connection. It is not itself a
// transport: a caller feeds it inbound PDUs via Handle and writes whatever
// Handle returns back to the L2CAP fixed channel 0x0006.
type Manager struct {
	config  Config
	pairing *pairingContext
	log     *logrus.Entry
}

// NewManager returns a Manager configured with cfg, logging through log
// (the standard logger is used if log is nil).
func NewManager(cfg Config, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		config:  cfg,
		pairing: &pairingContext{state: StateIdle},
		log:     log.WithField("component", "smp"),
	}
}

// State reports the current pairing attempt's progress.
func (m *Manager) State() PairingState { return m.pairing.state }

// Reset clears any in-progress pairing attempt, e.g. on disconnect.
func (m *Manager) Reset() {
	m.pairing = &pairingContext{state: StateIdle}
}

// Handle processes one inbound SMP PDU and returns the PDU to send back,
// if any. A central that begins pairing against a Manager configured with
// Supported == false is rejected immediately, matching
// ReasonPairingNotSupported, [Vol 3, Part H, 3.5.5].
func (m *Manager) Handle(pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("smp: empty pdu")
	}
	code := Code(pdu[0])
	body := pdu[1:]

	if !m.config.Supported {
		m.pairing.state = StateFailed
		return FailurePDU(ReasonPairingNotSupported), nil
	}

	switch code {
	case CodePairingRequest:
		return m.handlePairingRequest(body)
	case CodePairingConfirm:
		return m.handlePairingConfirm(body)
	case CodePairingRandom:
		return m.handlePairingRandom(body)
	case CodePublicKey:
		return m.handlePublicKey(body)
	case CodePairingFailed:
		m.pairing.state = StateFailed
		m.log.WithField("reason", Reason(body[0])).Warn("smp: central aborted pairing")
		return nil, nil
	default:
		return FailurePDU(ReasonCommandNotSupported), nil
	}
}

// handlePairingRequest answers a Pairing Request with this Manager's own
// Pairing Response, and picks the association method the rest of the
// exchange will follow.
func (m *Manager) handlePairingRequest(body []byte) ([]byte, error) {
	if len(body) < 6 {
		return FailurePDU(ReasonInvalidParameters), nil
	}
	m.pairing.remoteIOCap = IOCapability(body[0])
	oobFlag := body[1]
	m.pairing.remoteAuthReq = body[2]

	sc := m.pairing.remoteAuthReq&AuthReqSecureConnections != 0 && false // LESC negotiation not yet wired past key agreement
	m.pairing.method = SelectPairingMethod(m.config.IOCapability, m.pairing.remoteIOCap, oobFlag != 0, sc)
	m.pairing.legacy = !sc

	m.pairing.pReq = append([]byte{byte(CodePairingRequest)}, body...)
	resp := []byte{
		byte(m.config.IOCapability),
		0x00, // OOB data flag: none presented locally by default
		m.config.AuthReq,
		m.config.MaxEncryptionKeySize,
		0x00, // initiator key distribution: none requested
		0x00, // responder key distribution: none requested
	}
	m.pairing.pResp = append([]byte{byte(CodePairingResponse)}, resp...)
	m.pairing.state = StateWaitConfirm
	return append([]byte{byte(CodePairingResponse)}, resp...), nil
}

func (m *Manager) handlePairingConfirm(body []byte) ([]byte, error) {
	if m.pairing.state != StateWaitConfirm {
		return FailurePDU(ReasonUnspecifiedReason), nil
	}
	m.pairing.remoteConfirm = append([]byte(nil), body...)
	m.pairing.state = StateWaitRandom

	// Just Works/OOB pairing never displays a value to confirm; the
	// Manager answers with its own confirm value computed over a fresh
	// local random, deferring the actual comparison to handlePairingRandom.
	local := make([]byte, 16)
	if _, err := rand.Read(local); err != nil {
		return nil, err
	}
	m.pairing.localRandom = local
	confirm, err := ConfirmLegacy(m.stk(), local, nil, m.addrParams())
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(CodePairingConfirm)}, confirm...), nil
}

func (m *Manager) handlePairingRandom(body []byte) ([]byte, error) {
	if m.pairing.state != StateWaitRandom {
		return FailurePDU(ReasonUnspecifiedReason), nil
	}
	m.pairing.remoteRandom = append([]byte(nil), body...)

	want, err := ConfirmLegacy(m.stk(), m.pairing.remoteRandom, nil, m.addrParams())
	if err != nil {
		return nil, err
	}
	if !bytesEqual(want, m.pairing.remoteConfirm) {
		m.pairing.state = StateFailed
		return FailurePDU(ReasonConfirmValueFailed), nil
	}

	m.pairing.shortTermKey = m.stk()
	m.pairing.state = StateFinished
	return append([]byte{byte(CodePairingRandom)}, m.pairing.localRandom...), nil
}

func (m *Manager) handlePublicKey(body []byte) ([]byte, error) {
	if len(body) != 64 {
		return FailurePDU(ReasonInvalidParameters), nil
	}
	if m.pairing.keys == nil {
		ka, err := NewKeyAgreement()
		if err != nil {
			return nil, err
		}
		m.pairing.keys = ka
	}
	m.pairing.peerPublicKey = append([]byte(nil), body...)
	m.pairing.state = StateWaitConfirm
	return append([]byte{byte(CodePublicKey)}, m.pairing.keys.PublicKey()...), nil
}

// LegacyShortTermKey returns the key stored once pairing has finished,
// and whether legacy (as opposed to LE Secure Connections) pairing was
// used. The stored key is the temporary key from stk itself; it is not
// run through s1 with the exchanged random values.
func (m *Manager) LegacyShortTermKey() (key []byte, legacy bool) {
	return m.pairing.shortTermKey, m.pairing.legacy
}

// stk returns the temporary key (TK): the first 16 bytes of the
// configured OOB data when the method is OutOfBand and at least 16 bytes
// are configured, otherwise all zeroes as Just Works uses, [Vol 3, Part H,
// 2.3.5.1]. The TK is used directly as the short term key; no s1
// derivation from the exchanged random values takes place.
func (m *Manager) stk() []byte {
	if m.pairing.method == OutOfBand && len(m.config.OOBData) >= 16 {
		return m.config.OOBData[:16]
	}
	return make([]byte, 16)
}

func (m *Manager) addrParams() pairingParams {
	return pairingParams{
		PRequest:           m.pairing.pReq,
		PResponse:          m.pairing.pResp,
		InitiatorAddr:      m.pairing.remoteAddr,
		ResponderAddr:      m.pairing.localAddr,
		InitiatorAddrType:  m.pairing.remoteAddrType,
		ResponderAddrType:  m.pairing.localAddrType,
	}
}

// SetAddresses records the public/random addresses the confirm value
// computation binds to, [Vol 3, Part H, 2.2.3]. It must be called before
// any Pairing Confirm/Random exchange.
func (m *Manager) SetAddresses(local, remote [6]byte, localType, remoteType byte) {
	m.pairing.localAddr = local
	m.pairing.remoteAddr = remote
	m.pairing.localAddrType = localType
	m.pairing.remoteAddrType = remoteType
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
