package smp

import (
	"crypto"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/pkg/errors"
	"github.com/wsddn/go-ecdh"
)

// KeyAgreement performs the P-256 ECDH exchange LE Secure Connections
// pairing uses to derive a shared secret before any confirm/random
// exchange happens, [Vol 3, Part H, 2.3.5.6.1].
type KeyAgreement struct {
	curve ecdh.ECDH
	priv  crypto.PrivateKey
	pub   crypto.PublicKey
}

// NewKeyAgreement generates a fresh P-256 keypair.
func NewKeyAgreement() (*KeyAgreement, error) {
	curve := ecdh.NewEllipticECDH(elliptic.P256())
	priv, pub, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "smp: generating ECDH keypair")
	}
	return &KeyAgreement{curve: curve, priv: priv, pub: pub}, nil
}

// PublicKey returns the local public key in the 64-byte X||Y wire format
// the Pairing Public Key PDU carries.
// X and Y are each 32 bytes, little-endian.
func (k *KeyAgreement) PublicKey() []byte {
	m := k.curve.Marshal(k.pub) // 0x04 || X || Y, big-endian coordinates
	out := make([]byte, 64)
	for i := 0; i < 32; i++ {
		out[i], out[32+i] = m[32-i], m[64-i]
	}
	return out
}

// SharedSecret computes the DHKey from the peer's 64-byte X||Y public key,
// in the same format PublicKey returns.
func (k *KeyAgreement) SharedSecret(peerPublicKey []byte) ([]byte, error) {
	if len(peerPublicKey) != 64 {
		return nil, errors.New("smp: malformed peer public key")
	}
	m := make([]byte, 65)
	m[0] = 0x04
	for i := 0; i < 32; i++ {
		m[32-i], m[64-i] = peerPublicKey[i], peerPublicKey[32+i]
	}
	peer, ok := k.curve.Unmarshal(m)
	if !ok {
		return nil, errors.New("smp: malformed peer public key")
	}
	secret, err := k.curve.GenerateSharedSecret(k.priv, peer)
	if err != nil {
		return nil, errors.Wrap(err, "smp: computing shared secret")
	}
	return secret, nil
}
