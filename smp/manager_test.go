package smp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingNotSupported(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Supported = false
	m := NewManager(cfg, nil)

	req := append([]byte{byte(CodePairingRequest)}, make([]byte, 6)...)
	resp, err := m.Handle(req)
	require.NoError(t, err)
	require.Len(t, resp, 2)
	assert.Equal(t, byte(CodePairingFailed), resp[0])
	assert.Equal(t, byte(ReasonPairingNotSupported), resp[1])
	assert.Equal(t, StateFailed, m.State())
}

func TestJustWorksResponse(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	m.SetAddresses([6]byte{1, 2, 3, 4, 5, 6}, [6]byte{6, 5, 4, 3, 2, 1}, 0, 0)

	req := []byte{
		byte(CodePairingRequest),
		byte(IONoInputNoOutput), // remote IO capability
		0x00,                    // no OOB data
		AuthReqBonding,
		16, 0x00, 0x00,
	}
	resp, err := m.Handle(req)
	require.NoError(t, err)
	require.NotEmpty(t, resp)
	assert.Equal(t, byte(CodePairingResponse), resp[0])
	assert.Equal(t, JustWorks, m.pairing.method)
	assert.Equal(t, StateWaitConfirm, m.State())

	remoteRandom := make([]byte, 16)
	for i := range remoteRandom {
		remoteRandom[i] = byte(0x42)
	}
	remoteConfirm, err := ConfirmLegacy(m.stk(), remoteRandom, nil, m.addrParams())
	require.NoError(t, err)

	confirm, err := m.Handle(append([]byte{byte(CodePairingConfirm)}, remoteConfirm...))
	require.NoError(t, err)
	assert.Equal(t, byte(CodePairingConfirm), confirm[0])
	assert.Equal(t, StateWaitRandom, m.State())

	randomResp, err := m.Handle(append([]byte{byte(CodePairingRandom)}, remoteRandom...))
	require.NoError(t, err)
	assert.Equal(t, byte(CodePairingRandom), randomResp[0])
	assert.Equal(t, StateFinished, m.State())

	stk, legacy := m.LegacyShortTermKey()
	assert.True(t, legacy)
	assert.Len(t, stk, 16)
}

func TestOOBConfirmValue(t *testing.T) {
	oob := make([]byte, 16)
	for i := range oob {
		oob[i] = byte(i + 1)
	}
	params := pairingParams{
		PRequest:  []byte{byte(CodePairingRequest)},
		PResponse: []byte{byte(CodePairingResponse)},
	}

	c1, err := ConfirmLegacy(oob, make([]byte, 16), nil, params)
	require.NoError(t, err)
	assert.Len(t, c1, 16)

	c2, err := ConfirmLegacy(oob, make([]byte, 16), nil, params)
	require.NoError(t, err)
	assert.Equal(t, c1, c2, "confirm value must be deterministic given identical inputs")

	differentRandom, err := ConfirmLegacy(oob, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, nil, params)
	require.NoError(t, err)
	assert.NotEqual(t, c1, differentRandom)
}

func TestSelectPairingMethodPrefersOOB(t *testing.T) {
	method := SelectPairingMethod(IODisplayYesNo, IODisplayYesNo, true, true)
	assert.Equal(t, OutOfBand, method)
}

func TestSelectPairingMethodFallsBackToJustWorksWithNoDisplay(t *testing.T) {
	method := SelectPairingMethod(IONoInputNoOutput, IODisplayYesNo, false, true)
	assert.Equal(t, JustWorks, method)
}

func TestKeyAgreementSharedSecretMatches(t *testing.T) {
	a, err := NewKeyAgreement()
	require.NoError(t, err)
	b, err := NewKeyAgreement()
	require.NoError(t, err)

	secretA, err := a.SharedSecret(b.PublicKey())
	require.NoError(t, err)
	secretB, err := b.SharedSecret(a.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, secretA, secretB)
}
