// Package smp implements enough of the Security Manager Protocol, [Vol 3,
// Part H], for a peripheral to respond to a pairing attempt: Manager runs
// the responder side of the pairing exchange (request, confirm, random,
// and the LE Secure Connections public key), computing confirm values as
// it goes. It does not distribute keys and does not start link
// encryption.
package smp

// Code is an SMP PDU's first octet, [Vol 3, Part H, 3.3].
type Code byte

const (
	CodePairingRequest        Code = 0x01
	CodePairingResponse       Code = 0x02
	CodePairingConfirm        Code = 0x03
	CodePairingRandom         Code = 0x04
	CodePairingFailed         Code = 0x05
	CodeEncryptionInformation Code = 0x06
	CodeMasterIdentification  Code = 0x07
	CodeIdentityInformation   Code = 0x08
	CodeIdentityAddrInfo      Code = 0x09
	CodeSigningInformation    Code = 0x0a
	CodeSecurityRequest       Code = 0x0b
	CodePublicKey             Code = 0x0c
	CodeDHKeyCheck            Code = 0x0d
	CodeKeypressNotification  Code = 0x0e
)

// Reason is a Pairing Failed reason code, [Vol 3, Part H, 3.5.5].
type Reason byte

const (
	ReasonPasskeyEntryFailed     Reason = 0x01
	ReasonOOBNotAvailable        Reason = 0x02
	ReasonAuthenticationReqs     Reason = 0x03
	ReasonConfirmValueFailed     Reason = 0x04
	ReasonPairingNotSupported    Reason = 0x05
	ReasonEncryptionKeySize      Reason = 0x06
	ReasonCommandNotSupported    Reason = 0x07
	ReasonUnspecifiedReason      Reason = 0x08
	ReasonRepeatedAttempts       Reason = 0x09
	ReasonInvalidParameters      Reason = 0x0a
	ReasonDHKeyCheckFailed       Reason = 0x0b
	ReasonNumericComparisonFailed Reason = 0x0c
)

// FailurePDU builds a Pairing Failed PDU carrying reason.
func FailurePDU(reason Reason) []byte {
	return []byte{byte(CodePairingFailed), byte(reason)}
}

// IOCapability is the local or remote IO Capability octet exchanged in a
// Pairing Request/Response, [Vol 3, Part H, 2.3.2].
type IOCapability byte

const (
	IODisplayOnly     IOCapability = 0x00
	IODisplayYesNo    IOCapability = 0x01
	IOKeyboardOnly    IOCapability = 0x02
	IONoInputNoOutput IOCapability = 0x03
	IOKeyboardDisplay IOCapability = 0x04
)

// AuthReq bit flags, [Vol 3, Part H, 3.5.1].
const (
	AuthReqBonding           byte = 1 << 0
	AuthReqMITM              byte = 1 << 2
	AuthReqSecureConnections byte = 1 << 3
	AuthReqKeypress          byte = 1 << 4
)

// PairingMethod is the association model the two IO capabilities select,
// [Vol 3, Part H, 2.3.5.1, Table 2.8].
type PairingMethod int

const (
	JustWorks PairingMethod = iota
	PasskeyEntry
	NumericComparison
	OutOfBand
)

// SelectPairingMethod picks the association model for a pairing attempt.
// Out of band data, if either side has it, always wins; otherwise a
// NoInputNoOutput peer (the overwhelmingly common case for a BLE
// peripheral with no display) falls back to Just Works.
func SelectPairingMethod(local, remote IOCapability, oobAvailable, secureConnections bool) PairingMethod {
	if oobAvailable {
		return OutOfBand
	}
	if local == IONoInputNoOutput || remote == IONoInputNoOutput {
		return JustWorks
	}
	if secureConnections && (local == IODisplayYesNo && remote == IODisplayYesNo) {
		return NumericComparison
	}
	if local == IODisplayOnly || local == IOKeyboardOnly || remote == IODisplayOnly || remote == IOKeyboardOnly {
		return PasskeyEntry
	}
	return JustWorks
}
