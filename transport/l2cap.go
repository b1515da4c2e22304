package transport

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Fixed L2CAP channel identifiers this stack speaks, [Vol 3, Part A, 2.1].
const (
	CIDAttribute     = 0x0004
	CIDSecurityManager = 0x0006
)

// l2capHeaderLen is the Basic L2CAP frame header: a 2-byte little-endian
// payload length followed by a 2-byte little-endian channel ID.
const l2capHeaderLen = 4

// decodeL2CAP splits one ACL payload into its destination CID and SDU. BLE
// never fragments a Basic L2CAP frame across ACL packets for the channels
// this stack uses (ATT and SMP SDUs always fit in one controller buffer at
// the default LE data length), so no reassembly buffer is needed here.
func decodeL2CAP(acl []byte) (cid uint16, sdu []byte, err error) {
	if len(acl) < l2capHeaderLen {
		return 0, nil, errors.New("transport: acl payload shorter than l2cap header")
	}
	length := binary.LittleEndian.Uint16(acl)
	cid = binary.LittleEndian.Uint16(acl[2:])
	if int(length) > len(acl)-l2capHeaderLen {
		return 0, nil, errors.New("transport: l2cap length exceeds acl payload")
	}
	return cid, acl[l2capHeaderLen : l2capHeaderLen+int(length)], nil
}

// encodeL2CAP frames sdu for cid as one Basic L2CAP frame.
func encodeL2CAP(cid uint16, sdu []byte) []byte {
	out := make([]byte, l2capHeaderLen+len(sdu))
	binary.LittleEndian.PutUint16(out, uint16(len(sdu)))
	binary.LittleEndian.PutUint16(out[2:], cid)
	copy(out[l2capHeaderLen:], sdu)
	return out
}
