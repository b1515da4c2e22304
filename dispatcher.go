package gatt

import (
	"encoding/binary"
	"fmt"
)

// isATTRequest reports whether op is an ATT "Request" PDU, which is
// subject to the one-in-flight-at-a-time rule [Vol 3, Part F, 3.3.3] — as
// opposed to a Command (Write Command, Signed Write Command) or a
// Confirmation, neither of which ever elicits a response.
func isATTRequest(op byte) bool {
	_, ok := attRespFor[op]
	return ok
}

func securityStatus(required, have SecurityLevel) byte {
	if have >= required {
		return StatusSuccess
	}
	if required >= SecurityAuthenticatedEncrypted {
		return StatusInsufficientAuth
	}
	return StatusInsufficientEncryption
}

// L2CAPInput processes one incoming ATT PDU for the connection id and
// returns the PDU to send back, if any. A nil, nil return means the
// request was a Command or Confirmation, which never gets a reply. It is
// the transport's job to frame/deframe individual PDUs out of the L2CAP
// fixed channel stream; L2CAPInput only ever sees one complete PDU at a
// time.
func (s *Server) L2CAPInput(id ConnID, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("gatt: empty att pdu")
	}
	c := s.conn(id)
	if c == nil {
		return nil, fmt.Errorf("gatt: unknown connection %d", id)
	}

	op, body := pdu[0], pdu[1:]

	if isATTRequest(op) {
		if !c.beginRequest() {
			return attErrorResp(op, 0x0000, attEcodeReqNotSupp), nil
		}
		defer c.endRequest()
	}

	switch op {
	case attOpMtuReq:
		return s.handleMTU(c, body), nil
	case attOpFindInfoReq:
		return s.handleFindInfo(c, body), nil
	case attOpFindByTypeReq:
		return s.handleFindByType(c, body), nil
	case attOpReadByTypeReq:
		return s.handleReadByType(c, body), nil
	case attOpReadReq, attOpReadBlobReq:
		return s.handleRead(c, op, body), nil
	case attOpReadMultiReq:
		return s.handleReadMulti(c, body), nil
	case attOpReadByGroupReq:
		return s.handleReadByGroup(c, body), nil
	case attOpWriteReq, attOpWriteCmd:
		return s.handleWrite(c, op, body), nil
	case attOpPrepWriteReq:
		return s.handlePrepareWrite(c, body), nil
	case attOpExecWriteReq:
		return s.handleExecuteWrite(c, body), nil
	case attOpHandleCnf:
		c.notifyQ.Confirmed()
		s.kickNotifyQueue(c)
		return nil, nil
	case attOpSignedWriteCmd:
		return attErrorResp(op, 0x0000, attEcodeReqNotSupp), nil
	default:
		return attErrorResp(op, 0x0000, attEcodeReqNotSupp), nil
	}
}

func (s *Server) handleMTU(c *conn, b []byte) []byte {
	if len(b) < 2 {
		return attErrorResp(attOpMtuReq, 0, attEcodeInvalidPDU)
	}
	mtu := binary.LittleEndian.Uint16(b)
	if mtu < DefaultMTU {
		mtu = DefaultMTU
	}
	if mtu > s.maxMTU() {
		mtu = s.maxMTU()
	}
	c.mtu = mtu
	return []byte{attOpMtuResp, uint8(c.mtu), uint8(c.mtu >> 8)}
}

func (s *Server) handleFindInfo(c *conn, b []byte) []byte {
	if len(b) < 4 {
		return attErrorResp(attOpFindInfoReq, 0, attEcodeInvalidPDU)
	}
	start, end := readHandleRange(b)

	w := newPDUWriter(c.mtu)
	w.WriteByteFit(attOpFindInfoResp)
	uuidLen := -1
	for _, a := range s.table.subrange(start, end) {
		var u UUID
		switch a.kind {
		case attrService:
			u = uuidPrimaryService
		case attrIncludedService:
			u = uuidIncludeService
		case attrCharacteristic:
			u = uuidCharacteristic
		case attrCharValue, attrDescriptor:
			u = a.typ
		default:
			continue
		}

		if uuidLen == -1 {
			uuidLen = u.Len()
			if uuidLen == 2 {
				w.WriteByteFit(0x01)
			} else {
				w.WriteByteFit(0x02)
			}
		}
		if u.Len() != uuidLen {
			break
		}

		w.Chunk()
		w.WriteUint16Fit(a.handle)
		w.WriteUUIDFit(u)
		if !w.Commit() {
			break
		}
	}

	if uuidLen == -1 {
		return attErrorResp(attOpFindInfoReq, start, attEcodeAttrNotFound)
	}
	return w.Bytes()
}

func (s *Server) handleFindByType(c *conn, b []byte) []byte {
	if len(b) < 6 {
		return attErrorResp(attOpFindByTypeReq, 0, attEcodeInvalidPDU)
	}
	start, end := readHandleRange(b)

	if u := (UUID{reverse(b[4:6])}); !uuidEqual(u, uuidPrimaryService) {
		return attErrorResp(attOpFindByTypeReq, start, attEcodeAttrNotFound)
	}
	u := UUID{reverse(b[6:])}

	w := newPDUWriter(c.mtu)
	w.WriteByteFit(attOpFindByTypeResp)

	var wrote bool
	for _, a := range s.table.subrange(start, end) {
		if a.kind != attrService || !uuidEqual(a.typ, uuidPrimaryService) || !uuidEqual(a.svc.uuid, u) {
			continue
		}
		w.Chunk()
		w.WriteUint16Fit(a.handle)
		w.WriteUint16Fit(a.endGroupHandle)
		if !w.Commit() {
			break
		}
		wrote = true
	}

	if !wrote {
		return attErrorResp(attOpFindByTypeReq, start, attEcodeAttrNotFound)
	}
	return w.Bytes()
}

func (s *Server) handleReadByType(c *conn, b []byte) []byte {
	if len(b) < 6 {
		return attErrorResp(attOpReadByTypeReq, 0, attEcodeInvalidPDU)
	}
	start, end := readHandleRange(b)
	u := UUID{reverse(b[4:])}

	if uuidEqual(u, uuidCharacteristic) {
		w := newPDUWriter(c.mtu)
		w.WriteByteFit(attOpReadByTypeResp)
		uuidLen := -1
		for _, a := range s.table.subrange(start, end) {
			if a.kind != attrCharacteristic {
				continue
			}
			ch := a.char
			if uuidLen == -1 {
				uuidLen = ch.uuid.Len()
				w.WriteByteFit(byte(uuidLen + 5))
			}
			if ch.uuid.Len() != uuidLen {
				break
			}
			w.Chunk()
			w.WriteUint16Fit(a.handle)
			w.WriteByteFit(byte(ch.props))
			w.WriteUint16Fit(ch.valueHandle)
			w.WriteUUIDFit(ch.uuid)
			if !w.Commit() {
				break
			}
		}
		if uuidLen == -1 {
			return attErrorResp(attOpReadByTypeReq, start, attEcodeAttrNotFound)
		}
		return w.Bytes()
	}

	var found *attribute
	for _, a := range s.table.subrange(start, end) {
		aa := a
		if a.kind == attrCharValue && uuidEqual(a.typ, u) {
			found = &aa
			break
		}
		if a.kind == attrDescriptor && uuidEqual(a.typ, u) {
			found = &aa
			break
		}
	}
	if found == nil {
		return attErrorResp(attOpReadByTypeReq, start, attEcodeAttrNotFound)
	}
	if status := securityStatus(found.readSec, c.security); status != StatusSuccess {
		return attErrorResp(attOpReadByTypeReq, start, status)
	}

	var value []byte
	var status byte
	if found.kind == attrDescriptor && uuidEqual(found.typ, uuidClientCharConfig) {
		value, status = []byte{c.cccd.Get(found.char.cccdIndex), 0}, StatusSuccess
	} else {
		value, status = s.readAttributeValue(c, *found, 0, int(c.mtu)-4)
	}
	if status != StatusSuccess {
		return attErrorResp(attOpReadByTypeReq, start, status)
	}
	w := newPDUWriter(c.mtu)
	n := w.Writeable(4, value)
	w.WriteByteFit(attOpReadByTypeResp)
	w.WriteByteFit(byte(n + 2))
	w.WriteUint16Fit(found.handle)
	w.WriteFit(value[:n])
	return w.Bytes()
}

func (s *Server) handleRead(c *conn, reqType byte, b []byte) []byte {
	if len(b) < 2 {
		return attErrorResp(reqType, 0, attEcodeInvalidPDU)
	}
	handle := binary.LittleEndian.Uint16(b)
	var offset int
	if reqType == attOpReadBlobReq {
		if len(b) < 4 {
			return attErrorResp(reqType, handle, attEcodeInvalidPDU)
		}
		offset = int(binary.LittleEndian.Uint16(b[2:]))
	}

	a, ok := s.table.at(handle)
	if !ok {
		return attErrorResp(reqType, handle, attEcodeInvalidHandle)
	}

	respType := attRespFor[reqType]
	w := newPDUWriter(c.mtu)
	w.WriteByteFit(respType)
	w.Chunk()

	switch a.kind {
	case attrService, attrIncludedService:
		w.WriteUUIDFit(a.svc.uuid)
	case attrCharacteristic:
		ch := a.char
		w.WriteByteFit(byte(ch.props))
		w.WriteUint16Fit(ch.valueHandle)
		w.WriteUUIDFit(ch.uuid)
	case attrCharValue, attrDescriptor:
		if a.kind == attrDescriptor && uuidEqual(a.typ, uuidClientCharConfig) {
			w.WriteByteFit(c.cccd.Get(a.char.cccdIndex))
			w.WriteByteFit(0)
		} else {
			if a.perms&charRead == 0 {
				return attErrorResp(reqType, handle, attEcodeReadNotPerm)
			}
			if status := securityStatus(a.readSec, c.security); status != StatusSuccess {
				return attErrorResp(reqType, handle, status)
			}
			value, status := s.readAttributeValue(c, a, offset, int(c.mtu)-1)
			if status != StatusSuccess {
				return attErrorResp(reqType, handle, status)
			}
			w.WriteFit(value)
			offset = 0 // already applied by readAttributeValue
		}
	default:
		return attErrorResp(reqType, handle, attEcodeInvalidHandle)
	}

	if !w.ChunkSeek(uint16(offset)) {
		return attErrorResp(reqType, handle, attEcodeInvalidOffset)
	}
	w.CommitFit()
	return w.Bytes()
}

// handleReadMulti implements Read Multiple Request, [Vol 3, Part F,
// 3.4.4.8] — the opcode the teacher repo never got around to. Every
// handle in the request must resolve to a plain, readable value
// attribute; the response is the concatenation of their values with no
// per-value length prefix, so a short value anywhere in the list would be
// ambiguous to the client, which is why any failure aborts the whole
// request with an error instead of producing a partial response.
func (s *Server) handleReadMulti(c *conn, b []byte) []byte {
	if len(b) < 4 || len(b)%2 != 0 {
		return attErrorResp(attOpReadMultiReq, 0, attEcodeInvalidPDU)
	}
	w := newPDUWriter(c.mtu)
	w.WriteByteFit(attOpReadMultiResp)
	for i := 0; i+2 <= len(b); i += 2 {
		handle := binary.LittleEndian.Uint16(b[i:])
		a, ok := s.table.at(handle)
		if !ok {
			return attErrorResp(attOpReadMultiReq, handle, attEcodeInvalidHandle)
		}
		if a.kind != attrCharValue && a.kind != attrDescriptor {
			return attErrorResp(attOpReadMultiReq, handle, attEcodeReadNotPerm)
		}
		if a.perms&charRead == 0 {
			return attErrorResp(attOpReadMultiReq, handle, attEcodeReadNotPerm)
		}
		if status := securityStatus(a.readSec, c.security); status != StatusSuccess {
			return attErrorResp(attOpReadMultiReq, handle, status)
		}
		var value []byte
		var status byte
		if a.kind == attrDescriptor && uuidEqual(a.typ, uuidClientCharConfig) {
			value, status = []byte{c.cccd.Get(a.char.cccdIndex), 0}, StatusSuccess
		} else {
			value, status = s.readAttributeValue(c, a, 0, int(c.mtu)-1)
		}
		if status != StatusSuccess {
			return attErrorResp(attOpReadMultiReq, handle, status)
		}
		n := w.Writeable(0, value)
		w.WriteFit(value[:n])
	}
	return w.Bytes()
}

func (s *Server) handleReadByGroup(c *conn, b []byte) []byte {
	if len(b) < 6 {
		return attErrorResp(attOpReadByGroupReq, 0, attEcodeInvalidPDU)
	}
	start, end := readHandleRange(b)
	u := UUID{reverse(b[4:])}

	var kind attrKind
	switch {
	case uuidEqual(u, uuidPrimaryService):
		kind = attrService
	case uuidEqual(u, uuidIncludeService):
		kind = attrIncludedService
	default:
		return attErrorResp(attOpReadByGroupReq, start, attEcodeUnsuppGrpType)
	}

	w := newPDUWriter(c.mtu)
	w.WriteByteFit(attOpReadByGroupResp)
	uuidLen := -1
	for _, a := range s.table.subrange(start, end) {
		if a.kind != kind || !uuidEqual(a.typ, u) {
			continue
		}
		if uuidLen == -1 {
			uuidLen = a.svc.uuid.Len()
			w.WriteByteFit(byte(uuidLen + 4))
		}
		if uuidLen != a.svc.uuid.Len() {
			break
		}
		w.Chunk()
		w.WriteUint16Fit(a.handle)
		w.WriteUint16Fit(a.endGroupHandle)
		w.WriteUUIDFit(a.svc.uuid)
		if !w.Commit() {
			break
		}
	}
	if uuidLen == -1 {
		return attErrorResp(attOpReadByGroupReq, start, attEcodeAttrNotFound)
	}
	return w.Bytes()
}

func (s *Server) handleWrite(c *conn, reqType byte, b []byte) []byte {
	if len(b) < 2 {
		return attErrorResp(reqType, 0, attEcodeInvalidPDU)
	}
	handle := binary.LittleEndian.Uint16(b)
	data := b[2:]
	noResp := reqType == attOpWriteCmd

	a, ok := s.table.at(handle)
	if !ok {
		if noResp {
			return nil
		}
		return attErrorResp(reqType, handle, attEcodeInvalidHandle)
	}

	if a.kind == attrDescriptor && uuidEqual(a.typ, uuidClientCharConfig) {
		return s.writeCCCD(c, reqType, a.char, handle, data, noResp)
	}

	if a.kind != attrCharValue && a.kind != attrDescriptor {
		if noResp {
			return nil
		}
		return attErrorResp(reqType, handle, attEcodeWriteNotPerm)
	}

	flag := uint(charWrite)
	if noResp {
		flag = charWriteNR
	}
	if a.perms&flag == 0 {
		if noResp {
			return nil
		}
		return attErrorResp(reqType, handle, attEcodeWriteNotPerm)
	}
	if status := securityStatus(a.writeSec, c.security); status != StatusSuccess {
		if noResp {
			return nil
		}
		return attErrorResp(reqType, handle, status)
	}

	status := s.writeAttributeValue(c, a, data)
	if noResp {
		return nil
	}
	if status != StatusSuccess {
		return attErrorResp(reqType, handle, status)
	}
	return []byte{attOpWriteResp}
}

func (s *Server) writeCCCD(c *conn, reqType byte, ch *Characteristic, handle uint16, data []byte, noResp bool) []byte {
	if len(data) != 2 {
		if noResp {
			return nil
		}
		return attErrorResp(reqType, handle, attEcodeInvalAttrValueLen)
	}
	v := data[0] // the flag byte; data[1] is always 0 in the versions this stack speaks
	before := c.cccd.Get(ch.cccdIndex)
	c.cccd.Set(ch.cccdIndex, v)

	if before&cccdNotifyFlag == 0 && v&cccdNotifyFlag != 0 {
		s.startNotify(c, ch)
	} else if before&cccdNotifyFlag != 0 && v&cccdNotifyFlag == 0 {
		s.stopNotify(c, ch)
	}
	if before&cccdIndicateFlag == 0 && v&cccdIndicateFlag != 0 {
		s.startIndicate(c, ch)
	} else if before&cccdIndicateFlag != 0 && v&cccdIndicateFlag == 0 {
		s.stopIndicate(c, ch)
	}

	if noResp {
		return nil
	}
	return []byte{attOpWriteResp}
}

// handlePrepareWrite implements Prepare Write Request, [Vol 3, Part F,
// 3.4.6.1]: the value is queued, not applied, until a following Execute
// Write Request commits the whole FIFO. The teacher's dispatcher never
// implemented this opcode (it only ever answered attEcodeReqNotSupp).
func (s *Server) handlePrepareWrite(c *conn, b []byte) []byte {
	if len(b) < 4 {
		return attErrorResp(attOpPrepWriteReq, 0, attEcodeInvalidPDU)
	}
	handle := binary.LittleEndian.Uint16(b)
	offset := binary.LittleEndian.Uint16(b[2:])
	data := append([]byte(nil), b[4:]...)

	a, ok := s.table.at(handle)
	if !ok {
		return attErrorResp(attOpPrepWriteReq, handle, attEcodeInvalidHandle)
	}
	if a.kind != attrCharValue || a.perms&charWrite == 0 {
		return attErrorResp(attOpPrepWriteReq, handle, attEcodeWriteNotPerm)
	}
	if status := securityStatus(a.writeSec, c.security); status != StatusSuccess {
		return attErrorResp(attOpPrepWriteReq, handle, status)
	}

	const maxQueued = 32
	c.mu.Lock()
	if len(c.prepared) >= maxQueued {
		c.mu.Unlock()
		return attErrorResp(attOpPrepWriteReq, handle, attEcodePrepQueueFull)
	}
	c.prepared = append(c.prepared, preparedWrite{handle: handle, offset: offset, value: data})
	c.mu.Unlock()

	w := newPDUWriter(c.mtu)
	w.WriteByteFit(attOpPrepWriteResp)
	w.WriteUint16Fit(handle)
	w.WriteUint16Fit(offset)
	w.WriteFit(data)
	return w.Bytes()
}

// handleExecuteWrite implements Execute Write Request, [Vol 3, Part F,
// 3.4.6.3]: flags&0x01 commits the queued writes in FIFO order, anything
// else cancels the queue. Per-handle queued fragments are concatenated in
// the order they were queued before being applied as one write, matching
// how a multi-fragment long write is meant to look to the WriteHandler.
func (s *Server) handleExecuteWrite(c *conn, b []byte) []byte {
	if len(b) < 1 {
		return attErrorResp(attOpExecWriteReq, 0, attEcodeInvalidPDU)
	}
	commit := b[0]&0x01 != 0

	c.mu.Lock()
	queued := c.prepared
	c.prepared = nil
	c.mu.Unlock()

	if !commit {
		return []byte{attOpExecWriteResp}
	}

	byHandle := map[uint16][]byte{}
	var order []uint16
	for _, pw := range queued {
		if _, ok := byHandle[pw.handle]; !ok {
			order = append(order, pw.handle)
		}
		byHandle[pw.handle] = append(byHandle[pw.handle], pw.value...)
	}

	for _, handle := range order {
		a, ok := s.table.at(handle)
		if !ok {
			return attErrorResp(attOpExecWriteReq, handle, attEcodeInvalidHandle)
		}
		status := s.writeAttributeValue(c, a, byHandle[handle])
		if status != StatusSuccess {
			return attErrorResp(attOpExecWriteReq, handle, status)
		}
	}
	return []byte{attOpExecWriteResp}
}

// readAttributeValue materializes a.char's value, either from its static
// bytes or by invoking its ReadHandler, and applies offset, matching
// ReadHandler's contract that it has already adjusted for offset (the
// handler sees offset directly, rather than the dispatcher slicing its
// result, so a handler backed by a stream-like source never has to
// materialize bytes it is about to discard).
func (s *Server) readAttributeValue(c *conn, a attribute, offset, cap int) ([]byte, byte) {
	ch := a.char
	if a.kind == attrDescriptor && a.desc != nil {
		if offset >= len(a.desc.value) && (offset > 0 || len(a.desc.value) > 0) {
			return nil, StatusInvalidOffset
		}
		return clipToCap(a.desc.value[offset:], cap), StatusSuccess
	}
	if ch.value != nil {
		if offset >= len(ch.value) && (offset > 0 || len(ch.value) > 0) {
			return nil, StatusInvalidOffset
		}
		return clipToCap(ch.value[offset:], cap), StatusSuccess
	}
	if ch.rhandler == nil {
		return nil, StatusReadNotPermitted
	}
	resp := newReadResponseWriter(cap)
	req := &ReadRequest{
		Request: Request{Conn: c, Service: ch.service, Characteristic: ch},
		Cap:     cap,
		Offset:  offset,
	}
	ch.rhandler.ServeRead(resp, req)
	return resp.bytes(), resp.status
}

// clipToCap truncates a static attribute value to cap bytes, the same
// bound a handler-backed read is held to by readResponseWriter's
// capacity check. Without it, a static value longer than MTU-1 reaches
// w.WriteFit in handleRead and panics instead of being clipped like
// §4.2 requires.
func clipToCap(value []byte, cap int) []byte {
	if len(value) > cap {
		return value[:cap]
	}
	return value
}

func (s *Server) writeAttributeValue(c *conn, a attribute, data []byte) byte {
	ch := a.char
	if ch.whandler == nil {
		return StatusWriteNotPermitted
	}
	req := Request{Conn: c, Service: ch.service, Characteristic: ch}
	return ch.whandler.ServeWrite(req, data)
}
