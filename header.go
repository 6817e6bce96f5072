package usbtmc

import "encoding/binary"

// Message IDs, carried in byte 0 of every bulk header.
const (
	msgDevDepMsgOut        byte = 1
	msgRequestDevDepMsgIn  byte = 2
	msgDevDepMsgIn         byte = 2
	msgVendorSpecificOut   byte = 126
	msgRequestVendorSpecIn byte = 127
	msgTrigger             byte = 128
)

// headerLen is the fixed size of a USBTMC bulk message header.
const headerLen = 12

// attribute bits, byte 8 of the header.
const (
	attrEOM          byte = 1 << 0 // DEV_DEP_MSG_OUT: end of message
	attrTermCharEnab byte = 1 << 1 // REQUEST_DEV_DEP_MSG_IN: term char enabled
)

// bulkOutHeader fills the 12-byte DEV_DEP_MSG_OUT header for a chunk of
// datalen bytes, setting EOM when this is the last chunk of the message.
func bulkOutHeader(tag byte, datalen int, eom bool) [headerLen]byte {
	var h [headerLen]byte
	h[0] = msgDevDepMsgOut
	h[1] = tag
	h[2] = invTag(tag)
	h[3] = 0
	binary.LittleEndian.PutUint32(h[4:8], uint32(datalen))
	if eom {
		h[8] = attrEOM
	}
	h[9] = 0
	return h
}

// bulkInRequestHeader fills the 12-byte REQUEST_DEV_DEP_MSG_IN header asking
// for up to maxLen bytes, optionally honoring a termination character.
func bulkInRequestHeader(tag byte, maxLen int, termChar byte, termEnabled bool) [headerLen]byte {
	var h [headerLen]byte
	h[0] = msgRequestDevDepMsgIn
	h[1] = tag
	h[2] = invTag(tag)
	h[3] = 0
	binary.LittleEndian.PutUint32(h[4:8], uint32(maxLen))
	if termEnabled {
		h[8] = attrTermCharEnab
		h[9] = termChar
	}
	return h
}

// triggerHeader fills the 12-byte TRIGGER header.
func triggerHeader(tag byte) [headerLen]byte {
	var h [headerLen]byte
	h[0] = msgTrigger
	h[1] = tag
	h[2] = invTag(tag)
	return h
}

// invTag returns the bitwise complement of tag, as carried in byte 2 of
// every bulk header (invariant: byte2 == ~byte1).
func invTag(tag byte) byte {
	return ^tag
}

// decodedInHeader is the parsed form of a DEV_DEP_MSG_IN response header.
type decodedInHeader struct {
	msgID   byte
	tag     byte
	payload int
	eom     bool
}

// decodeInHeader parses the 12-byte header prefix of a bulk-in response.
// It does not validate the tag; callers use validateResponse for that.
func decodeInHeader(b []byte) (decodedInHeader, error) {
	if len(b) < headerLen {
		return decodedInHeader{}, newErrorf("decodeInHeader", CodeProtocolError,
			"short header: got %d bytes, want %d", len(b), headerLen)
	}
	d := decodedInHeader{
		msgID:   b[0],
		tag:     b[1],
		payload: int(binary.LittleEndian.Uint32(b[4:8])),
		eom:     b[8]&attrEOM != 0,
	}
	return d, nil
}

// validateResponse enforces invariant 3: a READ response's MsgID must be
// DEV_DEP_MSG_IN and its tag must match the tag of the immediately preceding
// REQUEST_DEV_DEP_MSG_IN of the same transaction.
func validateResponse(d decodedInHeader, expectedTag byte) error {
	if d.msgID != msgDevDepMsgIn {
		return newErrorf("validateResponse", CodeProtocolError,
			"unexpected MsgID %d, want %d", d.msgID, msgDevDepMsgIn)
	}
	if d.tag != expectedTag {
		return newErrorf("validateResponse", CodeProtocolError,
			"tag mismatch: got %d, want %d", d.tag, expectedTag)
	}
	return nil
}

// padTo4 returns n rounded up to the next multiple of 4, as required by the
// 4-byte tail padding every USBTMC bulk frame carries.
func padTo4(n int) int {
	rem := n % 4
	if rem == 0 {
		return n
	}
	return n + (4 - rem)
}

// padded appends zero padding to buf so its length is a multiple of 4,
// returning the (possibly reallocated) slice.
func padded(buf []byte) []byte {
	want := padTo4(len(buf))
	if want == len(buf) {
		return buf
	}
	out := make([]byte, want)
	copy(out, buf)
	return out
}
