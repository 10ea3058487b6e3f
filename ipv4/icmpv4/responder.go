package icmpv4

import "github.com/juliusaf/usertcp"

// Reply builds an ICMPv4 echo reply in place over the bytes of an echo
// request frame: the type byte is flipped from 8 (echo) to 0 (echo reply)
// and the checksum is recomputed. The identifier, sequence number and data
// are left untouched, matching the original request.
//
// Reply reports whether buf held an answerable echo request. Any other
// (type, code) pair, or a checksum mismatch, is left for the caller to drop.
func Reply(buf []byte) (answered bool, err error) {
	frm, err := NewFrame(buf)
	if err != nil {
		return false, err
	}
	var crc usertcp.CRC791
	frm.CRCWrite(&crc)
	if crc.Sum16() != 0 {
		// Checksum does not validate against the packet as received; drop.
		return false, nil
	}
	if frm.Type() != TypeEcho || frm.Code() != 0 {
		return false, nil
	}
	frm.SetType(TypeEchoReply)
	frm.SetCRC(0)
	crc.Reset()
	frm.CRCWrite(&crc)
	frm.SetCRC(crc.Sum16())
	return true, nil
}
