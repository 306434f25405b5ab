package wsshell

// wire.go - Binary packet building/parsing and RFC 4251 primitives
// Author: CyberPanther232

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RFC 4253 Page 6. Binary Packet Protocol
/*
	Each packet is in the following format:

	uint32	packet_length
	byte	padding_length
	byte[n1]	payload; n1 = packet_length - padding_length - 1
	byte[n2]	padding; n2 = padding_length

	random padding
	   Arbitrary bytes that are added to make the length of the packet a
	   multiple of the cipher block size or 8, whichever is larger.  The
	   padding MUST be at least four bytes long.
*/

const (
	minPadding    = 4
	aesBlockSize  = 16
	hmacSHA256Len = 32
	maxPacketSize = 35000
)

// buildPacket frames a payload as [packet_length][padding_length][payload]
// [random padding]. In encrypt-then-MAC mode the 4-byte length field sits
// outside the encrypted unit, so it is excluded from the alignment
// calculation; in MAC-then-encrypt mode it is included.
func buildPacket(payload []byte, etm bool) []byte {
	aligned := 1 + len(payload) // padding_length byte + payload
	if !etm {
		aligned += 4 // length field is part of the encrypted unit
	}
	paddingLen := minPadding + (aesBlockSize-(aligned+minPadding)%aesBlockSize)%aesBlockSize

	packetLen := uint32(1 + len(payload) + paddingLen)

	buf := new(bytes.Buffer)
	buf.Grow(4 + int(packetLen))
	writeUint32(buf, packetLen)
	buf.WriteByte(byte(paddingLen))
	buf.Write(payload)
	buf.Write(randBytes(paddingLen))
	return buf.Bytes()
}

// parsePacket decodes one plaintext packet from the front of data. It
// returns errNeedMore until a complete packet is buffered.
func parsePacket(data []byte) (payload []byte, consumed int, err error) {
	if len(data) < 5 {
		return nil, 0, errNeedMore
	}
	packetLen := binary.BigEndian.Uint32(data[:4])
	if packetLen < 2 || packetLen > maxPacketSize {
		return nil, 0, &ProtocolError{Msg: fmt.Sprintf("invalid packet length %d", packetLen)}
	}
	if uint32(len(data)) < 4+packetLen {
		return nil, 0, errNeedMore
	}
	paddingLen := uint32(data[4])
	if paddingLen+1 > packetLen {
		return nil, 0, &ProtocolError{Msg: fmt.Sprintf("padding %d exceeds packet length %d", paddingLen, packetLen)}
	}
	payload = data[5 : 4+packetLen-paddingLen]
	return payload, int(4 + packetLen), nil
}

// Writers. All multi-byte values are big-endian per RFC 4251 section 5.

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

// writeMPInt writes a big-endian byte string as an SSH mpint: leading zero
// bytes stripped, then one 0x00 re-inserted whenever the MSB is set so the
// value stays positive. Zero encodes as the empty string.
func writeMPInt(buf *bytes.Buffer, b []byte) {
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	if len(b) == 0 {
		writeUint32(buf, 0)
		return
	}
	if b[0]&0x80 != 0 {
		writeUint32(buf, uint32(len(b)+1))
		buf.WriteByte(0)
		buf.Write(b)
		return
	}
	writeBytes(buf, b)
}

// mpint returns the standalone mpint encoding (length prefix included) of a
// big-endian byte string. The exchange hash and key derivation both hash K
// in exactly this form.
func mpint(b []byte) []byte {
	buf := new(bytes.Buffer)
	writeMPInt(buf, b)
	return buf.Bytes()
}

// reader is a bounds-checked cursor over a received payload. Every getter
// reports errNeedMore on truncation; callers that already hold a complete
// packet upgrade that to a ProtocolError via strictErr.
type reader struct {
	buf []byte
	off int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, errNeedMore
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) readBool() (bool, error) {
	b, err := r.readByte()
	return b != 0, err
}

func (r *reader) readUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, errNeedMore
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, errNeedMore
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// readString reads a length-prefixed byte string. The bytes alias the
// underlying buffer; copy before holding on to them.
func (r *reader) readString() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if uint32(r.remaining()) < n {
		return nil, errNeedMore
	}
	return r.readBytes(int(n))
}
