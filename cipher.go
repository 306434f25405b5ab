package wsshell

// cipher.go - Stateful per-direction packet encryption (AES-128-CTR + HMAC-SHA-256)
// Author: CyberPanther232

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// firstEncryptedSeq is the sequence number both directions start at once
// NEWKEYS flips encryption on. The handshake script fixes it: the version
// line is not a packet, then exactly three unencrypted packets go out on
// each side (KEXINIT = seq 0, KEXDH/ECDH init or reply = seq 1, NEWKEYS =
// seq 2), so the first encrypted packet carries sequence number 3.
const firstEncryptedSeq = 3

// transportCipher holds both directions of the negotiated AES-128-CTR +
// HMAC-SHA-256 transport. The IVs are the CTR counter state; they advance
// by the number of AES blocks consumed, and only once a packet fully
// succeeds, so a short buffer or a MAC failure leaves the state untouched.
type transportCipher struct {
	encBlock cipher.Block
	decBlock cipher.Block
	encIV    []byte
	decIV    []byte
	macOut   []byte
	macIn    []byte
	seqOut   uint32
	seqIn    uint32
	etm      bool
}

// newTransportCipher wires one direction pair. The client passes its
// client-to-server keys as enc* and server-to-client as dec*; a server (or
// a test peer) passes them swapped.
func newTransportCipher(encKey, encIV, macOut, decKey, decIV, macIn []byte, etm bool) (*transportCipher, error) {
	eb, err := newAESBlock(encKey)
	if err != nil {
		return nil, err
	}
	db, err := newAESBlock(decKey)
	if err != nil {
		return nil, err
	}
	return &transportCipher{
		encBlock: eb,
		decBlock: db,
		encIV:    append([]byte(nil), encIV...),
		decIV:    append([]byte(nil), decIV...),
		macOut:   append([]byte(nil), macOut...),
		macIn:    append([]byte(nil), macIn...),
		seqOut:   firstEncryptedSeq,
		seqIn:    firstEncryptedSeq,
		etm:      etm,
	}, nil
}

// advanceIV adds the number of consumed AES blocks to a big-endian CTR
// counter, carrying across the full 16 bytes.
func advanceIV(iv []byte, consumed int) {
	blocks := uint64((consumed + aesBlockSize - 1) / aesBlockSize)
	for i := len(iv) - 1; i >= 0 && blocks > 0; i-- {
		sum := uint64(iv[i]) + (blocks & 0xff)
		iv[i] = byte(sum)
		blocks = (blocks >> 8) + (sum >> 8)
	}
}

// encrypt frames and encrypts one payload, returning the wire bytes
// (ciphertext plus MAC trailer) and advancing seqOut and the outbound IV.
func (c *transportCipher) encrypt(payload []byte) ([]byte, error) {
	if len(payload) > maxPacketSize {
		return nil, &ProtocolError{Msg: fmt.Sprintf("outbound payload of %d bytes exceeds packet limit", len(payload))}
	}
	pkt := buildPacket(payload, c.etm)

	var out []byte
	if c.etm {
		// Encrypt-then-MAC: the length stays in clear; MAC covers
		// seq || length || ciphertext.
		length, inner := pkt[:4], pkt[4:]
		ct := make([]byte, len(inner))
		aesCTR(c.encBlock, c.encIV).XORKeyStream(ct, inner)
		mac := hmacSHA256(c.macOut, c.seqOut, length, ct)
		out = make([]byte, 0, len(pkt)+len(mac))
		out = append(out, length...)
		out = append(out, ct...)
		out = append(out, mac...)
		advanceIV(c.encIV, len(inner))
	} else {
		// MAC-then-encrypt: MAC covers seq || plaintext packet; the whole
		// packet, length included, is encrypted.
		mac := hmacSHA256(c.macOut, c.seqOut, pkt)
		ct := make([]byte, len(pkt))
		aesCTR(c.encBlock, c.encIV).XORKeyStream(ct, pkt)
		out = append(ct, mac...)
		advanceIV(c.encIV, len(pkt))
	}
	c.seqOut++
	return out, nil
}

// decrypt decodes one packet from the front of data. errNeedMore is the
// only non-fatal outcome and leaves every piece of state untouched; seqIn
// and the inbound IV advance only after MAC check and payload extraction.
func (c *transportCipher) decrypt(data []byte) (payload []byte, consumed int, err error) {
	if c.etm {
		return c.decryptETM(data)
	}
	return c.decryptMtE(data)
}

func (c *transportCipher) decryptETM(data []byte) ([]byte, int, error) {
	if len(data) < 4+hmacSHA256Len {
		return nil, 0, errNeedMore
	}
	packetLen := binary.BigEndian.Uint32(data[:4])
	if packetLen < 5 || packetLen > maxPacketSize {
		return nil, 0, &ProtocolError{Msg: fmt.Sprintf("invalid encrypted packet length %d", packetLen)}
	}
	total := 4 + int(packetLen) + hmacSHA256Len
	if len(data) < total {
		return nil, 0, errNeedMore
	}

	ct := data[4 : 4+packetLen]
	expected := hmacSHA256(c.macIn, c.seqIn, data[:4], ct)
	if !constantTimeEqual(expected, data[4+packetLen:total]) {
		return nil, 0, &MacVerificationError{Seq: c.seqIn}
	}

	inner := make([]byte, packetLen)
	aesCTR(c.decBlock, c.decIV).XORKeyStream(inner, ct)

	paddingLen := uint32(inner[0])
	if paddingLen < minPadding {
		return nil, 0, &ProtocolError{Msg: fmt.Sprintf("padding length %d below minimum", paddingLen)}
	}
	if paddingLen+1 > packetLen {
		return nil, 0, &ProtocolError{Msg: "padding consumes entire packet"}
	}
	payload := inner[1 : packetLen-paddingLen]

	advanceIV(c.decIV, int(packetLen))
	c.seqIn++
	return payload, total, nil
}

func (c *transportCipher) decryptMtE(data []byte) ([]byte, int, error) {
	if len(data) < aesBlockSize+hmacSHA256Len {
		return nil, 0, errNeedMore
	}

	// The length field is encrypted, so the first block has to come off
	// before the total size is known. The stream is built fresh from the
	// stored IV each attempt, so bailing out with errNeedMore here costs
	// nothing: the IV has not been committed.
	stream := aesCTR(c.decBlock, c.decIV)
	first := make([]byte, aesBlockSize)
	stream.XORKeyStream(first, data[:aesBlockSize])

	packetLen := binary.BigEndian.Uint32(first[:4])
	if packetLen < 5 || packetLen > maxPacketSize {
		return nil, 0, &ProtocolError{Msg: fmt.Sprintf("invalid encrypted packet length %d", packetLen)}
	}
	total := 4 + int(packetLen) + hmacSHA256Len
	if len(data) < total {
		return nil, 0, errNeedMore
	}

	plaintext := make([]byte, 4+packetLen)
	copy(plaintext, first)
	stream.XORKeyStream(plaintext[aesBlockSize:], data[aesBlockSize:4+packetLen])

	expected := hmacSHA256(c.macIn, c.seqIn, plaintext)
	if !constantTimeEqual(expected, data[4+packetLen:total]) {
		return nil, 0, &MacVerificationError{Seq: c.seqIn}
	}

	paddingLen := uint32(plaintext[4])
	if paddingLen < minPadding {
		return nil, 0, &ProtocolError{Msg: fmt.Sprintf("padding length %d below minimum", paddingLen)}
	}
	if paddingLen+1 > packetLen {
		return nil, 0, &ProtocolError{Msg: "padding consumes entire packet"}
	}
	payload := plaintext[5 : 4+packetLen-paddingLen]

	advanceIV(c.decIV, 4+int(packetLen))
	c.seqIn++
	return payload, total, nil
}

// destroy wipes the symmetric key material. The AES key schedules inside
// the block ciphers are beyond reach; the MAC keys and counters are not.
func (c *transportCipher) destroy() {
	zero(c.macOut)
	zero(c.macIn)
	zero(c.encIV)
	zero(c.decIV)
}
