package wsshell

// kex.go - Key exchange algorithms, exchange hash, key derivation
// Author: CyberPanther232

import (
	"bytes"
	"math/big"
)

const (
	kexCurve25519       = "curve25519-sha256"
	kexCurve25519LibSSH = "curve25519-sha256@libssh.org"
	kexDHGroup14SHA256  = "diffie-hellman-group14-sha256"
)

// handshakeMagics is the data that always feeds the exchange hash: both
// identification lines (without CR/LF) and both raw KEXINIT payloads
// (message byte included, packet frame excluded).
type handshakeMagics struct {
	clientVersion []byte
	serverVersion []byte
	clientKexInit []byte
	serverKexInit []byte
}

// kexResult is the outcome of one exchange. K is the shared secret as a
// big-endian byte string; it is hashed and derived from in mpint form.
type kexResult struct {
	H       []byte
	K       []byte
	HostKey []byte
}

// kexAlgorithm holds the ephemeral secret for exactly the duration of the
// exchange. initMsg produces the payload of the client's first KEX message;
// finish consumes the server's reply payload (message byte stripped).
type kexAlgorithm interface {
	name() string
	initMsg() ([]byte, error)
	finish(reply []byte, magics *handshakeMagics) (*kexResult, error)
	destroy()
}

func newKexAlgorithm(name string) (kexAlgorithm, error) {
	switch name {
	case kexCurve25519, kexCurve25519LibSSH:
		return &curve25519Kex{}, nil
	case kexDHGroup14SHA256:
		return newDHGroup14(), nil
	}
	return nil, &KexError{Msg: "unsupported kex algorithm " + name}
}

// exchangeHash computes H per RFC 4253 section 8 / RFC 5656 section 4:
// every field length-prefixed, with epk holding the two ephemeral publics
// already encoded the way the active algorithm puts them on the wire.
func exchangeHash(magics *handshakeMagics, hostKey, epk, kMpint []byte) []byte {
	h := new(bytes.Buffer)
	writeBytes(h, magics.clientVersion)
	writeBytes(h, magics.serverVersion)
	writeBytes(h, magics.clientKexInit)
	writeBytes(h, magics.serverKexInit)
	writeBytes(h, hostKey)
	h.Write(epk)
	h.Write(kMpint)
	return sha256Sum(h.Bytes())
}

// curve25519Kex implements curve25519-sha256 (RFC 8731). Both ephemeral
// publics appear in the hash as plain byte strings.
type curve25519Kex struct {
	priv []byte
	pub  []byte
}

func (k *curve25519Kex) name() string { return kexCurve25519 }

func (k *curve25519Kex) initMsg() ([]byte, error) {
	priv, pub, err := x25519Keypair()
	if err != nil {
		return nil, &KexError{Msg: "X25519 keypair generation failed: " + err.Error()}
	}
	k.priv, k.pub = priv, pub

	payload := new(bytes.Buffer)
	payload.WriteByte(msgKexInitDH)
	writeBytes(payload, k.pub)
	return payload.Bytes(), nil
}

func (k *curve25519Kex) finish(reply []byte, magics *handshakeMagics) (*kexResult, error) {
	r := newReader(reply)
	hostKey, err := r.readString()
	if err != nil {
		return nil, strictErr(err, "host key in KEX_ECDH_REPLY")
	}
	serverPub, err := r.readString()
	if err != nil {
		return nil, strictErr(err, "server ephemeral in KEX_ECDH_REPLY")
	}
	if _, err := r.readString(); err != nil { // signature, consumed but not verified here
		return nil, strictErr(err, "signature in KEX_ECDH_REPLY")
	}

	secret, err := x25519Shared(k.priv, serverPub)
	if err != nil {
		return nil, &KexError{Msg: "X25519 exchange failed: " + err.Error()}
	}

	epk := new(bytes.Buffer)
	writeBytes(epk, k.pub)
	writeBytes(epk, serverPub)

	hostKeyCopy := append([]byte(nil), hostKey...)
	return &kexResult{
		H:       exchangeHash(magics, hostKeyCopy, epk.Bytes(), mpint(secret)),
		K:       secret,
		HostKey: hostKeyCopy,
	}, nil
}

func (k *curve25519Kex) destroy() {
	zero(k.priv)
	k.priv = nil
}

// dhGroup14 implements diffie-hellman-group14-sha256 over the RFC 3526
// 2048-bit MODP group. Publics are mpints in the hash.
type dhGroup14 struct {
	p, g, pMinus1 *big.Int
	x             *big.Int
	e             *big.Int
}

// RFC 3526 section 3.
const group14PrimeHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

func newDHGroup14() *dhGroup14 {
	p, _ := new(big.Int).SetString(group14PrimeHex, 16)
	return &dhGroup14{
		p:       p,
		g:       big.NewInt(2),
		pMinus1: new(big.Int).Sub(p, big.NewInt(1)),
	}
}

func (k *dhGroup14) name() string { return kexDHGroup14SHA256 }

var (
	bigOne = big.NewInt(1)
	bigTwo = big.NewInt(2)
)

func (k *dhGroup14) initMsg() ([]byte, error) {
	// Private exponent: a random 256-bit integer kept in [2, p-2]. 256 bits
	// of entropy matches the strength of the negotiated hash.
	bound := new(big.Int).Lsh(bigOne, 256)
	for {
		x, err := randInt(bound)
		if err != nil {
			return nil, &KexError{Msg: "DH private generation failed: " + err.Error()}
		}
		if x.Cmp(bigTwo) < 0 {
			continue
		}
		e := modPow(k.g, x, k.p)
		if e.Cmp(bigOne) <= 0 || e.Cmp(k.pMinus1) >= 0 {
			continue
		}
		k.x, k.e = x, e
		break
	}

	payload := new(bytes.Buffer)
	payload.WriteByte(msgKexInitDH)
	writeMPInt(payload, k.e.Bytes())
	return payload.Bytes(), nil
}

func (k *dhGroup14) finish(reply []byte, magics *handshakeMagics) (*kexResult, error) {
	r := newReader(reply)
	hostKey, err := r.readString()
	if err != nil {
		return nil, strictErr(err, "host key in KEXDH_REPLY")
	}
	fBytes, err := r.readString()
	if err != nil {
		return nil, strictErr(err, "server ephemeral in KEXDH_REPLY")
	}
	if _, err := r.readString(); err != nil {
		return nil, strictErr(err, "signature in KEXDH_REPLY")
	}

	f := new(big.Int).SetBytes(fBytes)
	if f.Cmp(bigOne) <= 0 || f.Cmp(k.pMinus1) >= 0 {
		return nil, &KexError{Msg: "server DH public out of range"}
	}
	secret := modPow(f, k.x, k.p).Bytes()

	epk := new(bytes.Buffer)
	writeMPInt(epk, k.e.Bytes())
	writeMPInt(epk, fBytes)

	hostKeyCopy := append([]byte(nil), hostKey...)
	return &kexResult{
		H:       exchangeHash(magics, hostKeyCopy, epk.Bytes(), mpint(secret)),
		K:       secret,
		HostKey: hostKeyCopy,
	}, nil
}

func (k *dhGroup14) destroy() {
	if k.x != nil {
		k.x.SetInt64(0)
		k.x = nil
	}
}

// sessionKeys is the six-way split of RFC 4253 section 7.2. Client-to-server
// uses letters A/C/E, server-to-client B/D/F.
type sessionKeys struct {
	ivC2S, ivS2C   []byte
	keyC2S, keyS2C []byte
	macC2S, macS2C []byte
}

// deriveKeys expands (K, H) under the session identifier. The first block of
// SHA-256(mpint(K) || H || letter || sessionID) already covers the 16-byte
// keys and IVs and the 32-byte MAC keys; the extension loop (the K1..Kn
// chaining of the RFC) only runs for lengths beyond one 32-byte block.
func deriveKeys(k, h, sessionID []byte) *sessionKeys {
	km := mpint(k)
	derive := func(letter byte, length int) []byte {
		out := sha256Sum(km, h, []byte{letter}, sessionID)
		for len(out) < length {
			out = append(out, sha256Sum(km, h, out)...)
		}
		return out[:length]
	}
	return &sessionKeys{
		ivC2S:  derive('A', aesBlockSize),
		ivS2C:  derive('B', aesBlockSize),
		keyC2S: derive('C', 16),
		keyS2C: derive('D', 16),
		macC2S: derive('E', hmacSHA256Len),
		macS2C: derive('F', hmacSHA256Len),
	}
}

func (s *sessionKeys) destroy() {
	zero(s.ivC2S)
	zero(s.ivS2C)
	zero(s.keyC2S)
	zero(s.keyS2C)
	zero(s.macC2S)
	zero(s.macS2C)
}
