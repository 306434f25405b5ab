package wsshell

// crypto.go - Thin adapters over the crypto primitives the protocol needs
// Author: CyberPanther232

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"
)

// The protocol layers above get SHA-256, HMAC-SHA-256, AES-128-CTR, X25519
// and modular exponentiation only through these seams.

func sha256Sum(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// hmacSHA256 computes HMAC-SHA-256 over u32(seq) followed by the given
// parts, the shape both MAC modes share.
func hmacSHA256(key []byte, seq uint32, parts ...[]byte) []byte {
	m := hmac.New(sha256.New, key)
	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], seq)
	m.Write(seqBuf[:])
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

// constantTimeEqual never short-circuits; MAC comparison must not leak
// where the first mismatching byte sits.
func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func newAESBlock(key []byte) (cipher.Block, error) {
	return aes.NewCipher(key)
}

// aesCTR returns a one-shot CTR stream starting at iv. The caller owns IV
// advancement; the returned stream is discarded after a single packet.
func aesCTR(block cipher.Block, iv []byte) cipher.Stream {
	return cipher.NewCTR(block, iv)
}

func randBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic("wsshell: rand source failed: " + err.Error())
	}
	return b
}

// randInt returns a uniform random integer in [0, max).
func randInt(max *big.Int) (*big.Int, error) {
	return rand.Int(rand.Reader, max)
}

func modPow(base, exp, mod *big.Int) *big.Int {
	return new(big.Int).Exp(base, exp, mod)
}

// x25519Keypair generates an ephemeral keypair; the 32-byte public key goes
// on the wire as a plain byte string.
func x25519Keypair() (priv, pub []byte, err error) {
	priv = randBytes(32)
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func x25519Shared(priv, peerPub []byte) ([]byte, error) {
	return curve25519.X25519(priv, peerPub)
}

// zero wipes key material in place. Go gives no stronger guarantee, but it
// keeps derived keys out of lingering heap slices after Close.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
