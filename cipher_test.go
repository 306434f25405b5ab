package wsshell

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mirrorPair builds a client cipher and the matching server-side cipher, the
// way both ends come out of one key derivation.
func mirrorPair(t *testing.T, etm bool) (client, server *transportCipher) {
	t.Helper()
	keys := deriveKeys(randBytes(32), randBytes(32), randBytes(32))
	client, err := newTransportCipher(keys.keyC2S, keys.ivC2S, keys.macC2S,
		keys.keyS2C, keys.ivS2C, keys.macS2C, etm)
	require.NoError(t, err)
	server, err = newTransportCipher(keys.keyS2C, keys.ivS2C, keys.macS2C,
		keys.keyC2S, keys.ivC2S, keys.macC2S, etm)
	require.NoError(t, err)
	return client, server
}

func TestCipherRoundTrip(t *testing.T) {
	for _, etm := range []bool{false, true} {
		client, server := mirrorPair(t, etm)

		payloads := [][]byte{
			{msgServiceRequest, 0, 0, 0, 12},
			bytes.Repeat([]byte{0x55}, 1),
			bytes.Repeat([]byte{0xAA}, 300),
			randBytes(4096),
			{msgIgnore},
		}
		for i, p := range payloads {
			wire, err := client.encrypt(p)
			require.NoError(t, err)

			got, consumed, err := server.decrypt(wire)
			require.NoErrorf(t, err, "etm=%v packet %d", etm, i)
			assert.Equal(t, p, append([]byte(nil), got...))
			assert.Equal(t, len(wire), consumed)
		}
		assert.Equal(t, client.seqOut, server.seqIn)
		assert.Equal(t, client.encIV, server.decIV)
	}
}

func TestCipherRoundTripBothDirections(t *testing.T) {
	client, server := mirrorPair(t, true)

	out, err := client.encrypt([]byte("ping"))
	require.NoError(t, err)
	_, _, err = server.decrypt(out)
	require.NoError(t, err)

	back, err := server.encrypt([]byte("pong"))
	require.NoError(t, err)
	got, _, err := client.decrypt(back)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), append([]byte(nil), got...))
}

func TestCipherNeedMore(t *testing.T) {
	for _, etm := range []bool{false, true} {
		client, server := mirrorPair(t, etm)

		wire, err := client.encrypt([]byte("partial delivery"))
		require.NoError(t, err)

		seqBefore, ivBefore := server.seqIn, append([]byte(nil), server.decIV...)
		for _, n := range []int{0, 1, 4, aesBlockSize, len(wire) - 1} {
			_, _, err := server.decrypt(wire[:n])
			assert.ErrorIsf(t, err, errNeedMore, "etm=%v prefix %d", etm, n)
			assert.Equal(t, seqBefore, server.seqIn)
			assert.Equal(t, ivBefore, server.decIV)
		}

		// The full buffer still decrypts after all the short attempts.
		got, _, err := server.decrypt(wire)
		require.NoError(t, err)
		assert.Equal(t, []byte("partial delivery"), append([]byte(nil), got...))
	}
}

func TestCipherMACTampering(t *testing.T) {
	for _, etm := range []bool{false, true} {
		for _, flip := range []struct {
			name string
			pos  func(wire []byte) int
		}{
			{"ciphertext", func(w []byte) int { return aesBlockSize + 1 }},
			{"mac tail", func(w []byte) int { return len(w) - 1 }},
		} {
			client, server := mirrorPair(t, etm)
			wire, err := client.encrypt([]byte("integrity matters"))
			require.NoError(t, err)

			seqBefore, ivBefore := server.seqIn, append([]byte(nil), server.decIV...)

			tampered := append([]byte(nil), wire...)
			tampered[flip.pos(tampered)] ^= 0x01

			_, _, err = server.decrypt(tampered)
			var macErr *MacVerificationError
			require.ErrorAsf(t, err, &macErr, "etm=%v flip=%s", etm, flip.name)
			assert.Equal(t, seqBefore, macErr.Seq)

			// No state advance: the untampered packet still decrypts.
			assert.Equal(t, seqBefore, server.seqIn)
			assert.Equal(t, ivBefore, server.decIV)
			got, _, err := server.decrypt(wire)
			require.NoError(t, err)
			assert.Equal(t, []byte("integrity matters"), append([]byte(nil), got...))
		}
	}
}

func TestCipherSequenceStart(t *testing.T) {
	c, _ := mirrorPair(t, true)
	assert.Equal(t, uint32(firstEncryptedSeq), c.seqOut)
	assert.Equal(t, uint32(firstEncryptedSeq), c.seqIn)
}

func TestCipherRejectsOversizedPayload(t *testing.T) {
	c, _ := mirrorPair(t, true)
	_, err := c.encrypt(make([]byte, maxPacketSize+1))
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestAdvanceIVCarry(t *testing.T) {
	iv := make([]byte, aesBlockSize)
	iv[15] = 0xFF
	advanceIV(iv, aesBlockSize) // one block
	assert.Equal(t, byte(0x00), iv[15])
	assert.Equal(t, byte(0x01), iv[14])

	iv = bytes.Repeat([]byte{0xFF}, aesBlockSize)
	advanceIV(iv, aesBlockSize)
	assert.Equal(t, make([]byte, aesBlockSize), iv)

	// Partial blocks round up.
	iv = make([]byte, aesBlockSize)
	advanceIV(iv, 1)
	assert.Equal(t, byte(1), iv[15])
	advanceIV(iv, aesBlockSize+1)
	assert.Equal(t, byte(3), iv[15])
}
