package wsshell

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testCredentials builds an in-memory ed25519 identity. The public key
// doubles as the "certificate" blob; the engine treats it opaquely either
// way.
func testCredentials(t *testing.T, user string) (*Credentials, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return &Credentials{
		User:     user,
		KeyType:  sshPub.Type(),
		CertBlob: sshPub.Marshal(),
		Signer:   signer,
	}, pub
}

func newTestConn(t *testing.T, creds *Credentials) (*Conn, *captureTransport) {
	t.Helper()
	ct := newCaptureTransport()
	return &Conn{
		transport: ct,
		creds:     creds,
		opts:      (*Options)(nil).withDefaults(),
		log:       discardLogger(),
		sessionID: randBytes(32),
	}, ct
}

func TestSignAuthBlob(t *testing.T) {
	creds, pub := testCredentials(t, "operator")
	c, _ := newTestConn(t, creds)

	sigField, err := c.signAuthBlob()
	require.NoError(t, err)

	r := newReader(sigField)
	alg, err := r.readString()
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519", string(alg))
	sig, err := r.readString()
	require.NoError(t, err)
	assert.Zero(t, r.remaining())

	// Reconstruct the session-bound blob and check the signature against
	// the actual public key.
	signed := c.authBlobForTest()
	assert.True(t, ed25519.Verify(pub, signed, sig))
}

// authBlobForTest rebuilds the signed bytes the same way signAuthBlob does.
func (c *Conn) authBlobForTest() []byte {
	toSign := new(bytes.Buffer)
	writeBytes(toSign, c.sessionID)
	toSign.WriteByte(msgUserauthRequest)
	writeString(toSign, c.creds.User)
	writeString(toSign, serviceConnection)
	writeString(toSign, authMethodPublicKey)
	toSign.WriteByte(1)
	writeString(toSign, c.creds.KeyType)
	writeBytes(toSign, c.creds.CertBlob)
	return toSign.Bytes()
}

func TestSignAuthBlobCertAlgoCollapses(t *testing.T) {
	creds, _ := testCredentials(t, "operator")
	creds.KeyType = "ssh-ed25519-cert-v01@openssh.com"
	c, _ := newTestConn(t, creds)

	sigField, err := c.signAuthBlob()
	require.NoError(t, err)

	r := newReader(sigField)
	alg, err := r.readString()
	require.NoError(t, err)
	// Certificates sign under the plain key algorithm.
	assert.Equal(t, "ssh-ed25519", string(alg))
}

func TestSendUserauthRequestWire(t *testing.T) {
	creds, _ := testCredentials(t, "operator")
	c, ct := newTestConn(t, creds)

	c.mu.Lock()
	err := c.sendUserauthRequest()
	c.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, authSigned, c.auth.phase)

	payload := ct.lastPayload(t)
	require.Equal(t, byte(msgUserauthRequest), payload[0])
	r := newReader(payload[1:])
	user, _ := r.readString()
	svc, _ := r.readString()
	method, _ := r.readString()
	hasSig, _ := r.readBool()
	keyType, _ := r.readString()
	blob, _ := r.readString()
	assert.Equal(t, "operator", string(user))
	assert.Equal(t, serviceConnection, string(svc))
	assert.Equal(t, authMethodPublicKey, string(method))
	assert.True(t, hasSig)
	assert.Equal(t, creds.KeyType, string(keyType))
	assert.Equal(t, creds.CertBlob, blob)
	_, err = r.readString() // signature field present
	assert.NoError(t, err)
}

func TestHandleAuthFailureMessages(t *testing.T) {
	creds, _ := testCredentials(t, "operator")

	failure := new(bytes.Buffer)
	failure.WriteByte(msgUserauthFailure)
	writeString(failure, "publickey,password")
	failure.WriteByte(0)

	t.Run("key rejected", func(t *testing.T) {
		c, _ := newTestConn(t, creds)
		err := c.handleAuthFailure(failure.Bytes())
		var aerr *AuthError
		require.ErrorAs(t, err, &aerr)
		assert.False(t, aerr.ReceivedPKOK)
		assert.Contains(t, aerr.Error(), "rejected the key")
		assert.Equal(t, "publickey,password", aerr.MethodsOffered)
		assert.Equal(t, authFailed, c.auth.phase)
	})

	t.Run("signature rejected after PK_OK", func(t *testing.T) {
		c, _ := newTestConn(t, creds)
		c.auth.receivedPKOK = true
		err := c.handleAuthFailure(failure.Bytes())
		var aerr *AuthError
		require.ErrorAs(t, err, &aerr)
		assert.True(t, aerr.ReceivedPKOK)
		assert.Contains(t, aerr.Error(), "rejected the signature")
	})
}

func TestHandlePKOKResends(t *testing.T) {
	creds, _ := testCredentials(t, "operator")
	c, ct := newTestConn(t, creds)

	c.mu.Lock()
	err := c.handlePKOK()
	c.mu.Unlock()
	require.NoError(t, err)
	assert.True(t, c.auth.receivedPKOK)
	assert.Equal(t, authSigned, c.auth.phase)

	payload := ct.lastPayload(t)
	assert.Equal(t, byte(msgUserauthRequest), payload[0])
}
