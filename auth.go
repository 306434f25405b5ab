package wsshell

// auth.go - Publickey-with-certificate user authentication
// Author: CyberPanther232

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"strings"
)

// The auth machine short-circuits the RFC 4252 query round: the first
// USERAUTH_REQUEST already carries the signature. Servers that insist on
// treating it as the query form answer PK_OK, in which case the request is
// signed again and resent.

// startAuth runs once the server's NEWKEYS lands: request the ssh-userauth
// service.
func (c *Conn) startAuth() error {
	payload := new(bytes.Buffer)
	payload.WriteByte(msgServiceRequest)
	writeString(payload, serviceUserAuth)
	if err := c.sendPacketLocked(payload.Bytes()); err != nil {
		return err
	}
	c.auth.phase = authServiceRequested
	return nil
}

func (c *Conn) handleServiceAccept(payload []byte) error {
	r := newReader(payload[1:])
	svc, err := r.readString()
	if err != nil {
		return strictErr(err, "service name in SERVICE_ACCEPT")
	}
	if string(svc) != serviceUserAuth {
		return &ProtocolError{Msg: "server accepted unexpected service " + string(svc)}
	}
	return c.sendUserauthRequest()
}

// sendUserauthRequest signs the session-bound blob and sends the publickey
// request with the signature attached.
func (c *Conn) sendUserauthRequest() error {
	sig, err := c.signAuthBlob()
	if err != nil {
		c.auth.phase = authFailed
		c.auth.lastErr = err
		return err
	}

	req := new(bytes.Buffer)
	req.WriteByte(msgUserauthRequest)
	writeString(req, c.creds.User)
	writeString(req, serviceConnection)
	writeString(req, authMethodPublicKey)
	req.WriteByte(1) // signature present
	writeString(req, c.creds.KeyType)
	writeBytes(req, c.creds.CertBlob)
	writeBytes(req, sig)

	if err := c.sendPacketLocked(req.Bytes()); err != nil {
		return err
	}
	c.auth.phase = authSigned
	c.log.WithField("user", c.creds.User).Debug("sent signed publickey request")
	return nil
}

// signAuthBlob produces the wire signature field over the RFC 4252
// session-bound data:
//
//	string    session identifier
//	byte      SSH_MSG_USERAUTH_REQUEST
//	string    user name
//	string    "ssh-connection"
//	string    "publickey"
//	boolean   TRUE
//	string    public key algorithm name
//	string    public key / certificate blob
func (c *Conn) signAuthBlob() ([]byte, error) {
	toSign := new(bytes.Buffer)
	writeBytes(toSign, c.sessionID)
	toSign.WriteByte(msgUserauthRequest)
	writeString(toSign, c.creds.User)
	writeString(toSign, serviceConnection)
	writeString(toSign, authMethodPublicKey)
	toSign.WriteByte(1)
	writeString(toSign, c.creds.KeyType)
	writeBytes(toSign, c.creds.CertBlob)

	sig, err := c.creds.Signer.Sign(rand.Reader, toSign.Bytes())
	if err != nil {
		return nil, &AuthError{Msg: "signing failed: " + err.Error()}
	}

	// Certificates sign under the plain key algorithm, not the cert type.
	sigAlgo := c.creds.KeyType
	if strings.HasPrefix(c.creds.KeyType, "ssh-ed25519") {
		sigAlgo = "ssh-ed25519"
	}

	sigField := new(bytes.Buffer)
	writeString(sigField, sigAlgo)
	writeBytes(sigField, sig.Blob)
	return sigField.Bytes(), nil
}

// handlePKOK means the server took the signed request as the query form.
// Sign again and resend; the next failure is then definitive.
func (c *Conn) handlePKOK() error {
	c.auth.receivedPKOK = true
	c.auth.phase = authAwaitingPKOK
	c.log.Debug("server answered PK_OK, resending signed request")
	return c.sendUserauthRequest()
}

func (c *Conn) handleAuthFailure(payload []byte) error {
	r := newReader(payload[1:])
	methods, err := r.readString()
	if err != nil {
		methods = nil
	}

	c.auth.phase = authFailed
	var msg string
	if c.auth.receivedPKOK {
		msg = fmt.Sprintf("server accepted the key but rejected the signature for %q", c.creds.User)
	} else {
		msg = fmt.Sprintf("server rejected the key for %q", c.creds.User)
	}
	authErr := &AuthError{
		Msg:            msg,
		ReceivedPKOK:   c.auth.receivedPKOK,
		MethodsOffered: string(methods),
	}
	c.auth.lastErr = authErr
	return authErr
}

func (c *Conn) handleAuthSuccess() error {
	c.auth.phase = authComplete
	c.setPhaseLocked(phaseChannelOpen)
	c.log.WithField("user", c.creds.User).Info("authentication complete")
	return c.openChannel()
}

func (c *Conn) handleAuthBanner(payload []byte) {
	r := newReader(payload[1:])
	banner, err := r.readString()
	if err != nil {
		return
	}
	c.log.WithField("banner", strings.TrimSpace(string(banner))).Info("server banner")
}
