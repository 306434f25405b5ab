package wsshell

// credentials.go - User identity: certificate blob plus Ed25519 signing key
// Author: CyberPanther232

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// Credentials identify the user to the server: the certificate (or plain
// public key) blob that goes on the wire, and the private key held behind
// an opaque signing handle.
type Credentials struct {
	User string
	// KeyType is the wire algorithm tag of CertBlob, e.g.
	// "ssh-ed25519-cert-v01@openssh.com" or "ssh-ed25519".
	KeyType string
	// CertBlob is the raw key/certificate blob as presented to the server.
	CertBlob []byte
	// Signer produces signatures with the matching private key.
	Signer ssh.Signer
}

// LoadCredentials reads an OpenSSH PEM private key and a certificate (or
// public key) file. An empty certPath falls back to presenting the bare
// public key derived from the private key.
func LoadCredentials(user, identityPath, certPath string) (*Credentials, error) {
	return loadCredentials(user, identityPath, certPath, "")
}

// LoadCredentialsWithPassphrase is LoadCredentials for an encrypted
// identity file.
func LoadCredentialsWithPassphrase(user, identityPath, certPath, passphrase string) (*Credentials, error) {
	return loadCredentials(user, identityPath, certPath, passphrase)
}

func loadCredentials(user, identityPath, certPath, passphrase string) (*Credentials, error) {
	if user == "" {
		return nil, errors.New("credentials: user must not be empty")
	}
	keyData, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading identity file")
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing identity file %s", identityPath)
	}
	if signer.PublicKey().Type() != ssh.KeyAlgoED25519 {
		return nil, errors.Errorf("identity %s is %s, only ssh-ed25519 keys are supported",
			identityPath, signer.PublicKey().Type())
	}

	creds := &Credentials{User: user, Signer: signer}
	if certPath == "" {
		pub := signer.PublicKey()
		creds.KeyType = pub.Type()
		creds.CertBlob = pub.Marshal()
		return creds, nil
	}

	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading certificate file")
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(certData)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing certificate file %s", certPath)
	}
	if !strings.HasPrefix(pub.Type(), ssh.KeyAlgoED25519) {
		return nil, errors.Errorf("certificate %s is %s, expected an ssh-ed25519 certificate",
			certPath, pub.Type())
	}
	creds.KeyType = pub.Type()
	creds.CertBlob = pub.Marshal()
	return creds, nil
}
