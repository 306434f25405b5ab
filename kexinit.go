package wsshell

// kexinit.go - KEXINIT construction, parsing and algorithm negotiation
// Author: CyberPanther232

import (
	"bytes"
	"fmt"
	"strings"
)

// Client preference lists. Negotiation is strictly first-match against the
// server's advertisement, per list, per RFC 4253 section 7.1.
var (
	preferredKexAlgos = []string{kexCurve25519, kexCurve25519LibSSH, kexDHGroup14SHA256}
	preferredHostKeys = []string{"ssh-ed25519"}
	preferredCiphers  = []string{"aes128-ctr"}
	preferredMACs     = []string{"hmac-sha2-256-etm@openssh.com", "hmac-sha2-256"}
	preferredComp     = []string{"none"}
)

const macETM = "hmac-sha2-256-etm@openssh.com"

// algorithms is the negotiated triple. Host-key and compression have exactly
// one acceptable value each so only these three are carried around.
type algorithms struct {
	kex    string
	cipher string
	mac    string
}

// kexInitMsg mirrors the ten name-lists of SSH_MSG_KEXINIT.
/*
	byte         SSH_MSG_KEXINIT
	byte[16]     cookie (random bytes)
	name-list    kex_algorithms
	name-list    server_host_key_algorithms
	name-list    encryption_algorithms_client_to_server
	name-list    encryption_algorithms_server_to_client
	name-list    mac_algorithms_client_to_server
	name-list    mac_algorithms_server_to_client
	name-list    compression_algorithms_client_to_server
	name-list    compression_algorithms_server_to_client
	name-list    languages_client_to_server
	name-list    languages_server_to_client
	boolean      first_kex_packet_follows
	uint32       0 (reserved for future extension)
*/
type kexInitMsg struct {
	kexAlgos        []string
	hostKeyAlgos    []string
	ciphersC2S      []string
	ciphersS2C      []string
	macsC2S         []string
	macsS2C         []string
	compC2S         []string
	compS2C         []string
	langC2S         []string
	langS2C         []string
	firstKexFollows bool
}

// buildClientKexInit returns the raw KEXINIT payload. The exact bytes are
// saved by the caller: they feed the exchange hash.
func buildClientKexInit() []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(msgKexInit)
	payload.Write(randBytes(16)) // cookie

	writeString(payload, strings.Join(preferredKexAlgos, ","))
	writeString(payload, strings.Join(preferredHostKeys, ","))
	writeString(payload, strings.Join(preferredCiphers, ",")) // client to server cipher
	writeString(payload, strings.Join(preferredCiphers, ",")) // server to client cipher
	writeString(payload, strings.Join(preferredMACs, ","))    // client to server mac
	writeString(payload, strings.Join(preferredMACs, ","))    // server to client mac
	writeString(payload, strings.Join(preferredComp, ","))
	writeString(payload, strings.Join(preferredComp, ","))
	writeString(payload, "") // languages client to server
	writeString(payload, "") // languages server to client

	payload.WriteByte(0) // first_kex_packet_follows
	writeUint32(payload, 0)
	return payload.Bytes()
}

// parseKexInit decodes a KEXINIT payload (message byte included).
func parseKexInit(payload []byte) (*kexInitMsg, error) {
	r := newReader(payload)
	t, err := r.readByte()
	if err != nil || t != msgKexInit {
		return nil, &KexError{Msg: "malformed KEXINIT: wrong message type"}
	}
	if _, err := r.readBytes(16); err != nil { // cookie
		return nil, &KexError{Msg: "malformed KEXINIT: truncated cookie"}
	}

	msg := &kexInitMsg{}
	lists := []*[]string{
		&msg.kexAlgos, &msg.hostKeyAlgos,
		&msg.ciphersC2S, &msg.ciphersS2C,
		&msg.macsC2S, &msg.macsS2C,
		&msg.compC2S, &msg.compS2C,
		&msg.langC2S, &msg.langS2C,
	}
	for i, dst := range lists {
		raw, err := r.readString()
		if err != nil {
			return nil, &KexError{Msg: fmt.Sprintf("malformed KEXINIT: truncated name-list %d", i)}
		}
		if len(raw) > 0 {
			*dst = strings.Split(string(raw), ",")
		}
	}
	if msg.firstKexFollows, err = r.readBool(); err != nil {
		return nil, &KexError{Msg: "malformed KEXINIT: missing first_kex_packet_follows"}
	}
	if _, err := r.readUint32(); err != nil { // reserved
		return nil, &KexError{Msg: "malformed KEXINIT: missing reserved field"}
	}
	return msg, nil
}

// negotiate picks the first client-preferred entry the server also offers,
// independently for kex, cipher and MAC. Any miss is fatal; the diagnostic
// echoes the head of the server's list.
func negotiate(server *kexInitMsg) (algorithms, error) {
	kex, err := firstMatch("kex", preferredKexAlgos, server.kexAlgos)
	if err != nil {
		return algorithms{}, err
	}
	// Ciphers and MACs are negotiated per direction; our preference lists
	// are identical both ways, so the client-to-server choice stands.
	cipher, err := firstMatch("cipher", preferredCiphers, server.ciphersC2S)
	if err != nil {
		return algorithms{}, err
	}
	mac, err := firstMatch("mac", preferredMACs, server.macsC2S)
	if err != nil {
		return algorithms{}, err
	}
	return algorithms{kex: kex, cipher: cipher, mac: mac}, nil
}

func firstMatch(what string, client, server []string) (string, error) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, nil
			}
		}
	}
	head := server
	if len(head) > 3 {
		head = head[:3]
	}
	return "", &KexError{Msg: fmt.Sprintf("no common %s algorithm, server offers: %s",
		what, strings.Join(head, ","))}
}
