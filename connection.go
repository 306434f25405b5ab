package wsshell

// connection.go - Connection orchestrator and caller-facing API
// Author: CyberPanther232

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// clientVersion goes on the wire verbatim (plus CRLF) and into the
	// exchange hash (without it).
	clientVersion = "SSH-2.0-wsshell_0.2"

	defaultCols       = 80
	defaultRows       = 24
	defaultTermType   = "xterm-256color"
	defaultKexTimeout = 8 * time.Second

	// RFC 4253 section 4.2 caps the identification line at 255 bytes; cap
	// the pre-ident garbage we are willing to buffer at a few lines of it.
	maxIdentBuffer = 4 * 255
)

// Options tunes a connection. The zero value is usable.
type Options struct {
	// Terminal geometry for the pty request.
	Cols int
	Rows int
	// TermType is the TERM value sent with pty-req.
	TermType string
	// OnPtyDenied fires (at most once) when the server refuses the pty
	// request. The session still continues to the shell.
	OnPtyDenied func()
	// OnError receives the first fatal error, exactly once.
	OnError func(error)
	// Logger receives protocol-level logging; nil discards it.
	Logger logrus.FieldLogger
	// KexTimeout bounds the wait for the server's key exchange reply.
	KexTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Cols <= 0 {
		out.Cols = defaultCols
	}
	if out.Rows <= 0 {
		out.Rows = defaultRows
	}
	if out.TermType == "" {
		out.TermType = defaultTermType
	}
	if out.KexTimeout <= 0 {
		out.KexTimeout = defaultKexTimeout
	}
	if out.Logger == nil {
		out.Logger = discardLogger()
	}
	return out
}

// Conn is one SSH-2 client session over a message-oriented transport. All
// protocol state is guarded by mu; inbound chunks, caller API calls and the
// KEX timer are the only three things that ever take it.
type Conn struct {
	mu        sync.Mutex
	transport Transport
	creds     *Credentials
	opts      Options
	log       logrus.FieldLogger

	phase         connPhase
	serverVersion []byte
	sessionID     []byte

	// rbuf accumulates raw transport bytes: first the ident line, then
	// plaintext packets, then ciphertext once the server's NEWKEYS lands.
	rbuf        []byte
	versionSeen bool
	draining    bool

	cipher      *transportCipher
	rxEncrypted bool

	kex      *kexState
	kexTimer *time.Timer
	auth     authState
	ch       channelState

	onData  func([]byte)
	pending bytes.Buffer

	fatalErr error
	closed   bool
}

// Connect starts the handshake and returns as soon as the client
// identification line is on the wire; readiness of the shell is signalled
// by data flowing (or OnError). The transport must already be open.
func Connect(t Transport, creds *Credentials, opts *Options) (*Conn, error) {
	if creds == nil || creds.Signer == nil || creds.User == "" {
		return nil, &AuthError{Msg: "credentials with user and signing key are required"}
	}
	c := &Conn{
		transport: t,
		creds:     creds,
		opts:      (opts).withDefaults(),
		phase:     phaseIdentExchange,
	}
	c.log = c.opts.Logger

	if err := t.Send([]byte(clientVersion + "\r\n")); err != nil {
		return nil, &TransportClosedError{Msg: "sending identification line: " + err.Error()}
	}
	c.log.WithField("client_version", clientVersion).Debug("sent identification line")

	go c.readLoop()
	return c, nil
}

// Write sends bytes to the remote shell. A no-op until the shell request
// has gone out.
func (c *Conn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseError {
		return c.fatalErr
	}
	if c.phase == phaseClosed {
		return &TransportClosedError{Msg: "connection closed", Clean: true}
	}
	return c.writeChannelData(data)
}

// WriteString is Write for shell input held as a string.
func (c *Conn) WriteString(s string) error {
	return c.Write([]byte(s))
}

// OnData registers the single subscriber for merged stdout/stderr bytes.
// Anything that arrived before registration is delivered immediately.
func (c *Conn) OnData(fn func([]byte)) {
	c.mu.Lock()
	c.onData = fn
	var buffered []byte
	if c.pending.Len() > 0 {
		buffered = append([]byte(nil), c.pending.Bytes()...)
		c.pending.Reset()
	}
	c.mu.Unlock()
	if fn != nil && len(buffered) > 0 {
		fn(buffered)
	}
}

// Resize forwards new terminal dimensions. A no-op before the channel is
// confirmed.
func (c *Conn) Resize(cols, rows int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseError || c.phase == phaseClosed {
		return nil
	}
	return c.resizeChannel(cols, rows)
}

// Close tears the session down by closing the underlying transport.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.phase != phaseError {
		c.setPhaseLocked(phaseClosed)
	}
	c.stopKexTimerLocked()
	c.destroyKeysLocked()
	c.mu.Unlock()
	return c.transport.Close()
}

// Err reports the fatal error, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// ServerVersion returns the server's identification line once learned.
func (c *Conn) ServerVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.serverVersion)
}

func (c *Conn) readLoop() {
	for {
		msg, err := c.transport.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed && c.phase != phaseError {
				var tc *TransportClosedError
				if !errors.As(err, &tc) {
					err = &TransportClosedError{Msg: err.Error()}
				}
				c.fatalLocked(err)
			}
			c.mu.Unlock()
			return
		}
		if len(msg) > 0 {
			c.feed(msg)
		}
	}
}

// feed appends a chunk and drains as many complete packets as possible.
// The draining flag keeps the drain single-flighted: handler callbacks
// release mu, and a chunk arriving in that window must queue, not start a
// second drain.
func (c *Conn) feed(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseError || c.phase == phaseClosed {
		return // fatal trap: discard
	}
	c.rbuf = append(c.rbuf, chunk...)
	if c.draining {
		return
	}
	c.draining = true
	c.drainLocked()
	c.draining = false
}

func (c *Conn) drainLocked() {
	for {
		if c.phase == phaseError || c.phase == phaseClosed {
			return
		}
		if !c.versionSeen {
			if !c.extractVersionLocked() {
				return
			}
			continue
		}

		var (
			payload  []byte
			consumed int
			err      error
		)
		if c.rxEncrypted {
			payload, consumed, err = c.cipher.decrypt(c.rbuf)
		} else {
			payload, consumed, err = parsePacket(c.rbuf)
		}
		if errors.Is(err, errNeedMore) {
			return
		}
		if err != nil {
			c.fatalLocked(err)
			return
		}
		c.rbuf = c.rbuf[consumed:]
		if len(payload) == 0 {
			c.fatalLocked(&ProtocolError{Msg: "zero length packet"})
			return
		}
		if err := c.dispatchLocked(payload); err != nil {
			c.fatalLocked(err)
			return
		}
	}
}

// extractVersionLocked hunts for the server identification line: first the
// "SSH-" marker, then its terminator. Several servers send banner noise
// first and some terminate with a bare \n; both are tolerated.
func (c *Conn) extractVersionLocked() bool {
	idx := bytes.Index(c.rbuf, []byte("SSH-"))
	if idx < 0 {
		if len(c.rbuf) > maxIdentBuffer {
			c.fatalLocked(&ProtocolError{Msg: "no SSH identification line in first bytes"})
		}
		return false
	}
	nl := bytes.IndexByte(c.rbuf[idx:], '\n')
	if nl < 0 {
		return false
	}
	line := c.rbuf[idx : idx+nl]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	c.serverVersion = append([]byte(nil), line...)
	c.rbuf = append(c.rbuf[:0], c.rbuf[idx+nl+1:]...)
	c.versionSeen = true
	c.setPhaseLocked(phaseKex)
	c.log.WithField("server_version", string(c.serverVersion)).Info("server identification received")
	return true
}

// dispatchLocked routes one decoded payload by message type.
func (c *Conn) dispatchLocked(payload []byte) error {
	t := payload[0]
	c.log.WithFields(logrus.Fields{"msg": msgName(t), "len": len(payload)}).Trace("dispatch")

	switch t {
	case msgDisconnect:
		r := newReader(payload[1:])
		reason, _ := r.readUint32()
		desc, _ := r.readString()
		return &ProtocolError{Msg: fmt.Sprintf("server disconnected (reason %d): %s", reason, desc)}

	case msgIgnore, msgDebug, msgExtInfo:
		return nil

	case msgUnimplemented:
		r := newReader(payload[1:])
		seq, _ := r.readUint32()
		c.log.WithField("seq", seq).Warn("server rejected packet as unimplemented")
		return nil

	case msgGlobalRequest:
		return c.handleGlobalRequest(payload)

	case msgKexInit:
		return c.handleServerKexInit(payload)

	case msgKexReplyDH:
		return c.handleKexReply(payload)

	case msgNewKeys:
		return c.handleNewKeys()

	case msgServiceAccept:
		return c.handleServiceAccept(payload)

	case msgUserauthPKOK:
		return c.handlePKOK()

	case msgUserauthFailure:
		return c.handleAuthFailure(payload)

	case msgUserauthSuccess:
		return c.handleAuthSuccess()

	case msgUserauthBanner:
		c.handleAuthBanner(payload)
		return nil

	case msgChannelOpenConfirm:
		return c.handleChannelOpenConfirm(payload)

	case msgChannelOpenFailure:
		return c.handleChannelOpenFailure(payload)

	case msgChannelRequestSuccess:
		return c.handleChannelReply(true)

	case msgChannelRequestFailure:
		return c.handleChannelReply(false)

	case msgChannelWindowAdjust:
		return c.handleWindowAdjust(payload)

	case msgChannelData:
		return c.handleChannelData(payload, false)

	case msgChannelExtendedData:
		return c.handleChannelData(payload, true)

	case msgChannelEOF:
		return nil

	case msgChannelClose:
		return c.handleChannelClose()
	}

	c.log.WithField("msg_type", t).Debug("ignoring unhandled message")
	return nil
}

// handleServerKexInit negotiates algorithms and fires the client's half of
// the exchange: KEXINIT, then the kex-specific init message, then the
// timeout clock.
func (c *Conn) handleServerKexInit(payload []byte) error {
	if c.kex != nil {
		return &KexError{Msg: "server requested rekeying, which is not supported"}
	}
	serverMsg, err := parseKexInit(payload)
	if err != nil {
		return err
	}
	algs, err := negotiate(serverMsg)
	if err != nil {
		return err
	}

	clientPayload := buildClientKexInit()
	c.kex = &kexState{
		phase:         kexNegotiating,
		clientKexInit: clientPayload,
		serverKexInit: append([]byte(nil), payload...),
		algs:          algs,
	}
	c.log.WithFields(logrus.Fields{
		"kex":    algs.kex,
		"cipher": algs.cipher,
		"mac":    algs.mac,
	}).Info("algorithms negotiated")

	if err := c.sendPacketLocked(clientPayload); err != nil {
		return err
	}

	exchange, err := newKexAlgorithm(algs.kex)
	if err != nil {
		return err
	}
	initPayload, err := exchange.initMsg()
	if err != nil {
		return err
	}
	if err := c.sendPacketLocked(initPayload); err != nil {
		return err
	}
	c.kex.exchange = exchange
	c.kex.phase = kexExchanging

	c.kexTimer = time.AfterFunc(c.opts.KexTimeout, c.kexTimedOut)
	return nil
}

func (c *Conn) kexTimedOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kex != nil && c.kex.phase == kexExchanging {
		c.fatalLocked(&KexError{Msg: fmt.Sprintf("timed out after %s waiting for key exchange reply", c.opts.KexTimeout)})
	}
}

// handleKexReply completes the exchange: shared secret, exchange hash, key
// derivation, cipher construction, NEWKEYS. The cipher starts life with
// both sequence numbers at firstEncryptedSeq.
func (c *Conn) handleKexReply(payload []byte) error {
	if c.kex == nil || c.kex.phase != kexExchanging {
		return &ProtocolError{Msg: "KEX reply outside an active exchange"}
	}
	c.stopKexTimerLocked()

	magics := &handshakeMagics{
		clientVersion: []byte(clientVersion),
		serverVersion: c.serverVersion,
		clientKexInit: c.kex.clientKexInit,
		serverKexInit: c.kex.serverKexInit,
	}
	result, err := c.kex.exchange.finish(payload[1:], magics)
	c.kex.exchange.destroy()
	if err != nil {
		return err
	}

	// The first exchange hash is the session identifier, fixed for the
	// lifetime of the connection.
	if c.sessionID == nil {
		c.sessionID = result.H
	}
	c.log.WithField("host_key_len", len(result.HostKey)).Debug("exchange hash computed")

	keys := deriveKeys(result.K, result.H, c.sessionID)
	zero(result.K)

	// Our NEWKEYS is the last plaintext packet out; everything after it is
	// encrypted, so the cipher is installed immediately after.
	if err := c.sendPacketLocked([]byte{msgNewKeys}); err != nil {
		return err
	}
	etm := c.kex.algs.mac == macETM
	cipher, err := newTransportCipher(keys.keyC2S, keys.ivC2S, keys.macC2S,
		keys.keyS2C, keys.ivS2C, keys.macS2C, etm)
	if err != nil {
		return &KexError{Msg: "cipher construction failed: " + err.Error()}
	}
	keys.destroy()
	c.cipher = cipher
	c.kex.phase = kexComplete
	c.log.WithField("etm", etm).Info("keys derived, outbound encryption active")
	return nil
}

// handleNewKeys is the server's side of the switch: decryption turns on
// for everything that follows, and auth starts.
func (c *Conn) handleNewKeys() error {
	if c.cipher == nil {
		return &ProtocolError{Msg: "NEWKEYS before key exchange completed"}
	}
	c.rxEncrypted = true
	c.setPhaseLocked(phaseAuth)
	return c.startAuth()
}

func (c *Conn) handleGlobalRequest(payload []byte) error {
	r := newReader(payload[1:])
	name, err := r.readString()
	if err != nil {
		return strictErr(err, "name in GLOBAL_REQUEST")
	}
	wantReply, err := r.readBool()
	if err != nil {
		return strictErr(err, "want_reply in GLOBAL_REQUEST")
	}
	if !wantReply {
		return nil
	}
	reply := byte(msgRequestFailure)
	if string(name) == globalReqKeepalive {
		reply = msgRequestSuccess
	}
	return c.sendPacketLocked([]byte{reply})
}

// sendPacketLocked frames and sends one payload. Encrypted sends stay in
// wire order because mu is held across encrypt+send: sequence numbers and
// IV advancement match what the peer sees.
func (c *Conn) sendPacketLocked(payload []byte) error {
	var wire []byte
	if c.cipher != nil {
		var err error
		wire, err = c.cipher.encrypt(payload)
		if err != nil {
			return err
		}
	} else {
		wire = buildPacket(payload, false)
	}
	if err := c.transport.Send(wire); err != nil {
		return &TransportClosedError{Msg: "send failed: " + err.Error()}
	}
	return nil
}

// deliverLocked hands bytes to the subscriber, or buffers them until one
// registers. mu is released around the callback so the subscriber may call
// back into Write; the draining flag keeps the drain loop single-flighted
// across that window.
func (c *Conn) deliverLocked(data []byte) {
	if c.onData == nil {
		c.pending.Write(data)
		return
	}
	cb := c.onData
	c.mu.Unlock()
	cb(data)
	c.mu.Lock()
}

// setPhaseLocked advances the global phase. Phases are monotonic; an
// attempt to move backwards is a programming error worth crashing on.
func (c *Conn) setPhaseLocked(p connPhase) {
	if p < c.phase {
		panic(fmt.Sprintf("wsshell: phase regression %s -> %s", c.phase, p))
	}
	c.phase = p
}

// fatalLocked is the one-shot error trap. It records the error, tells the
// caller once, and leaves the connection deaf: later inbound bytes are
// discarded by feed.
func (c *Conn) fatalLocked(err error) {
	if c.phase == phaseError || c.phase == phaseClosed {
		return
	}
	var tc *TransportClosedError
	if errors.As(err, &tc) && tc.Clean {
		c.setPhaseLocked(phaseClosed)
	} else {
		c.phase = phaseError
	}
	c.fatalErr = err
	c.stopKexTimerLocked()
	c.destroyKeysLocked()
	c.log.WithError(err).Error("connection failed")
	if cb := c.opts.OnError; cb != nil {
		c.mu.Unlock()
		cb(err)
		c.mu.Lock()
	}
}

func (c *Conn) stopKexTimerLocked() {
	if c.kexTimer != nil {
		c.kexTimer.Stop()
		c.kexTimer = nil
	}
}

func (c *Conn) destroyKeysLocked() {
	if c.cipher != nil {
		c.cipher.destroy()
	}
	if c.kex != nil && c.kex.exchange != nil {
		c.kex.exchange.destroy()
	}
}
