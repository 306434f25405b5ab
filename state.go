package wsshell

// state.go - Connection, KEX, auth and channel phase enumerations
// Author: CyberPanther232

// Phases only ever move forward. There are no back-edges: a connection that
// reached phaseError stays there, and a sub-machine that completed is done
// for the lifetime of the session (no rekey, no re-auth).

type connPhase int

const (
	phaseIdentExchange connPhase = iota
	phaseKex
	phaseAuth
	phaseChannelOpen
	phaseActive
	phaseClosed
	phaseError
)

func (p connPhase) String() string {
	switch p {
	case phaseIdentExchange:
		return "ident_exchange"
	case phaseKex:
		return "kex"
	case phaseAuth:
		return "auth"
	case phaseChannelOpen:
		return "channel_open"
	case phaseActive:
		return "active"
	case phaseClosed:
		return "closed"
	case phaseError:
		return "error"
	}
	return "unknown"
}

type kexPhase int

const (
	kexInit kexPhase = iota
	kexNegotiating
	kexExchanging
	kexComplete
)

// kexState lives only for the duration of the initial exchange. The raw
// KEXINIT payloads are kept verbatim because both feed the exchange hash
// byte-for-byte. The ephemeral secret is owned by the active kexAlgorithm
// and exists only while phase == kexExchanging.
type kexState struct {
	phase          kexPhase
	clientKexInit  []byte
	serverKexInit  []byte
	algs           algorithms
	exchange       kexAlgorithm
}

type authPhase int

const (
	authInit authPhase = iota
	authServiceRequested
	authAwaitingPKOK
	authSigned
	authComplete
	authFailed
)

// authState tracks publickey auth. receivedPKOK flips when the server
// answers our signed request with PK_OK, meaning it treated the request as
// the query form and expects a second, re-signed attempt.
type authState struct {
	phase        authPhase
	receivedPKOK bool
	lastErr      error
}

type channelPhase int

const (
	chanInit channelPhase = iota
	chanOpening
	chanOpen
	chanPTYRequested
	chanShellRequested
	chanActive
	chanClosed
)

// channelState is the single interactive session channel. remoteID == 0 is
// the "not yet confirmed" sentinel; until confirmation, resize is a no-op.
type channelState struct {
	phase        channelPhase
	localID      uint32
	remoteID     uint32
	localWindow  uint32
	remoteWindow uint32
	ptySent      bool
	shellSent    bool
	ptyDenied    bool
}
