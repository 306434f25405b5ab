package wsshell

import (
	"errors"
	"fmt"
)

// errNeedMore signals that a decoder stopped because the buffered bytes do
// not yet contain a complete unit. It is never fatal; the caller waits for
// the next chunk from the transport.
var errNeedMore = errors.New("wsshell: need more data")

// KexError covers negotiation failure, a malformed KEXINIT, and the KEX
// timeout firing before the server's reply.
type KexError struct {
	Msg string
}

func (e *KexError) Error() string { return "wsshell: kex: " + e.Msg }

// AuthError is an authentication failure: a USERAUTH_FAILURE from the
// server, a failed signature, or credentials missing at Connect. For a
// server failure, ReceivedPKOK distinguishes "server rejected the key"
// (false) from "server accepted the key but rejected the signature" (true).
type AuthError struct {
	Msg            string
	ReceivedPKOK   bool
	MethodsOffered string
}

func (e *AuthError) Error() string { return "wsshell: auth: " + e.Msg }

// MacVerificationError is an inbound MAC mismatch. Always fatal, never
// retried; the cipher state does not advance.
type MacVerificationError struct {
	Seq uint32
}

func (e *MacVerificationError) Error() string {
	return fmt.Sprintf("wsshell: MAC verification failed on inbound packet %d", e.Seq)
}

// ProtocolError is a structural violation: a bad length, padding outside
// [4, 255], a truncated field where truncation cannot legally happen, or a
// server DISCONNECT.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "wsshell: protocol: " + e.Msg }

// ChannelError is a channel-level failure. PTY denial is surfaced through
// the OnPtyDenied option instead; this covers CHANNEL_OPEN_FAILURE and a
// refused shell request.
type ChannelError struct {
	Msg string
}

func (e *ChannelError) Error() string { return "wsshell: channel: " + e.Msg }

// TransportClosedError reports that the underlying byte transport went
// away. Clean marks a server-initiated orderly close ("session ended")
// rather than a broken connection.
type TransportClosedError struct {
	Msg   string
	Clean bool
}

func (e *TransportClosedError) Error() string { return "wsshell: transport: " + e.Msg }

// strictErr upgrades a decoder's need-more signal to a ProtocolError for
// contexts where the full field is already required to be present.
func strictErr(err error, what string) error {
	if errors.Is(err, errNeedMore) {
		return &ProtocolError{Msg: "truncated " + what}
	}
	return err
}
