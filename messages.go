package wsshell

// messages.go - SSH message numbers and channel request names
// Author: CyberPanther232

// RFC 4250 section 4.1. Only the messages this client actually speaks are
// listed; everything else falls through to the dispatcher's default arm.
const (
	msgDisconnect     = 1
	msgIgnore         = 2
	msgUnimplemented  = 3
	msgDebug          = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6
	msgExtInfo        = 7

	msgKexInit = 20
	msgNewKeys = 21

	// Shared numbers: KEXDH_INIT/KEXDH_REPLY for diffie-hellman-group14,
	// KEX_ECDH_INIT/KEX_ECDH_REPLY for curve25519 (RFC 5656 section 7.1).
	msgKexInitDH  = 30
	msgKexReplyDH = 31

	msgUserauthRequest = 50
	msgUserauthFailure = 51
	msgUserauthSuccess = 52
	msgUserauthBanner  = 53
	msgUserauthPKOK    = 60

	msgGlobalRequest  = 80
	msgRequestSuccess = 81
	msgRequestFailure = 82

	msgChannelOpen            = 90
	msgChannelOpenConfirm     = 91
	msgChannelOpenFailure     = 92
	msgChannelWindowAdjust    = 93
	msgChannelData            = 94
	msgChannelExtendedData    = 95
	msgChannelEOF             = 96
	msgChannelClose           = 97
	msgChannelRequest         = 98
	msgChannelRequestSuccess  = 99
	msgChannelRequestFailure  = 100
)

// RFC 4254 channel request types.
const (
	chanReqPTY          = "pty-req"
	chanReqShell        = "shell"
	chanReqWindowChange = "window-change"
)

const (
	serviceUserAuth   = "ssh-userauth"
	serviceConnection = "ssh-connection"

	authMethodPublicKey = "publickey"

	globalReqKeepalive = "keepalive@openssh.com"
)

// msgName maps a message number to its RFC 4250 name for log output.
func msgName(t byte) string {
	switch t {
	case msgDisconnect:
		return "SSH_MSG_DISCONNECT"
	case msgIgnore:
		return "SSH_MSG_IGNORE"
	case msgUnimplemented:
		return "SSH_MSG_UNIMPLEMENTED"
	case msgDebug:
		return "SSH_MSG_DEBUG"
	case msgServiceRequest:
		return "SSH_MSG_SERVICE_REQUEST"
	case msgServiceAccept:
		return "SSH_MSG_SERVICE_ACCEPT"
	case msgExtInfo:
		return "SSH_MSG_EXT_INFO"
	case msgKexInit:
		return "SSH_MSG_KEXINIT"
	case msgNewKeys:
		return "SSH_MSG_NEWKEYS"
	case msgKexInitDH:
		return "SSH_MSG_KEX_INIT"
	case msgKexReplyDH:
		return "SSH_MSG_KEX_REPLY"
	case msgUserauthRequest:
		return "SSH_MSG_USERAUTH_REQUEST"
	case msgUserauthFailure:
		return "SSH_MSG_USERAUTH_FAILURE"
	case msgUserauthSuccess:
		return "SSH_MSG_USERAUTH_SUCCESS"
	case msgUserauthBanner:
		return "SSH_MSG_USERAUTH_BANNER"
	case msgUserauthPKOK:
		return "SSH_MSG_USERAUTH_PK_OK"
	case msgGlobalRequest:
		return "SSH_MSG_GLOBAL_REQUEST"
	case msgRequestSuccess:
		return "SSH_MSG_REQUEST_SUCCESS"
	case msgRequestFailure:
		return "SSH_MSG_REQUEST_FAILURE"
	case msgChannelOpen:
		return "SSH_MSG_CHANNEL_OPEN"
	case msgChannelOpenConfirm:
		return "SSH_MSG_CHANNEL_OPEN_CONFIRMATION"
	case msgChannelOpenFailure:
		return "SSH_MSG_CHANNEL_OPEN_FAILURE"
	case msgChannelWindowAdjust:
		return "SSH_MSG_CHANNEL_WINDOW_ADJUST"
	case msgChannelData:
		return "SSH_MSG_CHANNEL_DATA"
	case msgChannelExtendedData:
		return "SSH_MSG_CHANNEL_EXTENDED_DATA"
	case msgChannelEOF:
		return "SSH_MSG_CHANNEL_EOF"
	case msgChannelClose:
		return "SSH_MSG_CHANNEL_CLOSE"
	case msgChannelRequest:
		return "SSH_MSG_CHANNEL_REQUEST"
	case msgChannelRequestSuccess:
		return "SSH_MSG_CHANNEL_SUCCESS"
	case msgChannelRequestFailure:
		return "SSH_MSG_CHANNEL_FAILURE"
	}
	return "SSH_MSG_UNKNOWN"
}
