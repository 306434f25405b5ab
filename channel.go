package wsshell

// channel.go - The single interactive session channel
// Author: CyberPanther232

import (
	"bytes"
	"fmt"
)

const (
	defaultWindowSize = 0x8000
	channelMaxPacket  = 0x2000
	localChannelID    = 1
)

// openChannel fires on USERAUTH_SUCCESS.
func (c *Conn) openChannel() error {
	payload := new(bytes.Buffer)
	payload.WriteByte(msgChannelOpen)
	writeString(payload, "session")
	writeUint32(payload, localChannelID)
	writeUint32(payload, defaultWindowSize)
	writeUint32(payload, channelMaxPacket)
	if err := c.sendPacketLocked(payload.Bytes()); err != nil {
		return err
	}
	c.ch.phase = chanOpening
	c.ch.localID = localChannelID
	c.ch.localWindow = defaultWindowSize
	c.ch.remoteWindow = defaultWindowSize
	return nil
}

// handleChannelOpenConfirm stores the remote channel id (the 4-byte field
// right after the message type, as received) and immediately requests the
// pseudo-terminal.
func (c *Conn) handleChannelOpenConfirm(payload []byte) error {
	r := newReader(payload[1:])
	remoteID, err := r.readUint32()
	if err != nil {
		return strictErr(err, "channel id in CHANNEL_OPEN_CONFIRMATION")
	}
	c.ch.remoteID = remoteID
	c.ch.phase = chanOpen
	c.log.WithField("remote_channel", remoteID).Debug("session channel open")
	return c.sendPTYRequest()
}

func (c *Conn) handleChannelOpenFailure(payload []byte) error {
	r := newReader(payload[1:])
	r.readUint32() // recipient channel
	reason, err := r.readUint32()
	if err != nil {
		reason = 0
	}
	desc, err := r.readString()
	if err != nil {
		desc = nil
	}
	return &ChannelError{Msg: fmt.Sprintf("channel open rejected (reason %d): %s", reason, desc)}
}

// sendPTYRequest asks for a pty with the configured dimensions. Pixel sizes
// are zero and the mode list is the RFC 4254 empty encoding (a single
// TTY_OP_END byte behind a length prefix).
func (c *Conn) sendPTYRequest() error {
	payload := new(bytes.Buffer)
	payload.WriteByte(msgChannelRequest)
	writeUint32(payload, c.ch.remoteID)
	writeString(payload, chanReqPTY)
	payload.WriteByte(1) // want_reply
	writeString(payload, c.opts.TermType)
	writeUint32(payload, uint32(c.opts.Cols))
	writeUint32(payload, uint32(c.opts.Rows))
	writeUint32(payload, 0)
	writeUint32(payload, 0)
	writeBytes(payload, []byte{0})
	if err := c.sendPacketLocked(payload.Bytes()); err != nil {
		return err
	}
	c.ch.ptySent = true
	c.ch.phase = chanPTYRequested
	return nil
}

func (c *Conn) sendShellRequest() error {
	payload := new(bytes.Buffer)
	payload.WriteByte(msgChannelRequest)
	writeUint32(payload, c.ch.remoteID)
	writeString(payload, chanReqShell)
	payload.WriteByte(1) // want_reply
	if err := c.sendPacketLocked(payload.Bytes()); err != nil {
		return err
	}
	c.ch.shellSent = true
	c.ch.phase = chanShellRequested
	return nil
}

// handleChannelReply walks the pty-req -> shell ladder. A denied PTY is a
// notification, not a failure: the shell request goes out regardless. A
// denied shell is the end of the road.
func (c *Conn) handleChannelReply(success bool) error {
	switch c.ch.phase {
	case chanPTYRequested:
		if !success {
			c.ch.ptyDenied = true
			c.log.Warn("server denied pty-req, continuing without a pty")
			if cb := c.opts.OnPtyDenied; cb != nil {
				c.mu.Unlock()
				cb()
				c.mu.Lock()
			}
		}
		if err := c.sendShellRequest(); err != nil {
			return err
		}
		// Once shell is on the wire the channel is usable; the reply is
		// advisory unless it is a refusal.
		c.ch.phase = chanActive
		c.setPhaseLocked(phaseActive)
		c.log.Info("shell requested, channel active")
		return nil
	case chanShellRequested, chanActive:
		if !success {
			return &ChannelError{Msg: "server refused to start a shell"}
		}
		return nil
	}
	c.log.WithField("phase", c.ch.phase).Debug("ignoring stray channel reply")
	return nil
}

// handleChannelData delivers payload bytes to the subscriber and returns
// the window immediately. Extended data (stderr) is merged into the same
// stream.
func (c *Conn) handleChannelData(payload []byte, extended bool) error {
	r := newReader(payload[1:])
	if _, err := r.readUint32(); err != nil { // recipient channel
		return strictErr(err, "channel id in CHANNEL_DATA")
	}
	if extended {
		if _, err := r.readUint32(); err != nil { // data_type_code
			return strictErr(err, "data type in CHANNEL_EXTENDED_DATA")
		}
	}
	data, err := r.readString()
	if err != nil {
		return strictErr(err, "data in CHANNEL_DATA")
	}
	if len(data) == 0 {
		return nil
	}

	if err := c.sendWindowAdjust(uint32(len(data))); err != nil {
		return err
	}
	c.deliverLocked(append([]byte(nil), data...))
	return nil
}

func (c *Conn) sendWindowAdjust(n uint32) error {
	payload := new(bytes.Buffer)
	payload.WriteByte(msgChannelWindowAdjust)
	writeUint32(payload, c.ch.remoteID)
	writeUint32(payload, n)
	return c.sendPacketLocked(payload.Bytes())
}

func (c *Conn) handleWindowAdjust(payload []byte) error {
	r := newReader(payload[1:])
	r.readUint32() // recipient channel
	n, err := r.readUint32()
	if err != nil {
		return strictErr(err, "increment in CHANNEL_WINDOW_ADJUST")
	}
	c.ch.remoteWindow += n
	return nil
}

// writeChannelData is the outbound half of the shell byte stream. Before
// the shell request has been sent there is nowhere for input to go, so it
// is silently dropped; callers that care buffer on their side.
func (c *Conn) writeChannelData(data []byte) error {
	if !c.ch.shellSent {
		return nil
	}
	if uint32(len(data)) > c.ch.remoteWindow {
		c.log.WithField("bytes", len(data)).Warn("write exceeds remote window")
	}
	payload := new(bytes.Buffer)
	payload.WriteByte(msgChannelData)
	writeUint32(payload, c.ch.remoteID)
	writeBytes(payload, data)
	if err := c.sendPacketLocked(payload.Bytes()); err != nil {
		return err
	}
	if uint32(len(data)) <= c.ch.remoteWindow {
		c.ch.remoteWindow -= uint32(len(data))
	}
	return nil
}

// resizeChannel sends window-change. A no-op until the channel is
// confirmed (remoteID still at its zero sentinel).
func (c *Conn) resizeChannel(cols, rows int) error {
	if c.ch.remoteID == 0 {
		return nil
	}
	payload := new(bytes.Buffer)
	payload.WriteByte(msgChannelRequest)
	writeUint32(payload, c.ch.remoteID)
	writeString(payload, chanReqWindowChange)
	payload.WriteByte(0) // no reply
	writeUint32(payload, uint32(cols))
	writeUint32(payload, uint32(rows))
	writeUint32(payload, 0)
	writeUint32(payload, 0)
	return c.sendPacketLocked(payload.Bytes())
}

// handleChannelClose echoes the close and winds the session down cleanly.
func (c *Conn) handleChannelClose() error {
	if c.ch.phase == chanClosed {
		return nil
	}
	payload := new(bytes.Buffer)
	payload.WriteByte(msgChannelClose)
	writeUint32(payload, c.ch.remoteID)
	if err := c.sendPacketLocked(payload.Bytes()); err != nil {
		return err
	}
	c.ch.phase = chanClosed
	return &TransportClosedError{Msg: "session ended", Clean: true}
}
