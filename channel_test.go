package wsshell

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openConfirmedChannel(t *testing.T, c *Conn, ct *captureTransport, remoteID uint32) {
	t.Helper()
	c.mu.Lock()
	require.NoError(t, c.openChannel())

	confirm := new(bytes.Buffer)
	confirm.WriteByte(msgChannelOpenConfirm)
	writeUint32(confirm, remoteID)
	writeUint32(confirm, localChannelID)
	writeUint32(confirm, defaultWindowSize)
	writeUint32(confirm, channelMaxPacket)
	require.NoError(t, c.handleChannelOpenConfirm(confirm.Bytes()))
	c.mu.Unlock()
}

func TestChannelOpenThenPTY(t *testing.T) {
	creds, _ := testCredentials(t, "operator")
	c, ct := newTestConn(t, creds)

	openConfirmedChannel(t, c, ct, 7)

	assert.Equal(t, uint32(7), c.ch.remoteID)
	assert.True(t, c.ch.ptySent)
	assert.Equal(t, chanPTYRequested, c.ch.phase)

	// First outbound: CHANNEL_OPEN with our id, window, max packet.
	open := ct.payloadAt(t, 0)
	require.Equal(t, byte(msgChannelOpen), open[0])
	r := newReader(open[1:])
	chanType, _ := r.readString()
	localID, _ := r.readUint32()
	window, _ := r.readUint32()
	maxPkt, _ := r.readUint32()
	assert.Equal(t, "session", string(chanType))
	assert.Equal(t, uint32(localChannelID), localID)
	assert.Equal(t, uint32(defaultWindowSize), window)
	assert.Equal(t, uint32(channelMaxPacket), maxPkt)

	// Second outbound: pty-req addressed to the remote id, with the empty
	// RFC 4254 mode list.
	pty := ct.payloadAt(t, 1)
	require.Equal(t, byte(msgChannelRequest), pty[0])
	r = newReader(pty[1:])
	rid, _ := r.readUint32()
	reqType, _ := r.readString()
	wantReply, _ := r.readBool()
	termType, _ := r.readString()
	cols, _ := r.readUint32()
	rows, _ := r.readUint32()
	r.readUint32() // pixel width
	r.readUint32() // pixel height
	modes, _ := r.readString()
	assert.Equal(t, uint32(7), rid)
	assert.Equal(t, chanReqPTY, string(reqType))
	assert.True(t, wantReply)
	assert.Equal(t, defaultTermType, string(termType))
	assert.Equal(t, uint32(defaultCols), cols)
	assert.Equal(t, uint32(defaultRows), rows)
	assert.Equal(t, []byte{0}, modes)
}

func TestChannelPTYReplyLeadsToShell(t *testing.T) {
	for _, ptyOK := range []bool{true, false} {
		creds, _ := testCredentials(t, "operator")
		c, ct := newTestConn(t, creds)
		denied := false
		c.opts.OnPtyDenied = func() { denied = true }

		openConfirmedChannel(t, c, ct, 3)

		c.mu.Lock()
		require.NoError(t, c.handleChannelReply(ptyOK))
		c.mu.Unlock()

		assert.Equal(t, !ptyOK, denied)
		assert.Equal(t, !ptyOK, c.ch.ptyDenied)
		assert.True(t, c.ch.shellSent)
		assert.Equal(t, chanActive, c.ch.phase)
		assert.Equal(t, phaseActive, c.phase)

		shell := ct.lastPayload(t)
		require.Equal(t, byte(msgChannelRequest), shell[0])
		r := newReader(shell[1:])
		rid, _ := r.readUint32()
		reqType, _ := r.readString()
		assert.Equal(t, uint32(3), rid)
		assert.Equal(t, chanReqShell, string(reqType))
	}
}

func TestChannelShellRefusalIsFatal(t *testing.T) {
	creds, _ := testCredentials(t, "operator")
	c, ct := newTestConn(t, creds)
	openConfirmedChannel(t, c, ct, 3)

	c.mu.Lock()
	require.NoError(t, c.handleChannelReply(true)) // pty ok, shell sent
	err := c.handleChannelReply(false)             // shell refused
	c.mu.Unlock()

	var cerr *ChannelError
	require.ErrorAs(t, err, &cerr)
}

func TestChannelDataDeliveryAndWindowReturn(t *testing.T) {
	creds, _ := testCredentials(t, "operator")
	c, ct := newTestConn(t, creds)
	openConfirmedChannel(t, c, ct, 9)

	var got []byte
	c.OnData(func(b []byte) { got = append(got, b...) })

	data := new(bytes.Buffer)
	data.WriteByte(msgChannelData)
	writeUint32(data, localChannelID)
	writeString(data, "hello")

	sendsBefore := ct.sentCount()
	c.mu.Lock()
	require.NoError(t, c.handleChannelData(data.Bytes(), false))
	c.mu.Unlock()

	assert.Equal(t, []byte("hello"), got)

	// A window adjust for exactly the delivered bytes went out first.
	adjust := ct.payloadAt(t, sendsBefore)
	require.Equal(t, byte(msgChannelWindowAdjust), adjust[0])
	r := newReader(adjust[1:])
	rid, _ := r.readUint32()
	n, _ := r.readUint32()
	assert.Equal(t, uint32(9), rid)
	assert.Equal(t, uint32(5), n)
}

func TestChannelExtendedDataMerged(t *testing.T) {
	creds, _ := testCredentials(t, "operator")
	c, ct := newTestConn(t, creds)
	openConfirmedChannel(t, c, ct, 9)

	var got []byte
	c.OnData(func(b []byte) { got = append(got, b...) })

	ext := new(bytes.Buffer)
	ext.WriteByte(msgChannelExtendedData)
	writeUint32(ext, localChannelID)
	writeUint32(ext, 1) // SSH_EXTENDED_DATA_STDERR
	writeString(ext, "oops")

	c.mu.Lock()
	require.NoError(t, c.handleChannelData(ext.Bytes(), true))
	c.mu.Unlock()

	assert.Equal(t, []byte("oops"), got)
}

func TestChannelDataBufferedBeforeSubscriber(t *testing.T) {
	creds, _ := testCredentials(t, "operator")
	c, ct := newTestConn(t, creds)
	openConfirmedChannel(t, c, ct, 9)

	data := new(bytes.Buffer)
	data.WriteByte(msgChannelData)
	writeUint32(data, localChannelID)
	writeString(data, "early bytes")

	c.mu.Lock()
	require.NoError(t, c.handleChannelData(data.Bytes(), false))
	c.mu.Unlock()

	var got []byte
	c.OnData(func(b []byte) { got = append(got, b...) })
	assert.Equal(t, []byte("early bytes"), got)
}

func TestWriteBeforeShellIsNoop(t *testing.T) {
	creds, _ := testCredentials(t, "operator")
	c, ct := newTestConn(t, creds)
	openConfirmedChannel(t, c, ct, 9)

	sendsBefore := ct.sentCount()
	c.mu.Lock()
	require.NoError(t, c.writeChannelData([]byte("too early")))
	c.mu.Unlock()
	assert.Equal(t, sendsBefore, ct.sentCount())

	c.mu.Lock()
	require.NoError(t, c.handleChannelReply(true))
	require.NoError(t, c.writeChannelData([]byte("ls\n")))
	c.mu.Unlock()

	out := ct.lastPayload(t)
	require.Equal(t, byte(msgChannelData), out[0])
	r := newReader(out[1:])
	rid, _ := r.readUint32()
	payload, _ := r.readString()
	assert.Equal(t, uint32(9), rid)
	assert.Equal(t, []byte("ls\n"), payload)
}

func TestResizeBeforeConfirmIsNoop(t *testing.T) {
	creds, _ := testCredentials(t, "operator")
	c, ct := newTestConn(t, creds)

	c.mu.Lock()
	require.NoError(t, c.resizeChannel(120, 40))
	c.mu.Unlock()
	assert.Zero(t, ct.sentCount())

	openConfirmedChannel(t, c, ct, 5)
	c.mu.Lock()
	require.NoError(t, c.resizeChannel(120, 40))
	c.mu.Unlock()

	resize := ct.lastPayload(t)
	require.Equal(t, byte(msgChannelRequest), resize[0])
	r := newReader(resize[1:])
	rid, _ := r.readUint32()
	reqType, _ := r.readString()
	wantReply, _ := r.readBool()
	cols, _ := r.readUint32()
	rows, _ := r.readUint32()
	assert.Equal(t, uint32(5), rid)
	assert.Equal(t, chanReqWindowChange, string(reqType))
	assert.False(t, wantReply)
	assert.Equal(t, uint32(120), cols)
	assert.Equal(t, uint32(40), rows)
}

func TestRemoteWindowAccounting(t *testing.T) {
	creds, _ := testCredentials(t, "operator")
	c, ct := newTestConn(t, creds)
	openConfirmedChannel(t, c, ct, 5)

	c.mu.Lock()
	require.NoError(t, c.handleChannelReply(true))
	before := c.ch.remoteWindow
	require.NoError(t, c.writeChannelData([]byte("12345")))
	assert.Equal(t, before-5, c.ch.remoteWindow)

	adjust := new(bytes.Buffer)
	adjust.WriteByte(msgChannelWindowAdjust)
	writeUint32(adjust, localChannelID)
	writeUint32(adjust, 5)
	require.NoError(t, c.handleWindowAdjust(adjust.Bytes()))
	assert.Equal(t, before, c.ch.remoteWindow)
	c.mu.Unlock()
}
