package wsshell

// transport.go - Message-oriented byte transport over WebSocket
// Author: CyberPanther232

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Transport is the byte carrier underneath the protocol engine: it delivers
// arbitrary binary chunks with no framing alignment guarantee and accepts
// whole outbound messages. The engine never sees the dial/upgrade side.
type Transport interface {
	// ReadMessage blocks for the next inbound chunk. It returns a
	// *TransportClosedError once the peer is gone.
	ReadMessage() ([]byte, error)
	// Send writes one outbound message.
	Send(p []byte) error
	Close() error
}

// wsTransport carries SSH over binary WebSocket frames. Writes are
// serialized; gorilla allows one concurrent writer.
type wsTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// DialWebSocket connects to a ws:// or wss:// endpoint and wraps it as a
// Transport. Extra headers (cookies, auth tokens) ride along on the
// upgrade request.
func DialWebSocket(url string, header http.Header) (Transport, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket dial %s (status %s)", url, resp.Status)
		}
		return nil, errors.Wrapf(err, "websocket dial %s", url)
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, &TransportClosedError{Msg: "session ended", Clean: true}
			}
			return nil, &TransportClosedError{Msg: err.Error()}
		}
		// Text and control frames are not protocol data.
		if mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) Send(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return &TransportClosedError{Msg: "send on closed transport"}
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	// Best effort close frame, then drop the socket.
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteMessage(websocket.CloseMessage, closeMsg)
	return t.conn.Close()
}
