package wsshell

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// captureTransport records outbound messages and never delivers anything
// inbound unless fed. Used to unit-test sub-machine handlers directly.
type captureTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	readCh chan []byte
}

func newCaptureTransport() *captureTransport {
	return &captureTransport{readCh: make(chan []byte, 16)}
}

func (t *captureTransport) ReadMessage() ([]byte, error) {
	b, ok := <-t.readCh
	if !ok {
		return nil, &TransportClosedError{Msg: "session ended", Clean: true}
	}
	return b, nil
}

func (t *captureTransport) Send(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, append([]byte(nil), p...))
	return nil
}

func (t *captureTransport) Close() error {
	return nil
}

func (t *captureTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// lastPayload parses the most recent outbound message as a plaintext
// packet and returns its payload.
func (t *captureTransport) lastPayload(tb *testing.T) []byte {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	require.NotEmpty(tb, t.sent, "no outbound messages captured")
	payload, consumed, err := parsePacket(t.sent[len(t.sent)-1])
	require.NoError(tb, err)
	require.Equal(tb, len(t.sent[len(t.sent)-1]), consumed)
	return append([]byte(nil), payload...)
}

// payloadAt is lastPayload for an arbitrary index.
func (t *captureTransport) payloadAt(tb *testing.T, i int) []byte {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	require.Greater(tb, len(t.sent), i)
	payload, _, err := parsePacket(t.sent[i])
	require.NoError(tb, err)
	return append([]byte(nil), payload...)
}

// pipeTransport is an in-memory message transport: the test plays the
// server on the far ends of the two channels.
type pipeTransport struct {
	fromServer chan []byte
	toServer   chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		fromServer: make(chan []byte, 64),
		toServer:   make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

func (t *pipeTransport) ReadMessage() ([]byte, error) {
	select {
	case b := <-t.fromServer:
		return b, nil
	case <-t.done:
		return nil, &TransportClosedError{Msg: "session ended", Clean: true}
	}
}

func (t *pipeTransport) Send(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return &TransportClosedError{Msg: "send on closed transport"}
	}
	t.toServer <- append([]byte(nil), p...)
	return nil
}

func (t *pipeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// serverSend delivers a message into the client's read loop.
func (t *pipeTransport) serverSend(p []byte) {
	t.fromServer <- append([]byte(nil), p...)
}

// serverRecv pops the next client message, failing the test on a stall.
func (t *pipeTransport) serverRecv(tb *testing.T) []byte {
	tb.Helper()
	select {
	case b := <-t.toServer:
		return b
	case <-time.After(5 * time.Second):
		tb.Fatal("timed out waiting for client message")
		return nil
	}
}
