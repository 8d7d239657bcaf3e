package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
)

// Transport is one live connection. Send must be safe to call after Close
// (returning an error); Close must be idempotent.
type Transport interface {
	Send(msg []byte) error
	Close() error
	Ready() bool
}

// ErrTransportClosed is returned by MemoryTransport after Close.
var ErrTransportClosed = errors.New("transport closed")

// MemoryTransport records messages in memory, for tests.
type MemoryTransport struct {
	mu      sync.Mutex
	msgs    [][]byte
	closed  bool
	sendErr error
}

func NewMemoryTransport() *MemoryTransport { return &MemoryTransport{} }

func (m *MemoryTransport) Send(msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTransportClosed
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.msgs = append(m.msgs, append([]byte(nil), msg...))
	return nil
}

func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryTransport) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// FailWith makes every later Send return err.
func (m *MemoryTransport) FailWith(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

func (m *MemoryTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Messages decodes every recorded message.
func (m *MemoryTransport) Messages() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.msgs))
	for _, b := range m.msgs {
		var v map[string]any
		if err := json.Unmarshal(b, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// Types lists the type field of every recorded message, in order.
func (m *MemoryTransport) Types() []string {
	var out []string
	for _, msg := range m.Messages() {
		s, _ := msg["type"].(string)
		out = append(out, s)
	}
	return out
}
