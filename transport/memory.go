package transport

import (
	"context"
	"sync"

	"github.com/tetherframe/tether"
)

// SentPayload is one payload recorded by a Memory transport.
type SentPayload struct {
	ChannelID string
	Payload   map[string]any
}

// Memory is an in-process tether.Transport that records every payload it is
// asked to deliver. Useful in tests and demos where no real client channel
// exists.
type Memory struct {
	mu   sync.Mutex
	sent []SentPayload
}

// NewMemory creates an empty Memory transport.
func NewMemory() *Memory {
	return &Memory{}
}

// Send records the payload.
func (m *Memory) Send(_ context.Context, channelID string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentPayload{ChannelID: channelID, Payload: payload})
	return nil
}

// Sent returns a copy of everything recorded so far.
func (m *Memory) Sent() []SentPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentPayload, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns recorded payloads for one channel.
func (m *Memory) SentTo(channelID string) []SentPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentPayload
	for _, p := range m.sent {
		if p.ChannelID == channelID {
			out = append(out, p)
		}
	}
	return out
}

// Reset discards all recorded payloads.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// Compile-time check that Memory implements tether.Transport.
var _ tether.Transport = (*Memory)(nil)
