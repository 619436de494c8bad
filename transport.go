package tether

import "context"

// Transport is the "send to channel" capability consumed by EventEmitters.
// How channel ids map to physical connections is the transport's concern;
// the emitter only guarantees that payloads for one user go to that user's
// channel id.
//
// Implementations live in the transport subpackage (WebSocket hub, in-memory
// recorder); any send failure should come back as an error so the emitter can
// count it.
type Transport interface {
	// Send delivers a wire payload to the given channel. The payload is
	// already sanitized and JSON-serializable.
	Send(ctx context.Context, channelID string, payload map[string]any) error
}
