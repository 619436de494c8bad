// Package transport provides Transport implementations for delivering
// emitter payloads to clients: a WebSocket hub for live delivery and an
// in-memory transport for tests and demos.
package transport
