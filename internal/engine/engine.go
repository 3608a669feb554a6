// internal/engine/engine.go
package engine

import (
	"context"
)

// StartHandlers receive the first-connection signals for one Start call.
// The engine delivers exactly one terminal outcome per start: either
// OnConnected fires (already-paired credentials) or OnQRUpdated fires with a
// pairing payload. OnQRUpdated may fire again with rotated payloads while the
// session keeps connecting in the background.
type StartHandlers struct {
	OnConnected func()
	OnQRUpdated func(qr string)
}

// Engine is the messaging-session engine boundary. The protocol itself is an
// external collaborator; wagate only starts, stops, and observes sessions.
// Implementations must guarantee at most one active session per name.
type Engine interface {
	// IsActive reports whether an authenticated session exists for the name.
	IsActive(session string) bool

	// Start begins connecting the named session. It returns once the attempt
	// is registered; the outcome arrives via the handlers.
	Start(ctx context.Context, session string, h StartHandlers) error

	// Stop disconnects and removes the named session.
	Stop(ctx context.Context, session string) error

	// Process-lifetime lifecycle subscriptions, keyed by session name.
	OnConnecting(fn func(session string))
	OnConnected(fn func(session string))
	OnDisconnected(fn func(session string))

	// OnMessageReceived subscribes to inbound messages from connected
	// sessions. Like the lifecycle streams, registered once per process.
	OnMessageReceived(fn func(session string, payload map[string]any))
}
