// Package transport provides the workspace's transport collaborator: a
// bidirectional byte channel a sync session's frames travel over. spec.md
// names this abstractly as inbound/outbound bytes; this package gives it a
// concrete, swappable Go shape.
package transport

import "context"

// Session is the transport collaborator interface. A syncengine.Session
// reads frames produced by Outbound sends on the peer side and writes its
// own replies via Outbound; Inbound blocks for the next frame to arrive.
type Session interface {
	// Outbound sends a single frame to the peer.
	Outbound(ctx context.Context, frame []byte) error

	// Inbound blocks until the next frame from the peer is available, or
	// ctx is done.
	Inbound(ctx context.Context) ([]byte, error)

	// Close releases the session's underlying resources.
	Close() error
}
