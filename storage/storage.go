// Package storage provides the workspace's storage collaborator: an
// abstract handle a workspace can use to persist and reload its CRDT update
// bytes, with the concrete format and retention left to the adapter.
package storage

import "context"

// Update is one persisted snapshot of a workspace's document: the CRDT
// update bytes (cmd/blockspaced stores a JSON-encoded node list) plus the
// state vector they represent, so a caller can tell whether a stored update
// is newer than what it already has.
type Update struct {
	Bytes       []byte
	StateVector map[string]uint64
}

// Provider is the storage collaborator interface: load/persist/list_updates,
// as spec.md §6 names them. The core never depends on a concrete adapter,
// only this interface.
type Provider interface {
	// Load returns the workspace's last persisted update, or (nil, nil) if
	// none has been persisted yet.
	Load(ctx context.Context, workspaceID string) (*Update, error)

	// Persist stores update as the workspace's latest state, replacing
	// whatever was stored before.
	Persist(ctx context.Context, workspaceID string, update Update) error

	// ListUpdates returns the updates a caller holding since is missing.
	// Adapters in this tree keep one snapshot per workspace rather than an
	// append log, so this returns at most one update: the stored one, if it
	// advances any session's counter past since.
	ListUpdates(ctx context.Context, workspaceID string, since map[string]uint64) ([]Update, error)
}

// advancesPast reports whether sv has any session counter strictly greater
// than the corresponding entry in since (or a session since has never seen
// at all), i.e. whether an update carrying sv is worth sending to a peer who
// has already seen since.
func advancesPast(sv, since map[string]uint64) bool {
	for sid, counter := range sv {
		if have, ok := since[sid]; !ok || counter > have {
			return true
		}
	}
	return false
}
