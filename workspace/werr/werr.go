// Package werr defines the error taxonomy of the workspace core.
package werr

import (
	"fmt"

	"github.com/pkg/errors"
)

// NotFound is returned when a block, plugin, or workspace is missing.
type NotFound struct {
	Kind string
	ID   string
}

func (e NotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// AlreadyExists is returned when a block id is already occupied at creation.
type AlreadyExists struct {
	ID string
}

func (e AlreadyExists) Error() string {
	return fmt.Sprintf("block already exists: %s", e.ID)
}

// AlreadyInstalled is returned when a plugin tag is already occupied.
type AlreadyInstalled struct {
	Tag string
}

func (e AlreadyInstalled) Error() string {
	return fmt.Sprintf("plugin already installed: %s", e.Tag)
}

// Immutable is returned when a write-once attribute is rewritten.
type Immutable struct {
	Key string
}

func (e Immutable) Error() string {
	return fmt.Sprintf("attribute is immutable: %s", e.Key)
}

// TransactionBusy is returned when try_with_trx could not acquire the write lock.
type TransactionBusy struct{}

func (e TransactionBusy) Error() string {
	return "a write transaction is already in progress"
}

// Decode is returned when CRDT update bytes are malformed.
type Decode struct {
	Reason string
}

func (e Decode) Error() string {
	return fmt.Sprintf("decode failure: %s", e.Reason)
}

// ProtocolViolation is returned when a sync frame violates the session state machine.
type ProtocolViolation struct {
	Reason string
}

func (e ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

// PluginFailure wraps a plugin's own error, unchanged.
type PluginFailure struct {
	Tag   string
	Inner error
}

func (e PluginFailure) Error() string {
	return fmt.Sprintf("plugin %s failed: %v", e.Tag, e.Inner)
}

func (e PluginFailure) Unwrap() error {
	return e.Inner
}

// StorageFailure surfaces a storage collaborator's error as-is, wrapped with
// github.com/pkg/errors so its original stack/cause survives the crossing.
type StorageFailure struct {
	Inner error
}

func (e StorageFailure) Error() string {
	return fmt.Sprintf("storage failure: %v", e.Inner)
}

func (e StorageFailure) Unwrap() error {
	return e.Inner
}

// WrapStorageFailure wraps err as a StorageFailure, preserving its cause chain.
func WrapStorageFailure(err error, context string) error {
	if err == nil {
		return nil
	}
	return StorageFailure{Inner: errors.Wrap(err, context)}
}

// TransportFailure surfaces a transport collaborator's error as-is.
type TransportFailure struct {
	Inner error
}

func (e TransportFailure) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Inner)
}

func (e TransportFailure) Unwrap() error {
	return e.Inner
}

// WrapTransportFailure wraps err as a TransportFailure, preserving its cause chain.
func WrapTransportFailure(err error, context string) error {
	if err == nil {
		return nil
	}
	return TransportFailure{Inner: errors.Wrap(err, context)}
}
