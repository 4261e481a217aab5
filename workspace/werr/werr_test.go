package werr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	err := NotFound{Kind: "block", ID: "b1"}
	assert.Equal(t, "block not found: b1", err.Error())
}

func TestImmutableError(t *testing.T) {
	err := Immutable{Key: "flavor"}
	assert.Contains(t, err.Error(), "flavor")
}

func TestPluginFailureUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := PluginFailure{Tag: "indexing", Inner: inner}
	assert.ErrorIs(t, err, inner)
}

func TestWrapStorageFailure(t *testing.T) {
	assert.Nil(t, WrapStorageFailure(nil, "load"))

	inner := errors.New("disk full")
	wrapped := WrapStorageFailure(inner, "persist")
	assert.Error(t, wrapped)

	var sf StorageFailure
	assert.True(t, errors.As(wrapped, &sf))
	assert.ErrorIs(t, sf, inner)
}

func TestWrapTransportFailure(t *testing.T) {
	assert.Nil(t, WrapTransportFailure(nil, "send"))

	inner := errors.New("connection reset")
	wrapped := WrapTransportFailure(inner, "outbound")
	assert.Error(t, wrapped)

	var tf TransportFailure
	assert.True(t, errors.As(wrapped, &tf))
}
