package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProviderPersistAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	p, err := NewFileProvider(dir)
	require.NoError(t, err)
	ctx := context.Background()

	update := Update{Bytes: []byte("hello"), StateVector: map[string]uint64{"a": 3}}
	require.NoError(t, p.Persist(ctx, "ws1", update))

	got, err := p.Load(ctx, "ws1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, update.Bytes, got.Bytes)
	assert.Equal(t, update.StateVector, got.StateVector)
}

func TestFileProviderLoadMissing(t *testing.T) {
	p, err := NewFileProvider(t.TempDir())
	require.NoError(t, err)

	u, err := p.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestFileProviderListUpdates(t *testing.T) {
	p, err := NewFileProvider(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Persist(ctx, "ws1", Update{Bytes: []byte("v1"), StateVector: map[string]uint64{"a": 5}}))

	updates, err := p.ListUpdates(ctx, "ws1", map[string]uint64{"a": 1})
	require.NoError(t, err)
	require.Len(t, updates, 1)

	updates, err = p.ListUpdates(ctx, "ws1", map[string]uint64{"a": 5})
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestFileProviderPersistAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p1, err := NewFileProvider(dir)
	require.NoError(t, err)
	require.NoError(t, p1.Persist(ctx, "ws1", Update{Bytes: []byte("persisted"), StateVector: map[string]uint64{"a": 1}}))

	p2, err := NewFileProvider(dir)
	require.NoError(t, err)
	got, err := p2.Load(ctx, "ws1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("persisted"), got.Bytes)
}
