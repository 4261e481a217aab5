package plugin

import (
	"errors"
	"testing"

	"github.com/luvjson/blockspace/luvjson/common"
	"github.com/luvjson/blockspace/luvjson/crdt"
	"github.com/luvjson/blockspace/workspace/werr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPlugin struct {
	tag      Tag
	refreshN int
	fail     bool
}

func (p *countingPlugin) Tag() Tag { return p.tag }

func (p *countingPlugin) Refresh(doc *crdt.Document) error {
	if p.fail {
		return errors.New("refresh failed")
	}
	p.refreshN++
	return nil
}

func newTestDoc() *crdt.Document {
	return crdt.NewDocument(common.NewSessionID())
}

func TestInstallAndGet(t *testing.T) {
	m := NewMap()
	p := &countingPlugin{tag: TagIndexing}
	require.NoError(t, m.Install(p))

	got, err := m.Get(TagIndexing, newTestDoc())
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Equal(t, 1, p.refreshN, "Get should refresh a freshly installed (dirty) plugin once")

	got2, err := m.Get(TagIndexing, newTestDoc())
	require.NoError(t, err)
	assert.Same(t, p, got2)
	assert.Equal(t, 1, p.refreshN, "Get on a clean plugin must not refresh again")
}

func TestInstallDuplicateFails(t *testing.T) {
	m := NewMap()
	require.NoError(t, m.Install(&countingPlugin{tag: TagIndexing}))

	err := m.Install(&countingPlugin{tag: TagIndexing})
	assert.IsType(t, werr.AlreadyInstalled{}, err)
}

func TestGetMissing(t *testing.T) {
	m := NewMap()
	_, err := m.Get(TagIndexing, newTestDoc())
	assert.IsType(t, werr.NotFound{}, err)
}

func TestMarkDirtyTriggersRefreshOnNextGet(t *testing.T) {
	m := NewMap()
	p := &countingPlugin{tag: TagIndexing}
	require.NoError(t, m.Install(p))
	_, _ = m.Get(TagIndexing, newTestDoc())
	assert.Equal(t, 1, p.refreshN)

	m.MarkDirty()
	_, err := m.Get(TagIndexing, newTestDoc())
	require.NoError(t, err)
	assert.Equal(t, 2, p.refreshN)
}

func TestGetRefreshFailureWrapsAsPluginFailure(t *testing.T) {
	m := NewMap()
	require.NoError(t, m.Install(&countingPlugin{tag: TagIndexing, fail: true}))

	_, err := m.Get(TagIndexing, newTestDoc())
	require.Error(t, err)
	assert.IsType(t, werr.PluginFailure{}, err)
}

func TestWithAndUpdate(t *testing.T) {
	m := NewMap()
	require.NoError(t, m.Install(&countingPlugin{tag: TagIndexing}))

	called := false
	found := m.With(TagIndexing, newTestDoc(), func(p Plugin) { called = true })
	assert.True(t, found)
	assert.True(t, called)

	err := m.Update(TagIndexing, newTestDoc(), func(p Plugin) error { return nil })
	assert.NoError(t, err)
}

func TestCloneStartsEmpty(t *testing.T) {
	m := NewMap()
	p := &countingPlugin{tag: TagIndexing}
	require.NoError(t, m.Install(p))
	_, _ = m.Get(TagIndexing, newTestDoc())
	assert.Equal(t, 1, p.refreshN)

	clone := m.Clone()
	assert.Empty(t, clone.Tags(), "clone must not inherit the original's installed plugins")

	_, err := clone.Get(TagIndexing, newTestDoc())
	assert.IsType(t, werr.NotFound{}, err)
	assert.Equal(t, 1, p.refreshN, "an untouched clone must never refresh the original's plugin instance")

	// Installing a fresh instance into the clone leaves the original's plugin
	// and dirty bookkeeping untouched.
	clonedP := &countingPlugin{tag: TagIndexing}
	require.NoError(t, clone.Install(clonedP))
	_, err = clone.Get(TagIndexing, newTestDoc())
	require.NoError(t, err)
	assert.Equal(t, 1, clonedP.refreshN)
	assert.Equal(t, 1, p.refreshN, "original plugin instance is never touched by the clone")
}
