package indexing

import (
	"testing"

	"github.com/luvjson/blockspace/block"
	"github.com/luvjson/blockspace/luvjson/common"
	"github.com/luvjson/blockspace/luvjson/crdt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTrx is a minimal block.Txn, mirroring block's own test helper, so this
// package's tests don't need to import package workspace.
type fakeTrx struct {
	doc     *crdt.Document
	blocks  *crdt.LWWObjectNode
	updated *crdt.LWWObjectNode
}

func newFakeTrx(t *testing.T) *fakeTrx {
	t.Helper()
	doc := crdt.NewDocument(common.NewSessionID())
	rootID, err := doc.CreateObject()
	require.NoError(t, err)
	require.NoError(t, doc.SetRoot(rootID))

	root, err := block.RootObject(doc)
	require.NoError(t, err)

	return &fakeTrx{
		doc:     doc,
		blocks:  block.FieldObject(doc, root, block.FieldBlocks),
		updated: block.FieldObject(doc, root, block.FieldUpdated),
	}
}

func (f *fakeTrx) Doc() *crdt.Document            { return f.doc }
func (f *fakeTrx) ClientID() uint64                { return 1 }
func (f *fakeTrx) Now() uint64                     { return 1 }
func (f *fakeTrx) BlocksMap() *crdt.LWWObjectNode  { return f.blocks }
func (f *fakeTrx) UpdatedMap() *crdt.LWWObjectNode { return f.updated }

func TestSearchRanksByBM25(t *testing.T) {
	trx := newFakeTrx(t)

	b1, err := block.Create(trx, "b1", "text", 1)
	require.NoError(t, err)
	require.NoError(t, b1.Set(trx, "body", "hello world"))

	b2, err := block.Create(trx, "b2", "text", 1)
	require.NoError(t, err)
	require.NoError(t, b2.Set(trx, "body", "hello there"))

	idx := New()
	require.NoError(t, idx.Refresh(trx.Doc()))

	helloResults := idx.Search(Options{Query: "hello", Limit: 10})
	assert.Len(t, helloResults, 2)

	worldResults := idx.Search(Options{Query: "world", Limit: 10})
	require.Len(t, worldResults, 1)
	assert.Equal(t, "b1", worldResults[0].BlockID)
}

func TestRefreshSkipsUnchangedBlocks(t *testing.T) {
	trx := newFakeTrx(t)
	b1, err := block.Create(trx, "b1", "text", 1)
	require.NoError(t, err)
	require.NoError(t, b1.Set(trx, "body", "alpha beta"))

	idx := New()
	require.NoError(t, idx.Refresh(trx.Doc()))
	firstHash := idx.blocks["b1"].hash

	require.NoError(t, idx.Refresh(trx.Doc()))
	assert.Equal(t, firstHash, idx.blocks["b1"].hash)
}

func TestRefreshPurgesRemovedBlocks(t *testing.T) {
	trx := newFakeTrx(t)
	b1, err := block.Create(trx, "b1", "text", 1)
	require.NoError(t, err)
	require.NoError(t, b1.Set(trx, "body", "alpha beta"))

	idx := New()
	require.NoError(t, idx.Refresh(trx.Doc()))
	assert.Len(t, idx.Search(Options{Query: "alpha", Limit: 10}), 1)

	_, err = b1.Remove(trx)
	require.NoError(t, err)
	require.NoError(t, idx.Refresh(trx.Doc()))

	assert.Empty(t, idx.Search(Options{Query: "alpha", Limit: 10}))
	assert.Empty(t, idx.blocks)
	assert.Empty(t, idx.postings)
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", opts.Query)
	assert.Equal(t, 10, opts.Limit)

	opts, err = ParseOptions(map[string]any{"query": "foo", "limit": float64(2), "offset": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, "foo", opts.Query)
	assert.Equal(t, 2, opts.Limit)
	assert.Equal(t, 1, opts.Offset)

	_, err = ParseOptions(42)
	assert.Error(t, err)
}
