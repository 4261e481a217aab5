package workspace

import (
	"github.com/luvjson/blockspace/block"
	"github.com/luvjson/blockspace/luvjson/crdt"
)

// Transaction is a scoped read or write handle over a workspace's document.
// Read transactions operate on an independent, never-merged snapshot; write
// transactions operate on a snapshot that is merged back into the live
// document as a single atomic step on success.
//
// Transaction satisfies block.Txn, so block.Create/Open/Set/Remove accept it
// directly.
type Transaction struct {
	ws         *Workspace
	doc        *crdt.Document
	writable   bool
	blocksMap  *crdt.LWWObjectNode
	updatedMap *crdt.LWWObjectNode
	metaMap    *crdt.LWWObjectNode
}

func newTransaction(ws *Workspace, doc *crdt.Document, writable bool) (*Transaction, error) {
	root, err := block.RootObject(doc)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		ws:         ws,
		doc:        doc,
		writable:   writable,
		blocksMap:  block.FieldObject(doc, root, block.FieldBlocks),
		updatedMap: block.FieldObject(doc, root, block.FieldUpdated),
		metaMap:    block.FieldObject(doc, root, fieldMeta),
	}, nil
}

// Doc returns the document this transaction operates on: a forked snapshot
// for reads, a private forked draft for writes.
func (t *Transaction) Doc() *crdt.Document { return t.doc }

// ClientID returns the identity to stamp onto edit records created in this
// transaction.
func (t *Transaction) ClientID() uint64 { return t.ws.clientID }

// Now returns the current edit timestamp from the workspace's clock source.
func (t *Transaction) Now() uint64 { return t.ws.cfg.Clock() }

// BlocksMap returns the top-level blocks[id] -> attributes map.
func (t *Transaction) BlocksMap() *crdt.LWWObjectNode { return t.blocksMap }

// UpdatedMap returns the top-level updated[id] -> edit log map.
func (t *Transaction) UpdatedMap() *crdt.LWWObjectNode { return t.updatedMap }

// MetaMap returns the space:meta map.
func (t *Transaction) MetaMap() *crdt.LWWObjectNode { return t.metaMap }

// Writable reports whether this transaction may mutate the document.
func (t *Transaction) Writable() bool { return t.writable }

const fieldMeta = "space:meta"
