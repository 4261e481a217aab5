// Package block implements the typed view over a workspace's CRDT sub-map:
// a block has a string id, an immutable flavor, arbitrary attributes, and an
// append-only log of edit records.
package block

import (
	"github.com/luvjson/blockspace/luvjson/common"
	"github.com/luvjson/blockspace/luvjson/crdt"
	"github.com/luvjson/blockspace/workspace/werr"

	"github.com/pkg/errors"
)

// Kind tags an entry in a block's edit log.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// EditRecord is one entry in a block's updated[id] log.
type EditRecord struct {
	ClientID    uint64 `json:"client_id"`
	TimestampMs uint64 `json:"timestamp_ms"`
	Kind        Kind   `json:"kind"`
}

// FlavorKey is the reserved, write-once attribute every block carries.
const FlavorKey = "flavor"

// Top-level field names of a workspace document's root object.
const (
	FieldBlocks  = "blocks"
	FieldUpdated = "updated"
)

// RootObject resolves a document's root LWWValueNode down to the
// LWWObjectNode a workspace document roots itself at. Exported so any
// component that needs to walk the document from its root (package
// workspace, the indexing plugin) shares one definition of the layout.
func RootObject(doc *crdt.Document) (*crdt.LWWObjectNode, error) {
	root, err := doc.GetNode(common.RootID)
	if err != nil {
		return nil, err
	}
	lww, ok := root.(*crdt.LWWValueNode)
	if !ok {
		return nil, werr.Decode{Reason: "document root is not a value node"}
	}
	obj, ok := lww.NodeValue.(*crdt.LWWObjectNode)
	if !ok {
		return nil, werr.Decode{Reason: "document root does not wrap an object"}
	}
	return obj, nil
}

// FieldObject resolves parent[key] as an object map, creating and
// registering an empty one in place if absent.
func FieldObject(doc *crdt.Document, parent *crdt.LWWObjectNode, key string) *crdt.LWWObjectNode {
	if existing := parent.Get(key); existing != nil {
		if obj, ok := existing.(*crdt.LWWObjectNode); ok {
			return obj
		}
	}
	id := doc.NextTimestamp()
	obj := crdt.NewLWWObjectNode(id)
	doc.AddNode(obj)
	parent.Set(key, id, obj)
	return obj
}

// Txn is the slice of workspace.Transaction that block operations need: a
// live (or forked) document, the caller's identity and clock, and the two
// top-level maps the block model is layered on. Defined here, rather than
// imported from package workspace, so block does not depend on workspace —
// workspace depends on block, not the other way around.
type Txn interface {
	Doc() *crdt.Document
	ClientID() uint64
	Now() uint64
	BlocksMap() *crdt.LWWObjectNode
	UpdatedMap() *crdt.LWWObjectNode
}

// Block is a typed view over blocks[id] and updated[id]. It carries no
// lifetime beyond the transaction that produced it.
type Block struct {
	id      string
	attrs   *crdt.LWWObjectNode
	history *crdt.RGAArrayNode
}

// Create adds a new block. It fails with werr.AlreadyExists if the id is
// already occupied.
func Create(trx Txn, id, flavor string, clientID uint64) (*Block, error) {
	blocksMap := trx.BlocksMap()
	if blocksMap.Get(id) != nil {
		return nil, werr.AlreadyExists{ID: id}
	}

	doc := trx.Doc()

	attrID := doc.NextTimestamp()
	attrs := crdt.NewLWWObjectNode(attrID)
	doc.AddNode(attrs)
	blocksMap.Set(id, attrID, attrs)

	flavorID := doc.NextTimestamp()
	flavorNode := crdt.NewConstantNode(flavorID, flavor)
	doc.AddNode(flavorNode)
	attrs.Set(FlavorKey, flavorID, flavorNode)

	histID := doc.NextTimestamp()
	hist := crdt.NewRGAArrayNode(histID)
	doc.AddNode(hist)
	trx.UpdatedMap().Set(id, histID, hist)

	b := &Block{id: id, attrs: attrs, history: hist}
	b.appendEdit(trx, KindCreate, clientID)
	return b, nil
}

// Open resolves an existing block, or returns (nil, nil) if it is absent.
// It never creates.
func Open(trx Txn, id string) (*Block, error) {
	attrsNode := trx.BlocksMap().Get(id)
	if attrsNode == nil {
		return nil, nil
	}
	attrs, ok := attrsNode.(*crdt.LWWObjectNode)
	if !ok {
		return nil, werr.Decode{Reason: "blocks[" + id + "] is not an object node"}
	}

	var hist *crdt.RGAArrayNode
	if histNode := trx.UpdatedMap().Get(id); histNode != nil {
		hist, _ = histNode.(*crdt.RGAArrayNode)
	}

	return &Block{id: id, attrs: attrs, history: hist}, nil
}

// ID returns the block's string identifier.
func (b *Block) ID() string {
	return b.id
}

// Flavor returns the block's immutable flavor attribute.
func (b *Block) Flavor() string {
	if v := b.attrs.Get(FlavorKey); v != nil {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

// Get returns an attribute's current value, and whether it is set.
func (b *Block) Get(key string) (any, bool) {
	v := b.attrs.Get(key)
	if v == nil {
		return nil, false
	}
	return v.Value(), true
}

// Keys returns the block's attribute keys, including "flavor".
func (b *Block) Keys() []string {
	return b.attrs.Keys()
}

// Set writes an attribute and appends an update record to the edit log. The
// reserved key "flavor" cannot be rewritten after creation.
func (b *Block) Set(trx Txn, key string, value any) error {
	if key == FlavorKey {
		return werr.Immutable{Key: FlavorKey}
	}

	doc := trx.Doc()
	id := doc.NextTimestamp()
	node, err := crdt.CreateNodeForValue(id, value)
	if err != nil {
		return errors.Wrapf(err, "block %s: set %s", b.id, key)
	}
	doc.AddNode(node)
	b.attrs.Set(key, id, node)

	b.appendEdit(trx, KindUpdate, trx.ClientID())
	return nil
}

// Remove removes both blocks[id] and updated[id]. It returns whether the
// block was present.
func (b *Block) Remove(trx Txn) (bool, error) {
	blocksMap := trx.BlocksMap()
	if blocksMap.Get(b.id) == nil {
		return false, nil
	}
	ts := trx.Doc().NextTimestamp()
	blocksMap.Delete(b.id, ts)
	trx.UpdatedMap().Delete(b.id, ts)
	return true, nil
}

// History returns the block's edit log, in insertion order, skipping
// tombstoned (deleted) entries.
func (b *Block) History() []EditRecord {
	if b.history == nil {
		return nil
	}
	records := make([]EditRecord, 0, len(b.history.NodeElements))
	for _, elem := range b.history.NodeElements {
		if elem.NodeDeleted {
			continue
		}
		m, ok := elem.NodeValue.(map[string]any)
		if !ok {
			continue
		}
		records = append(records, EditRecord{
			ClientID:    toUint64(m["client_id"]),
			TimestampMs: toUint64(m["timestamp_ms"]),
			Kind:        Kind(toString(m["kind"])),
		})
	}
	return records
}

func (b *Block) appendEdit(trx Txn, kind Kind, clientID uint64) {
	if b.history == nil {
		return
	}
	rec := map[string]any{
		"client_id":    clientID,
		"timestamp_ms": trx.Now(),
		"kind":         string(kind),
	}
	after := common.RootID
	if n := len(b.history.NodeElements); n > 0 {
		after = b.history.NodeElements[n-1].NodeId
	}
	id := trx.Doc().NextTimestamp()
	b.history.Insert(after, id, rec)
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case float64:
		return uint64(n)
	case int:
		return uint64(n)
	default:
		return 0
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
