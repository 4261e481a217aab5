// Package workspace is the entry point for all domain operations: it owns
// the document, the three top-level maps (blocks, updated, space:meta), the
// awareness state, and the plugin map.
package workspace

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/luvjson/blockspace/awareness"
	"github.com/luvjson/blockspace/block"
	"github.com/luvjson/blockspace/indexing"
	"github.com/luvjson/blockspace/luvjson/common"
	"github.com/luvjson/blockspace/luvjson/crdt"
	"github.com/luvjson/blockspace/plugin"
	"github.com/luvjson/blockspace/workspace/werr"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// UpdateMeta accompanies every OnUpdate notification.
type UpdateMeta struct {
	ClientID uint64
	Changed  bool
}

// docState is the document and its two guarding locks, held behind a
// pointer so Workspace.Clone can share it: a clone and its original must
// serialize writes against the very same lock, not a fresh zero-value one.
type docState struct {
	docMu   sync.RWMutex
	doc     *crdt.Document
	writeMu sync.Mutex
}

// Workspace is the domain root: a document plus its typed maps, plugins, and
// awareness state.
type Workspace struct {
	id       string
	cfg      Config
	clientID uint64
	log      *zap.Logger

	state *docState

	plugins   *plugin.Map
	awareness *awareness.State

	obsMu     sync.Mutex
	nextObsID int
	updateObs map[int]func(UpdateMeta, []byte)
	metaObs   map[int]func()
}

// New creates an empty workspace under a fresh document.
func New(id string, opts ...Option) (*Workspace, error) {
	doc := crdt.NewDocument(common.NewSessionID())
	rootID, err := doc.CreateObject()
	if err != nil {
		return nil, errors.Wrap(err, "create workspace root object")
	}
	if err := doc.SetRoot(rootID); err != nil {
		return nil, errors.Wrap(err, "set workspace root")
	}
	return newWorkspace(id, doc, opts)
}

// FromDocument adopts an existing document (e.g. loaded from storage) as a
// workspace, lazily creating any of the three fixed top-level maps it is
// missing.
func FromDocument(doc *crdt.Document, id string, opts ...Option) (*Workspace, error) {
	return newWorkspace(id, doc, opts)
}

func newWorkspace(id string, doc *crdt.Document, opts []Option) (*Workspace, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ttl := cfg.AwarenessTTL
	if ttl <= 0 {
		ttl = awareness.DefaultTTL
	}

	clientID := cfg.ClientID
	if clientID == 0 {
		clientID = deriveClientID(doc.GetSessionID())
	}

	w := &Workspace{
		id:        id,
		cfg:       cfg,
		clientID:  clientID,
		log:       zap.NewNop(),
		state:     &docState{doc: doc},
		plugins:   plugin.NewMap(),
		awareness: awareness.New(ttl),
		updateObs: make(map[int]func(UpdateMeta, []byte)),
		metaObs:   make(map[int]func()),
	}

	if err := w.installDefaultPlugins(); err != nil {
		return nil, err
	}

	// Touching a no-op write transaction resolves (and, if necessary,
	// creates and commits) the three fixed top-level maps, so callers never
	// observe a workspace whose layout is incomplete.
	if err := w.WithTrx(func(*Transaction) error { return nil }); err != nil {
		return nil, errors.Wrap(err, "establish workspace layout")
	}

	return w, nil
}

// SetLogger attaches a zap logger, replacing the no-op default.
func (w *Workspace) SetLogger(log *zap.Logger) {
	w.log = log
}

func (w *Workspace) installDefaultPlugins() error {
	if !w.cfg.EnableIndexing {
		return nil
	}
	if err := w.plugins.Install(indexing.New()); err != nil {
		return errors.Wrap(err, "install indexing plugin")
	}
	return nil
}

func deriveClientID(sid common.SessionID) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(sid[:])
	return h.Sum64()
}

// ID returns the workspace's identifier.
func (w *Workspace) ID() string { return w.id }

// ClientID returns the identity this workspace handle stamps onto edit
// records it produces.
func (w *Workspace) ClientID() uint64 { return w.clientID }

// Awareness returns the workspace's presence state.
func (w *Workspace) Awareness() *awareness.State { return w.awareness }

// Plugins returns the workspace's plugin registry, for collaborators that
// need direct access (e.g. a REST handler serving /search).
func (w *Workspace) Plugins() *plugin.Map { return w.plugins }

// View runs f against a read-only snapshot of the document. The snapshot is
// independent of concurrent writers; it never observes a transaction's
// interim, pre-commit state.
func (w *Workspace) View(f func(*Transaction) error) error {
	w.state.docMu.RLock()
	fork, err := w.state.doc.Fork(common.NewSessionID())
	w.state.docMu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "fork for read transaction")
	}

	trx, err := newTransaction(w, fork, false)
	if err != nil {
		return err
	}
	return f(trx)
}

// WithTrx acquires a write transaction, runs f, and commits: if f returns
// nil, the transaction's changes are merged into the live document as a
// single atomic step and observers fire once; if f returns an error, the
// document is left unchanged. Blocks if another write transaction is live.
func (w *Workspace) WithTrx(f func(*Transaction) error) error {
	w.state.writeMu.Lock()
	defer w.state.writeMu.Unlock()
	return w.runWrite(f)
}

// TryWithTrx behaves like WithTrx but fails immediately with
// werr.TransactionBusy instead of blocking if a write transaction is live.
func (w *Workspace) TryWithTrx(f func(*Transaction) error) error {
	if !w.state.writeMu.TryLock() {
		return werr.TransactionBusy{}
	}
	defer w.state.writeMu.Unlock()
	return w.runWrite(f)
}

func (w *Workspace) runWrite(f func(*Transaction) error) error {
	w.state.docMu.RLock()
	baseline := w.state.doc.StateVector()
	fork, err := w.state.doc.Fork(w.state.doc.GetSessionID())
	w.state.docMu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "fork for write transaction")
	}

	trx, err := newTransaction(w, fork, true)
	if err != nil {
		return err
	}

	if err := f(trx); err != nil {
		return err
	}

	w.state.docMu.Lock()
	changed := w.state.doc.Merge(baseline, fork)
	w.state.docMu.Unlock()

	w.plugins.MarkDirty()
	w.notifyUpdate(changed)
	return nil
}

func (w *Workspace) notifyUpdate(changed bool) {
	update, err := w.state.doc.MarshalJSON()
	if err != nil {
		w.log.Error("marshal update for observers", zap.Error(err))
		return
	}

	meta := UpdateMeta{ClientID: w.clientID, Changed: changed}

	w.obsMu.Lock()
	updateHandlers := make([]func(UpdateMeta, []byte), 0, len(w.updateObs))
	for _, fn := range w.updateObs {
		updateHandlers = append(updateHandlers, fn)
	}
	metaHandlers := make([]func(), 0, len(w.metaObs))
	for _, fn := range w.metaObs {
		metaHandlers = append(metaHandlers, fn)
	}
	w.obsMu.Unlock()

	for _, fn := range updateHandlers {
		dispatchUpdate(w.log, fn, meta, update)
	}
	for _, fn := range metaHandlers {
		dispatchMeta(w.log, fn)
	}
}

func dispatchUpdate(log *zap.Logger, fn func(UpdateMeta, []byte), meta UpdateMeta, update []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("on_update handler panicked", zap.Any("recovered", r))
		}
	}()
	fn(meta, update)
}

func dispatchMeta(log *zap.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("on_metadata_change handler panicked", zap.Any("recovered", r))
		}
	}()
	fn()
}

// OnUpdate subscribes to every committed write transaction. It returns a
// function that cancels the subscription.
func (w *Workspace) OnUpdate(handler func(UpdateMeta, []byte)) (cancel func()) {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()

	id := w.nextObsID
	w.nextObsID++
	w.updateObs[id] = handler

	return func() {
		w.obsMu.Lock()
		defer w.obsMu.Unlock()
		delete(w.updateObs, id)
	}
}

// OnMetadataChange subscribes to changes under space:meta. Since this
// implementation does not track field-level dirtiness, it fires on every
// committed write transaction, the same as OnUpdate; callers that care only
// about metadata should read MetaMap() in their handler and compare.
func (w *Workspace) OnMetadataChange(handler func()) (cancel func()) {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()

	id := w.nextObsID
	w.nextObsID++
	w.metaObs[id] = handler

	return func() {
		w.obsMu.Lock()
		defer w.obsMu.Unlock()
		delete(w.metaObs, id)
	}
}

// OnAwareness subscribes to presence deltas.
func (w *Workspace) OnAwareness(handler func(awareness.Delta)) (cancel func()) {
	return w.awareness.OnChange(handler)
}

// StateVector returns a snapshot of the document's logical clock, for a sync
// engine session to announce in a Step1 frame.
func (w *Workspace) StateVector() map[string]uint64 {
	w.state.docMu.RLock()
	defer w.state.docMu.RUnlock()
	return w.state.doc.StateVector()
}

// NodesSince returns the nodes a peer holding sv is missing, for a sync
// engine session to carry in a Step2 or Update frame.
func (w *Workspace) NodesSince(sv map[string]uint64) []crdt.Node {
	w.state.docMu.RLock()
	defer w.state.docMu.RUnlock()
	return w.state.doc.NodesSince(sv)
}

// RootID returns the id of the document's workspace-root object (the
// LWWObjectNode under the fixed RootID value node), for a sync engine
// session to advertise so a peer with no prior knowledge can adopt it.
func (w *Workspace) RootID() (common.LogicalTimestamp, error) {
	w.state.docMu.RLock()
	defer w.state.docMu.RUnlock()
	root, err := block.RootObject(w.state.doc)
	if err != nil {
		return common.LogicalTimestamp{}, err
	}
	return root.ID(), nil
}

// ApplyRemoteUpdate applies a peer's Step2/Update node list to the live
// document under the write lock, then runs the same post-commit bookkeeping
// a local write transaction does (mark plugins dirty, notify subscribers).
//
// This does not go through WithTrx/Fork/Merge: Merge's structural sync
// assumes the fork is "the next version" of a document no one else
// mutated concurrently, which is true of a local write transaction but not
// of a peer's update. ApplyUpdate's per-field LWW merge is the one that is
// safe for genuinely concurrent, independently-produced state.
func (w *Workspace) ApplyRemoteUpdate(nodes []crdt.Node) bool {
	w.state.writeMu.Lock()
	defer w.state.writeMu.Unlock()

	w.state.docMu.Lock()
	changed := w.state.doc.ApplyUpdate(nodes)
	w.state.docMu.Unlock()

	if changed {
		w.plugins.MarkDirty()
		w.notifyUpdate(changed)
	}
	return changed
}

// AdoptRemoteRoot repoints the document's root at the given object id,
// called after ApplyRemoteUpdate has adopted it. A no-op if the id is
// already known to be older or equal under LWW comparison, or if it is not
// yet present in the document (the accompanying node list didn't carry it).
func (w *Workspace) AdoptRemoteRoot(id common.LogicalTimestamp) {
	w.state.writeMu.Lock()
	defer w.state.writeMu.Unlock()

	w.state.docMu.Lock()
	defer w.state.docMu.Unlock()
	if err := w.state.doc.SetRoot(id); err != nil {
		w.log.Debug("adopt remote root skipped", zap.Error(err))
	}
}

// Get opens a block by id, or returns (nil, nil) if absent.
func (w *Workspace) Get(id string) (*block.Block, error) {
	var result *block.Block
	err := w.View(func(trx *Transaction) error {
		b, err := block.Open(trx, id)
		if err != nil {
			return err
		}
		result = b
		return nil
	})
	return result, err
}

// Exists reports whether a block id is present.
func (w *Workspace) Exists(id string) (bool, error) {
	b, err := w.Get(id)
	return b != nil, err
}

// BlockCount returns the number of blocks in the workspace.
func (w *Workspace) BlockCount() (int, error) {
	var count int
	err := w.View(func(trx *Transaction) error {
		count = len(trx.BlocksMap().Keys())
		return nil
	})
	return count, err
}

// BlocksByFlavor returns every block with the given flavor, ordered by
// creation.
func (w *Workspace) BlocksByFlavor(flavor string) ([]*block.Block, error) {
	var result []*block.Block
	err := w.View(func(trx *Transaction) error {
		for _, id := range orderedBlockIDs(trx.BlocksMap()) {
			b, err := block.Open(trx, id)
			if err != nil {
				return err
			}
			if b != nil && b.Flavor() == flavor {
				result = append(result, b)
			}
		}
		return nil
	})
	return result, err
}

// IterateBlocks visits every block in creation order. It zips the blocks and
// updated maps; an id present in one but not the other is an orphan and is
// skipped silently, with a log line, rather than treated as an error.
func (w *Workspace) IterateBlocks(visit func(*block.Block) error) error {
	return w.View(func(trx *Transaction) error {
		for _, id := range orderedBlockIDs(trx.BlocksMap()) {
			if trx.UpdatedMap().Get(id) == nil {
				w.log.Warn("orphan entry in blocks map during iteration", zap.String("block_id", id))
				continue
			}
			b, err := block.Open(trx, id)
			if err != nil {
				return err
			}
			if b == nil {
				w.log.Warn("orphan entry in updated map during iteration", zap.String("block_id", id))
				continue
			}
			if err := visit(b); err != nil {
				return err
			}
		}
		for _, id := range trx.UpdatedMap().Keys() {
			if trx.BlocksMap().Get(id) == nil {
				w.log.Warn("orphan entry in updated map during iteration", zap.String("block_id", id))
			}
		}
		return nil
	})
}

// orderedBlockIDs returns a map's keys ordered by the logical timestamp each
// was last set with, which for a freshly-created block is its creation
// order. Go map iteration order is unspecified, so this is the only
// faithful way to recover "ordered by creation".
func orderedBlockIDs(m *crdt.LWWObjectNode) []string {
	type entry struct {
		id string
		ts common.LogicalTimestamp
	}
	entries := make([]entry, 0, len(m.NodeFields))
	for id, field := range m.NodeFields {
		entries = append(entries, entry{id: id, ts: field.NodeTimestamp})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ts.Compare(entries[j].ts) < 0
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

// ToJSON emits {"blocks": …, "updated": …} computed from a read transaction.
func (w *Workspace) ToJSON() ([]byte, error) {
	var out map[string]any
	err := w.View(func(trx *Transaction) error {
		out = map[string]any{
			"blocks":  trx.BlocksMap().Value(),
			"updated": trx.UpdatedMap().Value(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// EncodeStateAsUpdate serializes the full document, for a collaborator that
// needs to persist or transmit it whole (spec.md §10).
func (w *Workspace) EncodeStateAsUpdate() ([]byte, error) {
	w.state.docMu.RLock()
	defer w.state.docMu.RUnlock()
	return w.state.doc.MarshalJSON()
}

// SearchResult runs the indexing plugin's search and returns the JSON-encoded
// ranked result list (spec.md §10).
func (w *Workspace) SearchResult(query string) (string, error) {
	opts, err := indexing.ParseOptions(query)
	if err != nil {
		return "", err
	}

	var results []indexing.Result
	err = w.View(func(trx *Transaction) error {
		p, err := w.plugins.Get(plugin.TagIndexing, trx.Doc())
		if err != nil {
			return err
		}
		idx, ok := p.(*indexing.Plugin)
		if !ok {
			return werr.Decode{Reason: "indexing plugin has unexpected type"}
		}
		results = idx.Search(opts)
		return nil
	})
	if err != nil {
		return "", err
	}

	encoded, err := json.Marshal(results)
	if err != nil {
		return "", errors.Wrap(err, "encode search results")
	}
	return string(encoded), nil
}

// Clone returns a new Workspace handle sharing the same underlying document
// and awareness state, but with its own empty plugin map, repopulated with
// fresh plugin instances rather than the original's (spec.md §9 Open
// Question (i)): plugin state is a derived cache over the document, and two
// handles sharing one *indexing.Plugin instance would race its postings/
// blocks maps under two independent outer mutexes.
func (w *Workspace) Clone() *Workspace {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()

	clone := &Workspace{
		id:        w.id,
		cfg:       w.cfg,
		clientID:  w.clientID,
		log:       w.log,
		state:     w.state,
		plugins:   w.plugins.Clone(),
		awareness: w.awareness,
		updateObs: make(map[int]func(UpdateMeta, []byte)),
		metaObs:   make(map[int]func()),
	}
	if err := clone.installDefaultPlugins(); err != nil {
		w.log.Warn("clone: reinstalling default plugins failed", zap.Error(err))
	}
	return clone
}
