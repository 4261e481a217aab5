package crdt

import (
	"encoding/json"
	"sync"

	"github.com/luvjson/blockspace/luvjson/common"
)

// Document represents a JSON CRDT document.
type Document struct {
	// root is the root node of the document.
	root Node

	// index maps node IDs to nodes.
	index map[common.LogicalTimestamp]Node

	// clock is the logical clock of the document, keyed by session id string.
	clock map[string]uint64

	// localSessionID is the session ID of the local user.
	localSessionID common.SessionID

	mu        sync.Mutex
	observers map[int]func()
	nextObsID int
}

// NewDocument creates a new JSON CRDT document.
func NewDocument(sessionID common.SessionID) *Document {
	doc := &Document{
		index:          make(map[common.LogicalTimestamp]Node),
		clock:          make(map[string]uint64),
		localSessionID: sessionID,
		observers:      make(map[int]func()),
	}

	rootVal := NewLWWValueNode(common.RootID, common.RootID, NewConstantNode(common.RootID, nil))
	doc.root = rootVal
	doc.index[common.RootID] = rootVal

	return doc
}

// Root returns the root node of the document.
func (d *Document) Root() Node {
	return d.root
}

// GetNode returns the node with the specified ID.
func (d *Document) GetNode(id common.LogicalTimestamp) (Node, error) {
	if id.Compare(common.RootID) == 0 {
		return d.root, nil
	}

	node, ok := d.index[id]
	if !ok {
		return nil, common.ErrNodeNotFound{ID: id}
	}
	return node, nil
}

// AddNode adds a node to the document and advances the logical clock past it.
func (d *Document) AddNode(node Node) {
	d.index[node.ID()] = node
	d.bumpClock(node.ID())
	d.notify()
}

// bumpClock advances the recorded clock for a session past the given timestamp.
func (d *Document) bumpClock(id common.LogicalTimestamp) {
	sidStr := id.SID.String()
	if current, ok := d.clock[sidStr]; !ok || id.Counter > current {
		d.clock[sidStr] = id.Counter
	}
}

// NextTimestamp returns the next logical timestamp for the local session.
func (d *Document) NextTimestamp() common.LogicalTimestamp {
	sidStr := d.localSessionID.String()
	counter := d.clock[sidStr] + 1
	d.clock[sidStr] = counter
	return common.LogicalTimestamp{
		SID:     d.localSessionID,
		Counter: counter,
	}
}

// GetSessionID returns the local session ID of the document.
func (d *Document) GetSessionID() common.SessionID {
	return d.localSessionID
}

// GetSessionIDString returns the string representation of the local session ID.
func (d *Document) GetSessionIDString() string {
	return d.localSessionID.String()
}

// View returns a JSON view of the document.
func (d *Document) View() (interface{}, error) {
	if d.root == nil {
		return nil, nil
	}

	if lwwVal, ok := d.root.(*LWWValueNode); ok {
		if lwwVal.NodeValue == nil {
			return nil, nil
		}
		return lwwVal.NodeValue.Value(), nil
	}

	return d.root.Value(), nil
}

// Observe registers a callback invoked after every AddNode call and after
// every ApplyUpdate or Merge that changed document state. It returns a
// function that cancels the subscription.
func (d *Document) Observe(fn func()) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextObsID
	d.nextObsID++
	d.observers[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}
}

func (d *Document) notify() {
	d.mu.Lock()
	handlers := make([]func(), 0, len(d.observers))
	for _, fn := range d.observers {
		handlers = append(handlers, fn)
	}
	d.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// StateVector returns a snapshot of the document's logical clock, keyed by
// session ID string. Used by the sync engine to describe "what I have" to a
// peer (spec.md §4.6, Sync Step1).
func (d *Document) StateVector() map[string]uint64 {
	sv := make(map[string]uint64, len(d.clock))
	for k, v := range d.clock {
		sv[k] = v
	}
	return sv
}

// NodesSince returns every node reachable from the root that a peer holding
// the given state vector is missing, i.e. the update to send it; nodes that
// are only in the flat index are not included. Order is unspecified; callers needing
// determinism should sort by ID.
//
// This walks the tree from the root rather than scanning the flat index: a
// container whose own ID predates sv but that gained a new or changed field
// since (e.g. blocksMap picking up a new block, its own ID never advancing
// because Set mutates NodeFields in place) still needs to be included, or
// the receiving side's ApplyUpdate/mergeNode would have no field entry to
// attach the new child under. Including the container is safe even when its
// own fields didn't all change: mergeNode's per-field LWW comparison makes
// re-sending an already-known field a no-op.
func (d *Document) NodesSince(sv map[string]uint64) []Node {
	var missing []Node
	visited := make(map[common.LogicalTimestamp]bool)
	d.collectSince(d.root, sv, visited, &missing)
	return missing
}

// collectSince reports whether node or any descendant is missing from sv,
// appending node itself (unless it is the fixed root) to out when so.
func (d *Document) collectSince(node Node, sv map[string]uint64, visited map[common.LogicalTimestamp]bool, out *[]Node) bool {
	if node == nil || visited[node.ID()] {
		return false
	}
	visited[node.ID()] = true

	descendantMissing := false
	switch n := node.(type) {
	case *LWWValueNode:
		if d.collectSince(n.NodeValue, sv, visited, out) {
			descendantMissing = true
		}
	case *RootNode:
		if d.collectSince(n.NodeValue, sv, visited, out) {
			descendantMissing = true
		}
	case *LWWObjectNode:
		for _, field := range n.NodeFields {
			if d.collectSince(field.NodeValue, sv, visited, out) {
				descendantMissing = true
			}
		}
	case *RGAArrayNode:
		if d.collectSinceElements(n.NodeElements, sv, visited, out) {
			descendantMissing = true
		}
	case *RGAStringNode:
		if d.collectSinceElements(n.NodeElements, sv, visited, out) {
			descendantMissing = true
		}
	}

	id := node.ID()
	selfMissing := false
	if id.Compare(common.RootID) != 0 {
		have, ok := sv[id.SID.String()]
		if !ok || id.Counter > have {
			selfMissing = true
		}
	}

	if !selfMissing && !descendantMissing {
		return false
	}
	if id.Compare(common.RootID) != 0 {
		*out = append(*out, node)
	}
	return true
}

// collectSinceElements reports whether any RGA element is missing from sv,
// recursing into Node-typed values and checking plain-value elements (e.g.
// block edit records) against their own element timestamp directly, since
// those are never indexed as Nodes in their own right.
func (d *Document) collectSinceElements(elements []*RGAElement, sv map[string]uint64, visited map[common.LogicalTimestamp]bool, out *[]Node) bool {
	missing := false
	for _, elem := range elements {
		if child, ok := elem.NodeValue.(Node); ok {
			if d.collectSince(child, sv, visited, out) {
				missing = true
			}
			continue
		}
		have, ok := sv[elem.NodeId.SID.String()]
		if !ok || elem.NodeId.Counter > have {
			missing = true
		}
	}
	return missing
}

// ApplyUpdate merges a set of remotely-produced nodes into the document.
// New node IDs are added outright; node IDs that already exist are merged
// using each node type's own conflict-resolution rule (LWW for objects and
// values, append-once-per-id for RGA sequences). Unknown node kinds are
// skipped. Returns true if the merge changed document state.
func (d *Document) ApplyUpdate(nodes []Node) bool {
	changed := false
	for _, incoming := range nodes {
		existing, err := d.GetNode(incoming.ID())
		if err != nil {
			d.index[incoming.ID()] = incoming
			d.bumpClock(incoming.ID())
			changed = true
			continue
		}
		if d.mergeNode(existing, incoming) {
			changed = true
		}
	}
	if changed {
		d.notify()
	}
	return changed
}

// mergeNode reconciles an incoming node with the document's existing node at
// the same ID, in place, returning whether anything changed.
func (d *Document) mergeNode(existing, incoming Node) bool {
	switch ex := existing.(type) {
	case *LWWValueNode:
		in, ok := incoming.(*LWWValueNode)
		if !ok {
			return false
		}
		return ex.SetValue(in.NodeTimestamp, in.NodeValue)
	case *LWWObjectNode:
		in, ok := incoming.(*LWWObjectNode)
		if !ok {
			return false
		}
		changed := false
		for key, field := range in.NodeFields {
			if ex.Set(key, field.NodeTimestamp, field.NodeValue) {
				changed = true
			}
		}
		return changed
	case *RGAStringNode:
		in, ok := incoming.(*RGAStringNode)
		if !ok {
			return false
		}
		return mergeRGAElements(&ex.NodeElements, in.NodeElements)
	case *RGAArrayNode:
		in, ok := incoming.(*RGAArrayNode)
		if !ok {
			return false
		}
		return mergeRGAElements(&ex.NodeElements, in.NodeElements)
	default:
		return false
	}
}

// mergeRGAElements merges incoming RGA elements into an existing slice,
// appending IDs not already present and propagating tombstones for IDs
// already present. It does not attempt to preserve the incoming order
// relative to concurrent local inserts; that refinement is out of scope.
func mergeRGAElements(existing *[]*RGAElement, incoming []*RGAElement) bool {
	index := make(map[common.LogicalTimestamp]*RGAElement, len(*existing))
	for _, e := range *existing {
		index[e.NodeId] = e
	}

	changed := false
	for _, in := range incoming {
		if cur, ok := index[in.NodeId]; ok {
			if in.NodeDeleted && !cur.NodeDeleted {
				cur.NodeDeleted = true
				changed = true
			}
			continue
		}
		*existing = append(*existing, in)
		index[in.NodeId] = in
		changed = true
	}
	return changed
}

// Merge publishes fork's current state into d. Unlike ApplyUpdate, which
// reconciles two documents that may have diverged concurrently, Merge
// assumes fork was produced by Document.Fork(d.GetSessionID()) under a
// single-writer discipline: d is guaranteed unchanged since that Fork call,
// so fork's tree is simply "the next version" of d, not a concurrent
// sibling. That lets Merge do something ApplyUpdate cannot: walk container
// nodes structurally and propagate field removals (a key present in d's
// object but absent from fork's is a deletion that happened inside the
// transaction, not a peer's incomplete knowledge), in addition to adopting
// newly created nodes. Used to commit a write transaction's forked draft
// back into the live document as a single atomic step, so observers fire at
// most once per commit.
func (d *Document) Merge(baseline map[string]uint64, fork *Document) bool {
	visited := make(map[common.LogicalTimestamp]bool)
	changed := d.syncNode(d.root, fork.root, visited)
	if changed {
		d.notify()
	}
	return changed
}

// syncNode structurally reconciles existing (a node of d's) with incoming
// (fork's node at the same ID), adopting any child of incoming that d has
// never seen and propagating field/element changes, including removals for
// object containers. baseline is intentionally unused here: Merge's
// single-writer guarantee makes a full structural walk correct without it.
func (d *Document) syncNode(existing, incoming Node, visited map[common.LogicalTimestamp]bool) bool {
	if incoming == nil || visited[incoming.ID()] {
		return false
	}
	visited[incoming.ID()] = true

	switch in := incoming.(type) {
	case *LWWValueNode:
		ex, ok := existing.(*LWWValueNode)
		if !ok || in.NodeValue == nil {
			return false
		}
		child, childChanged := d.resolveChild(in.NodeValue, visited)
		changed := childChanged
		if ex.SetValue(in.NodeTimestamp, child) {
			changed = true
		}
		return changed

	case *LWWObjectNode:
		ex, ok := existing.(*LWWObjectNode)
		if !ok {
			return false
		}
		changed := false
		for key, field := range in.NodeFields {
			child, childChanged := d.resolveChild(field.NodeValue, visited)
			if childChanged {
				changed = true
			}
			if ex.Set(key, field.NodeTimestamp, child) {
				changed = true
			}
		}
		for key := range ex.NodeFields {
			if _, ok := in.NodeFields[key]; !ok {
				delete(ex.NodeFields, key)
				changed = true
			}
		}
		return changed

	case *RGAStringNode:
		ex, ok := existing.(*RGAStringNode)
		if !ok {
			return false
		}
		return mergeRGAElements(&ex.NodeElements, in.NodeElements)

	case *RGAArrayNode:
		ex, ok := existing.(*RGAArrayNode)
		if !ok {
			return false
		}
		return mergeRGAElements(&ex.NodeElements, in.NodeElements)

	default:
		return false
	}
}

// resolveChild returns d's copy of a child node referenced by a container
// field, adopting it (and its own descendants) into d's index if d has
// never seen its ID, then recursing into it so nested containers are synced
// too.
func (d *Document) resolveChild(incoming Node, visited map[common.LogicalTimestamp]bool) (Node, bool) {
	existing, err := d.GetNode(incoming.ID())
	if err != nil {
		d.index[incoming.ID()] = incoming
		d.bumpClock(incoming.ID())
		_ = d.parseNodeRecursively(incoming)
		visited[incoming.ID()] = true
		return incoming, true
	}
	changed := d.syncNode(existing, incoming, visited)
	return existing, changed
}

// Fork returns an independent deep copy of the document under the given
// local session ID. Used by the workspace for read-transaction snapshots and
// write-transaction drafts, and by tests that need to mutate a copy without
// affecting the original.
func (d *Document) Fork(sessionID common.SessionID) (*Document, error) {
	data, err := d.MarshalJSON()
	if err != nil {
		return nil, err
	}

	clone := NewDocument(sessionID)
	if err := clone.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return clone, nil
}

// MarshalJSON implements the json.Marshaler interface.
// It uses the verbose format by default.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.toVerboseJSON()
}

// UnmarshalJSON implements the json.Unmarshaler interface.
// It uses the verbose format by default.
func (d *Document) UnmarshalJSON(data []byte) error {
	return d.fromVerboseJSON(data)
}

// toVerboseJSON returns a verbose JSON representation of the document.
func (d *Document) toVerboseJSON() ([]byte, error) {
	type verboseDoc struct {
		Time map[string]uint64 `json:"time"`
		Root json.RawMessage   `json:"root"`
	}

	rootJSON, err := json.Marshal(d.root)
	if err != nil {
		return nil, err
	}

	doc := verboseDoc{
		Time: d.clock,
		Root: rootJSON,
	}

	return json.Marshal(doc)
}

// fromVerboseJSON parses a verbose JSON representation of the document.
func (d *Document) fromVerboseJSON(data []byte) error {
	type verboseDoc struct {
		Time map[string]uint64 `json:"time"`
		Root json.RawMessage   `json:"root"`
	}

	var doc verboseDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	d.clock = doc.Time
	if d.clock == nil {
		d.clock = make(map[string]uint64)
	}

	root, err := unmarshalNodeValue(doc.Root)
	if err != nil {
		return err
	}

	d.root = root
	d.index = make(map[common.LogicalTimestamp]Node)
	d.index[root.ID()] = root

	return d.parseNodeRecursively(root)
}

// parseNodeRecursively walks a node's children, populating the document's
// flat index so GetNode can resolve them by ID.
func (d *Document) parseNodeRecursively(node Node) error {
	if node == nil {
		return nil
	}

	switch n := node.(type) {
	case *LWWValueNode:
		if n.NodeValue != nil {
			d.index[n.NodeValue.ID()] = n.NodeValue
			if err := d.parseNodeRecursively(n.NodeValue); err != nil {
				return err
			}
		}
	case *RootNode:
		if n.NodeValue != nil {
			d.index[n.NodeValue.ID()] = n.NodeValue
			if err := d.parseNodeRecursively(n.NodeValue); err != nil {
				return err
			}
		}
	case *LWWObjectNode:
		for _, key := range n.Keys() {
			fieldValue := n.Get(key)
			if fieldValue != nil {
				d.index[fieldValue.ID()] = fieldValue
				if err := d.parseNodeRecursively(fieldValue); err != nil {
					return err
				}
			}
		}
	case *RGAArrayNode:
		for _, elem := range n.NodeElements {
			if child, ok := elem.NodeValue.(Node); ok {
				d.index[child.ID()] = child
				if err := d.parseNodeRecursively(child); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// toCompactJSON returns a compact JSON representation of the document.
func (d *Document) toCompactJSON() ([]byte, error) {
	return d.toVerboseJSON()
}

// fromCompactJSON parses a compact JSON representation of the document.
func (d *Document) fromCompactJSON(data []byte) error {
	return d.fromVerboseJSON(data)
}

// toBinaryJSON returns a binary JSON representation of the document.
func (d *Document) toBinaryJSON() ([]byte, error) {
	return d.toVerboseJSON()
}

// fromBinaryJSON parses a binary JSON representation of the document.
func (d *Document) fromBinaryJSON(data []byte) error {
	return d.fromVerboseJSON(data)
}
