// Package plugin implements the workspace's plugin map: a small, closed
// registry of side-indexes kept in sync with the document via a lazy
// dirty-flag, rather than eagerly recomputed on every edit.
//
// The registry is a closed enum of Tag values, not an open reflective
// type-map: the only plugin this system ships is the indexing plugin, and a
// second kind can be added to the Tag const block the day it's needed. An
// open registry would buy extensibility nothing here uses.
package plugin

import (
	"sync"

	"github.com/luvjson/blockspace/luvjson/crdt"
	"github.com/luvjson/blockspace/workspace/werr"
)

// Tag names a plugin kind.
type Tag string

// TagIndexing is the only plugin kind this system ships.
const TagIndexing Tag = "indexing"

// Plugin is a side-index kept in sync with a workspace's document. Refresh
// is called lazily, at most once per dirty period, with the current
// document state.
type Plugin interface {
	Tag() Tag
	Refresh(doc *crdt.Document) error
}

// Map is a workspace's plugin registry. Safe for concurrent use.
type Map struct {
	mu      sync.RWMutex
	entries map[Tag]Plugin
	dirty   map[Tag]bool
}

// NewMap returns an empty plugin registry.
func NewMap() *Map {
	return &Map{
		entries: make(map[Tag]Plugin),
		dirty:   make(map[Tag]bool),
	}
}

// Install registers a plugin under its own tag. It fails with
// werr.AlreadyInstalled if the tag is already occupied.
func (m *Map) Install(p Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tag := p.Tag()
	if _, ok := m.entries[tag]; ok {
		return werr.AlreadyInstalled{Tag: string(tag)}
	}
	m.entries[tag] = p
	m.dirty[tag] = true
	return nil
}

// MarkDirty flags every installed plugin for refresh on its next access.
// Called by the workspace after every committed write transaction.
func (m *Map) MarkDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tag := range m.entries {
		m.dirty[tag] = true
	}
}

// Get returns the plugin installed under tag, refreshing it first if dirty.
func (m *Map) Get(tag Tag, doc *crdt.Document) (Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(tag, doc)
}

func (m *Map) getLocked(tag Tag, doc *crdt.Document) (Plugin, error) {
	p, ok := m.entries[tag]
	if !ok {
		return nil, werr.NotFound{Kind: "plugin", ID: string(tag)}
	}
	if m.dirty[tag] {
		if err := p.Refresh(doc); err != nil {
			return nil, werr.PluginFailure{Tag: string(tag), Inner: err}
		}
		m.dirty[tag] = false
	}
	return p, nil
}

// Update runs fn against the plugin installed under tag, after refreshing it
// if dirty.
func (m *Map) Update(tag Tag, doc *crdt.Document, fn func(Plugin) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.getLocked(tag, doc)
	if err != nil {
		return err
	}
	return fn(p)
}

// With runs fn against the plugin installed under tag if present, and
// reports whether it was found.
func (m *Map) With(tag Tag, doc *crdt.Document, fn func(Plugin)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.getLocked(tag, doc)
	if err != nil {
		return false
	}
	fn(p)
	return true
}

// Tags lists the installed plugin tags.
func (m *Map) Tags() []Tag {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags := make([]Tag, 0, len(m.entries))
	for tag := range m.entries {
		tags = append(tags, tag)
	}
	return tags
}

// Clone returns a fresh, empty map: no installed plugins, no dirty flags.
// Used by Workspace.Clone: per spec.md §9 Open Question (i), a cloned
// workspace gets its own PluginMap rather than sharing one, so two handles
// never hold the same *Plugin instance (and its indexed state) behind two
// independent outer mutexes. The caller is responsible for reinstalling
// whatever plugins the clone needs (workspace.Workspace does this via its
// own installDefaultPlugins, building fresh plugin instances rather than
// reusing the original's).
func (m *Map) Clone() *Map {
	return NewMap()
}
