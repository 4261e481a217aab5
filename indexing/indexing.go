// Package indexing is the reference plugin.Plugin: a lazily-refreshed
// inverted index over every block's text attributes, scored with BM25.
package indexing

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/luvjson/blockspace/block"
	"github.com/luvjson/blockspace/luvjson/crdt"
	"github.com/luvjson/blockspace/plugin"
	"github.com/luvjson/blockspace/workspace/werr"
)

// BM25 default parameters, per spec.
const (
	k1 = 1.2
	b  = 0.75
)

type posting struct {
	blockID string
	freq    int
}

type blockRecord struct {
	hash   uint64
	length int
	terms  map[string]int
	text   string
}

// Plugin is the full-text index. It satisfies plugin.Plugin.
type Plugin struct {
	mu       sync.RWMutex
	postings map[string][]posting
	blocks   map[string]*blockRecord
	totalLen int
}

// New returns an empty index, ready to Install into a plugin.Map.
func New() *Plugin {
	return &Plugin{
		postings: make(map[string][]posting),
		blocks:   make(map[string]*blockRecord),
	}
}

// Tag identifies this plugin in the registry.
func (p *Plugin) Tag() plugin.Tag { return plugin.TagIndexing }

// Refresh re-tokenizes every block whose content hash has changed since the
// last refresh, and purges blocks that disappeared from the blocks map.
func (p *Plugin) Refresh(doc *crdt.Document) error {
	root, err := block.RootObject(doc)
	if err != nil {
		return err
	}
	blocksMap := block.FieldObject(doc, root, block.FieldBlocks)

	p.mu.Lock()
	defer p.mu.Unlock()

	ids := blocksMap.Keys()
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true

		attrsNode := blocksMap.Get(id)
		attrs, ok := attrsNode.(*crdt.LWWObjectNode)
		if !ok {
			continue
		}

		text := extractText(attrs)
		h := hashText(text)

		if existing, ok := p.blocks[id]; ok {
			if existing.hash == h {
				continue
			}
			p.removeLocked(id, existing)
		}
		p.addLocked(id, text, h)
	}

	for id, rec := range p.blocks {
		if !live[id] {
			p.removeLocked(id, rec)
			delete(p.blocks, id)
		}
	}

	return nil
}

// extractText concatenates every string-valued attribute of a block except
// flavor, in key order, as the text the index scores against.
func extractText(attrs *crdt.LWWObjectNode) string {
	keys := attrs.Keys()
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		if key == block.FlavorKey {
			continue
		}
		v := attrs.Get(key)
		if v == nil {
			continue
		}
		s, ok := v.Value().(string)
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(s)
	}
	return sb.String()
}

func hashText(text string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return h.Sum64()
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (p *Plugin) addLocked(id, text string, hash uint64) {
	tokens := tokenize(text)
	terms := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		terms[tok]++
	}

	for tok, freq := range terms {
		p.postings[tok] = append(p.postings[tok], posting{blockID: id, freq: freq})
	}

	p.blocks[id] = &blockRecord{hash: hash, length: len(tokens), terms: terms, text: text}
	p.totalLen += len(tokens)
}

func (p *Plugin) removeLocked(id string, rec *blockRecord) {
	for tok := range rec.terms {
		list := p.postings[tok]
		for i, post := range list {
			if post.blockID == id {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(p.postings, tok)
		} else {
			p.postings[tok] = list
		}
	}
	p.totalLen -= rec.length
}

// Options is the parsed form of search's input: either a raw query string
// (implicit AND over tokens, default limit/offset) or a structured request.
type Options struct {
	Query  string
	Limit  int
	Offset int
}

// ParseOptions accepts either a bare string or an Options-shaped value
// (typically decoded from a JSON request body), per spec.md §4.5.
func ParseOptions(raw any) (Options, error) {
	switch v := raw.(type) {
	case string:
		return Options{Query: v, Limit: 10}, nil
	case Options:
		if v.Limit <= 0 {
			v.Limit = 10
		}
		return v, nil
	case map[string]any:
		opts := Options{Limit: 10}
		if q, ok := v["query"].(string); ok {
			opts.Query = q
		}
		if limit, ok := v["limit"].(float64); ok && limit > 0 {
			opts.Limit = int(limit)
		}
		if offset, ok := v["offset"].(float64); ok && offset > 0 {
			opts.Offset = int(offset)
		}
		return opts, nil
	default:
		return Options{}, werr.Decode{Reason: "unsupported search options shape"}
	}
}

// Result is one ranked hit.
type Result struct {
	BlockID  string   `json:"block_id"`
	Score    float64  `json:"score"`
	Snippets []string `json:"snippets"`
}

// Search runs a BM25-ranked query over the current index. Callers are
// expected to have called the owning plugin.Map's Get/With first so the
// index has already been refreshed against the latest document state.
func (p *Plugin) Search(opts Options) []Result {
	p.mu.RLock()
	defer p.mu.RUnlock()

	queryTerms := tokenize(opts.Query)
	if len(queryTerms) == 0 || len(p.blocks) == 0 {
		return nil
	}

	avgLen := 0.0
	if len(p.blocks) > 0 {
		avgLen = float64(p.totalLen) / float64(len(p.blocks))
	}

	scores := make(map[string]float64)
	matched := make(map[string]int)
	seen := make(map[string]bool, len(queryTerms))
	for _, term := range queryTerms {
		first := !seen[term]
		seen[term] = true
		postingsList := p.postings[term]
		if len(postingsList) == 0 {
			continue
		}
		idf := math.Log(1 + (float64(len(p.blocks))-float64(len(postingsList))+0.5)/(float64(len(postingsList))+0.5))
		for _, post := range postingsList {
			rec := p.blocks[post.blockID]
			if rec == nil {
				continue
			}
			tf := float64(post.freq)
			norm := 1 - b + b*float64(rec.length)/avgLen
			score := idf * (tf * (k1 + 1)) / (tf + k1*norm)
			scores[post.blockID] += score
			if first {
				matched[post.blockID]++
			}
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		if matched[id] < len(seen) {
			continue
		}
		results = append(results, Result{
			BlockID:  id,
			Score:    score,
			Snippets: snippetsFor(p.blocks[id].text, queryTerms),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].BlockID < results[j].BlockID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return nil
		}
		results = results[opts.Offset:]
	}
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

// snippetsFor returns short excerpts of text around each matched query term.
func snippetsFor(text string, queryTerms []string) []string {
	const radius = 24
	lower := strings.ToLower(text)

	var snippets []string
	for _, term := range queryTerms {
		idx := strings.Index(lower, term)
		if idx < 0 {
			continue
		}
		start := idx - radius
		if start < 0 {
			start = 0
		}
		end := idx + len(term) + radius
		if end > len(text) {
			end = len(text)
		}
		snippets = append(snippets, strings.TrimSpace(text[start:end]))
	}
	return snippets
}
