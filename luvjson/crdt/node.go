package crdt

import (
	"encoding/json"

	"github.com/luvjson/blockspace/luvjson/common"
)

// Node represents a CRDT node in the JSON CRDT document.
type Node interface {
	// ID returns the unique identifier of the node.
	ID() common.LogicalTimestamp

	// Type returns the type of the node.
	Type() common.NodeType

	// Value returns the value of the node.
	Value() interface{}

	// MarshalJSON returns a JSON representation of the node.
	json.Marshaler

	// UnmarshalJSON parses a JSON representation of the node.
	json.Unmarshaler

	// IsRoot returns true if this is a root node.
	IsRoot() bool
}

// RGAElement represents an element in a Replicated Growable Array.
type RGAElement struct {
	NodeId      common.LogicalTimestamp `json:"id"`
	NodeValue   interface{}             `json:"value"`
	NodeDeleted bool                    `json:"deleted"`
}

// unmarshalNodeValue constructs and unmarshals the concrete Node implied by
// a {"type": ...} envelope. Shared by every container node's UnmarshalJSON.
func unmarshalNodeValue(raw json.RawMessage) (Node, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}

	var node Node
	switch common.NodeType(probe.Type) {
	case common.NodeTypeVal:
		node = &LWWValueNode{}
	case common.NodeTypeObj:
		node = &LWWObjectNode{}
	case common.NodeTypeCon:
		node = &ConstantNode{}
	case common.NodeTypeStr:
		node = &RGAStringNode{}
	case common.NodeTypeArr:
		node = &RGAArrayNode{}
	case common.NodeTypeBin:
		node = &RGABinaryNode{}
	case common.NodeTypeVec:
		node = &LWWVectorNode{}
	case common.NodeTypeRoot:
		node = &RootNode{}
	default:
		return nil, common.ErrInvalidNodeType{Type: probe.Type}
	}

	if err := json.Unmarshal(raw, node); err != nil {
		return nil, err
	}
	return node, nil
}

// DecodeNode parses a single JSON-encoded node, self-describing via its own
// "type" field. Exported for the sync engine, which ships update frames as
// raw node lists rather than whole documents.
func DecodeNode(raw json.RawMessage) (Node, error) {
	return unmarshalNodeValue(raw)
}
