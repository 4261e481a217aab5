package crdt

import (
	"encoding/json"
	"testing"

	"github.com/luvjson/blockspace/luvjson/common"

	"github.com/stretchr/testify/assert"
)

func TestNewDocument(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	assert.NotNil(t, doc)
	assert.NotNil(t, doc.Root())
	assert.Equal(t, common.RootID, doc.Root().ID())
}

func TestGetNode(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	node, err := doc.GetNode(common.RootID)
	assert.NoError(t, err)
	assert.NotNil(t, node)
	assert.Equal(t, common.RootID, node.ID())

	nonExistentSID := common.NewSessionID()
	node, err = doc.GetNode(common.LogicalTimestamp{SID: nonExistentSID, Counter: 1})
	assert.Error(t, err)
	assert.Nil(t, node)
}

func TestAddNode(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	nodeSID := common.NewSessionID()
	id := common.LogicalTimestamp{SID: nodeSID, Counter: 1}
	node := NewConstantNode(id, "test")

	doc.AddNode(node)

	retrievedNode, err := doc.GetNode(id)
	assert.NoError(t, err)
	assert.NotNil(t, retrievedNode)
	assert.Equal(t, id, retrievedNode.ID())
	assert.Equal(t, "test", retrievedNode.Value())
}

func TestNextTimestamp(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	ts := doc.NextTimestamp()
	assert.Equal(t, sid, ts.SID)
	assert.Equal(t, uint64(1), ts.Counter)

	ts = doc.NextTimestamp()
	assert.Equal(t, sid, ts.SID)
	assert.Equal(t, uint64(2), ts.Counter)
}

func TestMarshalJSON(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	jsonData, err := json.Marshal(doc)
	assert.NoError(t, err)
	assert.NotNil(t, jsonData)
}

func TestDocumentRoundTrip(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	objID, err := doc.CreateObject()
	assert.NoError(t, err)
	assert.NoError(t, doc.SetRoot(objID))

	obj, err := doc.GetNode(objID)
	assert.NoError(t, err)
	objNode := obj.(*LWWObjectNode)
	fieldID := doc.NextTimestamp()
	objNode.Set("field1", fieldID, NewConstantNode(fieldID, "field value"))

	data, err := json.Marshal(doc)
	assert.NoError(t, err)

	sid2 := common.NewSessionID()
	doc2 := NewDocument(sid2)
	assert.NoError(t, json.Unmarshal(data, doc2))

	view, err := doc2.View()
	assert.NoError(t, err)
	viewMap, ok := view.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "field value", viewMap["field1"])
}

func TestView(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	view, err := doc.View()
	assert.NoError(t, err)
	assert.Nil(t, view)

	nodeSID := common.NewSessionID()
	id := common.LogicalTimestamp{SID: nodeSID, Counter: 1}
	node := NewConstantNode(id, "test")
	doc.AddNode(node)

	rootNode, err := doc.GetNode(common.RootID)
	assert.NoError(t, err)
	lwwNode := rootNode.(*LWWValueNode)
	lwwNode.SetValue(id, node)

	view, err = doc.View()
	assert.NoError(t, err)
	assert.Equal(t, "test", view)

	objID := common.LogicalTimestamp{SID: nodeSID, Counter: 2}
	objNode := NewLWWObjectNode(objID)
	doc.AddNode(objNode)

	fieldKey := "field1"
	fieldTimestamp := common.LogicalTimestamp{SID: nodeSID, Counter: 3}
	fieldValue := NewConstantNode(fieldTimestamp, "field value")
	objNode.Set(fieldKey, fieldTimestamp, fieldValue)

	lwwNode.SetValue(objID, objNode)

	view, err = doc.View()
	assert.NoError(t, err)
	assert.IsType(t, map[string]interface{}{}, view)
	assert.Equal(t, "field value", view.(map[string]interface{})[fieldKey])
}

func TestObserveNotifiesOnAddNode(t *testing.T) {
	doc := NewDocument(common.NewSessionID())

	calls := 0
	cancel := doc.Observe(func() { calls++ })

	doc.AddNode(NewConstantNode(doc.NextTimestamp(), "x"))
	assert.Equal(t, 1, calls)

	cancel()
	doc.AddNode(NewConstantNode(doc.NextTimestamp(), "y"))
	assert.Equal(t, 1, calls)
}

func TestStateVectorAndNodesSince(t *testing.T) {
	doc := NewDocument(common.NewSessionID())

	sv0 := doc.StateVector()
	assert.Empty(t, sv0)

	// NodesSince walks from the root, so new nodes are linked under a root
	// object; the object is reported too, since it gained a field.
	objID, err := doc.CreateObject()
	assert.NoError(t, err)
	assert.NoError(t, doc.SetRoot(objID))
	objNode, err := doc.GetNode(objID)
	assert.NoError(t, err)
	obj := objNode.(*LWWObjectNode)

	id1 := doc.NextTimestamp()
	node1 := NewConstantNode(id1, "a")
	doc.AddNode(node1)
	obj.Set("a", id1, node1)

	missing := doc.NodesSince(sv0)
	assert.Len(t, missing, 2)
	assert.Equal(t, id1, missing[0].ID())
	assert.Equal(t, objID, missing[1].ID())

	sv1 := doc.StateVector()
	id2 := doc.NextTimestamp()
	node2 := NewConstantNode(id2, "b")
	doc.AddNode(node2)
	obj.Set("b", id2, node2)

	missing = doc.NodesSince(sv1)
	assert.Len(t, missing, 2)
	assert.Equal(t, id2, missing[0].ID())
	assert.Equal(t, objID, missing[1].ID())
}

func TestApplyUpdateMergesNewNodes(t *testing.T) {
	doc := NewDocument(common.NewSessionID())

	remoteDoc := NewDocument(common.NewSessionID())
	remoteID := remoteDoc.NextTimestamp()
	remoteNode := NewConstantNode(remoteID, "remote value")
	remoteDoc.AddNode(remoteNode)

	changed := doc.ApplyUpdate([]Node{remoteNode})
	assert.True(t, changed)

	got, err := doc.GetNode(remoteID)
	assert.NoError(t, err)
	assert.Equal(t, "remote value", got.Value())

	// Re-applying the same node is idempotent.
	changed = doc.ApplyUpdate([]Node{remoteNode})
	assert.False(t, changed)
}

func TestFork(t *testing.T) {
	doc := NewDocument(common.NewSessionID())
	id, err := doc.CreateObject()
	assert.NoError(t, err)
	assert.NoError(t, doc.SetRoot(id))

	fork, err := doc.Fork(common.NewSessionID())
	assert.NoError(t, err)
	assert.NotNil(t, fork)

	_, err = fork.GetNode(id)
	assert.NoError(t, err)
}
