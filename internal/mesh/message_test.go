package mesh

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespond_Correlation(t *testing.T) {
	req := NewRequest("caller", "callee", "work")
	resp := req.Respond("done")

	assert.Equal(t, req.ID, resp.ReplyTo)
	assert.Equal(t, "callee", resp.From)
	assert.Equal(t, "caller", resp.To)
	assert.Equal(t, MessageTypeResponse, resp.Type)
	assert.NotEqual(t, req.ID, resp.ID)
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	msg := NewNotification("a", "b", map[string]any{"k": "v"}).
		WithTopic("audit.findings").
		WithHeader("x-mesh-node", "n1")

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, "audit.findings", decoded.Topic)
	assert.Equal(t, "n1", decoded.Header("x-mesh-node"))
}

func TestClone_IndependentHeaders(t *testing.T) {
	msg := NewNotification("a", "b", nil).WithHeader("k", "v")
	clone := msg.Clone()
	clone.WithHeader("k", "changed")

	assert.Equal(t, "v", msg.Header("k"))
	assert.Equal(t, "changed", clone.Header("k"))
}

func TestMessageIDs_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewNotification("a", "b", nil).ID
		assert.False(t, seen[id])
		seen[id] = true
	}
}
