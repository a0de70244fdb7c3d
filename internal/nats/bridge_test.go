package nats

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-platform/internal/relay"
)

func TestRelaySubject(t *testing.T) {
	assert.Equal(t, "chat.relay.0193a1b2-c3d4", RelaySubject("0193a1b2-c3d4"))
	assert.Equal(t, "chat.relay.>", RelayWildcard())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &relay.Envelope{
		NodeID:         "node-a",
		ConversationID: "c1",
		Event:          "new_conversation",
		Join:           []string{"alice", "bob"},
		Targets:        []string{"bob"},
		Frame:          json.RawMessage(`{"event":"new_conversation"}`),
	}

	data, err := encodeEnvelope(env)
	require.NoError(t, err)

	got, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.NodeID, got.NodeID)
	assert.Equal(t, env.Join, got.Join)
	assert.Equal(t, env.Targets, got.Targets)
	assert.JSONEq(t, string(env.Frame), string(got.Frame))
}

func TestEncodeEnvelope_RejectsUnroutable(t *testing.T) {
	_, err := encodeEnvelope(&relay.Envelope{ConversationID: "c1"})
	assert.Error(t, err)

	for _, id := range []string{"", "a.b", "a*", "a>"} {
		_, err := encodeEnvelope(&relay.Envelope{NodeID: "n", ConversationID: id})
		assert.Error(t, err, id)
	}
}

func TestDecodeEnvelope_RejectsIncomplete(t *testing.T) {
	_, err := decodeEnvelope([]byte(`{"conversation_id":"c1"}`))
	assert.Error(t, err)

	_, err = decodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}
