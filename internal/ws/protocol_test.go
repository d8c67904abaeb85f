package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_SetsTypeAndTimestamp(t *testing.T) {
	before := time.Now()
	env := newEnvelope(EventUsersOnline, []onlineUser{{Username: "alice"}})
	after := time.Now()

	assert.Equal(t, EventUsersOnline, env.Type)
	assert.True(t, !env.Timestamp.Before(before) && !env.Timestamp.After(after))

	var decoded []onlineUser
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, "alice", decoded[0].Username)
}

func TestDecode_EmptyPayloadYieldsZeroValue(t *testing.T) {
	env := Envelope{Type: EventGetOnlineUsers}
	payload, err := decode[roomIDPayload](env)
	require.NoError(t, err)
	assert.Equal(t, roomIDPayload{}, payload)
}

func TestDecode_MalformedPayloadErrors(t *testing.T) {
	env := Envelope{Type: EventGetMessages, Payload: json.RawMessage(`{not json`)}
	_, err := decode[getMessagesPayload](env)
	assert.Error(t, err)
}
