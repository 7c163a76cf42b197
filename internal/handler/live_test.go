package handler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goflare/flare/model"
)

func TestHubBroadcastDeliversToClients(t *testing.T) {
	hub := NewHub()
	client := &liveClient{send: make(chan []byte, 4)}
	hub.clients[client] = struct{}{}

	hub.BroadcastEntry(&model.LogEntry{Level: model.LevelError, Message: "boom"})

	require.Len(t, client.send, 1)
	var got model.LogEntry
	require.NoError(t, json.Unmarshal(<-client.send, &got))
	assert.Equal(t, "boom", got.Message)
}

func TestHubDropsClientWithFullBuffer(t *testing.T) {
	hub := NewHub()
	slow := &liveClient{send: make(chan []byte)} // unbuffered, never read
	fast := &liveClient{send: make(chan []byte, 4)}
	hub.clients[slow] = struct{}{}
	hub.clients[fast] = struct{}{}

	hub.BroadcastEntry(&model.LogEntry{Level: model.LevelError, Message: "x"})

	assert.Equal(t, 1, hub.ClientCount())
	assert.Len(t, fast.send, 1)

	// The dropped client's channel is closed.
	_, open := <-slow.send
	assert.False(t, open)
}

func TestHubRemoveIsIdempotent(t *testing.T) {
	hub := NewHub()
	client := &liveClient{send: make(chan []byte, 1)}
	hub.clients[client] = struct{}{}

	hub.remove(client)
	assert.NotPanics(t, func() { hub.remove(client) })
	assert.Equal(t, 0, hub.ClientCount())
}
