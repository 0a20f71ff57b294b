package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"focusroom-be/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func attach(hub *Hub, userID string, buffer int) *Client {
	c := &Client{Hub: hub, UserID: userID, Send: make(chan []byte, buffer)}
	hub.register <- c
	return c
}

func TestHubSendReachesEveryDevice(t *testing.T) {
	hub := startHub(t)
	phone := attach(hub, "u1", 4)
	laptop := attach(hub, "u1", 4)
	other := attach(hub, "u2", 4)

	require.Eventually(t, func() bool { return hub.Connected("u1") == 2 }, time.Second, 5*time.Millisecond)

	hub.Send("u1", Message{Type: "intervention", Data: map[string]string{"kind": "video"}})

	for _, c := range []*Client{phone, laptop} {
		select {
		case raw := <-c.Send:
			var msg Message
			require.NoError(t, json.Unmarshal(raw, &msg))
			assert.Equal(t, "intervention", msg.Type)
		case <-time.After(time.Second):
			t.Fatal("device did not receive message")
		}
	}
	assert.Empty(t, other.Send)
}

func TestHubUnregisterClosesOnce(t *testing.T) {
	hub := startHub(t)
	c := attach(hub, "u1", 1)
	require.Eventually(t, func() bool { return hub.Connected("u1") == 1 }, time.Second, 5*time.Millisecond)

	hub.unregister <- c
	hub.unregister <- c

	require.Eventually(t, func() bool { return hub.Connected("u1") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-c.Send
	assert.False(t, open)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := startHub(t)
	attach(hub, "u1", 1)
	require.Eventually(t, func() bool { return hub.Connected("u1") == 1 }, time.Second, 5*time.Millisecond)

	hub.Send("u1", Message{Type: "a"})
	hub.Send("u1", Message{Type: "b"})

	require.Eventually(t, func() bool { return hub.Connected("u1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubSendAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// More stalled devices than the unregister buffer holds.
	hub.mu.Lock()
	hub.clients["u1"] = make(map[*Client]struct{})
	for i := 0; i < cap(hub.unregister)+8; i++ {
		hub.clients["u1"][&Client{Hub: hub, UserID: "u1", Send: make(chan []byte)}] = struct{}{}
	}
	hub.mu.Unlock()

	sent := make(chan struct{})
	go func() {
		hub.Send("u1", Message{Type: "intervention"})
		close(sent)
	}()

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("Send blocked after the hub stopped")
	}
}
