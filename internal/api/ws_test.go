package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/models"
)

func TestHubStreamsRecordsToAgent(t *testing.T) {
	env := newTestEnv(t, true)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v0/ws?token=" + env.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hub := env.hub
	require.Eventually(t, func() bool { return hub.Count(env.agent.ID) == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(env.agent.ID, models.NotificationRecord{ID: "n1", ClientID: env.client.ID, Status: models.DeliveryFailed})
	hub.Publish("someone-else", models.NotificationRecord{ID: "n2"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev wsEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "notification", ev.Event)
	assert.Equal(t, "n1", ev.Data.ID)
	assert.Equal(t, models.DeliveryFailed, ev.Data.Status)
}

func TestHubRejectsBadToken(t *testing.T) {
	env := newTestEnv(t, true)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v0/ws?token=bad"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(logging.NewNop())
	hub.Publish("agent-1", models.NotificationRecord{ID: "n1"})
	assert.Equal(t, 0, hub.Count("agent-1"))
}

func TestHubDropsStalledSocketWithoutBlocking(t *testing.T) {
	hub := NewHub(logging.NewNop())
	stalled := &wsClient{send: make(chan []byte, 1)}
	stalled.send <- []byte("backlog")
	hub.connections["agent-1"] = map[*wsClient]bool{stalled: true}

	done := make(chan struct{})
	go func() {
		hub.Publish("agent-1", models.NotificationRecord{ID: "n1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stalled socket")
	}
	assert.Equal(t, 0, hub.Count("agent-1"))

	// The queue is closed so the socket's write loop ends.
	<-stalled.send
	_, open := <-stalled.send
	assert.False(t, open)
}

func TestHubRemoveConnectionTwice(t *testing.T) {
	hub := NewHub(logging.NewNop())
	client := &wsClient{send: make(chan []byte, 1)}
	hub.connections["agent-1"] = map[*wsClient]bool{client: true}

	hub.RemoveConnection("agent-1", client)
	hub.RemoveConnection("agent-1", client)
	assert.Equal(t, 0, hub.Count("agent-1"))
}
