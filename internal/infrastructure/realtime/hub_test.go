package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/logging"
)

func TestHubBroadcastsEvents(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), domain.Event{
		Type:      domain.EventMachinesUpdated,
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   map[string]int{"total": 5},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type    string         `json:"type"`
		Payload map[string]int `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, domain.EventMachinesUpdated, got.Type)
	assert.Equal(t, 5, got.Payload["total"])
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, hub.Publish(context.Background(), domain.Event{Type: "noop"}))
}
