package notify

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.NumClients() == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Expected %v clients, have %v", n, hub.NumClients())
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg := Message{}
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestBroadcastNewIncident(t *testing.T) {
	hub := NewHub(logs.NewTestingLog(t))
	conn1 := dialTestHub(t, hub)
	conn2 := dialTestHub(t, hub)
	waitForClients(t, hub, 2)

	hub.BroadcastNewIncident(map[string]any{"id": "incident_1", "incident_type": "person_detected"})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		msg := readMessage(t, conn)
		require.Equal(t, MsgNewIncident, msg.Type)
		data := msg.Data.(map[string]any)
		require.Equal(t, "incident_1", data["id"])
	}
}

func TestBroadcastVerified(t *testing.T) {
	hub := NewHub(logs.NewTestingLog(t))
	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	hub.BroadcastVerified("incident_2", "verified")

	msg := readMessage(t, conn)
	require.Equal(t, MsgIncidentVerified, msg.Type)
	data := msg.Data.(map[string]any)
	require.Equal(t, "incident_2", data["id"])
	require.Equal(t, "verified", data["status"])
}

func TestDisconnectedClientIsRemoved(t *testing.T) {
	hub := NewHub(logs.NewTestingLog(t))
	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Broadcasting to nobody is fine
	hub.BroadcastVerified("incident_3", "verified")
}

func TestCloseAll(t *testing.T) {
	hub := NewHub(logs.NewTestingLog(t))
	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	hub.CloseAll()
	require.Equal(t, 0, hub.NumClients())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}
