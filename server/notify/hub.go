// Package notify pushes incident updates to connected websocket clients.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

// Message types sent to clients
const (
	MsgNewIncident      = "new_incident"
	MsgIncidentVerified = "incident_verified"
)

const writeTimeout = 10 * time.Second

// Message is the envelope for every payload we push.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// VerifiedData is the payload of an incident_verified message.
type VerifiedData struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type client struct {
	conn *websocket.Conn
	// WriteMessage is not safe for concurrent use, so broadcasts from
	// different goroutines serialize on this
	writeLock sync.Mutex
}

// Hub tracks connected websocket clients and broadcasts to all of them.
// Delivery is best-effort: a client that errors is dropped.
type Hub struct {
	log      logs.Log
	upgrader websocket.Upgrader

	lock    sync.Mutex
	clients map[*client]bool
}

func NewHub(logger logs.Log) *Hub {
	return &Hub{
		log: logs.NewPrefixLogger(logger, "Notify"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[*client]bool{},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the request and holds the connection open until
// the client goes away. We never act on client messages; the read loop
// exists to notice disconnects and answer pings.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("Websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn}
	h.lock.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.lock.Unlock()
	h.log.Infof("Client %v connected (%v total)", conn.RemoteAddr(), n)

	defer h.remove(c)
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastNewIncident announces a freshly stored incident.
func (h *Hub) BroadcastNewIncident(incident any) {
	h.broadcast(Message{Type: MsgNewIncident, Data: incident})
}

// BroadcastVerified announces a verification status change.
func (h *Hub) BroadcastVerified(id, status string) {
	h.broadcast(Message{Type: MsgIncidentVerified, Data: VerifiedData{ID: id, Status: status}})
}

func (h *Hub) broadcast(msg Message) {
	raw, err := json.Marshal(&msg)
	if err != nil {
		h.log.Errorf("Failed to marshal %v message: %v", msg.Type, err)
		return
	}
	// Snapshot under the lock, write outside it, so one slow client can't
	// hold up registration of new ones.
	h.lock.Lock()
	snapshot := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.lock.Unlock()

	for _, c := range snapshot {
		if err := c.write(raw); err != nil {
			h.log.Infof("Dropping client %v: %v", c.conn.RemoteAddr(), err)
			h.remove(c)
		}
	}
}

func (c *client) write(raw []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (h *Hub) remove(c *client) {
	h.lock.Lock()
	if !h.clients[c] {
		h.lock.Unlock()
		return
	}
	delete(h.clients, c)
	h.lock.Unlock()
	c.conn.Close()
}

// NumClients is used by tests and the ping endpoint.
func (h *Hub) NumClients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client. Called at shutdown.
func (h *Hub) CloseAll() {
	h.lock.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = map[*client]bool{}
	h.lock.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
