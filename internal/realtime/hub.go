// Package realtime pushes inbox events to connected browsers over
// WebSocket. Clients live in rooms: owner and admin connections join their
// tenant's account room on connect, and any connection may join conversation
// rooms it is authorized for with a join_conversation frame. Agents only
// receive events of conversations they joined. Sends never block the publisher; a client whose
// buffer is full is disconnected.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// Server event types.
const (
	EventReady               = "ready"
	EventJoined              = "joined"
	EventLeft                = "left"
	EventError               = "error"
	EventMessageNew          = "message_new"
	EventMessageUpdated      = "message_updated"
	EventConversationUpdated = "conversation_updated"
)

// Client frame types.
const (
	FrameJoin  = "join_conversation"
	FrameLeave = "leave_conversation"
)

// Event is the JSON envelope written to sockets.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Authorizer decides whether p may watch conversationID.
type Authorizer func(ctx context.Context, p domain.Principal, conversationID string) error

var (
	wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_clients",
		Help: "Currently connected realtime clients.",
	})
	wsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_dropped_clients_total",
		Help: "Clients disconnected because their send buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(wsClients, wsDropped)
}

// ConversationRoom names the room of one conversation.
func ConversationRoom(id string) string { return "conv:" + id }

// AccountRoom names the room of a tenant's owner and admin connections.
func AccountRoom(id string) string { return "account:" + id }

// Hub tracks rooms and their clients.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	closed  bool

	authorize Authorizer
	upgrader  websocket.Upgrader
	wg        sync.WaitGroup
}

// NewHub builds a hub. allowedOrigins lists browser origins accepted by the
// upgrade ("*" accepts any); an empty list accepts same-host origins only.
// authorize may be nil, in which case every join is accepted.
func NewHub(allowedOrigins []string, authorize Authorizer) *Hub {
	return &Hub{
		rooms:     make(map[string]map[*Client]struct{}),
		clients:   make(map[*Client]struct{}),
		authorize: authorize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// ServeWS upgrades the request and serves the connection for p until it
// closes. It returns once the client's pumps are started.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Debug().Err(err).Str("component", "realtime").Msg("upgrade failed")
		return
	}

	c := newClient(h, conn, p)
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.wg.Add(2)
	go func() { defer h.wg.Done(); c.writePump() }()
	go func() { defer h.wg.Done(); c.readPump() }()
	c.push(Event{Type: EventReady, Data: map[string]string{"account_id": p.AccountID}})
}

// Publish delivers ev once to every client in any of rooms and returns how
// many clients it was queued for.
func (h *Hub) Publish(ev Event, rooms ...string) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("component", "realtime").Str("type", ev.Type).Msg("encode event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*Client]struct{})
	n := 0
	for _, room := range rooms {
		for c := range h.rooms[room] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			if c.enqueue(payload) {
				n++
			}
		}
	}
	return n
}

// MessageNew announces a freshly stored message.
func (h *Hub) MessageNew(accountID string, m domain.Message) {
	h.Publish(Event{Type: EventMessageNew, Data: m}, ConversationRoom(m.ConversationID), AccountRoom(accountID))
}

// MessageUpdated announces a delivery status change.
func (h *Hub) MessageUpdated(accountID string, m domain.Message) {
	h.Publish(Event{Type: EventMessageUpdated, Data: m}, ConversationRoom(m.ConversationID), AccountRoom(accountID))
}

// ConversationUpdated announces inbox-level changes (read, assign, status).
func (h *Hub) ConversationUpdated(c domain.Conversation) {
	h.Publish(Event{Type: EventConversationUpdated, Data: c}, ConversationRoom(c.ID), AccountRoom(c.AccountID))
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every client and waits for their goroutines to exit.
// Later upgrade attempts are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		_ = c.conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if !c.principal.IsAgent() {
		h.joinLocked(AccountRoom(c.principal.AccountID), c)
	}
	wsClients.Inc()
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.leaveLocked(room, c)
	}
	delete(h.clients, c)
	close(c.send)
	wsClients.Dec()
}

// Join adds c to room. It is a no-op for disconnected clients.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.joinLocked(room, c)
	}
}

// Leave removes c from room.
func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, c)
}

func (h *Hub) joinLocked(room string, c *Client) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(room string, c *Client) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	anyOrigin := false
	for _, o := range allowed {
		if o == "*" {
			anyOrigin = true
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || anyOrigin {
			return true
		}
		if len(set) == 0 {
			return origin == "http://"+r.Host || origin == "https://"+r.Host
		}
		_, ok := set[origin]
		return ok
	}
}
