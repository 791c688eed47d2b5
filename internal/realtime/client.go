package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBuffer     = 256
	joinTimeout    = 5 * time.Second
)

// Client is one WebSocket connection. Its room set is guarded by the hub.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	principal domain.Principal
	send      chan []byte
	rooms     map[string]struct{}
	dropOnce  sync.Once
}

type frame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

func newClient(h *Hub, conn *websocket.Conn, p domain.Principal) *Client {
	return &Client{
		hub:       h,
		conn:      conn,
		principal: p,
		send:      make(chan []byte, sendBuffer),
		rooms:     make(map[string]struct{}),
	}
}

// enqueue must be called with the hub lock held.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		c.dropOnce.Do(func() {
			wsDropped.Inc()
			log.Warn().Str("component", "realtime").Str("account_id", c.principal.AccountID).Msg("slow client dropped")
			_ = c.conn.Close()
		})
		return false
	}
}

// push queues ev for this client only.
func (c *Client) push(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		c.enqueue(payload)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.push(Event{Type: EventError, Data: map[string]string{"message": "malformed frame"}})
			continue
		}
		c.handle(f)
	}
}

func (c *Client) handle(f frame) {
	switch f.Type {
	case FrameJoin:
		if f.ConversationID == "" {
			c.push(Event{Type: EventError, Data: map[string]string{"message": "conversation_id is required"}})
			return
		}
		if c.hub.authorize != nil {
			ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
			err := c.hub.authorize(ctx, c.principal, f.ConversationID)
			cancel()
			if err != nil {
				c.push(Event{Type: EventError, Data: map[string]string{
					"message":         "cannot join conversation",
					"conversation_id": f.ConversationID,
				}})
				return
			}
		}
		c.hub.Join(ConversationRoom(f.ConversationID), c)
		c.push(Event{Type: EventJoined, Data: map[string]string{"conversation_id": f.ConversationID}})
	case FrameLeave:
		c.hub.Leave(ConversationRoom(f.ConversationID), c)
		c.push(Event{Type: EventLeft, Data: map[string]string{"conversation_id": f.ConversationID}})
	default:
		c.push(Event{Type: EventError, Data: map[string]string{"message": "unknown frame type"}})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
