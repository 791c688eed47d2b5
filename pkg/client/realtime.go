package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	eventBuffer    = 64
	frameJoin      = "join_conversation"
	frameLeave     = "leave_conversation"
	realtimeSuffix = "/ws"
)

// ErrSubscriberClosed is returned by Join and Leave after Close.
var ErrSubscriberClosed = errors.New("client: subscriber closed")

// Subscriber is a realtime connection. Events arrive on Events() until the
// connection drops or Close is called, after which the channel is closed
// and Err reports why.
type Subscriber struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	wg        sync.WaitGroup
}

// Subscribe dials the realtime endpoint with the client's credentials.
func (c *Client) Subscribe(ctx context.Context) (*Subscriber, error) {
	u, err := c.realtimeURL()
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	c.authorize(h)
	return Dial(ctx, u, h)
}

// realtimeURL is the configured URL, or the base URL's host with /ws.
func (c *Client) realtimeURL() (string, error) {
	if c.wsURL != "" {
		return c.wsURL, nil
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = realtimeSuffix
	u.RawQuery = ""
	return u.String(), nil
}

// Dial opens a realtime connection to rawURL.
func Dial(ctx context.Context, rawURL string, header http.Header) (*Subscriber, error) {
	conn, res, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if res != nil {
			return nil, &APIError{Status: res.StatusCode, Title: http.StatusText(res.StatusCode), Message: err.Error()}
		}
		return nil, err
	}
	s := &Subscriber{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

// Events yields decoded server events.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Join subscribes to one conversation. The server answers with a joined
// or error event.
func (s *Subscriber) Join(conversationID string) error {
	return s.write(frameJoin, conversationID)
}

// Leave unsubscribes from one conversation.
func (s *Subscriber) Leave(conversationID string) error {
	return s.write(frameLeave, conversationID)
}

// Close disconnects and waits for the reader to exit.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	s.wg.Wait()
	return err
}

// Err returns the reason the event stream ended, nil after a clean Close.
func (s *Subscriber) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Subscriber) write(typ, conversationID string) error {
	select {
	case <-s.done:
		return ErrSubscriberClosed
	default:
	}
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("client: conversation id is required")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(map[string]string{"type": typ, "conversation_id": conversationID})
}

func (s *Subscriber) readLoop() {
	defer s.wg.Done()
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.errMu.Lock()
					s.err = err
					s.errMu.Unlock()
				}
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
