package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/realtime"
)

// startRealtime serves a hub that only accepts "Bearer tok".
func startRealtime(t *testing.T) (*realtime.Hub, *httptest.Server) {
	t.Helper()
	hub := realtime.NewHub(nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		hub.ServeWS(w, r, domain.Principal{AccountID: "acct-1", ActorID: "user-1", Role: domain.RoleUser})
	}))
	return hub, srv
}

func next(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("event stream closed: %v", sub.Err())
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestSubscriber_JoinReceiveLeave(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	hub, srv := startRealtime(t)
	defer srv.Close()
	defer hub.Close()

	if _, err := New(srv.URL + "/api/v1").Subscribe(context.Background()); !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("anonymous subscribe err = %v, want 401", err)
	}

	sub, err := New(srv.URL+"/api/v1", WithToken("tok")).Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if ev := next(t, sub); ev.Type != EventReady {
		t.Fatalf("first event = %q, want ready", ev.Type)
	}
	if err := sub.Join("c1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if ev := next(t, sub); ev.Type != EventJoined {
		t.Fatalf("join ack = %+v", ev)
	}

	store := NewMessageStore(newFakeLoader(), 10)
	store.FetchMessages(context.Background(), "c1")

	hub.MessageNew("acct-1", domain.Message{ID: "m1", ConversationID: "c1", Direction: domain.DirectionInbound, Body: "hi", Status: domain.MessageReceived})
	ev := next(t, sub)
	if ev.Type != EventMessageNew || !store.Apply(ev) {
		t.Fatalf("message_new not applied: %+v", ev)
	}
	hub.MessageUpdated("acct-1", domain.Message{ID: "m1", ConversationID: "c1", Direction: domain.DirectionInbound, Body: "hi", Status: domain.MessageRead})
	if ev := next(t, sub); !store.Apply(ev) {
		t.Fatalf("message_updated not applied: %+v", ev)
	}
	msgs := store.Messages()
	if len(msgs) != 1 || msgs[0].Status != domain.MessageRead || store.State().Unread != 1 {
		t.Fatalf("store = %+v unread=%d", msgs, store.State().Unread)
	}

	if err := sub.Leave("c1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if ev := next(t, sub); ev.Type != EventLeft {
		t.Fatalf("leave ack = %+v", ev)
	}
	if err := sub.Join(" "); err == nil {
		t.Fatal("empty conversation id must be rejected locally")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("events channel still open after Close")
	}
	if sub.Err() != nil {
		t.Fatalf("Err after clean close = %v", sub.Err())
	}
	if err := sub.Join("c1"); !errors.Is(err, ErrSubscriberClosed) {
		t.Fatalf("join after close = %v", err)
	}
}

func TestSubscriber_ServerShutdownEndsStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	hub, srv := startRealtime(t)
	defer srv.Close()

	sub, err := New(srv.URL, WithToken("tok")).Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	next(t, sub)

	hub.Close()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				if sub.Err() == nil {
					t.Fatal("dropped connection must surface an error")
				}
				return
			}
		case <-deadline:
			t.Fatal("stream not closed after server shutdown")
		}
	}
}
