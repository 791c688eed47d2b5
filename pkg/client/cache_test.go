package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeLoader serves pages from an in-memory newest-first history.
type fakeLoader struct {
	mu       sync.Mutex
	history  map[string][]Message
	calls    []string
	failNext bool
	block    chan struct{}
	readOK   bool
	reads    int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{history: map[string][]Message{}, readOK: true}
}

func (f *fakeLoader) seed(conv string, n int) {
	for i := n; i >= 1; i-- {
		f.history[conv] = append(f.history[conv], Message{ID: fmt.Sprintf("%s-m%d", conv, i), ConversationID: conv})
	}
}

func (f *fakeLoader) Messages(_ context.Context, id string, page, pageSize int) *Page[Message] {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s#%d", id, page))
	block := f.block
	fail := f.failNext
	f.failNext = false
	all := f.history[id]
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return nil
	}
	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := min(start+pageSize, len(all))
	return &Page[Message]{
		Items:      append([]Message(nil), all[start:end]...),
		Pagination: Pagination{Page: page, PageSize: pageSize, Total: int64(len(all)), HasNext: end < len(all)},
	}
}

func (f *fakeLoader) MarkRead(context.Context, string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.readOK
}

func (f *fakeLoader) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func ids(ms []Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestMessageStore_FetchAndPaginate(t *testing.T) {
	src := newFakeLoader()
	src.seed("c1", 5)
	s := NewMessageStore(src, 2)
	ctx := context.Background()

	if !s.FetchMessages(ctx, "c1") {
		t.Fatal("fetch failed")
	}
	// Already loaded: no second request.
	if !s.FetchMessages(ctx, "c1") {
		t.Fatal("refetch of loaded conversation reported false")
	}
	if diff := cmp.Diff([]string{"c1-m5", "c1-m4"}, ids(s.Messages())); diff != "" {
		t.Fatalf("page 1 (-want +got):\n%s", diff)
	}

	if !s.LoadMoreMessages(ctx, "c1") || !s.LoadMoreMessages(ctx, "c1") {
		t.Fatal("load more failed")
	}
	st := s.State()
	if st.Page != 3 || st.HasMore || st.Loading || !st.Loaded {
		t.Fatalf("state after last page = %+v", st)
	}
	if s.LoadMoreMessages(ctx, "c1") {
		t.Fatal("load more past the last page must be refused")
	}
	if s.LoadMoreMessages(ctx, "other") {
		t.Fatal("load more for a conversation that is not selected must be refused")
	}

	want := []string{"c1-m5", "c1-m4", "c1-m3", "c1-m2", "c1-m1"}
	if diff := cmp.Diff(want, ids(s.Messages())); diff != "" {
		t.Fatalf("window (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c1#1", "c1#2", "c1#3"}, src.callLog()); diff != "" {
		t.Fatalf("requests (-want +got):\n%s", diff)
	}
}

func TestMessageStore_SwitchConversationResets(t *testing.T) {
	src := newFakeLoader()
	src.seed("c1", 3)
	src.seed("c2", 1)
	s := NewMessageStore(src, 2)
	ctx := context.Background()

	s.FetchMessages(ctx, "c1")
	s.SetUnread("c1", 4)
	s.FetchMessages(ctx, "c2")

	st := s.State()
	if st.ConversationID != "c2" || st.Page != 1 || st.HasMore || st.Unread != 0 {
		t.Fatalf("state after switch = %+v", st)
	}
	if diff := cmp.Diff([]string{"c2-m1"}, ids(s.Messages())); diff != "" {
		t.Fatalf("window (-want +got):\n%s", diff)
	}
}

func TestMessageStore_FetchFailureCanRetry(t *testing.T) {
	src := newFakeLoader()
	src.seed("c1", 1)
	src.failNext = true
	s := NewMessageStore(src, 10)
	ctx := context.Background()

	if s.FetchMessages(ctx, "c1") {
		t.Fatal("fetch should report failure")
	}
	if st := s.State(); st.Loaded || st.Loading {
		t.Fatalf("state after failure = %+v", st)
	}
	if s.LoadMoreMessages(ctx, "c1") {
		t.Fatal("load more before a successful fetch must be refused")
	}
	if !s.FetchMessages(ctx, "c1") || len(s.Messages()) != 1 {
		t.Fatalf("retry fetch failed: %+v", s.Messages())
	}
}

func TestMessageStore_LoadMoreWhileLoadingIsRefused(t *testing.T) {
	src := newFakeLoader()
	src.seed("c1", 4)
	s := NewMessageStore(src, 2)
	ctx := context.Background()
	s.FetchMessages(ctx, "c1")

	src.mu.Lock()
	src.block = make(chan struct{})
	block := src.block
	src.mu.Unlock()

	done := make(chan bool)
	go func() { done <- s.LoadMoreMessages(ctx, "c1") }()

	waitFor(t, func() bool { return s.State().Loading })
	if s.LoadMoreMessages(ctx, "c1") {
		t.Fatal("concurrent load more must be refused")
	}
	close(block)
	if !<-done {
		t.Fatal("first load more failed")
	}
	if got := len(src.callLog()); got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
}

func TestMessageStore_StaleResponseDiscarded(t *testing.T) {
	src := newFakeLoader()
	src.seed("c1", 2)
	src.seed("c2", 1)
	release := make(chan struct{})
	src.block = release
	s := NewMessageStore(src, 10)
	ctx := context.Background()

	done := make(chan bool)
	go func() { done <- s.FetchMessages(ctx, "c1") }()
	waitFor(t, func() bool { return len(src.callLog()) == 1 })

	src.mu.Lock()
	src.block = nil
	src.mu.Unlock()
	if !s.FetchMessages(ctx, "c2") {
		t.Fatal("fetch c2 failed")
	}

	// The c1 response arrives late and must not overwrite c2.
	close(release)
	if <-done {
		t.Fatal("superseded fetch reported success")
	}
	if diff := cmp.Diff([]string{"c2-m1"}, ids(s.Messages())); diff != "" {
		t.Fatalf("window (-want +got):\n%s", diff)
	}
	if st := s.State(); st.ConversationID != "c2" || !st.Loaded || st.Loading {
		t.Fatalf("state = %+v", st)
	}
}

func TestMessageStore_AddUpdateAndApply(t *testing.T) {
	src := newFakeLoader()
	src.seed("c1", 2)
	s := NewMessageStore(src, 10)
	s.FetchMessages(context.Background(), "c1")

	in := Message{ID: "n1", ConversationID: "c1", Direction: "inbound", Body: "hi"}
	if !s.AddMessage(in) {
		t.Fatal("add failed")
	}
	// Same ID again replaces instead of duplicating.
	in.Body = "hi!"
	s.AddMessage(in)
	if s.AddMessage(Message{ID: "x", ConversationID: "c9"}) {
		t.Fatal("message for another conversation must be ignored")
	}
	msgs := s.Messages()
	if diff := cmp.Diff([]string{"n1", "c1-m2", "c1-m1"}, ids(msgs)); diff != "" {
		t.Fatalf("window (-want +got):\n%s", diff)
	}
	if msgs[0].Body != "hi!" || s.State().Unread != 1 {
		t.Fatalf("head = %+v unread = %d", msgs[0], s.State().Unread)
	}

	if s.UpdateMessage(Message{ID: "missing", ConversationID: "c1"}) {
		t.Fatal("update of unknown id must report false")
	}
	if !s.UpdateMessage(Message{ID: "c1-m1", ConversationID: "c1", Status: "read"}) {
		t.Fatal("update failed")
	}

	ev := func(typ string, v any) Event {
		raw, _ := json.Marshal(v)
		return Event{Type: typ, Data: raw}
	}
	if !s.Apply(ev(EventMessageNew, Message{ID: "o1", ConversationID: "c1", Direction: "outbound", Status: "queued"})) {
		t.Fatal("apply message_new failed")
	}
	if !s.Apply(ev(EventMessageUpdated, Message{ID: "o1", ConversationID: "c1", Direction: "outbound", Status: "sent"})) {
		t.Fatal("apply message_updated failed")
	}
	if !s.Apply(ev(EventConversationUpdated, Conversation{ID: "c1", UnreadCount: 7})) {
		t.Fatal("apply conversation_updated failed")
	}
	if s.Apply(Event{Type: EventJoined}) || s.Apply(Event{Type: EventMessageNew, Data: json.RawMessage(`"nope"`)}) {
		t.Fatal("irrelevant or malformed events must be ignored")
	}

	msgs = s.Messages()
	if msgs[0].ID != "o1" || msgs[0].Status != "sent" || msgs[len(msgs)-1].Status != "read" {
		t.Fatalf("window after events = %+v", msgs)
	}
	if s.State().Unread != 7 {
		t.Fatalf("unread = %d, want 7", s.State().Unread)
	}
}

func TestMessageStore_MarkRead(t *testing.T) {
	src := newFakeLoader()
	s := NewMessageStore(src, 0)
	ctx := context.Background()

	if s.MarkRead(ctx) {
		t.Fatal("mark read without a selection must fail")
	}
	s.FetchMessages(ctx, "c1")
	s.SetUnread("c1", 3)

	src.readOK = false
	if s.MarkRead(ctx) || s.State().Unread != 3 {
		t.Fatalf("failed mark read changed unread to %d", s.State().Unread)
	}
	src.readOK = true
	if !s.MarkRead(ctx) || s.State().Unread != 0 {
		t.Fatalf("mark read: unread = %d", s.State().Unread)
	}
	if src.reads != 2 {
		t.Fatalf("read calls = %d", src.reads)
	}
}
