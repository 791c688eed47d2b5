package client

import (
	"context"
	"sync"
)

// DefaultMessagePageSize is the page size MessageStore requests when none
// is configured.
const DefaultMessagePageSize = 30

// MessageLoader is what MessageStore needs from the API. *Conversations
// implements it.
type MessageLoader interface {
	Messages(ctx context.Context, conversationID string, page, pageSize int) *Page[Message]
	MarkRead(ctx context.Context, conversationID string) bool
}

// MessageState is a snapshot of the store's bookkeeping.
type MessageState struct {
	ConversationID string
	Page           int
	HasMore        bool
	Loading        bool
	Loaded         bool
	Unread         int
}

// MessageStore holds a newest-first window of messages for the selected
// conversation and merges realtime events into it. It keeps no history for
// other conversations: selecting a new one drops the old window.
//
// Network calls run without the lock held. A response that arrives after
// the selection moved on is discarded.
type MessageStore struct {
	src      MessageLoader
	pageSize int

	mu       sync.Mutex
	current  string
	gen      uint64
	messages []Message
	index    map[string]int
	page     int
	hasMore  bool
	loading  bool
	loaded   bool
	unread   int
}

// NewMessageStore returns an empty store. pageSize <= 0 selects
// DefaultMessagePageSize.
func NewMessageStore(src MessageLoader, pageSize int) *MessageStore {
	if pageSize <= 0 {
		pageSize = DefaultMessagePageSize
	}
	return &MessageStore{src: src, pageSize: pageSize, index: map[string]int{}}
}

// FetchMessages selects conversation id and loads its first page. It is a
// no-op returning true when id is already selected and loaded. It reports
// whether the window now holds id's first page.
func (s *MessageStore) FetchMessages(ctx context.Context, id string) bool {
	s.mu.Lock()
	if s.current == id && (s.loaded || s.loading) {
		loaded := s.loaded
		s.mu.Unlock()
		return loaded
	}
	s.resetLocked(id)
	s.loading = true
	gen := s.gen
	s.mu.Unlock()

	p := s.src.Messages(ctx, id, 1, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.loading = false
	if p == nil {
		return false
	}
	// Events that arrived during the load are newer than page 1.
	s.appendLocked(p.Items)
	s.page = 1
	s.hasMore = p.Pagination.HasNext
	s.loaded = true
	return true
}

// LoadMoreMessages appends the next older page. It does nothing and
// returns false when id is not the loaded conversation, when the last page
// was already reached, or while another load is in flight.
func (s *MessageStore) LoadMoreMessages(ctx context.Context, id string) bool {
	s.mu.Lock()
	if s.current != id || !s.loaded || !s.hasMore || s.loading {
		s.mu.Unlock()
		return false
	}
	s.loading = true
	next := s.page + 1
	gen := s.gen
	s.mu.Unlock()

	p := s.src.Messages(ctx, id, next, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.loading = false
	if p == nil {
		return false
	}
	s.appendLocked(p.Items)
	s.page = next
	s.hasMore = p.Pagination.HasNext
	return true
}

// AddMessage puts m at the head of the window when it belongs to the
// selected conversation. A message already held under the same ID is
// replaced in place instead, so an echo of an optimistic insert never
// shows twice. Inbound additions bump the unread counter.
func (s *MessageStore) AddMessage(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" || m.ConversationID != s.current {
		return false
	}
	if i, ok := s.index[m.ID]; ok {
		s.messages[i] = m
		return true
	}
	s.messages = append([]Message{m}, s.messages...)
	s.reindexLocked()
	if m.Direction == "inbound" {
		s.unread++
	}
	return true
}

// UpdateMessage replaces the held message with m's ID. It reports false
// when no such message is in the window.
func (s *MessageStore) UpdateMessage(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ConversationID != s.current {
		return false
	}
	i, ok := s.index[m.ID]
	if !ok {
		return false
	}
	s.messages[i] = m
	return true
}

// Apply merges a realtime event. message_new and message_updated for the
// selected conversation change the window; conversation_updated refreshes
// the unread counter. Anything else is ignored.
func (s *MessageStore) Apply(ev Event) bool {
	switch ev.Type {
	case EventMessageNew:
		m, err := ev.Message()
		return err == nil && s.AddMessage(m)
	case EventMessageUpdated:
		m, err := ev.Message()
		return err == nil && s.UpdateMessage(m)
	case EventConversationUpdated:
		c, err := ev.Conversation()
		if err != nil {
			return false
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if c.ID != s.current {
			return false
		}
		s.unread = c.UnreadCount
		return true
	}
	return false
}

// MarkRead tells the API the selected conversation was read and clears
// the local unread counter on success.
func (s *MessageStore) MarkRead(ctx context.Context) bool {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()
	if id == "" || !s.src.MarkRead(ctx, id) {
		return false
	}
	s.mu.Lock()
	if s.current == id {
		s.unread = 0
	}
	s.mu.Unlock()
	return true
}

// SetUnread seeds the unread counter, typically from Conversation.UnreadCount.
func (s *MessageStore) SetUnread(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.current {
		s.unread = n
	}
}

// Messages returns a copy of the window, newest first.
func (s *MessageStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// State returns the current bookkeeping.
func (s *MessageStore) State() MessageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MessageState{
		ConversationID: s.current,
		Page:           s.page,
		HasMore:        s.hasMore,
		Loading:        s.loading,
		Loaded:         s.loaded,
		Unread:         s.unread,
	}
}

func (s *MessageStore) resetLocked(id string) {
	s.gen++
	s.current = id
	s.messages = nil
	s.index = map[string]int{}
	s.page = 0
	s.hasMore = false
	s.loading = false
	s.loaded = false
	s.unread = 0
}

// appendLocked adds older messages at the tail, skipping IDs already held.
// Pages shift when new messages arrive between loads, so overlap is normal.
func (s *MessageStore) appendLocked(items []Message) {
	for _, m := range items {
		if _, dup := s.index[m.ID]; dup {
			continue
		}
		s.index[m.ID] = len(s.messages)
		s.messages = append(s.messages, m)
	}
}

func (s *MessageStore) reindexLocked() {
	s.index = make(map[string]int, len(s.messages))
	for i, m := range s.messages {
		s.index[m.ID] = i
	}
}
