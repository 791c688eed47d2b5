package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// Conversations returns the inbox service.
func (c *Client) Conversations() *Conversations { return &Conversations{c: c} }

// Contacts returns the phonebook service.
func (c *Client) Contacts() *Contacts { return &Contacts{c: c} }

// Broadcasts returns the campaign service.
func (c *Client) Broadcasts() *Broadcasts { return &Broadcasts{c: c} }

// QuickReplies returns the quick reply service.
func (c *Client) QuickReplies() *QuickReplies { return &QuickReplies{c: c} }

func itoa(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// get decodes into a fresh T, returning nil after logging on failure.
func get[T any](ctx context.Context, c *Client, op, path string, opts ...RequestOption) *T {
	var out T
	if _, err := c.Do(ctx, http.MethodGet, path, nil, &out, opts...); err != nil {
		c.failed(op, err)
		return nil
	}
	return &out
}

func send[T any](ctx context.Context, c *Client, op, method, path string, body any, opts ...RequestOption) *T {
	var out T
	if _, err := c.Do(ctx, method, path, body, &out, opts...); err != nil {
		c.failed(op, err)
		return nil
	}
	return &out
}

func list[T any](ctx context.Context, c *Client, op, path string, opts ...RequestOption) []T {
	p := get[[]T](ctx, c, op, path, opts...)
	if p == nil {
		return []T{}
	}
	return *p
}

func remove(ctx context.Context, c *Client, op, path string) bool {
	if _, err := c.Do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		c.failed(op, err)
		return false
	}
	return true
}

// Conversations wraps /conversations.
type Conversations struct{ c *Client }

// ConversationQuery filters the inbox listing.
type ConversationQuery struct {
	Page       int
	PageSize   int
	Status     string
	AssignedTo string
}

// List returns one inbox page, newest activity first.
func (s *Conversations) List(ctx context.Context, q ConversationQuery) *Page[Conversation] {
	return get[Page[Conversation]](ctx, s.c, "conversations.list", "/conversations", WithQuery(url.Values{
		"page":        {itoa(q.Page)},
		"page_size":   {itoa(q.PageSize)},
		"status":      {q.Status},
		"assigned_to": {q.AssignedTo},
	}))
}

// Get returns one conversation.
func (s *Conversations) Get(ctx context.Context, id string) *Conversation {
	return get[Conversation](ctx, s.c, "conversations.get", "/conversations/"+escape(id))
}

// Messages returns one page of messages, newest first.
func (s *Conversations) Messages(ctx context.Context, id string, page, pageSize int) *Page[Message] {
	return get[Page[Message]](ctx, s.c, "conversations.messages", "/conversations/"+escape(id)+"/messages", WithQuery(url.Values{
		"page":      {itoa(page)},
		"page_size": {itoa(pageSize)},
	}))
}

// SendInput is an outbound text. Shortcut expands a quick reply when Text
// is empty. IdempotencyKey makes retries safe.
type SendInput struct {
	Text           string `json:"text,omitempty"`
	Shortcut       string `json:"shortcut,omitempty"`
	IdempotencyKey string `json:"-"`
}

// Send posts a message. A message whose delivery failed is still returned,
// with Status "failed".
func (s *Conversations) Send(ctx context.Context, id string, in SendInput) *Message {
	out := send[struct {
		Message *Message `json:"message"`
	}](ctx, s.c, "conversations.send", http.MethodPost, "/conversations/"+escape(id)+"/messages", in,
		WithHeader(HeaderIdempotencyKey, in.IdempotencyKey))
	if out == nil {
		return nil
	}
	return out.Message
}

// MarkRead clears the unread counter.
func (s *Conversations) MarkRead(ctx context.Context, id string) bool {
	return send[Conversation](ctx, s.c, "conversations.read", http.MethodPost, "/conversations/"+escape(id)+"/read", nil) != nil
}

// Assign hands the conversation to agentID, or unassigns it when empty.
func (s *Conversations) Assign(ctx context.Context, id, agentID string) *Conversation {
	return send[Conversation](ctx, s.c, "conversations.assign", http.MethodPatch, "/conversations/"+escape(id)+"/assign",
		map[string]string{"agent_id": agentID})
}

// SetStatus opens or closes the conversation.
func (s *Conversations) SetStatus(ctx context.Context, id, status string) *Conversation {
	return send[Conversation](ctx, s.c, "conversations.status", http.MethodPatch, "/conversations/"+escape(id)+"/status",
		map[string]string{"status": status})
}

// Contacts wraps /phonebook.
type Contacts struct{ c *Client }

// ContactQuery filters the phonebook listing.
type ContactQuery struct {
	Page     int
	PageSize int
	Label    string
	Q        string
}

func (s *Contacts) List(ctx context.Context, q ContactQuery) *Page[Contact] {
	return get[Page[Contact]](ctx, s.c, "contacts.list", "/phonebook", WithQuery(url.Values{
		"page":      {itoa(q.Page)},
		"page_size": {itoa(q.PageSize)},
		"label":     {q.Label},
		"q":         {q.Q},
	}))
}

func (s *Contacts) Get(ctx context.Context, id string) *Contact {
	return get[Contact](ctx, s.c, "contacts.get", "/phonebook/"+escape(id))
}

func (s *Contacts) Create(ctx context.Context, in ContactInput) *Contact {
	return send[Contact](ctx, s.c, "contacts.create", http.MethodPost, "/phonebook", in)
}

func (s *Contacts) Update(ctx context.Context, id string, in ContactInput) *Contact {
	return send[Contact](ctx, s.c, "contacts.update", http.MethodPatch, "/phonebook/"+escape(id), in)
}

func (s *Contacts) Delete(ctx context.Context, id string) bool {
	return remove(ctx, s.c, "contacts.delete", "/phonebook/"+escape(id))
}

// Labels returns every label in use, sorted.
func (s *Contacts) Labels(ctx context.Context) []string {
	return list[string](ctx, s.c, "contacts.labels", "/phonebook/labels")
}

// Broadcasts wraps /broadcast.
type Broadcasts struct{ c *Client }

func (s *Broadcasts) List(ctx context.Context, page, pageSize int) *Page[Broadcast] {
	return get[Page[Broadcast]](ctx, s.c, "broadcasts.list", "/broadcast", WithQuery(url.Values{
		"page":      {itoa(page)},
		"page_size": {itoa(pageSize)},
	}))
}

func (s *Broadcasts) Get(ctx context.Context, id string) *Broadcast {
	return get[Broadcast](ctx, s.c, "broadcasts.get", "/broadcast/"+escape(id))
}

// Create stores a draft, or a scheduled broadcast when ScheduledAt is in
// the future.
func (s *Broadcasts) Create(ctx context.Context, in BroadcastInput) *Broadcast {
	return send[Broadcast](ctx, s.c, "broadcasts.create", http.MethodPost, "/broadcast", in)
}

// Send creates a broadcast due immediately.
func (s *Broadcasts) Send(ctx context.Context, in BroadcastInput) *Broadcast {
	return send[Broadcast](ctx, s.c, "broadcasts.send", http.MethodPost, "/broadcast/send", in)
}

func (s *Broadcasts) Cancel(ctx context.Context, id string) *Broadcast {
	return send[Broadcast](ctx, s.c, "broadcasts.cancel", http.MethodPost, "/broadcast/"+escape(id)+"/cancel", nil)
}

func (s *Broadcasts) Recipients(ctx context.Context, id string, page, pageSize int) *Page[Recipient] {
	return get[Page[Recipient]](ctx, s.c, "broadcasts.recipients", "/broadcast/"+escape(id)+"/recipients", WithQuery(url.Values{
		"page":      {itoa(page)},
		"page_size": {itoa(pageSize)},
	}))
}

// QuickReplies wraps /quick-replies.
type QuickReplies struct{ c *Client }

func (s *QuickReplies) List(ctx context.Context) []QuickReply {
	return list[QuickReply](ctx, s.c, "quick_replies.list", "/quick-replies")
}

func (s *QuickReplies) Create(ctx context.Context, in QuickReplyInput) *QuickReply {
	return send[QuickReply](ctx, s.c, "quick_replies.create", http.MethodPost, "/quick-replies", in)
}

func (s *QuickReplies) Update(ctx context.Context, id string, in QuickReplyInput) *QuickReply {
	return send[QuickReply](ctx, s.c, "quick_replies.update", http.MethodPut, "/quick-replies/"+escape(id), in)
}

func (s *QuickReplies) Delete(ctx context.Context, id string) bool {
	return remove(ctx, s.c, "quick_replies.delete", "/quick-replies/"+escape(id))
}

// Suggest ranks quick replies against a draft message, best first.
func (s *QuickReplies) Suggest(ctx context.Context, q string) []Suggestion {
	return list[Suggestion](ctx, s.c, "quick_replies.suggest", "/quick-replies/suggest", WithQuery(url.Values{"q": {q}}))
}
