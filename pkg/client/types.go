package client

import (
	"encoding/json"
	"time"
)

// Pagination mirrors the metadata of every paginated listing.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// Page is one page of T.
type Page[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// Conversation is an inbox thread.
type Conversation struct {
	ID                 string     `json:"id"`
	AccountID          string     `json:"account_id"`
	DeviceID           string     `json:"device_id"`
	ContactID          *string    `json:"contact_id,omitempty"`
	ContactPhone       string     `json:"contact_phone"`
	ContactName        string     `json:"contact_name"`
	AssignedAgentID    *string    `json:"assigned_agent_id,omitempty"`
	Status             string     `json:"status"`
	UnreadCount        int        `json:"unread_count"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	LastMessagePreview string     `json:"last_message_preview"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Message is one message of a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Direction      string    `json:"direction"`
	Type           string    `json:"type"`
	Body           string    `json:"body"`
	ExternalID     string    `json:"external_id,omitempty"`
	Status         string    `json:"status"`
	SenderID       *string   `json:"sender_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Contact is a phonebook entry.
type Contact struct {
	ID            string    `json:"id"`
	FormattedName string    `json:"formatted_name"`
	Phone         string    `json:"phone"`
	Email         string    `json:"email,omitempty"`
	Labels        []string  `json:"labels"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ContactInput creates or replaces a contact.
type ContactInput struct {
	FormattedName string   `json:"formatted_name"`
	Phone         string   `json:"phone"`
	Email         string   `json:"email,omitempty"`
	Labels        []string `json:"labels,omitempty"`
}

// Broadcast is an outbound campaign.
type Broadcast struct {
	ID               string     `json:"id"`
	DeviceID         string     `json:"device_id"`
	Name             string     `json:"name"`
	TemplateName     string     `json:"template_name,omitempty"`
	TemplateLanguage string     `json:"template_language,omitempty"`
	Body             string     `json:"body,omitempty"`
	CustomText       string     `json:"custom_text,omitempty"`
	PhonebookData    []string   `json:"phonebook_data"`
	Status           string     `json:"status"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Total            int        `json:"total"`
	Sent             int        `json:"sent"`
	Failed           int        `json:"failed"`
	CreatedAt        time.Time  `json:"created_at"`
}

// BroadcastInput creates a broadcast. Either CustomText or PhonebookData
// selects recipients; either TemplateName or Body is the content.
type BroadcastInput struct {
	Name             string     `json:"name"`
	DeviceID         string     `json:"device_id"`
	TemplateName     string     `json:"template_name,omitempty"`
	TemplateLanguage string     `json:"template_language,omitempty"`
	Body             string     `json:"body,omitempty"`
	CustomText       string     `json:"custom_text,omitempty"`
	PhonebookData    []string   `json:"phonebook_data,omitempty"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
}

// Recipient is the delivery state of one broadcast target.
type Recipient struct {
	Phone      string     `json:"phone"`
	Name       string     `json:"name,omitempty"`
	Status     string     `json:"status"`
	LastError  string     `json:"last_error,omitempty"`
	RetryCount int        `json:"retry_count"`
	ExternalID string     `json:"external_id,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

// QuickReply is a saved response addressed by shortcut.
type QuickReply struct {
	ID       string `json:"id"`
	Shortcut string `json:"shortcut"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// QuickReplyInput creates or replaces a quick reply.
type QuickReplyInput struct {
	Shortcut string `json:"shortcut"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// Suggestion is a quick reply ranked against a draft.
type Suggestion struct {
	QuickReply
	Score float64 `json:"score"`
}

// Realtime event types.
const (
	EventReady               = "ready"
	EventJoined              = "joined"
	EventLeft                = "left"
	EventError               = "error"
	EventMessageNew          = "message_new"
	EventMessageUpdated      = "message_updated"
	EventConversationUpdated = "conversation_updated"
)

// Event is one frame pushed by the realtime endpoint. Data is decoded
// lazily by the typed accessors.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message decodes a message_new or message_updated payload.
func (e Event) Message() (Message, error) {
	var m Message
	err := json.Unmarshal(e.Data, &m)
	return m, err
}

// Conversation decodes a conversation_updated payload.
func (e Event) Conversation() (Conversation, error) {
	var c Conversation
	err := json.Unmarshal(e.Data, &c)
	return c, err
}
