package domain

import "time"

// Conversation states.
const (
	ConversationOpen   = "open"
	ConversationClosed = "closed"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message delivery states, ordered by progression for outbound messages.
const (
	MessageQueued    = "queued"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
	MessageFailed    = "failed"
	MessageReceived  = "received"
)

// Conversation is the inbox thread between one device and one contact phone.
//
// Fields:
//   - AssignedAgentID: agent currently responsible, nil when unassigned.
//   - UnreadCount: inbound messages since the last read marker.
//   - LastMessageAt / LastMessagePreview: denormalized for inbox ordering.
type Conversation struct {
	ID                 string     `json:"id"               gorm:"type:char(36);primaryKey"`
	AccountID          string     `json:"account_id"       gorm:"type:char(36);not null;index:idx_account_conversations,priority:1"`
	DeviceID           string     `json:"device_id"        gorm:"type:char(36);not null;uniqueIndex:ux_conversation_device_phone,priority:1"`
	ContactID          *string    `json:"contact_id,omitempty" gorm:"type:char(36)"`
	ContactPhone       string     `json:"contact_phone"    gorm:"type:varchar(32);not null;uniqueIndex:ux_conversation_device_phone,priority:2"`
	ContactName        string     `json:"contact_name"     gorm:"type:varchar(255)"`
	AssignedAgentID    *string    `json:"assigned_agent_id,omitempty" gorm:"type:char(36);index"`
	Status             string     `json:"status"           gorm:"type:varchar(16);not null;default:'open'"`
	UnreadCount        int        `json:"unread_count"     gorm:"not null;default:0"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty" gorm:"index:idx_account_conversations,priority:2"`
	LastMessagePreview string     `json:"last_message_preview" gorm:"type:varchar(255)"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is a single WhatsApp message inside a conversation.
//
// Fields:
//   - ExternalID: the Cloud API message id (wamid), used to apply status callbacks.
//   - SenderID: agent/owner account for outbound messages, nil for bots and inbound.
type Message struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conversation_msgs,priority:1"`
	Direction      string    `json:"direction"       gorm:"type:varchar(16);not null;check:direction IN ('inbound','outbound')"`
	Type           string    `json:"type"            gorm:"type:varchar(32);not null;default:'text'"`
	Body           string    `json:"body"            gorm:"type:text;not null"`
	ExternalID     string    `json:"external_id,omitempty" gorm:"type:varchar(128);index"`
	Status         string    `json:"status"          gorm:"type:varchar(16);not null"`
	SenderID       *string   `json:"sender_id,omitempty" gorm:"type:char(36)"`
	Error          string    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"      gorm:"index:idx_conversation_msgs,priority:2"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Conversation is the parent thread. Messages are cascade-deleted
	// if their conversation is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// EarlyStatus is a delivery callback whose wamid no message carried yet,
// because the webhook beat the send result to the database. It is applied
// and removed once the wamid is recorded.
type EarlyStatus struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	ExternalID string    `gorm:"type:varchar(128);not null;index"`
	Status     string    `gorm:"type:varchar(16);not null"`
	Error      string    `gorm:"type:text"`
	ReceivedAt time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for EarlyStatus.
func (EarlyStatus) TableName() string { return "early_statuses" }

// statusRank orders outbound delivery states so late callbacks never move a
// message backwards (e.g. "delivered" arriving after "read").
var statusRank = map[string]int{
	MessageQueued:    0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
}

// AdvancesStatus reports whether moving from cur to next is a forward step.
// "failed" is always accepted unless the message was already read.
func AdvancesStatus(cur, next string) bool {
	if next == MessageFailed {
		return cur != MessageRead
	}
	n, ok := statusRank[next]
	if !ok {
		return false
	}
	c, ok := statusRank[cur]
	if !ok {
		return cur == MessageFailed
	}
	return n > c
}
