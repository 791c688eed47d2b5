package domain

import (
	"time"

	"gorm.io/gorm"
)

// Broadcast lifecycle states.
const (
	BroadcastDraft     = "draft"
	BroadcastScheduled = "scheduled"
	BroadcastSending   = "sending"
	BroadcastCompleted = "completed"
	BroadcastFailed    = "failed"
	BroadcastCancelled = "cancelled"
)

// Recipient delivery states.
const (
	RecipientPending = "pending"
	RecipientSent    = "sent"
	RecipientFailed  = "failed"
)

// Broadcast is a one-to-many send through a device. Recipients come either
// from CustomText (free-form numbers) or from phonebook contacts carrying
// any of the PhonebookData labels. Content is a template or a plain body.
//
// Fields:
//   - ScheduledAt: when the dispatcher may start; nil for drafts.
//   - Total / Sent / Failed: counters maintained by the dispatcher.
type Broadcast struct {
	ID               string         `json:"id"                gorm:"type:char(36);primaryKey"`
	AccountID        string         `json:"account_id"        gorm:"type:char(36);not null;index"`
	DeviceID         string         `json:"device_id"         gorm:"type:char(36);not null"`
	Name             string         `json:"name"              gorm:"type:varchar(255);not null"`
	TemplateName     string         `json:"template_name,omitempty"     gorm:"type:varchar(512)"`
	TemplateLanguage string         `json:"template_language,omitempty" gorm:"type:varchar(16)"`
	Body             string         `json:"body,omitempty"    gorm:"type:text"`
	CustomText       string         `json:"custom_text,omitempty" gorm:"type:text"`
	PhonebookData    []string       `json:"phonebook_data"    gorm:"type:text;serializer:json"`
	Status           string         `json:"status"            gorm:"type:varchar(16);not null;index:idx_broadcast_due,priority:1"`
	ScheduledAt      *time.Time     `json:"scheduled_at,omitempty" gorm:"index:idx_broadcast_due,priority:2"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Total            int            `json:"total"`
	Sent             int            `json:"sent"`
	Failed           int            `json:"failed"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                 gorm:"index"`
}

// TableName returns the database table name for Broadcast.
func (Broadcast) TableName() string { return "broadcasts" }

// Cancellable reports whether the broadcast has not started sending yet.
func (b Broadcast) Cancellable() bool {
	return b.Status == BroadcastDraft || b.Status == BroadcastScheduled
}

// BroadcastRecipient is one materialized target of a broadcast.
type BroadcastRecipient struct {
	ID          string     `json:"id"           gorm:"type:char(36);primaryKey"`
	BroadcastID string     `json:"broadcast_id" gorm:"type:char(36);not null;uniqueIndex:ux_recipient_phone,priority:1"`
	Phone       string     `json:"phone"        gorm:"type:varchar(32);not null;uniqueIndex:ux_recipient_phone,priority:2"`
	Name        string     `json:"name,omitempty" gorm:"type:varchar(255)"`
	Status      string     `json:"status"       gorm:"type:varchar(16);not null;default:'pending'"`
	LastError   string     `json:"last_error,omitempty" gorm:"type:text"`
	RetryCount  int        `json:"retry_count"`
	ExternalID  string     `json:"external_id,omitempty" gorm:"type:varchar(128)"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Broadcast Broadcast `json:"-" gorm:"foreignKey:BroadcastID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for BroadcastRecipient.
func (BroadcastRecipient) TableName() string { return "broadcast_recipients" }
