package domain

import "time"

// QuickReply is a canned agent response addressed by a short slash command.
type QuickReply struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	AccountID string    `json:"account_id" gorm:"type:char(36);not null;uniqueIndex:ux_quick_reply_shortcut,priority:1"`
	Shortcut  string    `json:"shortcut"   gorm:"type:varchar(64);not null;uniqueIndex:ux_quick_reply_shortcut,priority:2"`
	Title     string    `json:"title"      gorm:"type:varchar(255);not null"`
	Message   string    `json:"message"    gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for QuickReply.
func (QuickReply) TableName() string { return "quick_replies" }
