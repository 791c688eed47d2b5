package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Trigger match modes.
const (
	MatchExact    = "exact"
	MatchContains = "contains"
)

// Flow session states.
const (
	FlowActive    = "active"
	FlowCompleted = "completed"
	FlowAborted   = "aborted"
)

// Chatbot is an automated flow. Graph stores the builder's {nodes, edges}
// document; the flow package decodes and executes it.
type Chatbot struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	AccountID string         `json:"account_id" gorm:"type:char(36);not null;index"`
	Name      string         `json:"name"       gorm:"type:varchar(255);not null"`
	Triggers  []string       `json:"triggers"   gorm:"type:text;serializer:json"`
	MatchMode string         `json:"match_mode" gorm:"type:varchar(16);not null;default:'exact'"`
	Enabled   bool           `json:"enabled"    gorm:"not null;default:false"`
	Graph     datatypes.JSON `json:"graph"      swaggertype:"object"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Chatbot.
func (Chatbot) TableName() string { return "chatbots" }

// FlowSession tracks a contact's position inside a running chatbot.
// At most one active session exists per conversation.
type FlowSession struct {
	ID             string            `json:"id"              gorm:"type:char(36);primaryKey"`
	AccountID      string            `json:"account_id"      gorm:"type:char(36);not null"`
	ChatbotID      string            `json:"chatbot_id"      gorm:"type:char(36);not null;index"`
	ConversationID string            `json:"conversation_id" gorm:"type:char(36);not null;index:idx_flow_conv_status,priority:1"`
	ContactPhone   string            `json:"contact_phone"   gorm:"type:varchar(32);not null"`
	CurrentNode    string            `json:"current_node"    gorm:"type:varchar(128)"`
	Vars           datatypes.JSONMap `json:"vars"            swaggertype:"object"`
	Retries        int               `json:"retries"`
	Status         string            `json:"status"          gorm:"type:varchar(16);not null;index:idx_flow_conv_status,priority:2"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TableName returns the database table name for FlowSession.
func (FlowSession) TableName() string { return "flow_sessions" }
