package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Template is a WhatsApp message template known to the account. Components
// holds the Cloud API component array verbatim.
type Template struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	AccountID  string         `json:"account_id"  gorm:"type:char(36);not null;uniqueIndex:ux_template_name_lang,priority:1"`
	Name       string         `json:"name"        gorm:"type:varchar(512);not null;uniqueIndex:ux_template_name_lang,priority:2"`
	Language   string         `json:"language"    gorm:"type:varchar(16);not null;uniqueIndex:ux_template_name_lang,priority:3"`
	Category   string         `json:"category"    gorm:"type:varchar(32)"`
	Status     string         `json:"status"      gorm:"type:varchar(32)"`
	Components datatypes.JSON `json:"components"  swaggertype:"object"`
	ExternalID string         `json:"external_id,omitempty" gorm:"type:varchar(64)"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Template.
func (Template) TableName() string { return "templates" }
