package domain

import "time"

// Device is a WhatsApp Business phone number registered with the Cloud API.
// PhoneNumberID is Meta's identifier and routes inbound webhooks to the
// owning account, so it is unique across tenants.
type Device struct {
	ID            string    `json:"id"              gorm:"type:char(36);primaryKey"`
	AccountID     string    `json:"account_id"      gorm:"type:char(36);not null;index"`
	Name          string    `json:"name"            gorm:"type:varchar(120);not null"`
	PhoneNumberID string    `json:"phone_number_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	DisplayPhone  string    `json:"display_phone"   gorm:"type:varchar(32)"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Device.
func (Device) TableName() string { return "devices" }
