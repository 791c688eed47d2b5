package domain

import "time"

// Contact is a phonebook entry. Labels group contacts for broadcast
// targeting and are stored normalized (lower-case, sorted, unique).
type Contact struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	AccountID     string    `json:"account_id"     gorm:"type:char(36);not null;uniqueIndex:ux_contact_account_phone,priority:1"`
	FormattedName string    `json:"formatted_name" gorm:"type:varchar(255);not null"`
	Phone         string    `json:"phone"          gorm:"type:varchar(32);not null;uniqueIndex:ux_contact_account_phone,priority:2"`
	Email         string    `json:"email,omitempty" gorm:"type:varchar(255)"`
	Labels        []string  `json:"labels"         gorm:"type:text;serializer:json"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// HasAnyLabel reports whether the contact carries at least one of labels.
func (c Contact) HasAnyLabel(labels []string) bool {
	for _, want := range labels {
		for _, have := range c.Labels {
			if have == want {
				return true
			}
		}
	}
	return false
}
