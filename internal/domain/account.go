package domain

import (
	"time"

	"gorm.io/gorm"
)

// Account statuses.
const (
	AccountActive  = "active"
	AccountBlocked = "blocked"
)

// Account is a login identity. Owners ("user"), platform admins and agents
// share the table; agents point at their owner through ParentID.
//
// Fields:
//   - Email / Phone: unique login identifiers (phone optional).
//   - PasswordHash: bcrypt hash, never serialized.
//   - Permissions: agent grants, ignored for owners and admins.
//   - Status: "active" or "blocked"; blocked accounts cannot log in.
type Account struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	ParentID     *string        `json:"parent_id,omitempty" gorm:"type:char(36);index"`
	Name         string         `json:"name"          gorm:"type:varchar(120);not null"`
	Email        string         `json:"email"         gorm:"type:varchar(255);not null;uniqueIndex"`
	Phone        *string        `json:"phone,omitempty" gorm:"type:varchar(32);uniqueIndex"`
	PasswordHash string         `json:"-"             gorm:"type:varchar(100);not null"`
	Role         string         `json:"role"          gorm:"type:varchar(16);not null;default:'user';check:role IN ('admin','user','agent')"`
	Permissions  []string       `json:"permissions"   gorm:"type:text;serializer:json"`
	Status       string         `json:"status"        gorm:"type:varchar(16);not null;default:'active'"`
	LastLoginAt  *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-"             gorm:"index"`
}

// TableName returns the database table name for Account.
func (Account) TableName() string { return "accounts" }

// TenantID returns the account that owns data created by this identity.
func (a Account) TenantID() string {
	if a.ParentID != nil && *a.ParentID != "" {
		return *a.ParentID
	}
	return a.ID
}

// Principal converts the account into a request principal.
func (a Account) Principal() Principal {
	return Principal{
		AccountID:   a.TenantID(),
		ActorID:     a.ID,
		Role:        a.Role,
		Permissions: append([]string(nil), a.Permissions...),
	}
}

// Session is a server-side login record referenced by the "sid" claim of a
// session token. Revoking the row invalidates the token before it expires.
type Session struct {
	ID         string     `json:"id"          gorm:"type:char(36);primaryKey"`
	AccountID  string     `json:"account_id"  gorm:"type:char(36);not null;index"`
	UserAgent  string     `json:"user_agent"  gorm:"type:varchar(255)"`
	IP         string     `json:"ip"          gorm:"type:varchar(64)"`
	ExpiresAt  time.Time  `json:"expires_at"  gorm:"not null;index"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	Account Account `json:"-" gorm:"foreignKey:AccountID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Active reports whether the session can still authenticate requests.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// APIKey is a long-lived credential for server-to-server callers. Only the
// SHA-256 of the secret is stored; Prefix lets users tell keys apart.
type APIKey struct {
	ID         string     `json:"id"          gorm:"type:char(36);primaryKey"`
	AccountID  string     `json:"account_id"  gorm:"type:char(36);not null;index"`
	Name       string     `json:"name"        gorm:"type:varchar(120);not null"`
	Prefix     string     `json:"prefix"      gorm:"type:varchar(16);not null"`
	KeyHash    string     `json:"-"           gorm:"type:char(64);not null;uniqueIndex"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	Account Account `json:"-" gorm:"foreignKey:AccountID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for APIKey.
func (APIKey) TableName() string { return "api_keys" }
