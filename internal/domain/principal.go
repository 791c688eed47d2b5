// Package domain defines the persistence models of the messaging backend:
// accounts and their credentials, WhatsApp devices, the phonebook, templates,
// broadcasts, chatbot flows, quick replies, the conversation inbox, coupons,
// and idempotency records. These types are mapped with GORM and shared by the
// repository, service, and HTTP layers.
package domain

// Account roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Permissions grantable to agents. Owners and admins implicitly hold all.
const (
	PermConversations = "conversations"
	PermPhonebook     = "phonebook"
	PermBroadcast     = "broadcast"
	PermChatbot       = "chatbot"
	PermTemplates     = "templates"
	PermQuickReplies  = "quick_replies"
)

// AllPermissions lists every grantable permission in display order.
var AllPermissions = []string{
	PermConversations,
	PermPhonebook,
	PermBroadcast,
	PermChatbot,
	PermTemplates,
	PermQuickReplies,
}

// IsPermission reports whether p names a known permission.
func IsPermission(p string) bool {
	for _, known := range AllPermissions {
		if known == p {
			return true
		}
	}
	return false
}

// Principal is the authenticated caller of a request.
//
// AccountID is the tenant every query is scoped to; for agents it is the
// owning account, for everyone else it equals ActorID.
type Principal struct {
	AccountID   string
	ActorID     string
	Role        string
	Permissions []string
	SessionID   string // set for cookie/bearer sessions
	APIKeyID    string // set for X-API-Key callers
}

// IsAdmin reports whether the caller is a platform administrator.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// IsAgent reports whether the caller acts on behalf of a parent account.
func (p Principal) IsAgent() bool { return p.Role == RoleAgent }

// Can reports whether the caller holds perm.
func (p Principal) Can(perm string) bool {
	if !p.IsAgent() {
		return true
	}
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}
