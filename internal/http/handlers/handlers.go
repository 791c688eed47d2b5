// Package handlers exposes the REST API. Handlers are transport-thin: they
// bind and validate input, call application services with the caller's
// principal, and translate results into HTTP responses (including
// conditional and idempotent ones).
package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/services"
	"github.com/tbourn/go-wa-backend/internal/validate"
	"github.com/tbourn/go-wa-backend/internal/whatsapp"
)

//
// Service contracts (context-aware)
//

// AuthService issues and inspects sessions.
type AuthService interface {
	Register(ctx context.Context, in validate.RegisterInput) (*domain.Account, error)
	Login(ctx context.Context, email, password, userAgent, ip string) (*services.LoginResult, error)
	Logout(ctx context.Context, p domain.Principal) error
	Me(ctx context.Context, p domain.Principal) (*domain.Account, error)
	Sessions(ctx context.Context, p domain.Principal) ([]domain.Session, error)
	RevokeSession(ctx context.Context, p domain.Principal, id string) error
}

// APIKeyService manages tenant API keys.
type APIKeyService interface {
	List(ctx context.Context, p domain.Principal) ([]domain.APIKey, error)
	Create(ctx context.Context, p domain.Principal, name string) (*domain.APIKey, string, error)
	Revoke(ctx context.Context, p domain.Principal, id string) error
}

// DeviceService manages WhatsApp phone numbers.
type DeviceService interface {
	List(ctx context.Context, p domain.Principal) ([]domain.Device, error)
	Create(ctx context.Context, p domain.Principal, in validate.DeviceInput) (*domain.Device, error)
	Delete(ctx context.Context, p domain.Principal, id string) error
}

// ContactService manages the phonebook.
type ContactService interface {
	List(ctx context.Context, p domain.Principal, f repo.ContactFilter, page, pageSize int) ([]domain.Contact, int64, error)
	Create(ctx context.Context, p domain.Principal, in validate.ContactInput) (*domain.Contact, error)
	Get(ctx context.Context, p domain.Principal, id string) (*domain.Contact, error)
	Update(ctx context.Context, p domain.Principal, id string, in validate.ContactInput) (*domain.Contact, error)
	Delete(ctx context.Context, p domain.Principal, id string) error
	Labels(ctx context.Context, p domain.Principal) ([]string, error)
	Import(ctx context.Context, p domain.Principal, r io.Reader) (*services.ImportResult, error)
	Export(ctx context.Context, p domain.Principal, w io.Writer) error
}

// TemplateService manages message templates.
type TemplateService interface {
	List(ctx context.Context, p domain.Principal) ([]domain.Template, error)
	Create(ctx context.Context, p domain.Principal, in validate.TemplateInput) (*domain.Template, error)
	Delete(ctx context.Context, p domain.Principal, id string) error
	Sync(ctx context.Context, p domain.Principal) (int, error)
}

// BroadcastService manages bulk sends.
type BroadcastService interface {
	List(ctx context.Context, p domain.Principal, status string, page, pageSize int) ([]domain.Broadcast, int64, error)
	Create(ctx context.Context, p domain.Principal, in validate.BroadcastInput) (*domain.Broadcast, error)
	Send(ctx context.Context, p domain.Principal, in validate.BroadcastInput) (*domain.Broadcast, error)
	Get(ctx context.Context, p domain.Principal, id string) (*domain.Broadcast, error)
	Cancel(ctx context.Context, p domain.Principal, id string) (*domain.Broadcast, error)
	Recipients(ctx context.Context, p domain.Principal, id string, page, pageSize int) ([]domain.BroadcastRecipient, int64, error)
}

// ChatbotService manages chatbot flows.
type ChatbotService interface {
	List(ctx context.Context, p domain.Principal, page, pageSize int) ([]domain.Chatbot, int64, error)
	Get(ctx context.Context, p domain.Principal, id string) (*domain.Chatbot, error)
	Create(ctx context.Context, p domain.Principal, in validate.ChatbotInput) (*domain.Chatbot, error)
	Update(ctx context.Context, p domain.Principal, id string, in validate.ChatbotInput) (*domain.Chatbot, error)
	Toggle(ctx context.Context, p domain.Principal, id string, enabled bool) (*domain.Chatbot, error)
	Delete(ctx context.Context, p domain.Principal, id string) error
}

// QuickReplyService manages canned responses.
type QuickReplyService interface {
	List(ctx context.Context, p domain.Principal) ([]domain.QuickReply, error)
	Create(ctx context.Context, p domain.Principal, in validate.QuickReplyInput) (*domain.QuickReply, error)
	Update(ctx context.Context, p domain.Principal, id string, in validate.QuickReplyInput) (*domain.QuickReply, error)
	Delete(ctx context.Context, p domain.Principal, id string) error
	Suggest(ctx context.Context, p domain.Principal, q string) ([]services.Suggestion, error)
}

// AgentService manages an owner's agents.
type AgentService interface {
	List(ctx context.Context, p domain.Principal, page, pageSize int) ([]domain.Account, int64, error)
	Create(ctx context.Context, p domain.Principal, in validate.AgentInput) (*domain.Account, error)
	Patch(ctx context.Context, p domain.Principal, id string, in validate.AgentPatch) (*domain.Account, error)
	Delete(ctx context.Context, p domain.Principal, id string) error
}

// ConversationService backs the inbox.
type ConversationService interface {
	List(ctx context.Context, p domain.Principal, q services.ConversationQuery, page, pageSize int) ([]domain.Conversation, int64, error)
	Stats(ctx context.Context, p domain.Principal, q services.ConversationQuery) (int64, *time.Time, error)
	Get(ctx context.Context, p domain.Principal, id string) (*domain.Conversation, error)
	Messages(ctx context.Context, p domain.Principal, id string, page, pageSize int) ([]domain.Message, int64, error)
	MessagesStats(ctx context.Context, p domain.Principal, id string) (int64, *time.Time, error)
	MarkRead(ctx context.Context, p domain.Principal, id string) (*domain.Conversation, error)
	Assign(ctx context.Context, p domain.Principal, id, agentID string) (*domain.Conversation, error)
	SetStatus(ctx context.Context, p domain.Principal, id, status string) (*domain.Conversation, error)
}

// MessageService sends agent messages and ingests webhooks.
type MessageService interface {
	Send(ctx context.Context, p domain.Principal, conversationID string, in validate.SendMessageInput, idemKey string) (*domain.Message, bool, error)
	Ingest(ctx context.Context, payload whatsapp.Payload) (services.IngestResult, error)
}

// CouponService manages and applies discount codes.
type CouponService interface {
	List(ctx context.Context, p domain.Principal) ([]domain.Coupon, error)
	Create(ctx context.Context, p domain.Principal, in validate.CouponInput) (*domain.Coupon, error)
	Delete(ctx context.Context, p domain.Principal, id string) error
	Validate(ctx context.Context, code string, amount int64) (*services.Quote, error)
	Redeem(ctx context.Context, p domain.Principal, code string, amount int64) (*services.Quote, error)
}

// AdminService backs platform administration.
type AdminService interface {
	Users(ctx context.Context, p domain.Principal, role string, page, pageSize int) ([]domain.Account, int64, error)
	Admins(ctx context.Context, p domain.Principal) ([]domain.Account, error)
	SetStatus(ctx context.Context, p domain.Principal, id, status string) (*domain.Account, error)
}

// RealtimeServer upgrades authenticated requests to WebSocket sessions.
type RealtimeServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, p domain.Principal)
}

//
// Handler wiring
//

// Deps lists the services behind the API. Nil entries are allowed in
// tests that exercise a subset of routes.
type Deps struct {
	Auth          AuthService
	APIKeys       APIKeyService
	Devices       DeviceService
	Contacts      ContactService
	Templates     TemplateService
	Broadcasts    BroadcastService
	Chatbots      ChatbotService
	QuickReplies  QuickReplyService
	Agents        AgentService
	Conversations ConversationService
	Messages      MessageService
	Coupons       CouponService
	Admin         AdminService
	Realtime      RealtimeServer
}

// Options carries transport settings the handlers need.
type Options struct {
	CookieName   string
	CookieSecure bool
	SessionTTL   time.Duration

	// WebhookVerifyToken answers the Cloud API subscription handshake.
	WebhookVerifyToken string
	// WebhookAppSecret enables X-Hub-Signature-256 checks when set.
	WebhookAppSecret string
}

// DefaultCookieName names the session cookie when none is configured.
const DefaultCookieName = "wa_session"

// Handlers groups every HTTP endpoint.
type Handlers struct {
	Deps
	opts Options
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps, opts Options) *Handlers {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	return &Handlers{Deps: d, opts: opts}
}

// caller returns the authenticated principal, failing the request with 401
// when the route was mounted without RequireAuth.
func caller(c *gin.Context) (domain.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	}
	return p, ok
}

// bind decodes the JSON body into dst and runs the validation rules.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request body must be valid JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		failErr(c, err)
		return false
	}
	return true
}
