package validate

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

func isPermission(p string) bool { return domain.IsPermission(p) }

// RegisterInput is the body of POST /auth/register.
type RegisterInput struct {
	Name     string `json:"name"     validate:"required,min=2,max=120"     example:"Ana Souza"`
	Email    string `json:"email"    validate:"required,email,max=255"     example:"ana@example.com"`
	Phone    string `json:"phone"    validate:"omitempty,phone"            example:"+55 11 91234-5678"`
	Password string `json:"password" validate:"required,min=8,max=72"      example:"s3cret-pass"`
}

// LoginInput is the body of POST /auth/login.
type LoginInput struct {
	Email    string `json:"email"    validate:"required,email" example:"ana@example.com"`
	Password string `json:"password" validate:"required"       example:"s3cret-pass"`
}

// ContactInput is the body of POST /phonebook and PATCH /phonebook/{id}.
// formatted_name is mandatory.
type ContactInput struct {
	FormattedName string   `json:"formatted_name" validate:"required,min=1,max=255" example:"Ana Souza"`
	Phone         string   `json:"phone"          validate:"required,phone"         example:"5511912345678"`
	Email         string   `json:"email"          validate:"omitempty,email"        example:"ana@example.com"`
	Labels        []string `json:"labels"         validate:"max=20,dive,label"      example:"vip"`
}

// DeviceInput registers a WhatsApp Business phone number.
type DeviceInput struct {
	Name          string `json:"name"            validate:"required,max=120" example:"Main line"`
	PhoneNumberID string `json:"phone_number_id" validate:"required,max=64"  example:"106540352242922"`
	DisplayPhone  string `json:"display_phone"   validate:"omitempty,phone"  example:"+1 555 0100"`
}

// TemplateInput creates a local template record.
type TemplateInput struct {
	Name       string `json:"name"       validate:"required,max=512"                                        example:"order_update"`
	Language   string `json:"language"   validate:"required,max=16"                                         example:"en_US"`
	Category   string `json:"category"   validate:"omitempty,oneof=MARKETING UTILITY AUTHENTICATION"        example:"UTILITY"`
	Components any    `json:"components" swaggertype:"object"`
}

// BroadcastInput is the body of POST /broadcast and /broadcast/send.
//
// Either custom_text (comma/newline separated numbers) or phonebook_data
// (contact labels) must be set, and either a template or a plain body.
type BroadcastInput struct {
	Name             string     `json:"name"              validate:"required,max=255"    example:"Spring sale"`
	DeviceID         string     `json:"device_id"         validate:"required,uuid"       example:"0b5a7c3e-8d0f-4d1e-9a6b-1f2e3d4c5b6a"`
	TemplateName     string     `json:"template_name"     validate:"max=512"             example:"spring_sale"`
	TemplateLanguage string     `json:"template_language" validate:"max=16"              example:"en_US"`
	Body             string     `json:"body"              validate:"max=4096"            example:""`
	CustomText       string     `json:"custom_text"       validate:"max=100000"          example:"5511912345678, 5511998765432"`
	PhonebookData    []string   `json:"phonebook_data"    validate:"max=20,dive,label"   example:"vip"`
	ScheduledAt      *time.Time `json:"scheduled_at"      example:"2030-01-01T09:00:00Z"`
}

func broadcastRules(sl validator.StructLevel) {
	b := sl.Current().Interface().(BroadcastInput)
	if strings.TrimSpace(b.CustomText) == "" && len(b.PhonebookData) == 0 {
		sl.ReportError(b.CustomText, "custom_text", "CustomText", "either", "either custom_text or phonebook_data must be set")
	}
	if strings.TrimSpace(b.TemplateName) == "" && strings.TrimSpace(b.Body) == "" {
		sl.ReportError(b.Body, "body", "Body", "either", "either template_name or body must be set")
	}
	if strings.TrimSpace(b.TemplateName) != "" && strings.TrimSpace(b.TemplateLanguage) == "" {
		sl.ReportError(b.TemplateLanguage, "template_language", "TemplateLanguage", "required_with", "")
	}
}

// ChatbotInput is the body of POST /chatbot/flows and PUT /chatbot/flows/{id}.
// Graph structure is checked separately by the flow package.
type ChatbotInput struct {
	Name      string   `json:"name"       validate:"required,max=255"                  example:"Welcome bot"`
	Triggers  []string `json:"triggers"   validate:"required,min=1,max=20,dive,min=1,max=100" example:"hi"`
	MatchMode string   `json:"match_mode" validate:"omitempty,oneof=exact contains"    example:"exact"`
	Enabled   bool     `json:"enabled"`
	Graph     any      `json:"graph"      validate:"required" swaggertype:"object"`
}

// QuickReplyInput is the body of POST/PUT /quick-replies.
type QuickReplyInput struct {
	Shortcut string `json:"shortcut" validate:"required,shortcut"        example:"/hours"`
	Title    string `json:"title"    validate:"required,max=255"         example:"Opening hours"`
	Message  string `json:"message"  validate:"required,min=1,max=4096"  example:"We are open Mon-Fri, 9am-5pm."`
}

// AgentInput is the body of POST /agents.
type AgentInput struct {
	Name        string   `json:"name"        validate:"required,min=2,max=120" example:"Carlos"`
	Email       string   `json:"email"       validate:"required,email"         example:"carlos@example.com"`
	Phone       string   `json:"phone"       validate:"omitempty,phone"        example:"5511900001111"`
	Password    string   `json:"password"    validate:"required,min=8,max=72"  example:"agent-pass-1"`
	Permissions []string `json:"permissions" validate:"dive,perm"              example:"conversations"`
}

// AgentPatch is the body of PATCH /agents/{id}. Nil fields are left unchanged.
type AgentPatch struct {
	Name        *string   `json:"name"        validate:"omitempty,min=2,max=120"`
	Permissions *[]string `json:"permissions" validate:"omitempty,dive,perm"`
	Status      *string   `json:"status"      validate:"omitempty,oneof=active blocked"`
}

// SendMessageInput is the body of POST /conversations/{id}/messages.
// Either text or a quick reply shortcut must be provided.
type SendMessageInput struct {
	Text     string `json:"text"     validate:"required_without=Shortcut,max=4096" example:"Hello! How can we help?"`
	Shortcut string `json:"shortcut" validate:"omitempty,shortcut"                 example:"/hours"`
}

// AssignInput is the body of POST /conversations/{id}/assign. An empty
// agent_id clears the assignment.
type AssignInput struct {
	AgentID string `json:"agent_id" validate:"omitempty,uuid" example:"0b5a7c3e-8d0f-4d1e-9a6b-1f2e3d4c5b6a"`
}

// StatusInput is the body of PATCH /conversations/{id}/status and /users/{id}/status.
type StatusInput struct {
	Status string `json:"status" validate:"required" example:"closed"`
}

// APIKeyInput is the body of POST /api-keys.
type APIKeyInput struct {
	Name string `json:"name" validate:"required,max=120" example:"CRM integration"`
}

// CouponInput is the body of POST /coupon. Exactly one of percent_off and
// amount_off must be positive.
type CouponInput struct {
	Code           string     `json:"code"            validate:"required,min=3,max=64,alphanum" example:"SPRING10"`
	PercentOff     float64    `json:"percent_off"     validate:"gte=0,lte=100"                  example:"10"`
	AmountOff      int64      `json:"amount_off"      validate:"gte=0"                          example:"0"`
	MaxRedemptions int        `json:"max_redemptions" validate:"gte=0"                          example:"100"`
	ExpiresAt      *time.Time `json:"expires_at"      example:"2030-01-01T00:00:00Z"`
}

func couponRules(sl validator.StructLevel) {
	c := sl.Current().Interface().(CouponInput)
	if (c.PercentOff > 0) == (c.AmountOff > 0) {
		sl.ReportError(c.PercentOff, "percent_off", "PercentOff", "either", "exactly one of percent_off or amount_off must be positive")
	}
}

// CouponCheckInput is the body of POST /coupon/validate and /coupon/redeem.
type CouponCheckInput struct {
	Code   string `json:"code"   validate:"required"      example:"SPRING10"`
	Amount int64  `json:"amount" validate:"gte=0"         example:"4990"`
}
