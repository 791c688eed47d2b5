// Package whatsapp is a small client for the WhatsApp Business Cloud API
// (Graph API): outbound text, template and interactive messages, template
// listing for sync, and the webhook payload model with signature checks.
//
// The client never logs; callers decide what to record. All calls take a
// context and honour its deadline in addition to the configured timeout.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-wa-backend/internal/config"
)

// Interactive message limits imposed by the Cloud API.
const (
	MaxButtons     = 3
	MaxListRows    = 10
	maxButtonTitle = 20
	maxRowTitle    = 24
	maxErrBody     = 4 << 10
)

// ErrNotConfigured is returned when no access token is configured.
var ErrNotConfigured = errors.New("whatsapp: access token not configured")

// ErrTooManyOptions is returned when buttons or list rows exceed API limits.
var ErrTooManyOptions = errors.New("whatsapp: too many interactive options")

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	Status    int    `json:"-"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("whatsapp: http %d", e.Status)
	}
	return fmt.Sprintf("whatsapp: http %d: %s (code %d)", e.Status, e.Message, e.Code)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Sender is the outbound surface used by the inbox, chatbot runtime and
// broadcast dispatcher. *Client implements it; tests use fakes.
type Sender interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) (string, error)
	SendTemplate(ctx context.Context, phoneNumberID, to, name, language string) (string, error)
	SendButtons(ctx context.Context, phoneNumberID, to, body string, buttons []Button) (string, error)
	SendList(ctx context.Context, phoneNumberID, to, body, buttonText string, rows []Row) (string, error)
}

// TemplateSource lists the business account's approved templates.
type TemplateSource interface {
	ListTemplates(ctx context.Context) ([]Template, error)
}

// Button is a quick-reply button.
type Button struct {
	ID    string
	Title string
}

// Row is one list option.
type Row struct {
	ID          string
	Title       string
	Description string
}

// Client talks to the Graph API.
type Client struct {
	baseURL string // versioned, e.g. https://graph.facebook.com/v19.0
	token   string
	wabaID  string
	http    *http.Client
	tracer  trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithBaseURL overrides the versioned API base (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.WhatsAppConfig, opts ...Option) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.GraphURL(), "/"),
		token:   cfg.Token,
		wabaID:  cfg.BusinessAccountID,
		http:    &http.Client{Timeout: timeout},
		tracer:  otel.Tracer("whatsapp"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Wire model

type outMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textObj     `json:"text,omitempty"`
	Template         *templateObj `json:"template,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
}

type textObj struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type templateObj struct {
	Name     string      `json:"name"`
	Language languageObj `json:"language"`
}

type languageObj struct {
	Code string `json:"code"`
}

type interactive struct {
	Type   string    `json:"type"`
	Body   bodyObj   `json:"body"`
	Action actionObj `json:"action"`
}

type bodyObj struct {
	Text string `json:"text"`
}

type actionObj struct {
	Button   string       `json:"button,omitempty"`
	Buttons  []buttonObj  `json:"buttons,omitempty"`
	Sections []sectionObj `json:"sections,omitempty"`
}

type buttonObj struct {
	Type  string   `json:"type"`
	Reply replyObj `json:"reply"`
}

type replyObj struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type sectionObj struct {
	Title string   `json:"title,omitempty"`
	Rows  []rowObj `json:"rows"`
}

type rowObj struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// ---------------------------------------------------------------------------
// Sending

// SendText sends a plain text message and returns the wamid.
func (c *Client) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	return c.send(ctx, phoneNumberID, outMessage{
		To:   to,
		Type: "text",
		Text: &textObj{Body: body, PreviewURL: strings.Contains(body, "http")},
	})
}

// SendTemplate sends an approved template without parameters.
func (c *Client) SendTemplate(ctx context.Context, phoneNumberID, to, name, language string) (string, error) {
	return c.send(ctx, phoneNumberID, outMessage{
		To:       to,
		Type:     "template",
		Template: &templateObj{Name: name, Language: languageObj{Code: language}},
	})
}

// SendButtons sends an interactive message with up to MaxButtons reply buttons.
func (c *Client) SendButtons(ctx context.Context, phoneNumberID, to, body string, buttons []Button) (string, error) {
	if len(buttons) == 0 || len(buttons) > MaxButtons {
		return "", fmt.Errorf("%w: %d buttons", ErrTooManyOptions, len(buttons))
	}
	objs := make([]buttonObj, len(buttons))
	for i, b := range buttons {
		objs[i] = buttonObj{Type: "reply", Reply: replyObj{ID: b.ID, Title: truncate(b.Title, maxButtonTitle)}}
	}
	return c.send(ctx, phoneNumberID, outMessage{
		To:   to,
		Type: "interactive",
		Interactive: &interactive{
			Type:   "button",
			Body:   bodyObj{Text: body},
			Action: actionObj{Buttons: objs},
		},
	})
}

// SendList sends an interactive list with up to MaxListRows rows.
func (c *Client) SendList(ctx context.Context, phoneNumberID, to, body, buttonText string, rows []Row) (string, error) {
	if len(rows) == 0 || len(rows) > MaxListRows {
		return "", fmt.Errorf("%w: %d rows", ErrTooManyOptions, len(rows))
	}
	if strings.TrimSpace(buttonText) == "" {
		buttonText = "Select an option"
	}
	objs := make([]rowObj, len(rows))
	for i, r := range rows {
		objs[i] = rowObj{ID: r.ID, Title: truncate(r.Title, maxRowTitle), Description: r.Description}
	}
	return c.send(ctx, phoneNumberID, outMessage{
		To:   to,
		Type: "interactive",
		Interactive: &interactive{
			Type:   "list",
			Body:   bodyObj{Text: body},
			Action: actionObj{Button: truncate(buttonText, maxButtonTitle), Sections: []sectionObj{{Title: "Options", Rows: objs}}},
		},
	})
}

func (c *Client) send(ctx context.Context, phoneNumberID string, msg outMessage) (string, error) {
	ctx, span := c.tracer.Start(ctx, "SendMessage", trace.WithAttributes(
		attribute.String("whatsapp.phone_number_id", phoneNumberID),
		attribute.String("whatsapp.type", msg.Type),
	))
	defer span.End()

	msg.MessagingProduct = "whatsapp"
	msg.RecipientType = "individual"

	var out sendResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/"+url.PathEscape(phoneNumberID)+"/messages", msg, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return "", err
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		err := errors.New("whatsapp: response carried no message id")
		span.RecordError(err)
		return "", err
	}
	return out.Messages[0].ID, nil
}

// ---------------------------------------------------------------------------
// Templates

// Template is a message template as reported by the Graph API.
type Template struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Language   string          `json:"language"`
	Status     string          `json:"status"`
	Category   string          `json:"category"`
	Components json.RawMessage `json:"components"`
}

type templatePage struct {
	Data   []Template `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// ListTemplates follows paging links and returns every template of the
// configured business account.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	if c.wabaID == "" {
		return nil, errors.New("whatsapp: business account id not configured")
	}
	ctx, span := c.tracer.Start(ctx, "ListTemplates")
	defer span.End()

	next := c.baseURL + "/" + url.PathEscape(c.wabaID) + "/message_templates?limit=100"
	var out []Template
	for page := 0; next != "" && page < 50; page++ {
		var p templatePage
		if err := c.do(ctx, http.MethodGet, next, nil, &p); err != nil {
			span.RecordError(err)
			return nil, err
		}
		out = append(out, p.Data...)
		next = p.Paging.Next
	}
	span.SetAttributes(attribute.Int("whatsapp.templates", len(out)))
	return out, nil
}

// ---------------------------------------------------------------------------
// Transport

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	if c.token == "" {
		return ErrNotConfigured
	}
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env struct {
			Error *APIError `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		if json.Unmarshal(raw, &env) == nil && env.Error != nil {
			env.Error.Status = resp.StatusCode
			apiErr = env.Error
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
