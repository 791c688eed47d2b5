// Package client is a Go SDK for the messaging API.
//
// Client.Do is the low-level call and returns errors. The resource services
// (Conversations, Contacts, Broadcasts, QuickReplies) follow the dashboard
// convention instead: a failed request is logged and reported as nil, false
// or an empty slice, so callers only branch on "did it work".
//
//	c := client.New("https://api.example.com/api/v1", client.WithAPIKey(key))
//	convs := c.Conversations().List(ctx, client.ConversationQuery{Status: "open"})
//	if convs == nil {
//		// request failed, already logged
//	}
package client

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

	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrBody     = 64 << 10
)

// Header names understood by the API.
const (
	HeaderAPIKey              = "X-API-Key"
	HeaderIdempotencyKey      = "Idempotency-Key"
	HeaderIdempotencyReplayed = "Idempotency-Replayed"
)

// APIError is the error envelope every endpoint returns.
type APIError struct {
	RequestID string       `json:"request_id,omitempty"`
	Status    int          `json:"status"`
	Title     string       `json:"title"`
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Fields    []FieldError `json:"fields,omitempty"`
}

// FieldError is one per-field validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsStatus reports whether err is an *APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// Client talks to one API deployment. It is safe for concurrent use once
// built.
type Client struct {
	baseURL string
	wsURL   string
	token   string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates with a session JWT.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// WithAPIKey authenticates with an account API key.
func WithAPIKey(key string) Option { return func(c *Client) { c.apiKey = key } }

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithLogger sets where failed service calls are reported. Disabled by default.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithRealtimeURL overrides the WebSocket endpoint derived from the base URL.
func WithRealtimeURL(u string) Option { return func(c *Client) { c.wsURL = u } }

// New returns a client for the API rooted at baseURL, for example
// "https://api.example.com/api/v1".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RequestOption adjusts a single call.
type RequestOption func(*http.Request)

// WithQuery adds non-empty query parameters.
func WithQuery(q url.Values) RequestOption {
	return func(r *http.Request) {
		cur := r.URL.Query()
		for k, vs := range q {
			for _, v := range vs {
				if v != "" {
					cur.Add(k, v)
				}
			}
		}
		r.URL.RawQuery = cur.Encode()
	}
}

// WithHeader sets a request header when value is non-empty.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		if value != "" {
			r.Header.Set(key, value)
		}
	}
}

// Response is what Do reports besides the decoded body.
type Response struct {
	Status   int
	Header   http.Header
	Replayed bool
}

// Do sends method path with body encoded as JSON and decodes a 2xx reply
// into out (when non-nil). Non-2xx replies become *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...RequestOption) (*Response, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)
	for _, o := range opts {
		o(req)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	meta := &Response{
		Status:   res.StatusCode,
		Header:   res.Header,
		Replayed: res.Header.Get(HeaderIdempotencyReplayed) == "true",
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return meta, decodeError(res)
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, res.Body)
		return meta, nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return meta, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return meta, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if c.apiKey != "" {
		h.Set(HeaderAPIKey, c.apiKey)
	}
}

func decodeError(res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrBody))
	ae := &APIError{}
	if err := json.Unmarshal(raw, ae); err != nil || ae.Status == 0 {
		ae = &APIError{Message: strings.TrimSpace(string(raw))}
	}
	ae.Status = res.StatusCode
	if ae.Title == "" {
		ae.Title = http.StatusText(res.StatusCode)
	}
	return ae
}

// failed logs a swallowed service error.
func (c *Client) failed(op string, err error) {
	ev := c.log.Warn().Err(err).Str("component", "client").Str("op", op)
	var ae *APIError
	if errors.As(err, &ae) {
		ev = ev.Int("status", ae.Status).Str("code", ae.Code).Str("request_id", ae.RequestID)
	}
	ev.Msg("request failed")
}

func escape(id string) string { return url.PathEscape(id) }
