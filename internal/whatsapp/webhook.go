package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Payload is the body the Cloud API POSTs to the webhook.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change carries one "messages" field update.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value holds the messages and statuses for one business phone number.
type Value struct {
	MessagingProduct string          `json:"messaging_product"`
	Metadata         Metadata        `json:"metadata"`
	Contacts         []ContactInfo   `json:"contacts,omitempty"`
	Messages         []WebhookMsg    `json:"messages,omitempty"`
	Statuses         []WebhookStatus `json:"statuses,omitempty"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// ContactInfo carries the sender's WhatsApp profile.
type ContactInfo struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WebhookMsg is one inbound message.
type WebhookMsg struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description,omitempty"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Image    *Media `json:"image,omitempty"`
	Document *Media `json:"document,omitempty"`
	Audio    *Media `json:"audio,omitempty"`
	Video    *Media `json:"video,omitempty"`
}

// Media describes an inbound attachment. Bodies are not downloaded.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// WebhookStatus is a delivery status callback for an outbound message.
type WebhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code    int    `json:"code"`
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// Inbound is a flattened inbound message ready for ingestion.
type Inbound struct {
	PhoneNumberID string
	From          string
	ProfileName   string
	ExternalID    string
	Type          string // text, interactive, button, image, ...
	Text          string // body, caption, or selected option title
	ReplyID       string // id of the selected button / list row
	At            time.Time
}

// StatusUpdate is a flattened delivery status.
type StatusUpdate struct {
	PhoneNumberID string
	ExternalID    string
	Status        string // sent, delivered, read, failed
	Recipient     string
	Error         string
	At            time.Time
}

// Inbound flattens every message in the payload.
func (p Payload) Inbound() []Inbound {
	var out []Inbound
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			names := map[string]string{}
			for _, c := range ch.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range ch.Value.Messages {
				in := Inbound{
					PhoneNumberID: ch.Value.Metadata.PhoneNumberID,
					From:          m.From,
					ProfileName:   names[m.From],
					ExternalID:    m.ID,
					Type:          m.Type,
					At:            parseUnix(m.Timestamp),
				}
				switch {
				case m.Text != nil:
					in.Text = m.Text.Body
				case m.Interactive != nil && m.Interactive.ButtonReply != nil:
					in.Text, in.ReplyID = m.Interactive.ButtonReply.Title, m.Interactive.ButtonReply.ID
				case m.Interactive != nil && m.Interactive.ListReply != nil:
					in.Text, in.ReplyID = m.Interactive.ListReply.Title, m.Interactive.ListReply.ID
				case m.Button != nil:
					in.Text, in.ReplyID = m.Button.Text, m.Button.Payload
				case m.Image != nil:
					in.Text = captionOr(m.Image, "[image]")
				case m.Document != nil:
					in.Text = captionOr(m.Document, "[document]")
				case m.Video != nil:
					in.Text = captionOr(m.Video, "[video]")
				case m.Audio != nil:
					in.Text = "[audio]"
				default:
					in.Text = "[" + m.Type + "]"
				}
				out = append(out, in)
			}
		}
	}
	return out
}

// Statuses flattens every status callback in the payload.
func (p Payload) Statuses() []StatusUpdate {
	var out []StatusUpdate
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			for _, s := range ch.Value.Statuses {
				u := StatusUpdate{
					PhoneNumberID: ch.Value.Metadata.PhoneNumberID,
					ExternalID:    s.ID,
					Status:        s.Status,
					Recipient:     s.RecipientID,
					At:            parseUnix(s.Timestamp),
				}
				if len(s.Errors) > 0 {
					u.Error = strings.TrimSpace(s.Errors[0].Title + ": " + s.Errors[0].Message)
				}
				out = append(out, u)
			}
		}
	}
	return out
}

// VerifySignature checks an X-Hub-Signature-256 header ("sha256=<hex>")
// against the HMAC-SHA256 of body keyed with the app secret.
func VerifySignature(appSecret string, body []byte, header string) bool {
	const prefix = "sha256="
	if appSecret == "" || !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the X-Hub-Signature-256 header value for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(n, 0).UTC()
}

func captionOr(m *Media, def string) string {
	if strings.TrimSpace(m.Caption) != "" {
		return m.Caption
	}
	return def
}
